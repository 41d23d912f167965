package index

import (
	"database/sql"
	"sync"

	_ "github.com/cznic/ql/driver"
	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	"github.com/ndlib/ansindex/ans104"
)

// QL keeps the index in an embedded QL database, either in a single file or
// in memory.
type QL struct {
	db *sql.DB
	wm sync.Mutex // serializes upserts
}

var _ DB = &QL{}

// the column is named dataoffset since offset is a keyword
const qlInit = `
	CREATE TABLE IF NOT EXISTS entries (
		item string,
		bundle string,
		parent string,
		depth int64,
		location string,
		dataoffset int64,
		size int64,
		sigtype int64,
		owner string,
		target string,
		anchor string,
		tags string,
		status string,
		reason string,
		sha256 string,
		runid string,
		indexed time
	);
	CREATE INDEX IF NOT EXISTS entriesitem ON entries (item);
	CREATE INDEX IF NOT EXISTS entriesbundle ON entries (bundle);

	CREATE TABLE IF NOT EXISTS runs (
		bundle string,
		runid string,
		started time,
		finished time,
		nvalid int64,
		nmalformed int64,
		nfailed int64,
		nbytes int64
	);
	CREATE INDEX IF NOT EXISTS runsbundle ON runs (bundle);
`

// NewQL opens the QL database in filename, creating it if needed. The
// filename "memory" keeps everything in memory. Every in-memory database
// is separate from the others.
func NewQL(filename string) (*QL, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", ksuid.New().String()+".db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlInit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open ql")
	}
	return &QL{db: db}, nil
}

const qlEntryColumns = `item, bundle, parent, depth, location, dataoffset, size, sigtype,
	owner, target, anchor, tags, status, reason, sha256, runid, indexed`

// SetEntry inserts e or replaces the entry with the same ids.
func (q *QL) SetEntry(e *Entry) error {
	const update = `UPDATE entries SET parent = ?3, depth = ?4, location = ?5,
		dataoffset = ?6, size = ?7, sigtype = ?8, owner = ?9, target = ?10,
		anchor = ?11, tags = ?12, status = ?13, reason = ?14, sha256 = ?15,
		runid = ?16, indexed = ?17
		WHERE item == ?1 AND bundle == ?2`
	const insert = `INSERT INTO entries VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8,
		?9, ?10, ?11, ?12, ?13, ?14, ?15, ?16, ?17)`

	tags, err := encodeTags(e.Tags)
	if err != nil {
		return err
	}
	args := []interface{}{
		e.ItemID, e.BundleID, e.ParentID, int64(e.Depth), e.Location,
		e.Offset, e.Size, int64(e.SignatureType), e.Owner, e.Target,
		e.Anchor, tags, e.Status.String(), e.Reason.String(), e.SHA256,
		e.RunID, e.Indexed,
	}
	q.wm.Lock()
	defer q.wm.Unlock()
	return errors.Wrapf(upsert(q.db, update, insert, args), "set entry %s", e.ItemID)
}

// Lookup returns the entries for itemID.
func (q *QL) Lookup(itemID string) ([]*Entry, error) {
	const query = `SELECT ` + qlEntryColumns + ` FROM entries
		WHERE item == ?1 ORDER BY bundle`
	return q.entries(query, itemID)
}

// Bundle returns the entries of a bundle.
func (q *QL) Bundle(bundleID string) ([]*Entry, error) {
	const query = `SELECT ` + qlEntryColumns + ` FROM entries
		WHERE bundle == ?1 ORDER BY depth, dataoffset, item`
	return q.entries(query, bundleID)
}

func (q *QL) entries(query string, arg string) ([]*Entry, error) {
	rows, err := q.db.Query(query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "ql query")
	}
	defer rows.Close()
	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry reads the columns in qlEntryColumns order. The mysql table uses
// the same order.
func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var depth, sigtype int64
	var tags, status, reason string
	err := row.Scan(&e.ItemID, &e.BundleID, &e.ParentID, &depth, &e.Location,
		&e.Offset, &e.Size, &sigtype, &e.Owner, &e.Target, &e.Anchor, &tags,
		&status, &reason, &e.SHA256, &e.RunID, &e.Indexed)
	if err != nil {
		return nil, errors.Wrap(err, "scan entry")
	}
	e.Depth = int(depth)
	e.SignatureType = int(sigtype)
	if e.Tags, err = decodeTags(tags); err != nil {
		return nil, errors.Wrapf(err, "entry %s tags", e.ItemID)
	}
	if e.Status, err = ans104.ParseStatus(status); err != nil {
		return nil, err
	}
	if e.Reason, err = ans104.ParseReason(reason); err != nil {
		return nil, err
	}
	return &e, nil
}

// SetRun records a finished run.
func (q *QL) SetRun(r *Run) error {
	const insert = `INSERT INTO runs VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)`
	q.wm.Lock()
	defer q.wm.Unlock()
	_, err := performExec(q.db, insert, r.BundleID, r.RunID, r.Started,
		r.Finished, int64(r.Valid), int64(r.Malformed), int64(r.Failed), r.Bytes)
	return errors.Wrapf(err, "set run %s", r.BundleID)
}

// LastRun returns the latest run of bundleID, or nil.
func (q *QL) LastRun(bundleID string) (*Run, error) {
	const query = `SELECT bundle, runid, started, finished, nvalid, nmalformed, nfailed, nbytes
		FROM runs
		WHERE bundle == ?1
		ORDER BY finished DESC
		LIMIT 1`
	return scanRun(q.db.QueryRow(query, bundleID))
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var valid, malformed, failed int64
	err := row.Scan(&r.BundleID, &r.RunID, &r.Started, &r.Finished,
		&valid, &malformed, &failed, &r.Bytes)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "scan run")
	}
	r.Valid, r.Malformed, r.Failed = int(valid), int(malformed), int(failed)
	return &r, nil
}

// Close closes the database.
func (q *QL) Close() error {
	return q.db.Close()
}

// upsert runs update and, if it changed nothing, insert, all in one
// transaction. Both statements take the same arguments.
func upsert(db *sql.DB, update, insert string, args []interface{}) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	result, err := tx.Exec(update, args...)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	nrows, err := result.RowsAffected()
	if err == nil && nrows == 0 {
		// record didn't exist. create it
		_, err = tx.Exec(insert, args...)
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return result, tx.Commit()
}
