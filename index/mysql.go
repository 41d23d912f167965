package index

import (
	"database/sql"

	"github.com/BurntSushi/migration"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// MySQL keeps the index in a MySQL database. The schema is created and
// upgraded on open.
type MySQL struct {
	db *sql.DB
}

var _ DB = &MySQL{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
	mysqlschema2,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMySQL connects to the database named by dial, a go-sql-driver DSN
// such as "user:pass@tcp(host:3306)/ansindex". Times are always parsed.
func NewMySQL(dial string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dial)
	if err != nil {
		return nil, errors.Wrap(err, "mysql dsn")
	}
	cfg.ParseTime = true
	db, err := migration.OpenWith(
		"mysql",
		cfg.FormatDSN(),
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	return &MySQL{db: db}, nil
}

const mysqlEntryColumns = `item, bundle, parent, depth, location, dataoffset, size, sigtype,
	owner, target, anchor, tags, status, reason, sha256, runid, indexed`

// SetEntry inserts e or replaces the entry with the same ids.
func (ms *MySQL) SetEntry(e *Entry) error {
	const stmt = `INSERT INTO entries (` + mysqlEntryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE parent = VALUES(parent), depth = VALUES(depth),
		location = VALUES(location), dataoffset = VALUES(dataoffset),
		size = VALUES(size), sigtype = VALUES(sigtype), owner = VALUES(owner),
		target = VALUES(target), anchor = VALUES(anchor), tags = VALUES(tags),
		status = VALUES(status), reason = VALUES(reason), sha256 = VALUES(sha256),
		runid = VALUES(runid), indexed = VALUES(indexed)`

	tags, err := encodeTags(e.Tags)
	if err != nil {
		return err
	}
	_, err = ms.db.Exec(stmt, e.ItemID, e.BundleID, e.ParentID, e.Depth,
		e.Location, e.Offset, e.Size, e.SignatureType, e.Owner, e.Target,
		e.Anchor, tags, e.Status.String(), e.Reason.String(), e.SHA256,
		e.RunID, e.Indexed)
	return errors.Wrapf(err, "set entry %s", e.ItemID)
}

// Lookup returns the entries for itemID.
func (ms *MySQL) Lookup(itemID string) ([]*Entry, error) {
	const query = `SELECT ` + mysqlEntryColumns + ` FROM entries
		WHERE item = ? ORDER BY bundle`
	return ms.entries(query, itemID)
}

// Bundle returns the entries of a bundle.
func (ms *MySQL) Bundle(bundleID string) ([]*Entry, error) {
	const query = `SELECT ` + mysqlEntryColumns + ` FROM entries
		WHERE bundle = ? ORDER BY depth, dataoffset, item`
	return ms.entries(query, bundleID)
}

func (ms *MySQL) entries(query string, arg string) ([]*Entry, error) {
	rows, err := ms.db.Query(query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "mysql query")
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

// SetRun records a finished run.
func (ms *MySQL) SetRun(r *Run) error {
	const stmt = `INSERT INTO runs (bundle, runid, started, finished, nvalid,
		nmalformed, nfailed, nbytes) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := ms.db.Exec(stmt, r.BundleID, r.RunID, r.Started, r.Finished,
		r.Valid, r.Malformed, r.Failed, r.Bytes)
	return errors.Wrapf(err, "set run %s", r.BundleID)
}

// LastRun returns the latest run of bundleID, or nil.
func (ms *MySQL) LastRun(bundleID string) (*Run, error) {
	const query = `SELECT bundle, runid, started, finished, nvalid, nmalformed, nfailed, nbytes
		FROM runs
		WHERE bundle = ?
		ORDER BY finished DESC
		LIMIT 1`
	return scanRun(ms.db.QueryRow(query, bundleID))
}

// Close closes the connection pool.
func (ms *MySQL) Close() error {
	return ms.db.Close()
}

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS entries (
		id int PRIMARY KEY AUTO_INCREMENT,
		item varchar(64),
		bundle varchar(64),
		parent varchar(64),
		depth int,
		location varchar(255),
		dataoffset bigint,
		size bigint,
		sigtype int,
		owner text,
		target varchar(64),
		anchor varchar(64),
		tags longtext,
		status varchar(32),
		reason varchar(64),
		sha256 varchar(64),
		runid varchar(32),
		indexed datetime(6),
		UNIQUE INDEX entries_item_bundle (item, bundle),
		INDEX entries_bundle (bundle))`,

		`CREATE TABLE IF NOT EXISTS runs (
		id int PRIMARY KEY AUTO_INCREMENT,
		bundle varchar(64),
		runid varchar(32),
		started datetime(6),
		finished datetime(6),
		nvalid int,
		nmalformed int,
		nfailed int,
		nbytes bigint,
		INDEX runs_bundle (bundle, finished))`,
	}
	return execlist(tx, s)
}

// children of a nested bundle are found by parent
func mysqlschema2(tx migration.LimitedTx) error {
	var s = []string{
		`ALTER TABLE entries ADD INDEX entries_parent (parent)`,
	}
	return execlist(tx, s)
}
