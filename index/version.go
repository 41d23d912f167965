package index

import (
	"github.com/BurntSushi/migration"
)

// dbVersion adapts the schema version functions of
// github.com/BurntSushi/migration to a particular SQL dialect.
type dbVersion struct {
	// SQL to get the version of this db, returns one row and one column
	GetSQL string
	// SQL to insert a new version of this db. takes one parameter, the new
	// version
	SetSQL string
	// the SQL to create the version table for this db
	CreateSQL string
}

// Get returns the schema version. A missing version table is version 0.
func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	var version int
	if err := tx.QueryRow(d.GetSQL).Scan(&version); err != nil {
		// we assume error means there is no migration table
		return 0, nil
	}
	return version, nil
}

// Set records version, creating the version table on first use.
func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if _, err := tx.Exec(d.SetSQL, version); err == nil {
		return nil
	}
	if _, err := tx.Exec(d.CreateSQL); err != nil {
		return err
	}
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

// execlist exec's each statement in the list, stopping at the first error.
// The mysql driver does not handle compound statements.
func execlist(tx migration.LimitedTx, stmts []string) error {
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
