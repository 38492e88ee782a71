// Package database provides the SQLite connection used by the entity
// registry.
//
// The database is opened with foreign keys on, a busy timeout, and
// optionally WAL journaling. Schema changes are plain SQL files applied in
// filename order by Migrate; the files live in the top-level migrations
// package and are embedded into the binary.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named VERSION_description.up.sql with an optional
// matching .down.sql, where VERSION is YYYYMMDD_HHMMSS. Migrations are
// additive: new columns are nullable or defaulted.
package database
