// Package database provides SQLite connectivity for the Warden identity store.
//
// This package manages:
//   - Database connection with WAL mode and enforced foreign keys
//   - Schema migrations loaded from an fs.FS (see package migrations)
//   - Transaction helper used by repositories (WithTx)
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600; it holds password hashes
//     and refresh token digests
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
