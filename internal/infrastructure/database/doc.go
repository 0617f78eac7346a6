// Package database provides SQLite connectivity and schema migrations.
//
// The negotiation journal is its only user. Migrations are plain SQL files
// named YYYYMMDD_HHMMSS_description.up.sql (with an optional .down.sql),
// read from an fs.FS so they can be embedded in the binary.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/mqttlink.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
