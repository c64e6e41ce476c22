// Package main is a repair tool for dirty migration state in the
// just-logging database. Dirty state occurs when the golang-migrate runner
// marks a migration version as in-progress (dirty=true) but the migration
// process was interrupted by a crash before it could complete. This tool
// opens the database, checks the schema_migrations table, and clears the
// dirty flag so that the migration runner can retry cleanly on the next
// server startup instead of failing with "Dirty database version".
package main

import (
	"database/sql"
	"log"
	"os"

	_ "modernc.org/sqlite"
)

func main() {
	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		path = "just-logging.db"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	var version int
	var dirty bool
	err = db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}

	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	if dirty {
		log.Println("Fixing dirty migration state...")
		if _, err := db.Exec("UPDATE schema_migrations SET dirty = 0"); err != nil {
			log.Fatalf("Failed to fix dirty state: %v", err)
		}
		log.Println("Migration state fixed successfully")
	} else {
		log.Println("Migration state is already clean")
	}

	err = db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}

	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}
