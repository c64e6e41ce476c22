// Package main is a diagnostic tool for inspecting a live just-logging
// database. It opens the SQLite file, prints each registered app with its
// stored log count, and summarizes level distribution. The binary exits with
// a non-zero code on any failure so it can be embedded in health checks or
// CI/CD pipeline steps to gate deployments on a reachable, populated
// database.
package main

import (
	"database/sql"
	"fmt"
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

	fmt.Println("=== APPS ===")
	rows, err := db.Query(`
		SELECT a.id, a.name, a.environment, COUNT(l.id)
		FROM apps a
		LEFT JOIN logs l ON l.app_id = a.id
		GROUP BY a.id, a.name, a.environment
		ORDER BY a.name
	`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	appCount := 0
	for rows.Next() {
		var id, logs int64
		var name, environment string
		if err := rows.Scan(&id, &name, &environment, &logs); err != nil {
			log.Printf("Warning: failed to scan app row: %v", err)
			continue
		}
		fmt.Printf("App: %s [%s] (ID: %d) - %d logs\n", name, environment, id, logs)
		appCount++
	}
	if appCount == 0 {
		fmt.Println("No apps found!")
	}

	fmt.Println("\n=== LOG LEVELS ===")
	rows2, err := db.Query(`SELECT level, COUNT(*) FROM logs GROUP BY level ORDER BY COUNT(*) DESC`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	total := int64(0)
	for rows2.Next() {
		var level string
		var n int64
		if err := rows2.Scan(&level, &n); err != nil {
			log.Printf("Warning: failed to scan level row: %v", err)
			continue
		}
		fmt.Printf("%-8s %d\n", level, n)
		total += n
	}
	fmt.Printf("\nTotal logs: %d\n", total)
}
