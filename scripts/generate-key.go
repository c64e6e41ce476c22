// Package main is a development utility for generating a test ingestion API
// key. It prints the raw key and a ready-to-run SQL INSERT so developers can
// quickly seed a usable key in a local database without running the full
// server flow. Do not use generated keys in production; create keys through
// POST /api/api-keys so they are bound to a real app with default tags.
package main

import (
	"fmt"
	"log"

	"github.com/just-logging/just-logging/internal/auth"
)

func main() {
	key, err := auth.GenerateAPIKey("jlo_")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("API Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nFull Key: %s\n", key)
	fmt.Printf("\nMasked:   %s\n", auth.MaskAPIKey(key))
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Insert:")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO api_keys (key, app_id, is_active, created_at)
VALUES ('%s', (SELECT id FROM apps LIMIT 1), 1, datetime('now'));
`, key)
	fmt.Println("\n==========================================================")
	fmt.Printf("Header: X-API-Key: %s\n", key)
	fmt.Println("==========================================================")
}
