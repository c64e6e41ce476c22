// Package main is a utility for generating bcrypt hashes of passwords.
// Web users store only bcrypt hashes — never raw passwords — so this tool is
// used when manually seeding or repairing rows in the web_users table without
// running the full server.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/just-logging/just-logging/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <password>", os.Args[0])
	}
	hash, err := auth.HashPassword(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(hash)
}
