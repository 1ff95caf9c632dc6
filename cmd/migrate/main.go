// Command migrate applies the gateway's database migrations with goose.
//
// Usage:
//
//	DATABASE_URL=postgres://... migrate [-direction up|down] [-status]
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	var (
		direction = flag.String("direction", "up", "Migration direction (up|down)")
		status    = flag.Bool("status", false, "Report current migration status and exit")
		dir       = flag.String("dir", defaultMigrationsDir(), "Directory containing migration SQL files")
	)
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	switch {
	case *status:
		err = goose.Status(db, *dir)
	case strings.ToLower(*direction) == "up":
		err = goose.Up(db, *dir)
	case strings.ToLower(*direction) == "down":
		err = goose.Down(db, *dir)
	default:
		err = fmt.Errorf("unsupported direction %q (expected up or down)", *direction)
	}
	if err != nil {
		log.Fatalf("migration command failed: %v", err)
	}
}

func defaultMigrationsDir() string {
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("migrations", "sql")
}
