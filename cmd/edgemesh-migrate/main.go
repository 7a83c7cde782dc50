package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/edgemesh/edgemesh/pkg/storage"
)

var (
	dbPath     = flag.String("db", "coordinator.db", "Path to the coordinator SQLite database")
	dryRun     = flag.Bool("dry-run", false, "Show pending migrations without applying them")
	backupPath = flag.String("backup", "", "Backup path for the database before migrating (default: <db>.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("EdgeMesh Schema Migration Tool")
	log.Println("==============================")

	freshDB := false
	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		freshDB = true
		log.Printf("Database not found at %s; a fresh one will be created", *dbPath)
	}

	log.Printf("Database: %s", *dbPath)
	log.Printf("Dry run: %v", *dryRun)

	// Back up before anything touches the file
	if !*dryRun && !freshDB {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = *dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(*dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	store, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	pending, err := store.Pending(ctx)
	if err != nil {
		log.Fatalf("Failed to inspect schema state: %v", err)
	}

	if len(pending) == 0 {
		log.Println("✓ Schema is up to date, nothing to apply")
		return
	}

	log.Printf("Found %d pending migration(s):", len(pending))
	for _, version := range pending {
		log.Printf("  - %s", version)
	}

	if *dryRun {
		log.Println("")
		log.Println("Dry run completed. No changes made.")
		log.Println("Run without --dry-run to apply the migrations.")
		return
	}

	applied, err := store.Migrate(ctx)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	for _, version := range applied {
		log.Printf("✓ Applied %s", version)
	}

	log.Println("")
	log.Println("✓ Migration completed successfully!")
	if !freshDB {
		log.Println("The backup can be deleted once the coordinator runs cleanly.")
	}
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, input, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}
