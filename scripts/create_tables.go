package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	fmt.Println("Creating context cache database tables...")

	// Connect to database
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=ctxcache password=ctxcache dbname=context_cache sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test connection
	err = db.Ping()
	if err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("✅ Connected to database")

	// Create context_records table
	fmt.Println("Creating context_records table...")
	createRecordsTable := `
	CREATE TABLE IF NOT EXISTS context_records (
		id VARCHAR(64) PRIMARY KEY,
		content TEXT NOT NULL,
		kind VARCHAR(32) NOT NULL,
		priority VARCHAR(32) NOT NULL,
		conversation_id VARCHAR(64),
		metadata JSONB DEFAULT '{}',
		token_estimate INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createRecordsTable)
	if err != nil {
		log.Printf("Warning: Failed to create context_records table: %v", err)
	} else {
		fmt.Println("✅ Context records table created/verified")
	}

	// Create indexes
	fmt.Println("Creating indexes...")
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_context_records_kind ON context_records(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_context_records_priority ON context_records(priority)`,
		`CREATE INDEX IF NOT EXISTS idx_context_records_conversation_id ON context_records(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_context_records_created_at ON context_records(created_at)`,
	}

	for _, index := range indexes {
		_, err = db.Exec(index)
		if err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
		}
	}
	fmt.Println("✅ Indexes created/verified")

	fmt.Println("Done.")
}
