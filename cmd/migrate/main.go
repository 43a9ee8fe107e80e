package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/incidentflow/api/internal/config"
)

func main() {
	schemaPath := flag.String("schema", "migrations/schema.sql", "path to the schema file to apply")
	flag.Parse()

	configPath := os.Getenv("INCIDENTFLOW_CONFIG_PATH")
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("Failed to read schema %s: %v", *schemaPath, err)
	}

	log.Printf("Applying %s...", *schemaPath)
	if _, err := pg.Exec(string(schema)); err != nil {
		log.Fatalf("Schema apply failed: %v", err)
	}
	log.Println("Schema applied")
}
