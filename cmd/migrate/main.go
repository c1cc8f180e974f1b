package main

import (
	"log"
	"os"

	"support-chat-be/internal/model"
	"support-chat-be/pkg/database"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Load Environment Variables
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(dsn, true)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Migrating support chat tables...")

	if err := database.Migrate(db, &model.ChatSession{}, &model.ChatMessage{}); err != nil {
		log.Fatal("Error: Migration failed:", err)
	}

	// Sessions left in a state that must carry a queue position are repaired by
	// the next release; report them so an operator can look.
	var inconsistent int64
	if err := db.Model(&model.ChatSession{}).
		Where("(status = ? AND queue_position IS NULL) OR (status <> ? AND queue_position IS NOT NULL)", "queued", "queued").
		Count(&inconsistent).Error; err != nil {
		log.Fatal("Error: Consistency check failed:", err)
	}
	if inconsistent > 0 {
		log.Printf("Warning: %d sessions have a queue position that does not match their status", inconsistent)
	}

	log.Println("✅ Migration complete")
}
