package main

import (
	"fmt"
	"log"
	"os"

	"golang-message-queue/internal/adapters/db/postgres"
	"golang-message-queue/internal/config"

	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	conf, err := config.FromEnv()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	fmt.Println("🔗 Connecting to database...")

	db, err := gorm.Open(pgdriver.Open(conf.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect: %v", err)
	}

	sqlDB, _ := db.DB()
	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("❌ Failed to ping database: %v", err)
	}
	defer sqlDB.Close()

	fmt.Println("✅ Connected to database")
	fmt.Println("🔄 Running migrations...")

	if err := postgres.NewFromDB(db).Migrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	fmt.Println("✅ Migration complete!")
	fmt.Println("")
	fmt.Println("📊 Checking tables...")

	var tables []string
	db.Raw("SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename IN ?",
		[]string{"queues", "queue_bindings", "queue_messages"}).Scan(&tables)

	if len(tables) != len(postgres.Models()) {
		fmt.Printf("⚠️  Expected %d tables, found %d\n", len(postgres.Models()), len(tables))
		os.Exit(1)
	}

	fmt.Println("✅ Tables created:")
	for _, table := range tables {
		fmt.Printf("  - %s\n", table)
	}

	fmt.Println("")
	fmt.Println("🎉 Database ready!")
}
