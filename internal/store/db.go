// internal/store/db.go
package store

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sync-service/internal/config"
	"sync-service/pkg/models"
)

var db *gorm.DB

func InitDB(cfg *config.Config) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName, cfg.DBSSLMode,
	)

	var err error
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}

	// Auto-migrate (safe in dev; use migrations in prod)
	err = db.AutoMigrate(
		&models.SyncSchedule{},
		&models.SyncExecution{},
		&models.CalendarIntegration{},
		&models.ExternalEventLink{},
		&models.User{},
		&models.Team{},
		&models.Field{},
		&models.Reservation{},
	)
	if err != nil {
		log.Fatalf("❌ Failed to migrate: %v", err)
	}

	log.Println("✅ Sync DB connected & migrated")
}

func GetDB() *gorm.DB {
	return db
}
