package database

import (
	"log"

	"gorm.io/gorm"

	"proofpay/models"
)

// AutoMigrate creates or updates the read-model tables. Intended for
// development; production schemas are managed out of band.
func AutoMigrate(db *gorm.DB) error {
	log.Println("[database] running auto-migration")
	return db.AutoMigrate(
		&models.Task{},
		&models.ProofSubmission{},
		&models.Dispute{},
		&models.ProcessedEvent{},
		&models.UserStats{},
	)
}
