package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/feedguard/internal/models"
)

// SystemActorID identifies the platform itself as the actor of system notifications.
const SystemActorID = "system"

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Profile{},
		&models.Content{},
		&models.Like{},
		&models.Comment{},
		&models.Save{},
		&models.Share{},
		&models.Follow{},
		&models.ActionCounter{},
		&models.Notification{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

// SeedData ensures the system profile used as actor for platform notifications exists.
func SeedData(db *gorm.DB) error {
	system := models.Profile{
		ID:       SystemActorID,
		Username: "feedguard",
		Plan:     models.PlanBusiness,
	}
	return db.Where(models.Profile{ID: system.ID}).Attrs(system).FirstOrCreate(&models.Profile{}).Error
}
