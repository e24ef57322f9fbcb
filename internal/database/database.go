package database

import (
	"fmt"
	"time"

	"github.com/studiobase/backend/internal/config"
	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/pkg/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg config.DBConfig, seed config.SeedConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := seedAdminUser(db, seed); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.PasswordResetToken{},
	)
}

// seedAdminUser bootstraps the first administrator on an empty user table,
// already verified and active so the last-admin invariant holds from the
// first request onward.
func seedAdminUser(db *gorm.DB, seed config.SeedConfig) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword(seed.AdminPassword)
	if err != nil {
		return err
	}

	now := time.Now()
	admin := models.User{
		Email:           seed.AdminEmail,
		PasswordHash:    hash,
		Role:            models.UserRoleAdmin,
		Permissions:     models.NormalizePermissions(models.UserRoleAdmin, models.PermissionInput{}),
		Status:          models.UserStatusActive,
		EmailVerifiedAt: &now,
	}

	return db.Create(&admin).Error
}
