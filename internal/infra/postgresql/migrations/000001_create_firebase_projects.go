package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"gorm.io/gorm"
)

func createFirebaseProjectsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_firebase_projects",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ProjectModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ProjectModel{})
		},
	}
}
