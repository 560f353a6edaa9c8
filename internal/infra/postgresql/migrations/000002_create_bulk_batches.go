package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"gorm.io/gorm"
)

func createBulkBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_bulk_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchModel{}); err != nil {
				return err
			}
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_bulk_batches_created_at ON bulk_batches (created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_bulk_batches_processing_updated ON bulk_batches (updated_at) WHERE status = 'processing'`,
				`ALTER TABLE bulk_batches ADD CONSTRAINT chk_bulk_batches_counters CHECK (sent_count >= 0 AND failed_count >= 0 AND sent_count + failed_count <= total_items)`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchModel{})
		},
	}
}
