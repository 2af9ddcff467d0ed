package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/clearline/clearing-engine/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_transaction_repairs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.TransactionRepairModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_repairs_tenant_reference ON transaction_repairs (tenant_id, transaction_reference)`,
					`CREATE INDEX IF NOT EXISTS idx_repairs_retry_scan ON transaction_repairs (priority DESC, created_at ASC) WHERE repair_status = 'PENDING'`,
					`CREATE INDEX IF NOT EXISTS idx_repairs_next_retry_at ON transaction_repairs (next_retry_at) WHERE repair_status = 'PENDING'`,
					`CREATE INDEX IF NOT EXISTS idx_repairs_timeout_at ON transaction_repairs (timeout_at) WHERE repair_status NOT IN ('RESOLVED', 'CANCELLED')`,
					`CREATE INDEX IF NOT EXISTS idx_repairs_status ON transaction_repairs (repair_status)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.TransactionRepairModel{})
			},
		},
	})

	return m.Migrate()
}
