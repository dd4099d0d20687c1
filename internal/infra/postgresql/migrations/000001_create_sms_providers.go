package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createProvidersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_sms_providers",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ProviderModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_sms_providers_single_default ON sms_providers (is_default) WHERE is_default`,
				`CREATE INDEX IF NOT EXISTS idx_sms_providers_active_priority ON sms_providers (is_active, priority DESC)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ProviderModel{})
		},
	}
}
