package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createSMSLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_sms_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SMSLogModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_sms_logs_status_provider_created ON sms_logs (status, provider, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_sms_logs_expires_at ON sms_logs (expires_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SMSLogModel{})
		},
	}
}
