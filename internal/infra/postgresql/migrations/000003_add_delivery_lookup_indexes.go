package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addDeliveryLookupIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_delivery_lookup_indexes",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_sms_logs_recipient_masked_created ON sms_logs (recipient_masked, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_sms_logs_provider_message_id ON sms_logs (provider, provider_message_id) WHERE provider_message_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_sms_logs_provider_message_id`,
				`DROP INDEX IF EXISTS idx_sms_logs_recipient_masked_created`,
			})
		},
	}
}
