package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var terminalStates = []domain.DeliveryState{
	domain.DeliveryDelivered,
	domain.DeliveryFailed,
	domain.DeliveryExpired,
}

// StatusUpdate carries the columns written when a delivery report is applied.
type StatusUpdate struct {
	Status         domain.DeliveryState
	DeliveredAt    *time.Time
	LatencySeconds *float64
	ErrorCode      string
	ErrorMessage   string
}

type SMSLogRepository interface {
	Create(ctx context.Context, r *domain.DeliveryLogRecord) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.DeliveryLogRecord, error)
	GetByProviderMessageID(ctx context.Context, provider, messageID string) (*domain.DeliveryLogRecord, error)
	ApplyStatus(ctx context.Context, id string, update StatusUpdate) error
	Statistics(ctx context.Context, filter domain.StatsFilter) ([]domain.DeliveryStats, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

type GormSMSLogRepo struct {
	db *gorm.DB
}

func NewGormSMSLogRepo(db *gorm.DB) *GormSMSLogRepo {
	return &GormSMSLogRepo{db: db}
}

// Create inserts the record and reports false when a row with the same id
// already exists.
func (r *GormSMSLogRepo) Create(ctx context.Context, rec *domain.DeliveryLogRecord) (bool, error) {
	model := smsLogModelFromDomain(rec)
	if model == nil {
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	*rec = *smsLogModelToDomain(model)
	return true, nil
}

func (r *GormSMSLogRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryLogRecord, error) {
	var model SMSLogModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return smsLogModelToDomain(&model), nil
}

func (r *GormSMSLogRepo) GetByProviderMessageID(ctx context.Context, provider, messageID string) (*domain.DeliveryLogRecord, error) {
	var model SMSLogModel
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_message_id = ?", provider, messageID).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return smsLogModelToDomain(&model), nil
}

// ApplyStatus writes a delivery report. Terminal rows are never moved back
// to a non-terminal state and a terminal status is never written twice;
// such updates return domain.ErrConflict.
func (r *GormSMSLogRepo) ApplyStatus(ctx context.Context, id string, update StatusUpdate) error {
	values := map[string]any{
		"status":     update.Status,
		"updated_at": time.Now().UTC(),
	}
	if update.DeliveredAt != nil {
		values["delivered_at"] = *update.DeliveredAt
	}
	if update.LatencySeconds != nil {
		values["latency_seconds"] = *update.LatencySeconds
	}
	if update.ErrorCode != "" {
		values["error_code"] = update.ErrorCode
	}
	if update.ErrorMessage != "" {
		values["error_message"] = update.ErrorMessage
	}

	query := r.db.WithContext(ctx).Model(&SMSLogModel{}).Where("id = ?", id)
	switch {
	case update.Status == domain.DeliveryUnknown:
		query = query.Where("status = ?", domain.DeliveryUnknown)
	case !update.Status.IsTerminal():
		query = query.Where("status NOT IN ?", terminalStates)
	default:
		query = query.Where("status <> ?", update.Status)
	}

	result := query.Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

type statsRow struct {
	Provider          string               `gorm:"column:provider"`
	Status            domain.DeliveryState `gorm:"column:status"`
	Count             int64                `gorm:"column:count"`
	TotalCost         float64              `gorm:"column:total_cost"`
	AvgLatencySeconds *float64             `gorm:"column:avg_latency_seconds"`
}

func (r *GormSMSLogRepo) Statistics(ctx context.Context, filter domain.StatsFilter) ([]domain.DeliveryStats, error) {
	query := r.db.WithContext(ctx).
		Model(&SMSLogModel{}).
		Select("provider, status, COUNT(*) AS count, COALESCE(SUM(cost), 0) AS total_cost, AVG(latency_seconds) AS avg_latency_seconds")

	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var rows []statsRow
	if err := query.Group("provider, status").Order("provider, status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := make([]domain.DeliveryStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, domain.DeliveryStats(row))
	}
	return stats, nil
}

// DeleteExpired removes at most limit rows whose expires_at is before the cutoff.
func (r *GormSMSLogRepo) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	db := r.db.WithContext(ctx)
	expired := db.Model(&SMSLogModel{}).
		Select("id").
		Where("expires_at < ?", before).
		Order("expires_at ASC").
		Limit(limit)

	result := db.Where("id IN (?)", expired).Delete(&SMSLogModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
