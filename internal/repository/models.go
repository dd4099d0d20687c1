package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"gorm.io/datatypes"
)

// ProviderModel is the persistence model for the sms_providers table.
type ProviderModel struct {
	ID          string             `gorm:"type:uuid;primaryKey"`
	Slug        string             `gorm:"type:varchar(64);not null;uniqueIndex"`
	Name        string             `gorm:"type:varchar(128);not null"`
	AdapterType domain.AdapterType `gorm:"type:varchar(20);not null"`
	IsActive    bool               `gorm:"not null;default:false"`
	IsDefault   bool               `gorm:"not null;default:false"`
	Priority    int                `gorm:"not null;default:0"`
	Credentials string             `gorm:"type:text;not null;default:''"`
	Settings    datatypes.JSON     `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProviderModel) TableName() string {
	return "sms_providers"
}

// SMSLogModel is the persistence model for the sms_logs table.
type SMSLogModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	Provider          string               `gorm:"type:varchar(64);not null"`
	ProviderMessageID *string              `gorm:"type:varchar(255)"`
	Recipient         string               `gorm:"type:varchar(32);not null"`
	RecipientMasked   string               `gorm:"type:varchar(32);not null"`
	Category          domain.Category      `gorm:"type:varchar(20);not null"`
	Body              string               `gorm:"type:text;not null"`
	Status            domain.DeliveryState `gorm:"type:varchar(20);not null"`
	Parts             int                  `gorm:"not null;default:0"`
	Cost              float64              `gorm:"type:numeric(12,4);not null;default:0"`
	Currency          string               `gorm:"type:varchar(8);not null;default:''"`
	ErrorCode         *string              `gorm:"type:varchar(64)"`
	ErrorMessage      *string              `gorm:"type:text"`
	RetryCount        int                  `gorm:"not null;default:0"`
	Metadata          datatypes.JSONMap    `gorm:"type:jsonb"`
	SentAt            *time.Time           `gorm:"type:timestamptz"`
	DeliveredAt       *time.Time           `gorm:"type:timestamptz"`
	LatencySeconds    *float64             `gorm:"type:double precision"`
	ExpiresAt         time.Time            `gorm:"type:timestamptz;not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (SMSLogModel) TableName() string {
	return "sms_logs"
}

func providerModelFromDomain(p *domain.ProviderConfig) (*ProviderModel, error) {
	if p == nil {
		return nil, nil
	}

	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode provider settings: %w", err)
	}

	return &ProviderModel{
		ID:          p.ID,
		Slug:        p.Slug,
		Name:        p.Name,
		AdapterType: p.AdapterType,
		IsActive:    p.IsActive,
		IsDefault:   p.IsDefault,
		Priority:    p.Priority,
		Credentials: p.Credentials,
		Settings:    datatypes.JSON(settings),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func providerModelToDomain(m *ProviderModel) (*domain.ProviderConfig, error) {
	if m == nil {
		return nil, nil
	}

	var settings domain.ProviderSettings
	if len(m.Settings) > 0 {
		if err := json.Unmarshal(m.Settings, &settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings of provider %s: %w", m.Slug, err)
		}
	}

	return &domain.ProviderConfig{
		ID:          m.ID,
		Slug:        m.Slug,
		Name:        m.Name,
		AdapterType: m.AdapterType,
		IsActive:    m.IsActive,
		IsDefault:   m.IsDefault,
		Priority:    m.Priority,
		Credentials: m.Credentials,
		Settings:    settings,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func smsLogModelFromDomain(r *domain.DeliveryLogRecord) *SMSLogModel {
	if r == nil {
		return nil
	}

	var metadata datatypes.JSONMap
	if len(r.Metadata) > 0 {
		metadata = make(datatypes.JSONMap, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
	}

	return &SMSLogModel{
		ID:                r.ID,
		Provider:          r.Provider,
		ProviderMessageID: optionalString(r.ProviderMessageID),
		Recipient:         r.Recipient,
		RecipientMasked:   r.RecipientMasked,
		Category:          r.Category,
		Body:              r.Body,
		Status:            r.Status,
		Parts:             r.Parts,
		Cost:              r.Cost,
		Currency:          r.Currency,
		ErrorCode:         optionalString(r.ErrorCode),
		ErrorMessage:      optionalString(r.ErrorMessage),
		RetryCount:        r.RetryCount,
		Metadata:          metadata,
		SentAt:            r.SentAt,
		DeliveredAt:       r.DeliveredAt,
		LatencySeconds:    r.LatencySeconds,
		ExpiresAt:         r.ExpiresAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func smsLogModelToDomain(m *SMSLogModel) *domain.DeliveryLogRecord {
	if m == nil {
		return nil
	}

	var metadata map[string]string
	if len(m.Metadata) > 0 {
		metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			if s, ok := v.(string); ok {
				metadata[k] = s
			} else {
				metadata[k] = fmt.Sprint(v)
			}
		}
	}

	return &domain.DeliveryLogRecord{
		ID:                m.ID,
		Provider:          m.Provider,
		ProviderMessageID: derefString(m.ProviderMessageID),
		Recipient:         m.Recipient,
		RecipientMasked:   m.RecipientMasked,
		Category:          m.Category,
		Body:              m.Body,
		Status:            m.Status,
		Parts:             m.Parts,
		Cost:              m.Cost,
		Currency:          m.Currency,
		ErrorCode:         derefString(m.ErrorCode),
		ErrorMessage:      derefString(m.ErrorMessage),
		RetryCount:        m.RetryCount,
		Metadata:          metadata,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		LatencySeconds:    m.LatencySeconds,
		ExpiresAt:         m.ExpiresAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
