package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProviderRepository interface {
	Create(ctx context.Context, p *domain.ProviderConfig) error
	Update(ctx context.Context, p *domain.ProviderConfig) error
	GetBySlug(ctx context.Context, slug string) (*domain.ProviderConfig, error)
	List(ctx context.Context) ([]domain.ProviderConfig, error)
	ListActive(ctx context.Context) ([]domain.ProviderConfig, error)
	SetActive(ctx context.Context, slug string, active bool) error
	SetDefault(ctx context.Context, slug string) error
	Upsert(ctx context.Context, p *domain.ProviderConfig) error
}

type GormProviderRepo struct {
	db *gorm.DB
}

func NewGormProviderRepo(db *gorm.DB) *GormProviderRepo {
	return &GormProviderRepo{db: db}
}

func (r *GormProviderRepo) Create(ctx context.Context, p *domain.ProviderConfig) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	model, err := providerModelFromDomain(p)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if model.IsDefault {
			if err := clearDefaults(tx); err != nil {
				return err
			}
		}
		return tx.Create(model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}

	return r.refresh(model, p)
}

// Update rewrites the mutable columns of the provider identified by slug.
func (r *GormProviderRepo) Update(ctx context.Context, p *domain.ProviderConfig) error {
	model, err := providerModelFromDomain(p)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if model.IsDefault {
			if err := tx.Model(&ProviderModel{}).
				Where("is_default = ? AND slug <> ?", true, model.Slug).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&ProviderModel{}).
			Where("slug = ?", model.Slug).
			Updates(map[string]any{
				"name":         model.Name,
				"adapter_type": model.AdapterType,
				"is_active":    model.IsActive,
				"is_default":   model.IsDefault,
				"priority":     model.Priority,
				"credentials":  model.Credentials,
				"settings":     model.Settings,
				"updated_at":   time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *GormProviderRepo) GetBySlug(ctx context.Context, slug string) (*domain.ProviderConfig, error) {
	var model ProviderModel
	err := r.db.WithContext(ctx).First(&model, "slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return providerModelToDomain(&model)
}

func (r *GormProviderRepo) List(ctx context.Context) ([]domain.ProviderConfig, error) {
	return r.list(r.db.WithContext(ctx))
}

func (r *GormProviderRepo) ListActive(ctx context.Context) ([]domain.ProviderConfig, error) {
	return r.list(r.db.WithContext(ctx).Where("is_active = ?", true))
}

func (r *GormProviderRepo) list(query *gorm.DB) ([]domain.ProviderConfig, error) {
	var models []ProviderModel
	if err := query.Order("priority DESC, slug ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	configs := make([]domain.ProviderConfig, 0, len(models))
	for i := range models {
		cfg, err := providerModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, nil
}

// SetActive toggles a provider. Deactivating also drops its default flag.
func (r *GormProviderRepo) SetActive(ctx context.Context, slug string, active bool) error {
	values := map[string]any{"is_active": active, "updated_at": time.Now().UTC()}
	if !active {
		values["is_default"] = false
	}

	result := r.db.WithContext(ctx).
		Model(&ProviderModel{}).
		Where("slug = ?", slug).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetDefault marks slug as the only default provider and activates it.
func (r *GormProviderRepo) SetDefault(ctx context.Context, slug string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ProviderModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "slug = ?", slug).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := clearDefaults(tx); err != nil {
			return err
		}
		return tx.Model(&model).Updates(map[string]any{
			"is_default": true,
			"is_active":  true,
			"updated_at": time.Now().UTC(),
		}).Error
	})
}

// Upsert inserts or updates by slug. An empty credential blob keeps the stored one.
func (r *GormProviderRepo) Upsert(ctx context.Context, p *domain.ProviderConfig) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	model, err := providerModelFromDomain(p)
	if err != nil {
		return err
	}

	columns := []string{"name", "adapter_type", "is_active", "is_default", "priority", "settings", "updated_at"}
	if model.Credentials != "" {
		columns = append(columns, "credentials")
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if model.IsDefault {
			if err := tx.Model(&ProviderModel{}).
				Where("is_default = ? AND slug <> ?", true, model.Slug).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).Create(model).Error
	})
	if err != nil {
		return err
	}

	stored, err := r.GetBySlug(ctx, p.Slug)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

func (r *GormProviderRepo) refresh(model *ProviderModel, p *domain.ProviderConfig) error {
	cfg, err := providerModelToDomain(model)
	if err != nil {
		return err
	}
	*p = *cfg
	return nil
}

func clearDefaults(tx *gorm.DB) error {
	return tx.Model(&ProviderModel{}).
		Where("is_default = ?", true).
		Update("is_default", false).Error
}
