package rule

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository describes database operations available for schedule rules.
type Repository interface {
	Create(ctx context.Context, rule *ScheduleRule) error
	GetByID(ctx context.Context, id string) (*ScheduleRule, error)
	List(ctx context.Context, companyID string, includeInactive bool) ([]ScheduleRule, error)
	Delete(ctx context.Context, id string) error

	// UpdateFields writes a partial update and reports not-found as an error.
	UpdateFields(ctx context.Context, id string, updates map[string]any) error

	// ListDue returns active rules whose next_execution has arrived.
	ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduleRule, error)

	// IncrementPublished bumps the rule's published counter by one.
	IncrementPublished(ctx context.Context, id string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, rule *ScheduleRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*ScheduleRule, error) {
	var rule ScheduleRule
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *gormRepository) List(ctx context.Context, companyID string, includeInactive bool) ([]ScheduleRule, error) {
	query := r.db.WithContext(ctx).Where("company_id = ?", companyID)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}
	query = query.Order("created_at DESC")

	var rules []ScheduleRule
	if err := query.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *gormRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&ScheduleRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) UpdateFields(ctx context.Context, id string, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&ScheduleRule{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduleRule, error) {
	query := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("next_execution IS NOT NULL AND next_execution <= ?", now).
		Order("next_execution ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rules []ScheduleRule
	if err := query.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *gormRepository) IncrementPublished(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&ScheduleRule{}).
		Where("id = ?", id).
		UpdateColumn("total_published", gorm.Expr("total_published + 1")).Error
}
