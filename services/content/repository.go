package content

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"agora-contentplane/services/publisher"
)

// Repository describes database operations available for scheduled content.
type Repository interface {
	Create(ctx context.Context, item *ScheduledContent) error
	GetByID(ctx context.Context, id string) (*ScheduledContent, error)
	Delete(ctx context.Context, id string) error

	// UpdateWhereStatus applies updates only when the row is currently in one
	// of the given statuses. It reports whether the row was changed; this is
	// the single conditional write every state transition goes through.
	UpdateWhereStatus(ctx context.Context, id string, from []Status, updates map[string]any) (bool, error)

	ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledContent, error)
	ListApprovalOverdue(ctx context.Context, now time.Time, limit int) ([]ScheduledContent, error)
	ListStuckPublishing(ctx context.Context, cutoff time.Time, limit int) ([]ScheduledContent, error)
	ListByCompany(ctx context.Context, companyID string, status Status, limit int) ([]ScheduledContent, error)

	// CountOutstandingByRule counts the rule's non-terminal items.
	CountOutstandingByRule(ctx context.Context, ruleID string) (int64, error)

	// CountByRule counts every item referencing the rule, terminal included.
	CountByRule(ctx context.Context, ruleID string) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, item *ScheduledContent) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*ScheduledContent, error) {
	var item ScheduledContent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *gormRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&ScheduledContent{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) UpdateWhereStatus(ctx context.Context, id string, from []Status, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ScheduledContent{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledContent, error) {
	query := r.db.WithContext(ctx).
		Where("status IN ?", []Status{StatusScheduled, StatusQueued}).
		Where("scheduled_for IS NULL OR scheduled_for <= ?", now).
		Order("scheduled_for ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []ScheduledContent
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *gormRepository) ListApprovalOverdue(ctx context.Context, now time.Time, limit int) ([]ScheduledContent, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", StatusPendingApproval).
		Where("scheduled_for IS NOT NULL AND scheduled_for <= ?", now).
		Order("scheduled_for ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []ScheduledContent
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *gormRepository) ListStuckPublishing(ctx context.Context, cutoff time.Time, limit int) ([]ScheduledContent, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", StatusPublishing, cutoff).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []ScheduledContent
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *gormRepository) ListByCompany(ctx context.Context, companyID string, status Status, limit int) ([]ScheduledContent, error) {
	query := r.db.WithContext(ctx).Where("company_id = ?", companyID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	query = query.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []ScheduledContent
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *gormRepository) CountOutstandingByRule(ctx context.Context, ruleID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ScheduledContent{}).
		Where("rule_id = ?", ruleID).
		Where("status NOT IN ?", []Status{StatusPublished, StatusFailed}).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CountByRule(ctx context.Context, ruleID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ScheduledContent{}).
		Where("rule_id = ?", ruleID).
		Count(&count).Error
	return count, err
}

func encodeStats(stats *publisher.PostStats) datatypes.JSON {
	raw, _ := json.Marshal(stats)
	return raw
}

// EncodeStringList stores a string slice as a JSON column value.
func EncodeStringList(values []string) datatypes.JSON {
	return encodeStringList(values)
}

func encodeStringList(values []string) datatypes.JSON {
	if len(values) == 0 {
		return nil
	}
	raw, _ := json.Marshal(values)
	return raw
}

func decodeStringList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
