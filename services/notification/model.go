package notification

import (
	"time"

	"gorm.io/datatypes"
)

type Type string
type Priority string

const (
	TypeRuleGenerated    Type = "RULE_GENERATED"
	TypeRuleError        Type = "RULE_ERROR"
	TypeContentPublished Type = "CONTENT_PUBLISHED"
	TypeContentFailed    Type = "CONTENT_FAILED"
	TypeApprovalRequired Type = "APPROVAL_REQUIRED"
	TypePublishReminder  Type = "PUBLISH_REMINDER"

	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Notification is a user-facing record of a pipeline state change.
type Notification struct {
	ID        string   `gorm:"column:id;primaryKey;type:char(26)"`
	CompanyID string   `gorm:"column:company_id;index;not null"`
	UserID    string   `gorm:"column:user_id;index;not null"`
	Type      Type     `gorm:"column:type;type:varchar(50);not null"`
	Priority  Priority `gorm:"column:priority;type:varchar(20);not null;default:'NORMAL'"`
	Title     string   `gorm:"column:title;type:varchar(255)"`
	Message   string   `gorm:"column:message;type:text"`
	// Optional follow-up actions rendered by the client, e.g. approve/reject.
	Actions       datatypes.JSON `gorm:"column:actions"`
	RelatedEntity string         `gorm:"column:related_entity;type:varchar(50)"`
	RelatedID     string         `gorm:"column:related_id;index"`
	Read          bool           `gorm:"column:read;default:false"`
	Dismissed     bool           `gorm:"column:dismissed;default:false"`
	ExpiresAt     *time.Time     `gorm:"column:expires_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`
}

func (Notification) TableName() string { return "notifications" }
