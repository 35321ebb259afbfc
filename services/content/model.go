package content

import (
	"time"

	"gorm.io/datatypes"

	"agora-contentplane/services/publisher"
)

type Status string

const (
	StatusDraft           Status = "draft"
	StatusQueued          Status = "queued"
	StatusScheduled       Status = "scheduled"
	StatusPendingApproval Status = "pending_approval"
	StatusPublishing      Status = "publishing"
	StatusPublished       Status = "published"
	StatusFailed          Status = "failed"
)

// DefaultMaxRetries bounds publish attempts per item.
const DefaultMaxRetries = 3

// FallbackPolicy is what happens to an unanswered approval at its slot time.
type FallbackPolicy string

const (
	FallbackPublish FallbackPolicy = "publish"
	FallbackSkip    FallbackPolicy = "skip"
)

// ScheduledContent is one publishable piece of content moving through the
// queue -> approval -> publish pipeline.
type ScheduledContent struct {
	ID        string             `gorm:"column:id;primaryKey;type:char(26)"`
	CompanyID string             `gorm:"column:company_id;index:idx_content_company_status;not null"`
	CreatorID string             `gorm:"column:creator_id;not null"`
	Title     string             `gorm:"column:title;type:varchar(255)"`
	Type      string             `gorm:"column:content_type;type:varchar(50)"`
	Platform  publisher.Platform `gorm:"column:platform;type:varchar(30);not null"`

	// Payload is opaque to the pipeline.
	Text      string         `gorm:"column:text;type:text"`
	Caption   string         `gorm:"column:caption;type:text"`
	Hashtags  datatypes.JSON `gorm:"column:hashtags"`
	MediaURLs datatypes.JSON `gorm:"column:media_urls"`

	Status       Status     `gorm:"column:status;type:varchar(30);index:idx_content_company_status;index:idx_content_status_due;not null;default:'draft'"`
	ScheduledFor *time.Time `gorm:"column:scheduled_for;index:idx_content_status_due"`
	Timezone     string     `gorm:"column:timezone;type:varchar(64)"`
	PublishedAt  *time.Time `gorm:"column:published_at"`

	// Provenance: at most one of these is meaningfully set.
	RuleID         *string `gorm:"column:rule_id;index:idx_content_rule_status"`
	TaskID         *string `gorm:"column:task_id"`
	ConversationID *string `gorm:"column:conversation_id"`

	PlatformPostID  string         `gorm:"column:platform_post_id"`
	PlatformPostURL string         `gorm:"column:platform_post_url"`
	EngagementStats datatypes.JSON `gorm:"column:engagement_stats"`

	ErrorMessage string `gorm:"column:error_message;type:text"`
	RetryCount   int    `gorm:"column:retry_count;default:0"`
	MaxRetries   int    `gorm:"column:max_retries;default:3"`

	RequiresApproval bool           `gorm:"column:requires_approval;default:false"`
	ApprovalFallback FallbackPolicy `gorm:"column:approval_fallback;type:varchar(20);default:'skip'"`
	ApprovedBy       *string        `gorm:"column:approved_by"`
	ApprovedAt       *time.Time     `gorm:"column:approved_at"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ScheduledContent) TableName() string { return "scheduled_contents" }

// IsTerminal reports whether no automatic transition can follow.
func (c *ScheduledContent) IsTerminal() bool {
	return c.Status == StatusPublished || c.Status == StatusFailed
}

// Due reports whether the item's slot has arrived.
func (c *ScheduledContent) Due(now time.Time) bool {
	return c.ScheduledFor == nil || !now.Before(*c.ScheduledFor)
}

// MediaURLList decodes the stored media urls.
func (c *ScheduledContent) MediaURLList() []string {
	return decodeStringList(c.MediaURLs)
}

// HashtagList decodes the stored hashtags.
func (c *ScheduledContent) HashtagList() []string {
	return decodeStringList(c.Hashtags)
}

// ToPost maps the item into the platform-neutral publish input.
func (c *ScheduledContent) ToPost() publisher.Post {
	return publisher.Post{
		Text:      c.Text,
		Caption:   c.Caption,
		Hashtags:  c.HashtagList(),
		MediaURLs: c.MediaURLList(),
	}
}
