package rule

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"agora-contentplane/services/content"
	"agora-contentplane/services/generator"
	"agora-contentplane/services/publisher"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

type ApprovalMode string

const (
	ApprovalAutoPublish ApprovalMode = "auto_publish"
	ApprovalRequired    ApprovalMode = "require_approval"
)

// ScheduleSpec defines when a rule fires. Days of week are zero-based from
// Monday. CronExpr, when set, overrides the frequency fields entirely.
type ScheduleSpec struct {
	Frequency  Frequency `json:"frequency"`
	DaysOfWeek []int     `json:"days_of_week,omitempty"`
	DayOfMonth int       `json:"day_of_month,omitempty"`
	TimeOfDay  string    `json:"time_of_day"`
	Timezone   string    `json:"timezone,omitempty"`
	CronExpr   string    `json:"cron_expr,omitempty"`
}

// ScheduleRule is a recurring content generation policy.
type ScheduleRule struct {
	ID        string             `gorm:"column:id;primaryKey;type:char(26)"`
	CompanyID string             `gorm:"column:company_id;index;not null"`
	CreatorID string             `gorm:"column:creator_id;not null"`
	Name      string             `gorm:"column:name;type:varchar(255);not null"`
	Type      string             `gorm:"column:content_type;type:varchar(50)"`
	Platform  publisher.Platform `gorm:"column:platform;type:varchar(30);not null"`

	Template datatypes.JSON `gorm:"column:content_template"`
	Schedule datatypes.JSON `gorm:"column:schedule;not null"`

	ApprovalMode         ApprovalMode           `gorm:"column:approval_mode;type:varchar(30);default:'auto_publish'"`
	NotifyBeforePublish  bool                   `gorm:"column:notify_before_publish;default:false"`
	NotifyLeadMinutes    int                    `gorm:"column:notify_lead_minutes;default:60"`
	FallbackOnNoResponse content.FallbackPolicy `gorm:"column:fallback_on_no_response;type:varchar(20);default:'skip'"`

	MaxQueueSize int  `gorm:"column:max_queue_size;default:10"`
	IsActive     bool `gorm:"column:is_active;index:idx_rule_active_due;default:true"`

	LastExecuted  *time.Time `gorm:"column:last_executed"`
	NextExecution *time.Time `gorm:"column:next_execution;index:idx_rule_active_due"`
	LastError     string     `gorm:"column:last_error;type:text"`

	TotalGenerated int64 `gorm:"column:total_generated;default:0"`
	TotalPublished int64 `gorm:"column:total_published;default:0"`

	ConsecutiveSkips    int `gorm:"column:consecutive_skips;default:0"`
	ConsecutiveFailures int `gorm:"column:consecutive_failures;default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ScheduleRule) TableName() string { return "schedule_rules" }

// ScheduleSpec decodes the stored schedule definition.
func (r *ScheduleRule) ScheduleSpec() (ScheduleSpec, error) {
	var spec ScheduleSpec
	if err := json.Unmarshal(r.Schedule, &spec); err != nil {
		return ScheduleSpec{}, err
	}
	return spec, nil
}

// TemplateSpec decodes the stored content template.
func (r *ScheduleRule) TemplateSpec() generator.Template {
	var tpl generator.Template
	if len(r.Template) > 0 {
		_ = json.Unmarshal(r.Template, &tpl)
	}
	if tpl.Platform == "" {
		tpl.Platform = string(r.Platform)
	}
	if tpl.ContentType == "" {
		tpl.ContentType = r.Type
	}
	return tpl
}

func EncodeSchedule(spec ScheduleSpec) datatypes.JSON {
	raw, _ := json.Marshal(spec)
	return raw
}

func EncodeTemplate(tpl generator.Template) datatypes.JSON {
	raw, _ := json.Marshal(tpl)
	return raw
}
