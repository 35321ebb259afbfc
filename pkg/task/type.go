package task

const (
	// PublishReminderTask fires ahead of a scheduled publish slot so approvers
	// get a heads-up notification.
	PublishReminderTask = "content:publish:reminder"

	// BatchGenerateTask runs a user-requested themed batch in the background.
	BatchGenerateTask = "content:batch:generate"

	// RuleGenerateTask runs a single rule's generation outside its normal
	// schedule ("generate now").
	RuleGenerateTask = "rule:generate"
)

type PublishReminderPayload struct {
	ContentID string `json:"content_id"`
	CompanyID string `json:"company_id"`
	UserID    string `json:"user_id"`
}

type RuleGeneratePayload struct {
	RuleID    string `json:"rule_id"`
	CompanyID string `json:"company_id"`
}
