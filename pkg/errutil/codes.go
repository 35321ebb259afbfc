package errutil

// CoreStatus is a transport-independent error classification.
type CoreStatus string

const (
	StatusUnknown          CoreStatus = "UNKNOWN"
	StatusNotFound         CoreStatus = "NOT_FOUND"
	StatusBadRequest       CoreStatus = "BAD_REQUEST"
	StatusValidationFailed CoreStatus = "VALIDATION_FAILED"
	StatusInternal         CoreStatus = "INTERNAL"
	StatusTimeout          CoreStatus = "TIMEOUT"

	// Content pipeline taxonomy.
	StatusGenerationFailed  CoreStatus = "GENERATION_FAILED"
	StatusCredential        CoreStatus = "CREDENTIAL_ERROR"
	StatusPublishFailed     CoreStatus = "PUBLISH_FAILED"
	StatusInvalidTransition CoreStatus = "INVALID_STATE_TRANSITION"
	StatusQueueFull         CoreStatus = "QUEUE_FULL"
)
