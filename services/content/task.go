package content

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agora-contentplane/pkg/task"
	"agora-contentplane/services/notification"
)

// TaskHandler owns the asynq handlers for content work that runs outside a
// request: approval reminders and background themed batches.
type TaskHandler struct {
	service *Service
	batch   *BatchGenerator
	sink    notification.Sink
}

type TaskHandlerParams struct {
	fx.In
	Service *Service
	Batch   *BatchGenerator
	Sink    notification.Sink
}

func NewTaskHandler(p TaskHandlerParams) *TaskHandler {
	return &TaskHandler{
		service: p.Service,
		batch:   p.Batch,
		sink:    p.Sink,
	}
}

func RegisterTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(task.PublishReminderTask, h.HandlePublishReminder)
	mux.HandleFunc(task.BatchGenerateTask, h.HandleBatchGenerate)
}

// HandlePublishReminder fires shortly before a slot. The reminder only makes
// sense while the approval is still outstanding; any other state means the
// decision already happened and the task is dropped.
func (h *TaskHandler) HandlePublishReminder(ctx context.Context, t *asynq.Task) error {
	var payload task.PublishReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	item, err := h.service.Get(ctx, payload.ContentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if item.Status != StatusPendingApproval {
		return nil
	}

	err = h.sink.Emit(ctx, &notification.Notification{
		CompanyID:     payload.CompanyID,
		UserID:        payload.UserID,
		Type:          notification.TypePublishReminder,
		Priority:      notification.PriorityHigh,
		Title:         "Content awaiting approval",
		Message:       "A scheduled post is about to reach its slot without approval",
		RelatedEntity: "scheduled_content",
		RelatedID:     item.ID,
	})
	if err != nil {
		return err
	}

	zap.L().Info("[Task] sent publish reminder",
		zap.String("content_id", payload.ContentID),
		zap.String("company_id", payload.CompanyID))
	return nil
}

// HandleBatchGenerate runs a themed batch in the background. The payload is
// the batch request itself.
func (h *TaskHandler) HandleBatchGenerate(ctx context.Context, t *asynq.Task) error {
	var req BatchRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return asynq.SkipRetry
	}

	result, err := h.batch.Generate(ctx, req)
	if err != nil {
		// validation problems never heal on retry
		return asynq.SkipRetry
	}

	if result.Failed > 0 {
		h.notifyBatch(ctx, req, notification.PriorityHigh,
			"Batch generation finished with errors",
			batchSummary(result))
	} else {
		h.notifyBatch(ctx, req, notification.PriorityNormal,
			"Batch generation finished",
			batchSummary(result))
	}
	return nil
}

func (h *TaskHandler) notifyBatch(ctx context.Context, req BatchRequest, priority notification.Priority, title, message string) {
	err := h.sink.Emit(ctx, &notification.Notification{
		CompanyID: req.CompanyID,
		UserID:    req.CreatorID,
		Type:      notification.TypeRuleGenerated,
		Priority:  priority,
		Title:     title,
		Message:   message,
	})
	if err != nil {
		zap.L().Warn("[Task] failed to emit batch notification",
			zap.String("company_id", req.CompanyID), zap.Error(err))
	}
}

func batchSummary(r *BatchResult) string {
	raw, _ := json.Marshal(map[string]int{
		"requested": r.Requested,
		"generated": r.Generated,
		"failed":    r.Failed,
		"scheduled": r.Scheduled,
	})
	return string(raw)
}
