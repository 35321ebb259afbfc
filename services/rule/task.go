package rule

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agora-contentplane/pkg/task"
)

// TaskHandler owns the asynq handler for out-of-schedule rule runs.
type TaskHandler struct {
	executor *Executor
}

func NewTaskHandler(executor *Executor) *TaskHandler {
	return &TaskHandler{executor: executor}
}

func RegisterTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(task.RuleGenerateTask, h.HandleRuleGenerate)
}

func (h *TaskHandler) HandleRuleGenerate(ctx context.Context, t *asynq.Task) error {
	var payload task.RuleGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	err := h.executor.ExecuteByID(ctx, payload.RuleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// the rule was deleted between enqueue and run
			return nil
		}
		zap.L().Error("[Rule] generate-now task failed",
			zap.String("rule_id", payload.RuleID), zap.Error(err))
		return err
	}
	return nil
}
