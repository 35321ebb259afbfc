package rule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"agora-contentplane/pkg/clock"
	"agora-contentplane/pkg/config"
	"agora-contentplane/pkg/task"
	"agora-contentplane/services/content"
	"agora-contentplane/services/generator"
	"agora-contentplane/services/notification"
)

// Executor drives all active rules forward in time. Each Tick fetches due
// rules and executes them one by one; a rule's failure never aborts the rest
// of the pass.
type Executor struct {
	repo        Repository
	contentRepo content.Repository
	contentSvc  *content.Service
	generator   generator.ContentGenerator
	sink        notification.Sink
	enqueuer    task.Enqueuer
	clock       clock.Clock
	cfg         *config.Config
}

type ExecutorParams struct {
	fx.In
	Repo        Repository
	ContentRepo content.Repository
	ContentSvc  *content.Service
	Generator   generator.ContentGenerator
	Sink        notification.Sink
	Enqueuer    task.Enqueuer `optional:"true"`
	Clock       clock.Clock
	Config      *config.Config
}

func NewExecutor(p ExecutorParams) *Executor {
	return &Executor{
		repo:        p.Repo,
		contentRepo: p.ContentRepo,
		contentSvc:  p.ContentSvc,
		generator:   p.Generator,
		sink:        p.Sink,
		enqueuer:    p.Enqueuer,
		clock:       p.Clock,
		cfg:         p.Config,
	}
}

// Tick runs one evaluation pass over every due rule.
func (e *Executor) Tick(ctx context.Context) {
	now := e.clock.Now()

	due, err := e.repo.ListDue(ctx, now, e.cfg.Scheduler.DispatchBatchSize)
	if err != nil {
		zap.L().Error("[Rule] failed to list due rules", zap.Error(err))
		return
	}

	for _, r := range due {
		if err := e.Execute(ctx, &r, now); err != nil {
			zap.L().Error("[Rule] rule execution failed",
				zap.String("rule_id", r.ID), zap.Error(err))
		}
	}
}

// ExecuteByID runs a single rule outside its normal schedule.
func (e *Executor) ExecuteByID(ctx context.Context, id string) error {
	r, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return e.Execute(ctx, r, e.clock.Now())
}

// Execute runs one rule once. The clock always advances: whatever the tick's
// outcome, next_execution moves strictly past now so the rule can never wedge.
func (e *Executor) Execute(ctx context.Context, r *ScheduleRule, now time.Time) error {
	spec, err := r.ScheduleSpec()
	if err != nil {
		return e.recordFailure(ctx, r, now, nil, fmt.Errorf("invalid schedule: %w", err))
	}

	next, err := NextExecution(spec, now)
	if err != nil {
		return e.recordFailure(ctx, r, now, nil, err)
	}

	outstanding, err := e.contentRepo.CountOutstandingByRule(ctx, r.ID)
	if err != nil {
		return e.recordFailure(ctx, r, now, &next, err)
	}
	if r.MaxQueueSize > 0 && outstanding >= int64(r.MaxQueueSize) {
		return e.recordSkip(ctx, r, now, next, outstanding)
	}

	produced, err := e.generator.Generate(ctx, r.TemplateSpec(), generator.CompanyContext{
		CompanyID: r.CompanyID,
	})
	if err != nil {
		return e.recordFailure(ctx, r, now, &next, err)
	}

	item, err := e.createContent(ctx, r, produced, now, next)
	if err != nil {
		return e.recordFailure(ctx, r, now, &next, err)
	}

	err = e.repo.UpdateFields(ctx, r.ID, map[string]any{
		"last_executed":        now,
		"next_execution":       next,
		"last_error":           "",
		"total_generated":      r.TotalGenerated + 1,
		"consecutive_skips":    0,
		"consecutive_failures": 0,
		"updated_at":           now,
	})
	if err != nil {
		return err
	}

	e.notify(ctx, r, notification.TypeRuleGenerated, notification.PriorityNormal,
		"Content generated",
		fmt.Sprintf("Rule %q produced a new %s post", r.Name, r.Platform))

	if r.NotifyBeforePublish && item.ScheduledFor != nil {
		e.scheduleReminder(r, item)
	}

	zap.L().Info("[Rule] rule executed",
		zap.String("rule_id", r.ID),
		zap.String("content_id", item.ID),
		zap.Time("next_execution", next))
	return nil
}

func (e *Executor) createContent(ctx context.Context, r *ScheduleRule, produced *generator.Result, now, next time.Time) (*content.ScheduledContent, error) {
	// the slot the rule was due at, not the moment the tick happened to run
	slot := now
	if r.NextExecution != nil {
		slot = *r.NextExecution
	}

	status := content.StatusScheduled
	requiresApproval := r.ApprovalMode == ApprovalRequired
	if requiresApproval {
		status = content.StatusPendingApproval
		// approval-gated items target the following slot; the due slot is
		// already in the past, which would leave no window to respond
		slot = next
	}

	fallback := r.FallbackOnNoResponse
	if fallback == "" {
		fallback = content.FallbackSkip
	}

	item := &content.ScheduledContent{
		CompanyID:        r.CompanyID,
		CreatorID:        r.CreatorID,
		Title:            r.Name,
		Type:             r.Type,
		Platform:         r.Platform,
		Text:             produced.Text,
		Caption:          produced.Caption,
		Hashtags:         content.EncodeStringList(produced.Hashtags),
		MediaURLs:        content.EncodeStringList(produced.MediaRefs),
		Status:           status,
		ScheduledFor:     &slot,
		RuleID:           &r.ID,
		RequiresApproval: requiresApproval,
		ApprovalFallback: fallback,
	}

	if err := e.contentSvc.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// recordSkip advances the clock without generating. A persistently full queue
// raises an alert after the configured number of consecutive skips.
func (e *Executor) recordSkip(ctx context.Context, r *ScheduleRule, now, next time.Time, outstanding int64) error {
	skips := r.ConsecutiveSkips + 1

	err := e.repo.UpdateFields(ctx, r.ID, map[string]any{
		"next_execution":    next,
		"consecutive_skips": skips,
		"updated_at":        now,
	})
	if err != nil {
		return err
	}

	zap.L().Info("[Rule] rule skipped, queue full",
		zap.String("rule_id", r.ID),
		zap.Int64("outstanding", outstanding),
		zap.Int("max_queue_size", r.MaxQueueSize))

	if alertAfter := e.cfg.Scheduler.QueueSkipAlertAfter; alertAfter > 0 && skips >= alertAfter {
		e.notify(ctx, r, notification.TypeRuleError, notification.PriorityHigh,
			"Rule backlog not draining",
			fmt.Sprintf("Rule %q has been skipped %d times because %d items are still unpublished", r.Name, skips, outstanding))
	}
	return nil
}

func (e *Executor) recordFailure(ctx context.Context, r *ScheduleRule, now time.Time, next *time.Time, cause error) error {
	failures := r.ConsecutiveFailures + 1
	deactivate := e.cfg.Scheduler.DeactivateAfterFailures > 0 &&
		failures >= e.cfg.Scheduler.DeactivateAfterFailures

	updates := map[string]any{
		"last_executed":        now,
		"last_error":           cause.Error(),
		"consecutive_failures": failures,
		"updated_at":           now,
	}
	if next != nil {
		updates["next_execution"] = next
	}
	if deactivate {
		updates["is_active"] = false
	}

	if err := e.repo.UpdateFields(ctx, r.ID, updates); err != nil {
		return err
	}

	title := "Rule execution failed"
	message := fmt.Sprintf("Rule %q failed: %s", r.Name, cause.Error())
	if deactivate {
		title = "Rule deactivated"
		message = fmt.Sprintf("Rule %q was paused after %d consecutive failures: %s", r.Name, failures, cause.Error())
	}
	e.notify(ctx, r, notification.TypeRuleError, notification.PriorityHigh, title, message)

	return cause
}

// scheduleReminder enqueues the approval heads-up to fire ahead of the slot.
func (e *Executor) scheduleReminder(r *ScheduleRule, item *content.ScheduledContent) {
	if e.enqueuer == nil {
		return
	}

	lead := time.Duration(r.NotifyLeadMinutes) * time.Minute
	remindAt := item.ScheduledFor.Add(-lead)

	payload, _ := json.Marshal(task.PublishReminderPayload{
		ContentID: item.ID,
		CompanyID: item.CompanyID,
		UserID:    item.CreatorID,
	})

	_, err := e.enqueuer.Enqueue(
		asynq.NewTask(task.PublishReminderTask, payload),
		asynq.ProcessAt(remindAt),
		asynq.Queue("default"),
	)
	if err != nil {
		zap.L().Warn("[Rule] failed to enqueue publish reminder",
			zap.String("content_id", item.ID), zap.Error(err))
	}
}

func (e *Executor) notify(ctx context.Context, r *ScheduleRule, typ notification.Type, priority notification.Priority, title, message string) {
	err := e.sink.Emit(ctx, &notification.Notification{
		CompanyID:     r.CompanyID,
		UserID:        r.CreatorID,
		Type:          typ,
		Priority:      priority,
		Title:         title,
		Message:       message,
		RelatedEntity: "schedule_rule",
		RelatedID:     r.ID,
	})
	if err != nil {
		zap.L().Warn("[Rule] failed to emit notification",
			zap.String("rule_id", r.ID), zap.Error(err))
	}
}

// StartExecutor runs the tick loop on its own cadence.
func StartExecutor(lc fx.Lifecycle, e *Executor) {
	loopCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go e.run(loopCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

func (e *Executor) run(ctx context.Context) {
	zap.L().Info("[Rule] started rule executor",
		zap.Duration("interval", e.cfg.Scheduler.RuleTickInterval))

	for {
		select {
		case <-e.clock.After(e.cfg.Scheduler.RuleTickInterval):
			e.Tick(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Rule] stopped")
			return
		}
	}
}
