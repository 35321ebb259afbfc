package rule

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"agora-contentplane/pkg/clock"
	"agora-contentplane/pkg/errutil"
	"agora-contentplane/pkg/task"
	"agora-contentplane/services/content"
)

type Service struct {
	repo        Repository
	contentRepo content.Repository
	executor    *Executor
	enqueuer    task.Enqueuer
	node        *snowflake.Node
	clock       clock.Clock
}

type ServiceParams struct {
	fx.In
	Repo        Repository
	ContentRepo content.Repository
	Executor    *Executor
	Enqueuer    task.Enqueuer `optional:"true"`
	Node        *snowflake.Node
	Clock       clock.Clock
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:        p.Repo,
		contentRepo: p.ContentRepo,
		executor:    p.Executor,
		enqueuer:    p.Enqueuer,
		node:        p.Node,
		clock:       p.Clock,
	}
}

// Create validates the schedule and persists the rule with its first
// next_execution already computed.
func (s *Service) Create(ctx context.Context, r *ScheduleRule) error {
	if r.CompanyID == "" || r.Name == "" || r.Platform == "" {
		return errutil.ValidationFailed("company_id, name and platform are required")
	}

	spec, err := r.ScheduleSpec()
	if err != nil {
		return errutil.ValidationFailed("schedule is not valid JSON")
	}

	next, err := NextExecution(spec, s.clock.Now())
	if err != nil {
		return err
	}

	if r.ID == "" {
		r.ID = s.node.Generate().String()
	}
	r.IsActive = true
	r.NextExecution = &next

	return s.repo.Create(ctx, r)
}

func (s *Service) Get(ctx context.Context, id string) (*ScheduleRule, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, companyID string, includeInactive bool) ([]ScheduleRule, error) {
	return s.repo.List(ctx, companyID, includeInactive)
}

// Update rewrites the rule's definition fields and recomputes next_execution
// when the schedule changed.
func (s *Service) Update(ctx context.Context, r *ScheduleRule) error {
	existing, err := s.repo.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"name":                    r.Name,
		"content_type":            r.Type,
		"platform":                r.Platform,
		"content_template":        r.Template,
		"schedule":                r.Schedule,
		"approval_mode":           r.ApprovalMode,
		"notify_before_publish":   r.NotifyBeforePublish,
		"notify_lead_minutes":     r.NotifyLeadMinutes,
		"fallback_on_no_response": r.FallbackOnNoResponse,
		"max_queue_size":          r.MaxQueueSize,
		"updated_at":              s.clock.Now(),
	}

	if string(existing.Schedule) != string(r.Schedule) {
		spec, err := r.ScheduleSpec()
		if err != nil {
			return errutil.ValidationFailed("schedule is not valid JSON")
		}
		next, err := NextExecution(spec, s.clock.Now())
		if err != nil {
			return err
		}
		updates["next_execution"] = next
	}

	return s.repo.UpdateFields(ctx, r.ID, updates)
}

// Pause stops future ticks without touching outstanding content.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.repo.UpdateFields(ctx, id, map[string]any{
		"is_active":  false,
		"updated_at": s.clock.Now(),
	})
}

// Resume reactivates the rule with a fresh next_execution and clean failure
// counters.
func (s *Service) Resume(ctx context.Context, id string) error {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	spec, err := r.ScheduleSpec()
	if err != nil {
		return errutil.ValidationFailed("schedule is not valid JSON")
	}
	next, err := NextExecution(spec, s.clock.Now())
	if err != nil {
		return err
	}

	return s.repo.UpdateFields(ctx, id, map[string]any{
		"is_active":            true,
		"next_execution":       next,
		"last_error":           "",
		"consecutive_skips":    0,
		"consecutive_failures": 0,
		"updated_at":           s.clock.Now(),
	})
}

// Delete removes the rule. Rules with content still referencing them are
// paused instead, so provenance links stay resolvable.
func (s *Service) Delete(ctx context.Context, id string) error {
	referenced, err := s.contentRepo.CountByRule(ctx, id)
	if err != nil {
		return err
	}
	if referenced > 0 {
		if err := s.Pause(ctx, id); err != nil {
			return err
		}
		return errutil.BadRequest(
			fmt.Sprintf("rule has %d content items referencing it and was paused instead of deleted", referenced))
	}
	return s.repo.Delete(ctx, id)
}

// GenerateNow runs the rule once outside its schedule. With a task backend
// available the work happens in the background; otherwise it runs inline.
func (s *Service) GenerateNow(ctx context.Context, id string) error {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if s.enqueuer == nil {
		return s.executor.Execute(ctx, r, s.clock.Now())
	}

	payload, _ := json.Marshal(task.RuleGeneratePayload{
		RuleID:    r.ID,
		CompanyID: r.CompanyID,
	})
	_, err = s.enqueuer.Enqueue(
		asynq.NewTask(task.RuleGenerateTask, payload),
		asynq.Queue("critical"),
	)
	return err
}

// RecordPublished bumps the rule's published counter when one of its items
// goes live.
func (s *Service) RecordPublished(ctx context.Context, ruleID string) error {
	return recordPublished(ctx, s.repo, ruleID)
}

// StatsRecorder implements content.RuleStats against the repository alone, so
// the content pipeline does not pull the whole rule service graph in.
type StatsRecorder struct {
	repo Repository
}

func NewStatsRecorder(repo Repository) *StatsRecorder {
	return &StatsRecorder{repo: repo}
}

func (s *StatsRecorder) RecordPublished(ctx context.Context, ruleID string) error {
	return recordPublished(ctx, s.repo, ruleID)
}

func recordPublished(ctx context.Context, repo Repository, ruleID string) error {
	if err := repo.IncrementPublished(ctx, ruleID); err != nil {
		zap.L().Warn("[Rule] failed to increment published counter",
			zap.String("rule_id", ruleID), zap.Error(err))
		return err
	}
	return nil
}
