package content

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"agora-contentplane/pkg/clock"
	"agora-contentplane/pkg/config"
	"agora-contentplane/pkg/errutil"
	"agora-contentplane/services/notification"
	"agora-contentplane/services/publisher"
)

// RuleStats lets the pipeline report publish outcomes back to the owning
// rule without importing the rule package.
type RuleStats interface {
	RecordPublished(ctx context.Context, ruleID string) error
}

var prePublishStatuses = []Status{StatusDraft, StatusQueued, StatusScheduled, StatusPendingApproval}

type Service struct {
	repo  Repository
	node  *snowflake.Node
	clock clock.Clock
	sink  notification.Sink
	cfg   *config.Config

	registry *publisher.Registry
	creds    publisher.CredentialStore

	ruleStats RuleStats
}

type ServiceParams struct {
	fx.In
	Repo     Repository
	Node     *snowflake.Node
	Clock    clock.Clock
	Sink     notification.Sink
	Config   *config.Config
	Registry *publisher.Registry
	Creds    publisher.CredentialStore

	RuleStats RuleStats `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:      p.Repo,
		node:      p.Node,
		clock:     p.Clock,
		sink:      p.Sink,
		cfg:       p.Config,
		registry:  p.Registry,
		creds:     p.Creds,
		ruleStats: p.RuleStats,
	}
}

// Create persists a new item, filling id and retry defaults.
func (s *Service) Create(ctx context.Context, item *ScheduledContent) error {
	if item.ID == "" {
		item.ID = s.node.Generate().String()
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = DefaultMaxRetries
	}
	if item.Status == "" {
		item.Status = StatusDraft
	}
	return s.repo.Create(ctx, item)
}

func (s *Service) Get(ctx context.Context, id string) (*ScheduledContent, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByCompany(ctx context.Context, companyID string, status Status, limit int) ([]ScheduledContent, error) {
	return s.repo.ListByCompany(ctx, companyID, status, limit)
}

// Approve moves a pending item to scheduled. Only legal from
// pending_approval; any other state is a caller contract violation.
func (s *Service) Approve(ctx context.Context, id, approverID string, scheduledFor *time.Time) (*ScheduledContent, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	slot := item.ScheduledFor
	if scheduledFor != nil {
		slot = scheduledFor
	}

	target := StatusScheduled
	if slot == nil {
		target = StatusQueued
	}

	ok, err := s.repo.UpdateWhereStatus(ctx, id, []Status{StatusPendingApproval}, map[string]any{
		"status":        target,
		"scheduled_for": slot,
		"approved_by":   approverID,
		"approved_at":   now,
		"updated_at":    now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errutil.InvalidTransition(
			fmt.Sprintf("cannot approve content in status %q", item.Status))
	}

	return s.repo.GetByID(ctx, id)
}

// Reject marks a pre-publish item failed. A notification is raised only when
// an approval was actually outstanding.
func (s *Service) Reject(ctx context.Context, id, userID, reason string) error {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if reason == "" {
		reason = "rejected by " + userID
	}

	ok, err := s.repo.UpdateWhereStatus(ctx, id, prePublishStatuses, map[string]any{
		"status":        StatusFailed,
		"error_message": reason,
		"updated_at":    s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return errutil.InvalidTransition(
			fmt.Sprintf("cannot reject content in status %q", item.Status))
	}

	if item.Status == StatusPendingApproval {
		s.notify(ctx, item, notification.TypeContentFailed, notification.PriorityNormal,
			"Content rejected", reason)
	}
	return nil
}

// Remove deletes a pre-publish item entirely.
func (s *Service) Remove(ctx context.Context, id string) error {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item.Status == StatusPublishing || item.IsTerminal() {
		return errutil.InvalidTransition(
			fmt.Sprintf("cannot delete content in status %q", item.Status))
	}
	return s.repo.Delete(ctx, id)
}

// RetryFailed resets a failed item back into the queue.
func (s *Service) RetryFailed(ctx context.Context, id string, scheduledFor *time.Time) error {
	target := StatusQueued
	if scheduledFor != nil {
		target = StatusScheduled
	}

	ok, err := s.repo.UpdateWhereStatus(ctx, id, []Status{StatusFailed}, map[string]any{
		"status":        target,
		"scheduled_for": scheduledFor,
		"retry_count":   0,
		"error_message": "",
		"updated_at":    s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return errutil.InvalidTransition("only failed content can be retried")
	}
	return nil
}

// BeginPublish claims an item for publishing. The conditional update is the
// claim: of N concurrent callers exactly one sees RowsAffected=1. With force
// set the scheduled slot is ignored ("publish now").
func (s *Service) BeginPublish(ctx context.Context, id string, force bool) (*ScheduledContent, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !force && !item.Due(now) {
		return nil, errutil.InvalidTransition("content is not due yet")
	}

	ok, err := s.repo.UpdateWhereStatus(ctx, id, []Status{StatusScheduled, StatusQueued}, map[string]any{
		"status":     StatusPublishing,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errutil.InvalidTransition(
			fmt.Sprintf("cannot begin publishing content in status %q", item.Status))
	}

	item.Status = StatusPublishing
	return item, nil
}

// CompletePublish finishes a publish attempt claimed by BeginPublish.
// Success is terminal-good; failure either re-schedules with backoff or goes
// terminal-bad once retries are spent or the error is not retryable.
func (s *Service) CompletePublish(ctx context.Context, id string, result publisher.PublishResult) error {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := s.clock.Now()

	if result.Success {
		ok, err := s.repo.UpdateWhereStatus(ctx, id, []Status{StatusPublishing}, map[string]any{
			"status":            StatusPublished,
			"platform_post_id":  result.PostID,
			"platform_post_url": result.PostURL,
			"published_at":      now,
			"error_message":     "",
			"updated_at":        now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errutil.InvalidTransition(
				fmt.Sprintf("cannot complete publishing content in status %q", item.Status))
		}

		s.notify(ctx, item, notification.TypeContentPublished, notification.PriorityNormal,
			"Content published",
			fmt.Sprintf("%q is live on %s", item.Title, item.Platform))

		if item.RuleID != nil && s.ruleStats != nil {
			if err := s.ruleStats.RecordPublished(ctx, *item.RuleID); err != nil {
				zap.L().Warn("[Content] failed to record publish on rule",
					zap.String("rule_id", *item.RuleID), zap.Error(err))
			}
		}
		return nil
	}

	retryCount := item.RetryCount + 1
	exhausted := retryCount >= item.MaxRetries

	if result.Retryable && !exhausted {
		next := now.Add(s.backoff(retryCount))
		ok, err := s.repo.UpdateWhereStatus(ctx, id, []Status{StatusPublishing}, map[string]any{
			"status":        StatusScheduled,
			"scheduled_for": next,
			"retry_count":   retryCount,
			"error_message": result.ErrorMessage,
			"updated_at":    now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errutil.InvalidTransition(
				fmt.Sprintf("cannot complete publishing content in status %q", item.Status))
		}
		// retries stay silent, only terminal outcomes notify
		return nil
	}

	ok, err := s.repo.UpdateWhereStatus(ctx, id, []Status{StatusPublishing}, map[string]any{
		"status":        StatusFailed,
		"retry_count":   retryCount,
		"error_message": result.ErrorMessage,
		"updated_at":    now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errutil.InvalidTransition(
			fmt.Sprintf("cannot complete publishing content in status %q", item.Status))
	}

	s.notify(ctx, item, notification.TypeContentFailed, notification.PriorityHigh,
		"Content failed to publish",
		fmt.Sprintf("%q could not be published to %s: %s", item.Title, item.Platform, result.ErrorMessage))

	return nil
}

// ApplyApprovalFallback resolves an unanswered approval whose slot has
// arrived: publish promotes it to scheduled, skip fails it with a timeout.
func (s *Service) ApplyApprovalFallback(ctx context.Context, id string, policy FallbackPolicy) error {
	now := s.clock.Now()

	if policy == FallbackPublish {
		ok, err := s.repo.UpdateWhereStatus(ctx, id, []Status{StatusPendingApproval}, map[string]any{
			"status":     StatusScheduled,
			"updated_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errutil.InvalidTransition("content is no longer pending approval")
		}
		return nil
	}

	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	ok, err := s.repo.UpdateWhereStatus(ctx, id, []Status{StatusPendingApproval}, map[string]any{
		"status":        StatusFailed,
		"error_message": "approval timed out before the scheduled slot",
		"updated_at":    now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errutil.InvalidTransition("content is no longer pending approval")
	}

	s.notify(ctx, item, notification.TypeContentFailed, notification.PriorityHigh,
		"Content skipped",
		fmt.Sprintf("%q was skipped because nobody approved it in time", item.Title))

	return nil
}

// RefreshStats pulls current engagement numbers for a published item.
func (s *Service) RefreshStats(ctx context.Context, id string) (*publisher.PostStats, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != StatusPublished || item.PlatformPostID == "" {
		return nil, errutil.InvalidTransition("stats are only available for published content")
	}

	pub, err := s.registry.Resolve(item.Platform)
	if err != nil {
		return nil, err
	}

	creds, err := s.creds.Get(ctx, item.CompanyID, item.Platform)
	if err != nil {
		return nil, errutil.Credential("platform credentials unavailable", errutil.WithErr(err))
	}

	stats, err := pub.GetPostStats(ctx, item.PlatformPostID, *creds)
	if err != nil || stats == nil {
		return nil, err
	}

	_, err = s.repo.UpdateWhereStatus(ctx, id, []Status{StatusPublished}, map[string]any{
		"engagement_stats": encodeStats(stats),
		"updated_at":       s.clock.Now(),
	})
	return stats, err
}

func (s *Service) backoff(retryCount int) time.Duration {
	base := s.cfg.Scheduler.RetryBaseDelay
	max := s.cfg.Scheduler.RetryMaxDelay

	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (s *Service) notify(ctx context.Context, item *ScheduledContent, typ notification.Type, priority notification.Priority, title, message string) {
	err := s.sink.Emit(ctx, &notification.Notification{
		CompanyID:     item.CompanyID,
		UserID:        item.CreatorID,
		Type:          typ,
		Priority:      priority,
		Title:         title,
		Message:       message,
		RelatedEntity: "scheduled_content",
		RelatedID:     item.ID,
	})
	if err != nil {
		zap.L().Warn("[Content] failed to emit notification",
			zap.String("content_id", item.ID), zap.Error(err))
	}
}
