package content

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agora-contentplane/pkg/clock"
	"agora-contentplane/pkg/config"
	"agora-contentplane/pkg/errutil"
	"agora-contentplane/services/publisher"
)

// publishConcurrency bounds parallel platform calls per drain pass.
const publishConcurrency = 5

// Dispatcher finds due content and executes it through the right Publisher.
type Dispatcher struct {
	service  *Service
	repo     Repository
	registry *publisher.Registry
	creds    publisher.CredentialStore
	clock    clock.Clock
	cfg      *config.Config
}

type DispatcherParams struct {
	fx.In
	Service  *Service
	Repo     Repository
	Registry *publisher.Registry
	Creds    publisher.CredentialStore
	Clock    clock.Clock
	Config   *config.Config
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		service:  p.Service,
		repo:     p.Repo,
		registry: p.Registry,
		creds:    p.Creds,
		clock:    p.Clock,
		cfg:      p.Config,
	}
}

// Drain runs one dispatcher pass: recover crashed claims, resolve overdue
// approvals, then claim and publish everything due. Item failures never abort
// the pass.
func (d *Dispatcher) Drain(ctx context.Context) {
	d.reconcileStuck(ctx)
	d.resolveOverdueApprovals(ctx)
	d.publishDue(ctx)
}

// reconcileStuck treats claims older than the stuck threshold as crashed
// attempts so they re-enter the retry policy instead of hanging forever.
func (d *Dispatcher) reconcileStuck(ctx context.Context) {
	cutoff := d.clock.Now().Add(-d.cfg.Scheduler.PublishStuckAfter)

	stuck, err := d.repo.ListStuckPublishing(ctx, cutoff, d.cfg.Scheduler.DispatchBatchSize)
	if err != nil {
		zap.L().Error("[Dispatcher] failed to list stuck publishing items", zap.Error(err))
		return
	}

	for _, item := range stuck {
		zap.L().Warn("[Dispatcher] reclaiming stuck publish attempt",
			zap.String("content_id", item.ID),
			zap.Time("claimed_at", item.UpdatedAt),
		)
		err := d.service.CompletePublish(ctx, item.ID, publisher.PublishResult{
			Success:      false,
			ErrorCode:    "publish_timeout",
			ErrorMessage: "publish attempt did not complete in time",
			Retryable:    true,
		})
		if err != nil {
			zap.L().Error("[Dispatcher] failed to reconcile stuck item",
				zap.String("content_id", item.ID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) resolveOverdueApprovals(ctx context.Context) {
	now := d.clock.Now()

	overdue, err := d.repo.ListApprovalOverdue(ctx, now, d.cfg.Scheduler.DispatchBatchSize)
	if err != nil {
		zap.L().Error("[Dispatcher] failed to list overdue approvals", zap.Error(err))
		return
	}

	for _, item := range overdue {
		policy := item.ApprovalFallback
		if policy == "" {
			policy = FallbackSkip
		}
		if err := d.service.ApplyApprovalFallback(ctx, item.ID, policy); err != nil {
			zap.L().Error("[Dispatcher] failed to apply approval fallback",
				zap.String("content_id", item.ID),
				zap.String("policy", string(policy)),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) publishDue(ctx context.Context) {
	due, err := d.repo.ListDue(ctx, d.clock.Now(), d.cfg.Scheduler.DispatchBatchSize)
	if err != nil {
		zap.L().Error("[Dispatcher] failed to list due content", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	wg := errgroup.Group{}
	wg.SetLimit(publishConcurrency)

	for _, item := range due {
		wg.Go(func() error {
			d.publishOne(ctx, item.ID)
			return nil
		})
	}
	_ = wg.Wait()
}

func (d *Dispatcher) publishOne(ctx context.Context, id string) {
	item, err := d.service.BeginPublish(ctx, id, false)
	if errutil.Is(err, errutil.StatusInvalidTransition) {
		// another pass or a manual publish won the claim
		return
	}
	if err != nil {
		zap.L().Error("[Dispatcher] failed to claim content",
			zap.String("content_id", id), zap.Error(err))
		return
	}

	result := d.execute(ctx, item)
	if err := d.service.CompletePublish(ctx, id, result); err != nil {
		zap.L().Error("[Dispatcher] failed to complete publish",
			zap.String("content_id", id), zap.Error(err))
	}
}

// execute resolves the adapter and credentials and performs the platform
// call. Every failure mode collapses into a PublishResult.
func (d *Dispatcher) execute(ctx context.Context, item *ScheduledContent) publisher.PublishResult {
	pub, err := d.registry.Resolve(item.Platform)
	if err != nil {
		return publisher.PublishResult{
			Success:      false,
			ErrorCode:    "unsupported_platform",
			ErrorMessage: err.Error(),
			Retryable:    false,
		}
	}

	creds, err := d.creds.Get(ctx, item.CompanyID, item.Platform)
	if err != nil {
		return publisher.PublishResult{
			Success:      false,
			ErrorCode:    publisher.ErrCodeMissingCredentials,
			ErrorMessage: "no credentials stored for platform",
			Retryable:    false,
		}
	}

	if creds.Expired(d.clock.Now()) {
		refreshed, err := pub.RefreshToken(ctx, *creds)
		if err != nil {
			// transient refresh trouble follows the normal retry policy
			return publisher.PublishResult{
				Success:      false,
				ErrorCode:    publisher.ErrCodeNetwork,
				ErrorMessage: "token refresh failed: " + err.Error(),
				Retryable:    true,
			}
		}
		if refreshed == nil {
			// unrecoverable grant, retrying is pointless
			return publisher.PublishResult{
				Success:      false,
				ErrorCode:    publisher.ErrCodeUnauthorized,
				ErrorMessage: "platform authorization expired, reconnect required",
				Retryable:    false,
			}
		}

		if err := d.creds.Save(ctx, item.CompanyID, item.Platform, *refreshed); err != nil {
			zap.L().Warn("[Dispatcher] failed to persist refreshed credentials",
				zap.String("company_id", item.CompanyID),
				zap.String("platform", string(item.Platform)),
				zap.Error(err))
		}
		creds = refreshed
	}

	return pub.Publish(ctx, item.ToPost(), *creds)
}

// StartDispatcher runs the drain loop on its own cadence.
func StartDispatcher(lc fx.Lifecycle, d *Dispatcher) {
	loopCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go d.run(loopCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

func (d *Dispatcher) run(ctx context.Context) {
	zap.L().Info("[Dispatcher] started publish dispatcher",
		zap.Duration("interval", d.cfg.Scheduler.DispatchInterval))

	for {
		select {
		case <-d.clock.After(d.cfg.Scheduler.DispatchInterval):
			d.Drain(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Dispatcher] stopped")
			return
		}
	}
}
