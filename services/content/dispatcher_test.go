package content

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"agora-contentplane/services/publisher"
)

func newDispatcher(f *fixture) *Dispatcher {
	return NewDispatcher(DispatcherParams{
		Service:  f.service,
		Repo:     f.repo,
		Registry: publisher.NewRegistry(publisher.RegistryParams{Adapters: []publisher.Publisher{f.pub}}),
		Creds:    f.creds,
		Clock:    f.clock,
		Config:   f.cfg,
	})
}

func TestDrainPublishesDueContent(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	item := f.seed(t, nil)

	d.Drain(context.Background())

	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, after.Status)
	require.Equal(t, "post_1", after.PlatformPostID)
	require.Equal(t, int32(1), atomic.LoadInt32(&f.pub.publishCalls))
}

func TestDrainLeavesFutureContentAlone(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	future := f.clock.Now().Add(time.Hour)
	item := f.seed(t, func(c *ScheduledContent) {
		c.ScheduledFor = &future
	})

	d.Drain(context.Background())

	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, after.Status)
	require.Equal(t, int32(0), atomic.LoadInt32(&f.pub.publishCalls))
}

func TestDrainRefreshesExpiredCredentials(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	item := f.seed(t, nil)

	expired := f.clock.Now().Add(-time.Hour)
	f.creds.getFn = func(ctx context.Context, companyID string, platform publisher.Platform) (*publisher.Credentials, error) {
		return &publisher.Credentials{AccessToken: "stale", RefreshToken: "refresh", ExpiresAt: &expired}, nil
	}
	f.pub.refreshFn = func(ctx context.Context, creds publisher.Credentials) (*publisher.Credentials, error) {
		return &publisher.Credentials{AccessToken: "fresh", RefreshToken: "refresh"}, nil
	}
	f.pub.publishFn = func(ctx context.Context, post publisher.Post, creds publisher.Credentials) publisher.PublishResult {
		require.Equal(t, "fresh", creds.AccessToken)
		return publisher.PublishResult{Success: true, PostID: "post_2"}
	}

	d.Drain(context.Background())

	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, after.Status)
	require.Len(t, f.creds.saved, 1)
	require.Equal(t, "fresh", f.creds.saved[0].AccessToken)
}

func TestDrainUnrecoverableGrantFailsTerminally(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	item := f.seed(t, nil)

	expired := f.clock.Now().Add(-time.Hour)
	f.creds.getFn = func(ctx context.Context, companyID string, platform publisher.Platform) (*publisher.Credentials, error) {
		return &publisher.Credentials{AccessToken: "stale", ExpiresAt: &expired}, nil
	}
	f.pub.refreshFn = func(ctx context.Context, creds publisher.Credentials) (*publisher.Credentials, error) {
		return nil, nil // re-auth required
	}

	d.Drain(context.Background())

	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, after.Status)
	require.Contains(t, after.ErrorMessage, "reconnect required")
	require.Equal(t, int32(0), atomic.LoadInt32(&f.pub.publishCalls))
}

func TestDrainTransientRefreshErrorRetries(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	item := f.seed(t, nil)

	expired := f.clock.Now().Add(-time.Hour)
	f.creds.getFn = func(ctx context.Context, companyID string, platform publisher.Platform) (*publisher.Credentials, error) {
		return &publisher.Credentials{AccessToken: "stale", RefreshToken: "refresh", ExpiresAt: &expired}, nil
	}
	f.pub.refreshFn = func(ctx context.Context, creds publisher.Credentials) (*publisher.Credentials, error) {
		return nil, errors.New("connection reset")
	}

	d.Drain(context.Background())

	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, after.Status)
	require.Equal(t, 1, after.RetryCount)
	require.True(t, after.ScheduledFor.After(f.clock.Now()))
}

func TestDrainMissingCredentialsFailsTerminally(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	item := f.seed(t, nil)

	f.creds.getFn = func(ctx context.Context, companyID string, platform publisher.Platform) (*publisher.Credentials, error) {
		return nil, publisher.ErrCredentialsNotFound
	}

	d.Drain(context.Background())

	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, after.Status)
	require.Equal(t, int32(0), atomic.LoadInt32(&f.pub.publishCalls))
}

func TestDrainReconcilesStuckPublishing(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	item := f.seed(t, func(c *ScheduledContent) {
		c.Status = StatusPublishing
	})

	// the claim is older than the stuck threshold
	stale := f.clock.Now().Add(-time.Hour)
	db := f.repo.(*gormRepository).db
	require.NoError(t, db.Model(&ScheduledContent{}).
		Where("id = ?", item.ID).
		UpdateColumn("updated_at", stale).Error)

	d.Drain(context.Background())

	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	// reclaimed as a retryable failure and re-queued with backoff
	require.Equal(t, StatusScheduled, after.Status)
	require.Equal(t, 1, after.RetryCount)
	require.True(t, after.ScheduledFor.After(f.clock.Now()))
}

func TestPublishOneLogsOnlyUnexpectedClaimErrors(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)

	core, logs := observer.New(zapcore.ErrorLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(prev)

	// a lost claim is an expected race and stays quiet
	item := f.seed(t, func(c *ScheduledContent) {
		c.Status = StatusPublished
	})
	d.publishOne(context.Background(), item.ID)
	require.Equal(t, 0, logs.Len())
	require.Equal(t, int32(0), atomic.LoadInt32(&f.pub.publishCalls))

	// a repository failure is not a race and must surface
	d.publishOne(context.Background(), "does_not_exist")
	require.Equal(t, 1, logs.FilterMessage("[Dispatcher] failed to claim content").Len())
}

func TestDrainResolvesOverdueApprovalSkip(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	item := f.seed(t, func(c *ScheduledContent) {
		c.Status = StatusPendingApproval
		c.ApprovalFallback = FallbackSkip
	})

	d.Drain(context.Background())

	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, after.Status)
	require.Equal(t, int32(0), atomic.LoadInt32(&f.pub.publishCalls))
}

func TestDrainResolvesOverdueApprovalPublish(t *testing.T) {
	f := newFixture(t)
	d := newDispatcher(f)
	item := f.seed(t, func(c *ScheduledContent) {
		c.Status = StatusPendingApproval
		c.ApprovalFallback = FallbackPublish
	})

	d.Drain(context.Background())

	// promoted by the fallback and published within the same pass
	after, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, after.Status)
}
