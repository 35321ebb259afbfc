package rule

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	fbclock "github.com/facebookgo/clock"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"agora-contentplane/pkg/config"
	"agora-contentplane/services/content"
	"agora-contentplane/services/generator"
	"agora-contentplane/services/notification"
	"agora-contentplane/services/publisher"
	"agora-contentplane/services/testutil"
)

type stubGenerator struct {
	fn func(ctx context.Context, tpl generator.Template, company generator.CompanyContext) (*generator.Result, error)
}

func (s *stubGenerator) Generate(ctx context.Context, tpl generator.Template, company generator.CompanyContext) (*generator.Result, error) {
	if s.fn != nil {
		return s.fn(ctx, tpl, company)
	}
	return &generator.Result{Text: "generated copy"}, nil
}

type captureSink struct {
	mu      sync.Mutex
	emitted []notification.Notification
}

func (c *captureSink) Emit(ctx context.Context, n *notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, *n)
	return nil
}

func (c *captureSink) CountUnread(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (c *captureSink) byType(typ notification.Type) []notification.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notification.Notification
	for _, n := range c.emitted {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type captureEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (c *captureEnqueuer) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
	c.opts = append(c.opts, opts)
	return &asynq.TaskInfo{}, nil
}

type executorFixture struct {
	executor    *Executor
	repo        Repository
	contentRepo content.Repository
	generator   *stubGenerator
	sink        *captureSink
	enqueuer    *captureEnqueuer
	clock       *fbclock.Mock
	cfg         *config.Config
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()

	db := testutil.NewTestDB(t, &ScheduleRule{}, &content.ScheduledContent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	mock := fbclock.NewMock()
	gen := &stubGenerator{}
	sink := &captureSink{}
	enq := &captureEnqueuer{}

	cfg := &config.Config{}
	cfg.Scheduler.DispatchBatchSize = 50
	cfg.Scheduler.RetryBaseDelay = 5 * time.Minute
	cfg.Scheduler.RetryMaxDelay = 2 * time.Hour
	cfg.Scheduler.QueueSkipAlertAfter = 3
	cfg.Scheduler.DeactivateAfterFailures = 5

	contentRepo := content.NewRepository(db)
	contentSvc := content.NewService(content.ServiceParams{
		Repo:     contentRepo,
		Node:     node,
		Clock:    mock,
		Sink:     sink,
		Config:   cfg,
		Registry: publisher.NewRegistry(publisher.RegistryParams{}),
	})

	repo := NewRepository(db)
	executor := NewExecutor(ExecutorParams{
		Repo:        repo,
		ContentRepo: contentRepo,
		ContentSvc:  contentSvc,
		Generator:   gen,
		Sink:        sink,
		Enqueuer:    enq,
		Clock:       mock,
		Config:      cfg,
	})

	return &executorFixture{
		executor:    executor,
		repo:        repo,
		contentRepo: contentRepo,
		generator:   gen,
		sink:        sink,
		enqueuer:    enq,
		clock:       mock,
		cfg:         cfg,
	}
}

func (f *executorFixture) setNow(t *testing.T, target time.Time) {
	t.Helper()
	f.clock.Add(target.Sub(f.clock.Now()))
}

func (f *executorFixture) seedRule(t *testing.T, mutate func(*ScheduleRule)) *ScheduleRule {
	t.Helper()

	due := f.clock.Now().Add(-time.Minute)
	r := &ScheduleRule{
		ID:           "rule_1",
		CompanyID:    "co_1",
		CreatorID:    "user_1",
		Name:         "Daily promo",
		Platform:     publisher.PlatformInstagram,
		Schedule:     EncodeSchedule(ScheduleSpec{Frequency: FrequencyDaily, TimeOfDay: "09:00"}),
		ApprovalMode: ApprovalAutoPublish,
		MaxQueueSize: 10,
		IsActive:     true,
	}
	r.NextExecution = &due
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, f.repo.Create(context.Background(), r))
	return r
}

func TestTickGeneratesContent(t *testing.T) {
	f := newExecutorFixture(t)
	f.setNow(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	f.seedRule(t, nil)

	f.executor.Tick(context.Background())

	items, err := f.contentRepo.ListByCompany(context.Background(), "co_1", "", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, content.StatusScheduled, items[0].Status)
	require.Equal(t, "generated copy", items[0].Text)
	require.NotNil(t, items[0].RuleID)
	require.Equal(t, "rule_1", *items[0].RuleID)

	updated, err := f.repo.GetByID(context.Background(), "rule_1")
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.TotalGenerated)
	require.NotNil(t, updated.LastExecuted)
	require.NotNil(t, updated.NextExecution)
	require.True(t, updated.NextExecution.After(f.clock.Now()))
	require.Empty(t, updated.LastError)

	require.Len(t, f.sink.byType(notification.TypeRuleGenerated), 1)
}

func TestTickRequireApprovalCreatesPendingWithReminder(t *testing.T) {
	f := newExecutorFixture(t)
	f.setNow(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	f.seedRule(t, func(r *ScheduleRule) {
		r.ApprovalMode = ApprovalRequired
		r.NotifyBeforePublish = true
		r.NotifyLeadMinutes = 30
		r.FallbackOnNoResponse = content.FallbackPublish
	})

	f.executor.Tick(context.Background())

	items, err := f.contentRepo.ListByCompany(context.Background(), "co_1", "", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, content.StatusPendingApproval, items[0].Status)
	require.True(t, items[0].RequiresApproval)
	require.Equal(t, content.FallbackPublish, items[0].ApprovalFallback)
	require.NotNil(t, items[0].ScheduledFor)

	// the item takes the cycle after the due one, so an approval window
	// actually exists between creation and the slot
	require.True(t, items[0].ScheduledFor.After(f.clock.Now()),
		"approval-gated content must not be scheduled in the past")
	require.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).Unix(), items[0].ScheduledFor.Unix())

	require.Len(t, f.enqueuer.tasks, 1)
	var processAt time.Time
	for _, opt := range f.enqueuer.opts[0] {
		if opt.Type() == asynq.ProcessAtOpt {
			processAt = opt.Value().(time.Time)
		}
	}
	require.Equal(t, items[0].ScheduledFor.Add(-30*time.Minute).Unix(), processAt.Unix())
	require.True(t, processAt.After(f.clock.Now()),
		"the reminder must fire before the slot, not immediately")
}

func TestTickApprovalWindowSurvivesDispatcherPass(t *testing.T) {
	f := newExecutorFixture(t)
	f.setNow(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	f.seedRule(t, func(r *ScheduleRule) {
		r.ApprovalMode = ApprovalRequired
		r.FallbackOnNoResponse = content.FallbackSkip
	})

	f.executor.Tick(context.Background())

	items, err := f.contentRepo.ListByCompany(context.Background(), "co_1", "", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// a minute later the approval is not overdue yet
	f.clock.Add(time.Minute)
	overdue, err := f.contentRepo.ListApprovalOverdue(context.Background(), f.clock.Now(), 50)
	require.NoError(t, err)
	require.Empty(t, overdue, "the fallback must not fire right after generation")

	// once the slot passes the fallback becomes applicable
	f.setNow(t, items[0].ScheduledFor.Add(time.Minute))
	overdue, err = f.contentRepo.ListApprovalOverdue(context.Background(), f.clock.Now(), 50)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
}

func TestTickSkipsWhenQueueFull(t *testing.T) {
	f := newExecutorFixture(t)
	f.setNow(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	r := f.seedRule(t, func(r *ScheduleRule) {
		r.MaxQueueSize = 2
	})

	for i := 0; i < 2; i++ {
		item := &content.ScheduledContent{
			ID:        strconv.Itoa(i + 2),
			CompanyID: "co_1",
			CreatorID: "user_1",
			Platform:  publisher.PlatformInstagram,
			Status:    content.StatusScheduled,
			RuleID:    &r.ID,
		}
		require.NoError(t, f.contentRepo.Create(context.Background(), item))
	}

	f.executor.Tick(context.Background())

	// nothing new generated
	outstanding, err := f.contentRepo.CountOutstandingByRule(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), outstanding)

	// the clock still advanced
	updated, err := f.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.ConsecutiveSkips)
	require.True(t, updated.NextExecution.After(f.clock.Now()))
	require.Equal(t, int64(0), updated.TotalGenerated)

	// one item finishing frees the queue for the next due tick
	ok, err := f.contentRepo.UpdateWhereStatus(context.Background(), "2", []content.Status{content.StatusScheduled}, map[string]any{
		"status": content.StatusPublished,
	})
	require.NoError(t, err)
	require.True(t, ok)

	f.setNow(t, updated.NextExecution.Add(time.Minute))
	f.executor.Tick(context.Background())

	resumed, err := f.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), resumed.TotalGenerated)
	require.Equal(t, 0, resumed.ConsecutiveSkips)
}

func TestTickAlertsAfterConsecutiveSkips(t *testing.T) {
	f := newExecutorFixture(t)
	f.setNow(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	f.cfg.Scheduler.QueueSkipAlertAfter = 2

	r := f.seedRule(t, func(r *ScheduleRule) {
		r.MaxQueueSize = 1
		r.ConsecutiveSkips = 1
	})
	item := &content.ScheduledContent{
		ID:        "c_1",
		CompanyID: "co_1",
		CreatorID: "user_1",
		Platform:  publisher.PlatformInstagram,
		Status:    content.StatusQueued,
		RuleID:    &r.ID,
	}
	require.NoError(t, f.contentRepo.Create(context.Background(), item))

	f.executor.Tick(context.Background())

	require.Len(t, f.sink.byType(notification.TypeRuleError), 1)
}

func TestTickIsolatesRuleFailures(t *testing.T) {
	f := newExecutorFixture(t)
	f.setNow(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))

	due := f.clock.Now().Add(-time.Minute)
	broken := f.seedRule(t, func(r *ScheduleRule) {
		r.ID = "rule_broken"
		r.Name = "Broken"
	})
	healthy := &ScheduleRule{
		ID:           "rule_healthy",
		CompanyID:    "co_1",
		CreatorID:    "user_1",
		Name:         "Healthy",
		Platform:     publisher.PlatformFacebook,
		Schedule:     EncodeSchedule(ScheduleSpec{Frequency: FrequencyDaily, TimeOfDay: "09:00"}),
		ApprovalMode: ApprovalAutoPublish,
		MaxQueueSize: 10,
		IsActive:     true,
	}
	healthy.NextExecution = &due
	require.NoError(t, f.repo.Create(context.Background(), healthy))

	f.generator.fn = func(ctx context.Context, tpl generator.Template, company generator.CompanyContext) (*generator.Result, error) {
		if tpl.Platform == string(publisher.PlatformInstagram) {
			return nil, errors.New("upstream model unavailable")
		}
		return &generator.Result{Text: "ok"}, nil
	}

	f.executor.Tick(context.Background())

	failed, err := f.repo.GetByID(context.Background(), broken.ID)
	require.NoError(t, err)
	require.Contains(t, failed.LastError, "upstream model unavailable")
	require.Equal(t, 1, failed.ConsecutiveFailures)
	require.True(t, failed.NextExecution.After(f.clock.Now()),
		"a failed tick must still advance next_execution")

	succeeded, err := f.repo.GetByID(context.Background(), healthy.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), succeeded.TotalGenerated)

	require.Len(t, f.sink.byType(notification.TypeRuleError), 1)
}

func TestTickDeactivatesAfterRepeatedFailures(t *testing.T) {
	f := newExecutorFixture(t)
	f.setNow(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	f.cfg.Scheduler.DeactivateAfterFailures = 2

	f.seedRule(t, func(r *ScheduleRule) {
		r.ConsecutiveFailures = 1
	})
	f.generator.fn = func(ctx context.Context, tpl generator.Template, company generator.CompanyContext) (*generator.Result, error) {
		return nil, errors.New("still broken")
	}

	f.executor.Tick(context.Background())

	updated, err := f.repo.GetByID(context.Background(), "rule_1")
	require.NoError(t, err)
	require.False(t, updated.IsActive)
	require.Equal(t, 2, updated.ConsecutiveFailures)
}
