package content

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agora-contentplane/services/generator"
	"agora-contentplane/services/publisher"
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

func newBatch(f *fixture, gen *stubGenerator) *BatchGenerator {
	return NewBatchGenerator(BatchGeneratorParams{
		Service:   f.service,
		Generator: gen,
		Clock:     f.clock,
	})
}

func TestBatchGeneratePartialFailure(t *testing.T) {
	f := newFixture(t)
	gen := &stubGenerator{}
	b := newBatch(f, gen)

	var calls int32
	gen.fn = func(ctx context.Context, tpl generator.Template, company generator.CompanyContext) (*generator.Result, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 2 || n == 4 {
			return nil, context.DeadlineExceeded
		}
		return &generator.Result{Text: "ok"}, nil
	}

	start := f.clock.Now().Add(2 * time.Hour)
	end := start.Add(5 * 24 * time.Hour)
	result, err := b.Generate(context.Background(), BatchRequest{
		CompanyID:    "co_1",
		CreatorID:    "user_1",
		Platform:     publisher.PlatformInstagram,
		Theme:        "spring sale",
		Count:        5,
		AutoSchedule: true,
		StartDate:    &start,
		EndDate:      &end,
	})
	require.NoError(t, err)

	require.Equal(t, 5, result.Requested)
	require.Equal(t, 3, result.Generated)
	require.Equal(t, 2, result.Failed)
	require.Equal(t, 3, result.Scheduled)
	require.Len(t, result.Items, 5)

	// slots of the successes increase monotonically and stay in range
	var prev time.Time
	for _, item := range result.Items {
		if item.Error != "" {
			require.Empty(t, item.ContentID)
			continue
		}
		require.NotEmpty(t, item.ContentID)
		require.Equal(t, StatusScheduled, item.Status)
		require.NotNil(t, item.ScheduledFor)
		require.True(t, item.ScheduledFor.After(prev))
		require.False(t, item.ScheduledFor.Before(start))
		require.False(t, item.ScheduledFor.After(end))
		prev = *item.ScheduledFor
	}

	items, err := f.repo.ListByCompany(context.Background(), "co_1", "", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
}

func TestBatchGenerateCountBounds(t *testing.T) {
	f := newFixture(t)
	b := newBatch(f, &stubGenerator{})

	_, err := b.Generate(context.Background(), BatchRequest{
		CompanyID: "co_1", Platform: publisher.PlatformInstagram, Count: 0,
	})
	require.Error(t, err)

	_, err = b.Generate(context.Background(), BatchRequest{
		CompanyID: "co_1", Platform: publisher.PlatformInstagram, Count: 31,
	})
	require.Error(t, err)
}

func TestBatchGenerateRequireApproval(t *testing.T) {
	f := newFixture(t)
	b := newBatch(f, &stubGenerator{})

	result, err := b.Generate(context.Background(), BatchRequest{
		CompanyID:        "co_1",
		CreatorID:        "user_1",
		Platform:         publisher.PlatformFacebook,
		Theme:            "product teasers",
		Count:            3,
		AutoSchedule:     true,
		RequireApproval:  true,
		ApprovalFallback: FallbackPublish,
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Generated)

	items, err := f.repo.ListByCompany(context.Background(), "co_1", StatusPendingApproval, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, item := range items {
		require.True(t, item.RequiresApproval)
		require.Equal(t, FallbackPublish, item.ApprovalFallback)
		require.NotNil(t, item.ScheduledFor)
	}
}

func TestBatchGenerateWithoutScheduleQueues(t *testing.T) {
	f := newFixture(t)
	b := newBatch(f, &stubGenerator{})

	result, err := b.Generate(context.Background(), BatchRequest{
		CompanyID: "co_1",
		CreatorID: "user_1",
		Platform:  publisher.PlatformLinkedIn,
		Theme:     "hiring posts",
		Count:     2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Generated)
	require.Equal(t, 0, result.Scheduled)

	items, err := f.repo.ListByCompany(context.Background(), "co_1", StatusQueued, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		require.Nil(t, item.ScheduledFor)
	}
}

func TestBatchGenerateClampsToRangeWhenStartPassed(t *testing.T) {
	f := newFixture(t)
	b := newBatch(f, &stubGenerator{})

	start := f.clock.Now().Add(-48 * time.Hour)
	end := f.clock.Now().Add(3 * 24 * time.Hour)

	result, err := b.Generate(context.Background(), BatchRequest{
		CompanyID:    "co_1",
		CreatorID:    "user_1",
		Platform:     publisher.PlatformInstagram,
		Theme:        "flash sale",
		Count:        4,
		AutoSchedule: true,
		StartDate:    &start,
		EndDate:      &end,
	})
	require.NoError(t, err)
	require.Equal(t, 4, result.Scheduled)

	for i, item := range result.Items {
		require.NotNil(t, item.ScheduledFor)
		require.True(t, item.ScheduledFor.After(f.clock.Now()))
		require.False(t, item.ScheduledFor.After(end), "slot %d escaped the requested range", i)
	}
	// the spread runs from an hour out to the range end
	require.Equal(t, f.clock.Now().Add(time.Hour).Unix(), result.Items[0].ScheduledFor.Unix())
	require.Equal(t, end.Unix(), result.Items[3].ScheduledFor.Unix())
}

func TestBatchGenerateIgnoresClosedRange(t *testing.T) {
	f := newFixture(t)
	b := newBatch(f, &stubGenerator{})

	start := f.clock.Now().Add(-72 * time.Hour)
	end := f.clock.Now().Add(-24 * time.Hour)

	result, err := b.Generate(context.Background(), BatchRequest{
		CompanyID:    "co_1",
		CreatorID:    "user_1",
		Platform:     publisher.PlatformInstagram,
		Theme:        "missed window",
		Count:        3,
		AutoSchedule: true,
		StartDate:    &start,
		EndDate:      &end,
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Scheduled)

	// the expired window falls back to the open-ended daily spread
	for i, item := range result.Items {
		require.NotNil(t, item.ScheduledFor)
		expected := f.clock.Now().Add(time.Hour + time.Duration(i)*24*time.Hour)
		require.Equal(t, expected.Unix(), item.ScheduledFor.Unix())
	}
}

func TestBatchGenerateAvoidWeekendsRespectsRangeEnd(t *testing.T) {
	f := newFixture(t)
	b := newBatch(f, &stubGenerator{})

	// Friday through Sunday; a forward roll would land past the range end
	start := time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Friday, start.Weekday())
	end := start.Add(2 * 24 * time.Hour)

	result, err := b.Generate(context.Background(), BatchRequest{
		CompanyID:     "co_1",
		CreatorID:     "user_1",
		Platform:      publisher.PlatformInstagram,
		Theme:         "weekend-free",
		Count:         2,
		AutoSchedule:  true,
		StartDate:     &start,
		EndDate:       &end,
		AvoidWeekends: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Scheduled)

	first, second := result.Items[0].ScheduledFor, result.Items[1].ScheduledFor
	require.True(t, second.After(*first))
	for _, slot := range []*time.Time{first, second} {
		require.False(t, slot.After(end))
		require.NotEqual(t, time.Saturday, slot.Weekday())
		require.NotEqual(t, time.Sunday, slot.Weekday())
	}
}

func TestBatchGenerateAvoidWeekends(t *testing.T) {
	f := newFixture(t)
	b := newBatch(f, &stubGenerator{})

	// Friday; daily spread would land on Saturday and Sunday
	start := time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Friday, start.Weekday())
	end := start.Add(4 * 24 * time.Hour)

	result, err := b.Generate(context.Background(), BatchRequest{
		CompanyID:     "co_1",
		CreatorID:     "user_1",
		Platform:      publisher.PlatformInstagram,
		Theme:         "weekday content",
		Count:         5,
		AutoSchedule:  true,
		StartDate:     &start,
		EndDate:       &end,
		AvoidWeekends: true,
	})
	require.NoError(t, err)
	require.Equal(t, 5, result.Generated)

	for _, item := range result.Items {
		require.NotNil(t, item.ScheduledFor)
		require.NotEqual(t, time.Saturday, item.ScheduledFor.Weekday())
		require.NotEqual(t, time.Sunday, item.ScheduledFor.Weekday())
	}
}
