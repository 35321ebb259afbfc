package content

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agora-contentplane/pkg/clock"
	"agora-contentplane/pkg/errutil"
	"agora-contentplane/services/generator"
	"agora-contentplane/services/publisher"
)

const (
	// MaxBatchSize caps one themed batch.
	MaxBatchSize = 30

	generateConcurrency = 3
)

type BatchRequest struct {
	CompanyID string
	CreatorID string
	Platform  publisher.Platform

	Theme    string
	Count    int
	Template generator.Template
	Company  generator.CompanyContext

	AutoSchedule  bool
	StartDate     *time.Time
	EndDate       *time.Time
	AvoidWeekends bool

	RequireApproval  bool
	ApprovalFallback FallbackPolicy
}

type BatchItemResult struct {
	Index        int
	ContentID    string
	Status       Status
	ScheduledFor *time.Time
	Error        string
}

// BatchResult is the aggregate contract returned to the caller. It stays
// stable under partial failure: Requested = Generated + Failed always holds.
type BatchResult struct {
	Requested int
	Generated int
	Failed    int
	Scheduled int
	Items     []BatchItemResult
}

// BatchGenerator produces a themed batch of content items in one call.
type BatchGenerator struct {
	service   *Service
	generator generator.ContentGenerator
	clock     clock.Clock
}

type BatchGeneratorParams struct {
	fx.In
	Service   *Service
	Generator generator.ContentGenerator
	Clock     clock.Clock
}

func NewBatchGenerator(p BatchGeneratorParams) *BatchGenerator {
	return &BatchGenerator{
		service:   p.Service,
		generator: p.Generator,
		clock:     p.Clock,
	}
}

// Generate runs the batch. Items are generated independently; one item's
// generation failure is recorded in its slot of the result and the rest of
// the batch proceeds.
func (b *BatchGenerator) Generate(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.Count < 1 || req.Count > MaxBatchSize {
		return nil, errutil.ValidationFailed("batch count must be between 1 and 30")
	}
	if req.CompanyID == "" || req.Platform == "" {
		return nil, errutil.ValidationFailed("company_id and platform are required")
	}

	tpl := req.Template
	if tpl.Prompt == "" {
		tpl.Prompt = req.Theme
	}
	tpl.Platform = string(req.Platform)

	slots := b.slots(req)

	result := &BatchResult{
		Requested: req.Count,
		Items:     make([]BatchItemResult, req.Count),
	}

	var mu sync.Mutex
	wg := errgroup.Group{}
	wg.SetLimit(generateConcurrency)

	for i := 0; i < req.Count; i++ {
		wg.Go(func() error {
			item, err := b.generateOne(ctx, req, tpl, slots[i])

			mu.Lock()
			defer mu.Unlock()

			result.Items[i].Index = i
			if err != nil {
				result.Failed++
				result.Items[i].Error = err.Error()
				return nil
			}

			result.Generated++
			if item.ScheduledFor != nil {
				result.Scheduled++
			}
			result.Items[i].ContentID = item.ID
			result.Items[i].Status = item.Status
			result.Items[i].ScheduledFor = item.ScheduledFor
			return nil
		})
	}
	_ = wg.Wait()

	zap.L().Info("[Batch] finished themed batch",
		zap.String("company_id", req.CompanyID),
		zap.Int("requested", result.Requested),
		zap.Int("generated", result.Generated),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

func (b *BatchGenerator) generateOne(ctx context.Context, req BatchRequest, tpl generator.Template, slot *time.Time) (*ScheduledContent, error) {
	produced, err := b.generator.Generate(ctx, tpl, req.Company)
	if err != nil {
		return nil, err
	}

	status := StatusQueued
	if slot != nil {
		status = StatusScheduled
	}
	if req.RequireApproval {
		status = StatusPendingApproval
	}

	fallback := req.ApprovalFallback
	if fallback == "" {
		fallback = FallbackSkip
	}

	item := &ScheduledContent{
		CompanyID:        req.CompanyID,
		CreatorID:        req.CreatorID,
		Title:            req.Theme,
		Type:             tpl.ContentType,
		Platform:         req.Platform,
		Text:             produced.Text,
		Caption:          produced.Caption,
		Hashtags:         encodeStringList(produced.Hashtags),
		MediaURLs:        encodeStringList(produced.MediaRefs),
		Status:           status,
		ScheduledFor:     slot,
		RequiresApproval: req.RequireApproval,
		ApprovalFallback: fallback,
	}

	if err := b.service.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// slots spreads scheduled_for times evenly across the requested range and
// never places a slot past its end. Without a usable range the batch starts
// an hour out and advances daily.
func (b *BatchGenerator) slots(req BatchRequest) []*time.Time {
	slots := make([]*time.Time, req.Count)
	if !req.AutoSchedule {
		return slots
	}

	now := b.clock.Now()

	start := now.Add(time.Hour)
	if req.StartDate != nil && req.StartDate.After(now) {
		start = *req.StartDate
	}

	// a range that closed before the effective start cannot be honored
	end := req.EndDate
	if end != nil && !end.After(start) {
		end = nil
	}

	interval := 24 * time.Hour
	if end != nil && req.Count > 1 {
		interval = end.Sub(start) / time.Duration(req.Count-1)
	}

	prev := time.Time{}
	for i := 0; i < req.Count; i++ {
		slot := start.Add(time.Duration(i) * interval)
		if req.AvoidWeekends {
			rolled := rollToWeekday(slot)
			if end != nil && rolled.After(*end) {
				// rolling forward escapes the range, back off instead
				rolled = rollBackToWeekday(slot)
			}
			slot = rolled
		}
		if end != nil && slot.After(*end) {
			slot = *end
		}
		// keep slots strictly increasing even after weekend rolls
		if !slot.After(prev) {
			slot = prev.Add(time.Minute)
		}
		prev = slot

		s := slot
		slots[i] = &s
	}
	return slots
}

func rollToWeekday(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.Add(24 * time.Hour)
	}
	return t
}

func rollBackToWeekday(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.Add(-24 * time.Hour)
	}
	return t
}
