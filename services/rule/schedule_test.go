package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestNextExecutionDaily(t *testing.T) {
	spec := ScheduleSpec{Frequency: FrequencyDaily, TimeOfDay: "09:00"}

	// before today's slot
	after := time.Date(2026, 3, 10, 7, 30, 0, 0, time.UTC)
	next, err := NextExecution(spec, after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), next)

	// exactly at the slot moves to tomorrow, never the same instant
	after = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	next, err = NextExecution(spec, after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), next)
}

func TestNextExecutionWeeklyMondaySkipsSameDay(t *testing.T) {
	// day 0 is Monday
	spec := ScheduleSpec{Frequency: FrequencyWeekly, DaysOfWeek: []int{0}, TimeOfDay: "09:00"}

	// 2026-03-09 is a Monday; the rule just fired at its slot
	lastExecuted := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	next, err := NextExecution(spec, lastExecuted)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), next)
	require.Equal(t, time.Monday, next.Weekday())
}

func TestNextExecutionWeeklyPicksEarliestQualifyingDay(t *testing.T) {
	// Monday and Thursday
	spec := ScheduleSpec{Frequency: FrequencyWeekly, DaysOfWeek: []int{0, 3}, TimeOfDay: "12:00"}

	// Tuesday: Thursday is closer than next Monday
	after := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	next, err := NextExecution(spec, after)
	require.NoError(t, err)
	require.Equal(t, time.Thursday, next.Weekday())
	require.Equal(t, time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC), next)
}

func TestNextExecutionMonthlyClampsShortMonth(t *testing.T) {
	spec := ScheduleSpec{Frequency: FrequencyMonthly, DayOfMonth: 31, TimeOfDay: "10:00"}

	after := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	next, err := NextExecution(spec, after)
	require.NoError(t, err)
	// February 2026 has 28 days
	require.Equal(t, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC), next)
}

func TestNextExecutionStrictlyIncreases(t *testing.T) {
	specs := []ScheduleSpec{
		{Frequency: FrequencyDaily, TimeOfDay: "06:15"},
		{Frequency: FrequencyWeekly, DaysOfWeek: []int{0, 2, 4}, TimeOfDay: "18:00"},
		{Frequency: FrequencyMonthly, DayOfMonth: 15, TimeOfDay: "09:30"},
	}

	for _, spec := range specs {
		cursor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 50; i++ {
			next, err := NextExecution(spec, cursor)
			require.NoError(t, err)
			require.True(t, next.After(cursor),
				"frequency %s produced %v not after %v", spec.Frequency, next, cursor)
			cursor = next
		}
	}
}

func TestNextExecutionHonorsTimezone(t *testing.T) {
	spec := ScheduleSpec{Frequency: FrequencyDaily, TimeOfDay: "09:00", Timezone: "America/New_York"}

	// 13:00 UTC is 09:00 in New York during DST, so the slot has passed
	after := time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)
	next, err := NextExecution(spec, after)
	require.NoError(t, err)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 2, 9, 0, 0, 0, loc), next.In(loc))
}

func TestNextExecutionCronOverride(t *testing.T) {
	spec := ScheduleSpec{
		Frequency: FrequencyDaily,
		TimeOfDay: "09:00",
		CronExpr:  "30 14 * * 5",
	}

	// Wednesday; cron says Friday 14:30 regardless of the frequency fields
	after := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	next, err := NextExecution(spec, after)
	require.NoError(t, err)
	require.Equal(t, time.Friday, next.Weekday())
	require.Equal(t, 14, next.Hour())
	require.Equal(t, 30, next.Minute())
}

func TestNextExecutionRejectsBadSpecs(t *testing.T) {
	_, err := NextExecution(ScheduleSpec{Frequency: FrequencyWeekly, TimeOfDay: "09:00"}, time.Now())
	require.Error(t, err)

	_, err = NextExecution(ScheduleSpec{Frequency: FrequencyMonthly, DayOfMonth: 0, TimeOfDay: "09:00"}, time.Now())
	require.Error(t, err)

	_, err = NextExecution(ScheduleSpec{Frequency: FrequencyDaily, TimeOfDay: "25:99"}, time.Now())
	require.Error(t, err)

	_, err = NextExecution(ScheduleSpec{Frequency: "hourly", TimeOfDay: "09:00"}, time.Now())
	require.Error(t, err)

	_, err = NextExecution(ScheduleSpec{Frequency: FrequencyDaily, TimeOfDay: "09:00", Timezone: "Mars/Olympus"}, time.Now())
	require.Error(t, err)
}
