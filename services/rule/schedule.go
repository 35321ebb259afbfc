package rule

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"agora-contentplane/pkg/errutil"
)

const defaultTimeOfDay = "09:00"

// NextExecution computes the rule's next firing time, always strictly after
// the given reference time. It is a pure function of the spec and reference,
// so ticks are reproducible in tests.
func NextExecution(spec ScheduleSpec, after time.Time) (time.Time, error) {
	loc := time.UTC
	if spec.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(spec.Timezone)
		if err != nil {
			return time.Time{}, errutil.ValidationFailed(
				fmt.Sprintf("unknown timezone %q", spec.Timezone))
		}
	}
	local := after.In(loc)

	if spec.CronExpr != "" {
		sched, err := cron.ParseStandard(spec.CronExpr)
		if err != nil {
			return time.Time{}, errutil.ValidationFailed(
				fmt.Sprintf("invalid cron expression %q", spec.CronExpr))
		}
		return sched.Next(local), nil
	}

	hour, minute, err := parseTimeOfDay(spec.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	switch spec.Frequency {
	case FrequencyDaily:
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case FrequencyWeekly:
		days := weekdaySet(spec.DaysOfWeek)
		if len(days) == 0 {
			return time.Time{}, errutil.ValidationFailed("weekly schedule needs at least one day of week")
		}
		// earliest qualifying day strictly after the reference
		for offset := 0; offset <= 7; offset++ {
			day := local.AddDate(0, 0, offset)
			if !days[day.Weekday()] {
				continue
			}
			next := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
			if next.After(local) {
				return next, nil
			}
		}
		return time.Time{}, errutil.Internal("weekly schedule produced no candidate")

	case FrequencyMonthly:
		if spec.DayOfMonth < 1 || spec.DayOfMonth > 31 {
			return time.Time{}, errutil.ValidationFailed("monthly schedule needs day_of_month between 1 and 31")
		}
		next := monthlySlot(local.Year(), local.Month(), spec.DayOfMonth, hour, minute, loc)
		if !next.After(local) {
			year, month := local.Year(), local.Month()+1
			next = monthlySlot(year, month, spec.DayOfMonth, hour, minute, loc)
		}
		return next, nil

	default:
		return time.Time{}, errutil.ValidationFailed(
			fmt.Sprintf("unknown schedule frequency %q", spec.Frequency))
	}
}

// monthlySlot clamps the requested day to the month's last day, so a rule on
// the 31st still fires in February.
func monthlySlot(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

// weekdaySet maps zero-based-Monday day numbers onto time.Weekday.
func weekdaySet(days []int) map[time.Weekday]bool {
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)

	set := make(map[time.Weekday]bool, len(sorted))
	for _, d := range sorted {
		if d < 0 || d > 6 {
			continue
		}
		set[time.Weekday((d+1)%7)] = true
	}
	return set
}

func parseTimeOfDay(value string) (int, int, error) {
	if value == "" {
		value = defaultTimeOfDay
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, errutil.ValidationFailed(
			fmt.Sprintf("invalid time_of_day %q, expected HH:MM", value))
	}
	return t.Hour(), t.Minute(), nil
}
