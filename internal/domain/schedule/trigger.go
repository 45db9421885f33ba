// Package schedule implements fire-at-most-once-per-period triggers for
// the periodic background services.
package schedule

import (
	"fmt"
	"time"
)

// Trigger decides whether a periodic job should fire at a given instant.
// A trigger fires at most once per period: after a successful Fire the
// period is recorded and later evaluations within the same period return
// false, so a restarted poll loop or a slow iteration cannot double-run
// a job.
type Trigger interface {
	// Fire reports whether the job should run now and, if so, marks the
	// current period as fired. The returned key identifies the period
	// (for example "2025-06-01" for a daily trigger).
	Fire(now time.Time) (bool, string)
}

type periodFunc func(now time.Time) (due bool, key string)

type trigger struct {
	period    periodFunc
	lastFired string
}

func (t *trigger) Fire(now time.Time) (bool, string) {
	due, key := t.period(now.UTC())
	if !due || key == t.lastFired {
		return false, key
	}
	t.lastFired = key
	return true, key
}

// Daily returns a trigger that fires once per UTC day at or after the
// given hour and minute.
func Daily(hour, minute int) Trigger {
	return &trigger{period: func(now time.Time) (bool, string) {
		key := now.Format("2006-01-02")
		due := now.Hour() > hour || (now.Hour() == hour && now.Minute() >= minute)
		return due, key
	}}
}

// Weekly returns a trigger that fires once per ISO week on the given
// weekday (0 = Sunday) at or after the given UTC hour.
func Weekly(weekday, hour int) Trigger {
	return &trigger{period: func(now time.Time) (bool, string) {
		year, week := now.ISOWeek()
		key := fmt.Sprintf("%04d-W%02d", year, week)
		due := int(now.Weekday()) == weekday && now.Hour() >= hour
		return due, key
	}}
}

// Monthly returns a trigger that fires once per calendar month on the
// given day at or after the given UTC hour. Day must be 1..28 so the
// trigger fires in every month.
func Monthly(day, hour int) Trigger {
	return &trigger{period: func(now time.Time) (bool, string) {
		key := now.Format("2006-01")
		due := now.Day() == day && now.Hour() >= hour
		return due, key
	}}
}
