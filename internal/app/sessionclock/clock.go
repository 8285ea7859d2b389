// Package sessionclock projects the end of the session against a
// configured target time.
package sessionclock

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Clock holds the configured target end time of the session. It has no
// other mutable state; overrun checks are pure functions of the target.
type Clock struct {
	hour   int
	minute int
}

// Parse creates a clock from a "HH:MM" wall-clock string.
func Parse(endTime string) (*Clock, error) {
	t, err := time.Parse("15:04", endTime)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid end time %q", endTime)
	}
	return &Clock{hour: t.Hour(), minute: t.Minute()}, nil
}

// Target resolves the configured end time against now. A plain wall-clock
// time is ambiguous around midnight: a target more than 4 hours in the
// past is taken to mean tomorrow, and one more than 20 hours in the future
// is taken to mean it already passed today.
func (c *Clock) Target(now time.Time) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), c.hour, c.minute, 0, 0, now.Location())
	if now.Add(-4 * time.Hour).After(target) {
		target = target.AddDate(0, 0, 1)
	} else if now.Add(20 * time.Hour).Before(target) {
		target = target.AddDate(0, 0, -1)
	}
	return target
}

// IsOverrun reports whether playing for cumulative from now would run past
// the target end time.
func (c *Clock) IsOverrun(cumulative time.Duration, now time.Time) bool {
	return now.Add(cumulative).After(c.Target(now))
}

// Remaining returns the time left until the target end time. Negative when
// the target has passed.
func (c *Clock) Remaining(now time.Time) time.Duration {
	return c.Target(now).Sub(now)
}
