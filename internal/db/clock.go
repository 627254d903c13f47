package db

import (
	"time"

	"k8s.io/utils/clock"
)

// Timestamp returns the time of c at the precision Postgres stores, or nil
// when c is nil so that statements fall back to the database clock.
func Timestamp(c clock.PassiveClock) *time.Time {
	if c == nil {
		return nil
	}
	t := c.Now().UTC().Truncate(time.Microsecond)
	return &t
}
