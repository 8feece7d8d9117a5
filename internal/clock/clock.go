// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package clock abstracts wall-clock access so the scheduler and the session
// registry can be driven deterministically in tests.
package clock

import "time"

// Clock provides the two time representations the collection format uses:
// milliseconds since epoch for object IDs, and a time.Time for day math.
type Clock interface {
	NowMS() int64
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

func (System) NowMS() int64   { return time.Now().UnixMilli() }
func (System) Now() time.Time { return time.Now().UTC() }

// Manual is a hand-advanced clock for tests.
type Manual struct {
	T time.Time
}

// NewManual returns a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{T: t.UTC()}
}

func (m *Manual) NowMS() int64   { return m.T.UnixMilli() }
func (m *Manual) Now() time.Time { return m.T }

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) { m.T = m.T.Add(d) }

// StartOfDay returns UTC midnight of the day containing t, in Unix seconds.
// Anki stores this as the collection creation epoch (col.crt).
func StartOfDay(t time.Time) int64 {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// DayCutoff returns the number of whole days elapsed between the collection
// epoch crt and nowMS. Review-card due values are compared against this.
func DayCutoff(nowMS, crt int64) int64 {
	return (nowMS/1000 - crt) / 86400
}
