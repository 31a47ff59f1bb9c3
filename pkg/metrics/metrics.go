// Package metrics records dispatcher activity.
package metrics

import "time"

// Recorder receives one observation per provider attempt and one per
// dispatch call.
type Recorder interface {
	ObserveAttempt(provider, outcome string, transient bool, duration time.Duration)
	ObserveDispatch(status string)
}

// Noop discards all observations.
type Noop struct{}

func (Noop) ObserveAttempt(string, string, bool, time.Duration) {}
func (Noop) ObserveDispatch(string)                             {}
