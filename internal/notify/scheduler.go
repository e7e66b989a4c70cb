package notify

import "time"

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call if it has not run yet.
	Stop() bool
}

// Scheduler runs f once after d. The aggregate uses it for snooze expiry;
// tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
