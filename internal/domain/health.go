package domain

import "time"

// HealthSummary is a point-in-time view of a source's or store's health.
// It lives only for the process lifetime and is never persisted.
type HealthSummary struct {
	Name            string
	Healthy         bool
	LastEventAt     time.Time
	EventsProcessed int64
	ErrorCount      int64
}
