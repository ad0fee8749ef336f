package models

import "strings"

// EventType distinguishes the two event kinds published on the bus.
type EventType string

const (
	EventStatusChange  EventType = "status_change"
	EventMetricsUpdate EventType = "metrics_update"
)

// Event is the payload delivered to event bus subscribers.
type Event struct {
	Type          EventType
	UPS           UPS
	HasLowBattery bool
}

// containsFlag checks for a whitespace-separated flag in a raw NUT
// status string, case-insensitively ("ol chrg" counts as OL).
func containsFlag(raw, flag string) bool {
	for _, f := range strings.Fields(strings.ToUpper(raw)) {
		if f == flag {
			return true
		}
	}
	return false
}
