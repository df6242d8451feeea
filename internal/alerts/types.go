package alerts

import "time"

// Event represents an alert emitted by the detector
type Event struct {
	EventType string                 `json:"event_type"`
	Status    string                 `json:"status,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType string, status string, data map[string]interface{}) Event {
	return Event{
		EventType: eventType,
		Status:    status,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Event type constants
const (
	EventTypeBatteryCritical   = "battery_critical"
	EventTypeBSIHigh           = "bsi_high"
	EventTypeRoughRoad         = "rough_road"
	EventTypeSyntheticFallback = "synthetic_fallback"
)

// Status constants
const (
	StatusTriggered = "triggered"
	StatusCleared   = "cleared"
)

// Hardcoded thresholds for event detection
const (
	// BSIHighThreshold triggers bsi_high; BSIClearThreshold clears it.
	// The gap keeps the alert stable while bsi hovers near the limit.
	BSIHighThreshold  = 22.0
	BSIClearThreshold = 20.0

	// RoughStreakLength is the number of consecutive ROUGH readings
	// that triggers rough_road
	RoughStreakLength = 5
)
