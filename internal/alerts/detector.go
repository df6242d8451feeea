package alerts

import (
	"log"
	"sync"

	"roadsense/internal/models"
)

// EventSink receives detected events. Implementations must not block;
// queueing slow deliveries is their own concern.
type EventSink interface {
	HandleEvent(event Event)
}

// Detector watches the accepted-reading stream for condition
// transitions. Each transition emits exactly one event; a condition
// that keeps holding does not re-fire.
type Detector struct {
	mu    sync.Mutex
	sinks []EventSink

	batteryCritical bool
	bsiHigh         bool
	roughStreak     int
	fellBack        bool
}

// NewDetector creates a new detector with no sinks attached
func NewDetector() *Detector {
	return &Detector{}
}

// AddSink registers an event consumer
func (d *Detector) AddSink(sink EventSink) {
	d.sinks = append(d.sinks, sink)
}

// Name identifies the detector in the acquisition loop's sink fan-out
func (d *Detector) Name() string {
	return "alerts"
}

// Consume inspects one accepted reading for transitions. It never
// returns an error; detection cannot fail.
func (d *Detector) Consume(r models.Reading) error {
	var events []Event

	d.mu.Lock()

	critical := r.BatteryStatus == models.BatteryCritical
	if critical != d.batteryCritical {
		d.batteryCritical = critical
		if critical {
			events = append(events, NewEvent(EventTypeBatteryCritical, StatusTriggered, map[string]interface{}{
				"battery_status": r.BatteryStatus,
				"bsi":            r.BSI,
			}))
		} else {
			events = append(events, NewEvent(EventTypeBatteryCritical, StatusCleared, map[string]interface{}{
				"battery_status": r.BatteryStatus,
			}))
		}
	}

	if !d.bsiHigh && r.BSI >= BSIHighThreshold {
		d.bsiHigh = true
		events = append(events, NewEvent(EventTypeBSIHigh, StatusTriggered, map[string]interface{}{
			"bsi": r.BSI,
		}))
	} else if d.bsiHigh && r.BSI < BSIClearThreshold {
		d.bsiHigh = false
		events = append(events, NewEvent(EventTypeBSIHigh, StatusCleared, map[string]interface{}{
			"bsi": r.BSI,
		}))
	}

	if r.RoadCondition == models.RoadRough {
		d.roughStreak++
		if d.roughStreak == RoughStreakLength {
			events = append(events, NewEvent(EventTypeRoughRoad, StatusTriggered, map[string]interface{}{
				"streak": d.roughStreak,
				"rri":    r.RRI,
			}))
		}
	} else {
		if d.roughStreak >= RoughStreakLength {
			events = append(events, NewEvent(EventTypeRoughRoad, StatusCleared, map[string]interface{}{
				"road_condition": r.RoadCondition,
			}))
		}
		d.roughStreak = 0
	}

	d.mu.Unlock()

	for _, event := range events {
		d.emit(event)
	}
	return nil
}

// ModeChanged reports a source transition. Falling back to synthetic
// data fires once per process; the demotion is permanent so there is
// no cleared counterpart. A nil cause means synthetic data was chosen
// by configuration rather than lost hardware and raises no alert.
func (d *Detector) ModeChanged(synthetic bool, cause error) {
	if !synthetic || cause == nil {
		return
	}

	d.mu.Lock()
	already := d.fellBack
	d.fellBack = true
	d.mu.Unlock()
	if already {
		return
	}

	d.emit(NewEvent(EventTypeSyntheticFallback, StatusTriggered, map[string]interface{}{
		"cause": cause.Error(),
	}))
}

func (d *Detector) emit(event Event) {
	log.Printf("[AlertDetector] Event: %s %s %v", event.EventType, event.Status, event.Data)
	for _, sink := range d.sinks {
		sink.HandleEvent(event)
	}
}
