package uplink

import (
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"roadsense/internal/models"
)

// backlogCapacity caps the in-memory store of unpublished readings.
// At the 100ms acquisition cadence this covers well over a minute of
// broker outage before the oldest readings are dropped.
const backlogCapacity = 1000

// enqueueBacklog keeps a reading for retransmission, dropping the
// oldest once the backlog is full.
func (u *Uplink) enqueueBacklog(r models.Reading) {
	u.backlogMu.Lock()
	defer u.backlogMu.Unlock()

	if len(u.backlog) == 0 {
		log.Printf("[Uplink] Broker unreachable, buffering readings")
	}
	if len(u.backlog) >= backlogCapacity {
		u.backlog = u.backlog[1:]
	}
	u.backlog = append(u.backlog, r)
}

// flushBacklog retransmits buffered readings in arrival order. The
// first failure ends the pass; whatever remains waits for the next
// reconnect.
func (u *Uplink) flushBacklog(c mqtt.Client) {
	u.backlogMu.Lock()
	pending := u.backlog
	u.backlog = nil
	u.backlogMu.Unlock()

	if len(pending) == 0 {
		return
	}
	log.Printf("[Uplink] Flushing %d buffered readings", len(pending))

	for i, r := range pending {
		if err := u.publishReading(c, r); err != nil {
			log.Printf("[Uplink] Backlog flush interrupted: %v", err)
			u.requeueBacklog(pending[i:])
			return
		}
	}
	log.Printf("[Uplink] Backlog flushed")
}

// requeueBacklog puts unsent readings back in front of anything that
// arrived during the flush, keeping overall order.
func (u *Uplink) requeueBacklog(pending []models.Reading) {
	u.backlogMu.Lock()
	defer u.backlogMu.Unlock()

	u.backlog = append(pending, u.backlog...)
	if len(u.backlog) > backlogCapacity {
		u.backlog = u.backlog[len(u.backlog)-backlogCapacity:]
	}
}

func (u *Uplink) backlogLen() int {
	u.backlogMu.Lock()
	defer u.backlogMu.Unlock()
	return len(u.backlog)
}
