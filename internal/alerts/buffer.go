package alerts

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Buffer holds events that could not be delivered upstream. It spills
// to a JSON-lines file so undelivered events survive a restart.
type Buffer struct {
	mu          sync.Mutex
	events      []Event
	maxSize     int
	persistPath string
}

// NewBuffer creates an event buffer. If persistPath is non-empty,
// previously buffered events are loaded from it.
func NewBuffer(maxSize int, persistPath string) *Buffer {
	b := &Buffer{
		maxSize:     maxSize,
		persistPath: persistPath,
	}
	if persistPath != "" {
		b.loadFromDisk()
	}
	return b
}

// Add stores an event for a later delivery attempt. The oldest event
// is dropped once the buffer is full.
func (b *Buffer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) >= b.maxSize {
		log.Printf("[EventBuffer] Buffer full, dropping oldest event: %s", b.events[0].EventType)
		b.events = b.events[1:]
	}
	b.events = append(b.events, event)
	log.Printf("[EventBuffer] Buffered event %s (%d pending)", event.EventType, len(b.events))

	b.persist()
}

// Flush attempts to deliver every buffered event through sender,
// stopping early once ctx is cancelled. The send loop runs without the
// buffer lock held, so a slow sender never delays a concurrent Add.
// Events that fail to send (or were never attempted) stay buffered in
// their original order, ahead of anything added during the flush.
func (b *Buffer) Flush(ctx context.Context, sender func(event Event) error) {
	b.mu.Lock()
	if len(b.events) == 0 {
		b.mu.Unlock()
		return
	}
	log.Printf("[EventBuffer] Flushing %d buffered events", len(b.events))
	pending := b.events
	b.events = nil
	b.mu.Unlock()

	var remaining []Event
	sent := 0
	for i, event := range pending {
		if ctx.Err() != nil {
			log.Printf("[EventBuffer] Flush interrupted, keeping %d events", len(pending)-i)
			remaining = append(remaining, pending[i:]...)
			break
		}
		if err := sender(event); err != nil {
			log.Printf("[EventBuffer] Failed to flush event %s: %v", event.EventType, err)
			remaining = append(remaining, event)
			continue
		}
		sent++
	}

	b.mu.Lock()
	b.events = append(remaining, b.events...)
	if len(b.events) > b.maxSize {
		b.events = b.events[len(b.events)-b.maxSize:]
	}
	if sent > 0 {
		log.Printf("[EventBuffer] Flushed %d events, %d remaining", sent, len(b.events))
	}
	b.persist()
	b.mu.Unlock()
}

// Count returns the number of pending events
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// persist writes the pending events to disk. Callers must hold b.mu.
func (b *Buffer) persist() {
	if b.persistPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(b.persistPath), 0755); err != nil {
		log.Printf("[EventBuffer] Failed to create persist directory: %v", err)
		return
	}

	file, err := os.Create(b.persistPath)
	if err != nil {
		log.Printf("[EventBuffer] Failed to persist events: %v", err)
		return
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, event := range b.events {
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("[EventBuffer] Failed to marshal event %s: %v", event.EventType, err)
			continue
		}
		writer.Write(data)
		writer.WriteByte('\n')
	}
	if err := writer.Flush(); err != nil {
		log.Printf("[EventBuffer] Failed to persist events: %v", err)
	}
}

// loadFromDisk restores events persisted by an earlier run
func (b *Buffer) loadFromDisk() {
	file, err := os.Open(b.persistPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[EventBuffer] Failed to open persisted events: %v", err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			log.Printf("[EventBuffer] Skipping corrupt persisted event: %v", err)
			continue
		}
		b.events = append(b.events, event)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[EventBuffer] Failed to read persisted events: %v", err)
	}

	if len(b.events) > b.maxSize {
		b.events = b.events[len(b.events)-b.maxSize:]
	}
	if len(b.events) > 0 {
		log.Printf("[EventBuffer] Restored %d persisted events", len(b.events))
	}
}
