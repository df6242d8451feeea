package livestate

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"roadsense/internal/models"
)

const (
	// telemetryKey is both the hash holding the latest reading and the
	// pub/sub channel carrying change notifications.
	telemetryKey = "telemetry"

	opTimeout = 2 * time.Second
)

// Mirror keeps the latest accepted reading in a Redis hash so other
// on-vehicle consumers can read it without touching the HTTP API.
// Subscribers of the telemetry channel are told which part changed.
type Mirror struct {
	client *redis.Client
	ctx    context.Context

	mu       sync.Mutex
	mockMode bool
}

// NewMirror connects to Redis and verifies the connection
func NewMirror(ctx context.Context, redisURL string) (*Mirror, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %v", err)
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %v", err)
	}

	log.Printf("[Livestate] Connected to redis at %s", options.Addr)
	return &Mirror{client: client, ctx: ctx}, nil
}

// Name identifies the mirror in the acquisition loop's sink fan-out
func (m *Mirror) Name() string {
	return "livestate"
}

// Consume writes one accepted reading into the telemetry hash and
// notifies subscribers.
func (m *Mirror) Consume(r models.Reading) error {
	m.mu.Lock()
	mockMode := m.mockMode
	m.mu.Unlock()

	fields := map[string]interface{}{
		"timestamp":      r.Timestamp,
		"rri":            strconv.FormatFloat(r.RRI, 'f', -1, 64),
		"bsi":            strconv.FormatFloat(r.BSI, 'f', -1, 64),
		"road-condition": r.RoadCondition,
		"battery-status": r.BatteryStatus,
		"mock-mode":      strconv.FormatBool(mockMode),
	}

	ctx, cancel := context.WithTimeout(m.ctx, opTimeout)
	defer cancel()

	if err := m.client.HSet(ctx, telemetryKey, fields).Err(); err != nil {
		return fmt.Errorf("failed to mirror reading: %v", err)
	}
	if err := m.client.Publish(ctx, telemetryKey, "reading").Err(); err != nil {
		// The hash is current, subscribers just missed a wakeup.
		log.Printf("[Livestate] Warning: failed to publish reading notification: %v", err)
	}
	return nil
}

// SetMockMode records a source transition in the hash and notifies
// subscribers that the mode field changed.
func (m *Mirror) SetMockMode(mockMode bool) error {
	m.mu.Lock()
	m.mockMode = mockMode
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.ctx, opTimeout)
	defer cancel()

	if err := m.client.HSet(ctx, telemetryKey, "mock-mode", strconv.FormatBool(mockMode)).Err(); err != nil {
		return fmt.Errorf("failed to mirror mode: %v", err)
	}
	if err := m.client.Publish(ctx, telemetryKey, "mock-mode").Err(); err != nil {
		log.Printf("[Livestate] Warning: failed to publish mode notification: %v", err)
	}
	return nil
}

// Close releases the Redis connection
func (m *Mirror) Close() error {
	return m.client.Close()
}
