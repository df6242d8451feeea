package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"roadsense/internal/models"
	"roadsense/internal/serialport"
	"roadsense/internal/storage"
	"roadsense/internal/telemetry"
)

// Sink receives every accepted reading after it has been persisted
// and stored. Sink errors are logged per sink and never stop the loop.
type Sink interface {
	Name() string
	Consume(r models.Reading) error
}

type sourceKind int

const (
	sourceSynthetic sourceKind = iota
	sourceHardware
)

// source is the active data origin. The port is set only for hardware.
type source struct {
	kind   sourceKind
	port   serialport.Port
	device string
}

type outcomeKind int

const (
	outcomeIdle outcomeKind = iota
	outcomeAccepted
	outcomeDropped
	outcomeSourceFailed
)

// tickOutcome is the explicit result of one acquisition cycle. Every
// tick produces exactly one; there is no silent failure path.
type tickOutcome struct {
	kind    outcomeKind
	reading models.Reading
	reason  error
	err     error
}

// Loop drives acquisition: it probes for a serial device once at
// startup, then reads (or generates) one reading per poll interval and
// routes accepted readings through CSV log, retention buffer, and the
// registered sinks. A failed serial stream demotes the loop to
// synthetic data for the rest of the process lifetime.
type Loop struct {
	config    *models.Config
	provider  serialport.Provider
	generator *telemetry.Generator
	csv       *storage.CSVLog
	store     *storage.MemoryStore
	sinks     []Sink
	modeFns   []func(synthetic bool, cause error)

	pollInterval time.Duration
	readTimeout  time.Duration

	source  source
	dropped uint64
}

// NewLoop creates the acquisition loop. A nil provider means serial
// support is unavailable and the loop starts synthetic.
func NewLoop(config *models.Config, provider serialport.Provider, csv *storage.CSVLog, store *storage.MemoryStore) (*Loop, error) {
	pollInterval, err := time.ParseDuration(config.Ingest.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval: %v", err)
	}
	readTimeout, err := time.ParseDuration(config.Serial.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %v", err)
	}

	return &Loop{
		config:       config,
		provider:     provider,
		generator:    telemetry.NewGenerator(),
		csv:          csv,
		store:        store,
		pollInterval: pollInterval,
		readTimeout:  readTimeout,
		source:       source{kind: sourceSynthetic},
	}, nil
}

// AddSink registers a consumer of accepted readings
func (l *Loop) AddSink(sink Sink) {
	l.sinks = append(l.sinks, sink)
}

// OnModeChange registers a listener for source transitions. Listeners
// run on the loop goroutine; cause is nil when synthetic data was
// chosen by configuration rather than by a failure.
func (l *Loop) OnModeChange(fn func(synthetic bool, cause error)) {
	l.modeFns = append(l.modeFns, fn)
}

// Run acquires a source and then ticks until ctx is cancelled. The
// poll interval elapses after each tick's work, in every state.
func (l *Loop) Run(ctx context.Context) {
	l.acquireSource()

	for {
		l.apply(l.tick())

		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-time.After(l.pollInterval):
		}
	}
}

// acquireSource probes for a serial device once. Any failure leaves
// the loop on synthetic data; there is no retry.
func (l *Loop) acquireSource() {
	if l.provider == nil || !l.config.Serial.Enabled {
		log.Printf("[Ingest] Serial source disabled, generating synthetic data")
		l.setSource(source{kind: sourceSynthetic}, nil)
		return
	}

	device, err := l.findDevice()
	if err != nil {
		log.Printf("[Ingest] %v, generating synthetic data", err)
		l.setSource(source{kind: sourceSynthetic}, err)
		return
	}

	port, err := l.provider.Open(device, l.config.Serial.BaudRate, l.readTimeout)
	if err != nil {
		openErr := fmt.Errorf("failed to open %s: %v", device, err)
		log.Printf("[Ingest] %v, generating synthetic data", openErr)
		l.setSource(source{kind: sourceSynthetic}, openErr)
		return
	}

	log.Printf("[Ingest] Reading from serial device %s at %d baud", device, l.config.Serial.BaudRate)
	l.setSource(source{kind: sourceHardware, port: port, device: device}, nil)
}

// findDevice picks the first enumerated port whose description
// contains one of the configured hint substrings.
func (l *Loop) findDevice() (string, error) {
	ports, err := l.provider.Enumerate()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %v", err)
	}

	for _, port := range ports {
		for _, hint := range l.config.Serial.DeviceHints {
			if strings.Contains(port.Description, hint) {
				return port.Device, nil
			}
		}
	}
	return "", fmt.Errorf("no serial device matching %v found", l.config.Serial.DeviceHints)
}

func (l *Loop) setSource(s source, cause error) {
	l.source = s
	synthetic := s.kind == sourceSynthetic
	l.store.SetMockMode(synthetic)
	for _, fn := range l.modeFns {
		fn(synthetic, cause)
	}
}

// tick performs one acquisition cycle against the active source
func (l *Loop) tick() tickOutcome {
	switch l.source.kind {
	case sourceHardware:
		return l.tickHardware()
	default:
		return tickOutcome{kind: outcomeAccepted, reading: l.generator.Next()}
	}
}

func (l *Loop) tickHardware() tickOutcome {
	line, err := l.source.port.ReadLine()
	if err != nil {
		if errors.Is(err, serialport.ErrNoData) {
			return tickOutcome{kind: outcomeIdle}
		}
		return tickOutcome{kind: outcomeSourceFailed, err: err}
	}

	reading, err := telemetry.ParseLine(line)
	if err != nil {
		return tickOutcome{kind: outcomeDropped, reason: err}
	}
	return tickOutcome{kind: outcomeAccepted, reading: reading}
}

// apply folds one outcome into loop state
func (l *Loop) apply(outcome tickOutcome) {
	switch outcome.kind {
	case outcomeIdle:
		// Nothing arrived within the read timeout.
	case outcomeAccepted:
		l.accept(outcome.reading)
	case outcomeDropped:
		n := atomic.AddUint64(&l.dropped, 1)
		if l.config.Debug {
			log.Printf("[Ingest] Dropped malformed line (%d total): %v", n, outcome.reason)
		}
	case outcomeSourceFailed:
		l.demote(outcome.err)
	}
}

// accept stamps a reading and routes it. The CSV log is written before
// the store so a persistence failure can be reported without ever
// blocking the in-memory view; it is a warning, not a stop.
func (l *Loop) accept(r models.Reading) {
	r.Timestamp = time.Now().UTC().Format(models.TimestampLayout)

	if err := l.csv.Append(r); err != nil {
		log.Printf("[Ingest] Warning: failed to append reading to CSV log: %v", err)
	}
	l.store.Push(r)

	for _, sink := range l.sinks {
		if err := sink.Consume(r); err != nil {
			log.Printf("[Ingest] Sink %s failed: %v", sink.Name(), err)
		}
	}
}

// demote abandons the serial source permanently and switches to
// synthetic data. There is no reconnect path.
func (l *Loop) demote(cause error) {
	log.Printf("[Ingest] Serial source failed: %v, falling back to synthetic data", cause)
	if l.source.port != nil {
		l.source.port.Close()
	}
	l.setSource(source{kind: sourceSynthetic}, cause)
}

func (l *Loop) shutdown() {
	if l.source.kind == sourceHardware && l.source.port != nil {
		if err := l.source.port.Close(); err != nil {
			log.Printf("[Ingest] Error closing serial port: %v", err)
		}
	}
	log.Printf("[Ingest] Acquisition loop stopped (%d lines dropped)", atomic.LoadUint64(&l.dropped))
}

func (l *Loop) droppedCount() uint64 {
	return atomic.LoadUint64(&l.dropped)
}
