package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"roadsense/internal/models"
	"roadsense/internal/serialport"
	"roadsense/internal/storage"
)

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)

type fakePort struct {
	lines  []string
	err    error
	closed bool
}

func (p *fakePort) ReadLine() (string, error) {
	if len(p.lines) == 0 {
		if p.err != nil {
			return "", p.err
		}
		return "", serialport.ErrNoData
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

type fakeProvider struct {
	ports      []serialport.PortInfo
	enumErr    error
	openErr    error
	port       *fakePort
	enumCalls  int
	openCalls  int
	lastDevice string
	lastBaud   int
}

func (f *fakeProvider) Enumerate() ([]serialport.PortInfo, error) {
	f.enumCalls++
	return f.ports, f.enumErr
}

func (f *fakeProvider) Open(device string, baud int, readTimeout time.Duration) (serialport.Port, error) {
	f.openCalls++
	f.lastDevice = device
	f.lastBaud = baud
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.port, nil
}

type captureSink struct {
	name     string
	readings []models.Reading
	err      error
}

func (c *captureSink) Name() string { return c.name }

func (c *captureSink) Consume(r models.Reading) error {
	c.readings = append(c.readings, r)
	return c.err
}

type modeCall struct {
	synthetic bool
	cause     error
}

func arduinoProvider(port *fakePort) *fakeProvider {
	return &fakeProvider{
		ports: []serialport.PortInfo{
			{Device: "/dev/ttyS0", Description: "PCI Serial Port"},
			{Device: "/dev/ttyUSB0", Description: "USB Serial Device (Arduino Uno)"},
		},
		port: port,
	}
}

func newTestLoop(t *testing.T, provider serialport.Provider) (*Loop, *storage.MemoryStore, string) {
	t.Helper()

	csvPath := filepath.Join(t.TempDir(), "readings.csv")
	cfg := &models.Config{
		Vehicle: models.VehicleConfig{Identifier: "test"},
		Serial: models.SerialConfig{
			Enabled:     true,
			BaudRate:    9600,
			ReadTimeout: "100ms",
			DeviceHints: []string{"Arduino", "CH340", "USB"},
		},
		Ingest:  models.IngestConfig{PollInterval: "10ms", BufferSize: 100},
		Storage: models.StorageConfig{CSVPath: csvPath},
	}

	csv, err := storage.NewCSVLog(csvPath)
	if err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}
	store := storage.NewMemoryStore(cfg.Ingest.BufferSize)

	loop, err := NewLoop(cfg, provider, csv, store)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return loop, store, csvPath
}

func TestAcquirePicksMatchingDevice(t *testing.T) {
	provider := arduinoProvider(&fakePort{})
	loop, store, _ := newTestLoop(t, provider)

	var calls []modeCall
	loop.OnModeChange(func(synthetic bool, cause error) {
		calls = append(calls, modeCall{synthetic, cause})
	})

	loop.acquireSource()

	if store.MockMode() {
		t.Error("expected hardware mode after successful open")
	}
	if provider.openCalls != 1 || provider.lastDevice != "/dev/ttyUSB0" || provider.lastBaud != 9600 {
		t.Errorf("unexpected open: calls=%d device=%s baud=%d",
			provider.openCalls, provider.lastDevice, provider.lastBaud)
	}
	if len(calls) != 1 || calls[0].synthetic || calls[0].cause != nil {
		t.Errorf("unexpected mode calls: %+v", calls)
	}
}

func TestAcquireFallsBackWhenNoDeviceMatches(t *testing.T) {
	provider := &fakeProvider{
		ports: []serialport.PortInfo{{Device: "/dev/ttyS0", Description: "PCI Serial Port"}},
	}
	loop, store, _ := newTestLoop(t, provider)

	var calls []modeCall
	loop.OnModeChange(func(synthetic bool, cause error) {
		calls = append(calls, modeCall{synthetic, cause})
	})

	loop.acquireSource()

	if !store.MockMode() {
		t.Error("expected synthetic mode when no device matches")
	}
	if provider.openCalls != 0 {
		t.Errorf("expected no open attempt, got %d", provider.openCalls)
	}
	if len(calls) != 1 || !calls[0].synthetic || calls[0].cause == nil {
		t.Fatalf("expected one synthetic transition with a cause, got %+v", calls)
	}
}

func TestAcquireFallsBackOnEnumerateError(t *testing.T) {
	provider := &fakeProvider{enumErr: errors.New("no permission")}
	loop, store, _ := newTestLoop(t, provider)

	loop.acquireSource()

	if !store.MockMode() {
		t.Error("expected synthetic mode after enumeration failure")
	}
}

func TestAcquireFallsBackOnOpenError(t *testing.T) {
	provider := arduinoProvider(nil)
	provider.openErr = errors.New("device busy")
	loop, store, _ := newTestLoop(t, provider)

	var calls []modeCall
	loop.OnModeChange(func(synthetic bool, cause error) {
		calls = append(calls, modeCall{synthetic, cause})
	})

	loop.acquireSource()

	if !store.MockMode() {
		t.Error("expected synthetic mode after open failure")
	}
	if len(calls) != 1 || calls[0].cause == nil || !strings.Contains(calls[0].cause.Error(), "device busy") {
		t.Errorf("expected open failure as cause, got %+v", calls)
	}
}

func TestAcquireSyntheticWithoutProvider(t *testing.T) {
	loop, store, _ := newTestLoop(t, nil)

	var calls []modeCall
	loop.OnModeChange(func(synthetic bool, cause error) {
		calls = append(calls, modeCall{synthetic, cause})
	})

	loop.acquireSource()

	if !store.MockMode() {
		t.Error("expected synthetic mode without a provider")
	}
	// Configured-off serial is not a failure, so no cause.
	if len(calls) != 1 || !calls[0].synthetic || calls[0].cause != nil {
		t.Errorf("unexpected mode calls: %+v", calls)
	}
}

func TestHardwareTickAcceptsLine(t *testing.T) {
	port := &fakePort{lines: []string{"0.45,12.3,smooth,normal"}}
	loop, store, csvPath := newTestLoop(t, arduinoProvider(port))
	sink := &captureSink{name: "capture"}
	loop.AddSink(sink)

	loop.acquireSource()
	loop.apply(loop.tick())

	if store.Len() != 1 {
		t.Fatalf("expected 1 stored reading, got %d", store.Len())
	}
	r := store.Snapshot()[0]
	if r.RRI != 0.45 || r.BSI != 12.3 || r.RoadCondition != "SMOOTH" || r.BatteryStatus != "NORMAL" {
		t.Errorf("unexpected reading: %+v", r)
	}
	if !timestampPattern.MatchString(r.Timestamp) {
		t.Errorf("timestamp %q does not match the expected layout", r.Timestamp)
	}

	if len(sink.readings) != 1 || sink.readings[0] != r {
		t.Errorf("sink should receive the stored reading, got %+v", sink.readings)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	csvLines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(csvLines) != 2 {
		t.Fatalf("expected header plus 1 row, got %d lines", len(csvLines))
	}
	if !strings.HasSuffix(csvLines[1], ",0.45,12.3,SMOOTH,NORMAL") {
		t.Errorf("unexpected csv row: %q", csvLines[1])
	}
}

func TestHardwareTickIdleWithoutData(t *testing.T) {
	loop, store, _ := newTestLoop(t, arduinoProvider(&fakePort{}))

	loop.acquireSource()
	outcome := loop.tick()
	loop.apply(outcome)

	if outcome.kind != outcomeIdle {
		t.Errorf("expected idle outcome, got %d", outcome.kind)
	}
	if store.Len() != 0 {
		t.Errorf("idle tick must not store anything, got %d", store.Len())
	}
}

func TestHardwareTickDropsMalformedLine(t *testing.T) {
	port := &fakePort{lines: []string{"garbage", "0.45,12.3,SMOOTH,NORMAL"}}
	loop, store, _ := newTestLoop(t, arduinoProvider(port))

	loop.acquireSource()
	loop.apply(loop.tick())

	if loop.droppedCount() != 1 {
		t.Errorf("expected 1 dropped line, got %d", loop.droppedCount())
	}
	if store.Len() != 0 {
		t.Errorf("dropped line must not be stored, got %d", store.Len())
	}
	if store.MockMode() {
		t.Error("malformed line must not demote the source")
	}

	// The stream survives a bad line.
	loop.apply(loop.tick())
	if store.Len() != 1 {
		t.Errorf("expected the next good line stored, got %d", store.Len())
	}
}

func TestStreamFailureDemotesPermanently(t *testing.T) {
	port := &fakePort{err: errors.New("device unplugged")}
	provider := arduinoProvider(port)
	loop, store, _ := newTestLoop(t, provider)

	var calls []modeCall
	loop.OnModeChange(func(synthetic bool, cause error) {
		calls = append(calls, modeCall{synthetic, cause})
	})

	loop.acquireSource()
	loop.apply(loop.tick())

	if !port.closed {
		t.Error("expected the failed port to be closed")
	}
	if !store.MockMode() {
		t.Error("expected synthetic mode after stream failure")
	}
	if len(calls) != 2 || !calls[1].synthetic || calls[1].cause == nil {
		t.Fatalf("expected hardware then synthetic transition, got %+v", calls)
	}
	if !strings.Contains(calls[1].cause.Error(), "device unplugged") {
		t.Errorf("expected stream error as cause, got %v", calls[1].cause)
	}

	// Demotion is permanent: the next ticks generate data and never
	// probe the provider again.
	loop.apply(loop.tick())
	if store.Len() != 1 {
		t.Fatalf("expected a synthetic reading after demotion, got %d", store.Len())
	}
	r := store.Snapshot()[0]
	if r.RRI < 0.20 || r.RRI > 0.80 {
		t.Errorf("synthetic rri out of range: %v", r.RRI)
	}
	if provider.enumCalls != 1 || provider.openCalls != 1 {
		t.Errorf("expected no re-probe, got enum=%d open=%d", provider.enumCalls, provider.openCalls)
	}
}

func TestSyntheticTickProducesValidReading(t *testing.T) {
	loop, store, _ := newTestLoop(t, nil)

	loop.acquireSource()
	loop.apply(loop.tick())

	if store.Len() != 1 {
		t.Fatalf("expected 1 stored reading, got %d", store.Len())
	}
	r := store.Snapshot()[0]
	if !timestampPattern.MatchString(r.Timestamp) {
		t.Errorf("timestamp %q does not match the expected layout", r.Timestamp)
	}
	if r.RRI < 0.20 || r.RRI > 0.80 || r.BSI < 8.0 || r.BSI > 25.0 {
		t.Errorf("synthetic reading out of range: %+v", r)
	}
}

func TestCSVFailureDoesNotBlockStore(t *testing.T) {
	csvDir := filepath.Join(t.TempDir(), "data")
	csvPath := filepath.Join(csvDir, "readings.csv")

	cfg := &models.Config{
		Vehicle: models.VehicleConfig{Identifier: "test"},
		Serial:  models.SerialConfig{Enabled: false, BaudRate: 9600, ReadTimeout: "100ms"},
		Ingest:  models.IngestConfig{PollInterval: "10ms", BufferSize: 100},
		Storage: models.StorageConfig{CSVPath: csvPath},
	}
	csv, err := storage.NewCSVLog(csvPath)
	if err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}
	store := storage.NewMemoryStore(100)
	loop, err := NewLoop(cfg, nil, csv, store)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	if err := os.RemoveAll(csvDir); err != nil {
		t.Fatalf("remove csv dir: %v", err)
	}

	loop.acquireSource()
	loop.apply(loop.tick())

	if store.Len() != 1 {
		t.Errorf("expected reading stored despite CSV failure, got %d", store.Len())
	}
}

func TestSinkErrorDoesNotStopOthers(t *testing.T) {
	loop, store, _ := newTestLoop(t, nil)
	failing := &captureSink{name: "failing", err: errors.New("sink down")}
	healthy := &captureSink{name: "healthy"}
	loop.AddSink(failing)
	loop.AddSink(healthy)

	loop.acquireSource()
	loop.apply(loop.tick())

	if store.Len() != 1 {
		t.Fatalf("expected reading stored, got %d", store.Len())
	}
	if len(failing.readings) != 1 || len(healthy.readings) != 1 {
		t.Errorf("expected both sinks fed, got %d and %d", len(failing.readings), len(healthy.readings))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	loop, store, _ := newTestLoop(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	if store.Len() == 0 {
		t.Error("expected at least one reading before cancellation")
	}
}

func TestRunClosesHardwarePort(t *testing.T) {
	port := &fakePort{}
	loop, _, _ := newTestLoop(t, arduinoProvider(port))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	if !port.closed {
		t.Error("expected the serial port closed on shutdown")
	}
}
