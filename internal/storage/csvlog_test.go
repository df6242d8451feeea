package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"roadsense/internal/models"
	"roadsense/internal/telemetry"
)

func TestNewCSVLogCreatesDirAndHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "log.csv")
	if _, err := NewCSVLog(path); err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "timestamp,rri,bsi,road_condition,battery_status\n" {
		t.Errorf("unexpected log content: %q", string(data))
	}
}

func TestAppendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	l, err := NewCSVLog(path)
	if err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}

	readings := []models.Reading{
		{Timestamp: "2026-08-23T10:00:00.000Z", RRI: 0.5, BSI: 15.2, RoadCondition: "SMOOTH", BatteryStatus: "NORMAL"},
		{Timestamp: "2026-08-23T10:00:00.100Z", RRI: 0.9, BSI: 22, RoadCondition: "ROUGH", BatteryStatus: "CRITICAL"},
		{Timestamp: "2026-08-23T10:00:00.200Z", RRI: 0.31, BSI: 9.8, RoadCondition: "MODERATE", BatteryStatus: "ELEVATED"},
	}
	for _, r := range readings {
		if err := l.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != len(readings)+1 {
		t.Fatalf("log has %d lines, want %d (header + rows)", len(lines), len(readings)+1)
	}

	for i, r := range readings {
		row := lines[i+1]
		parts := strings.SplitN(row, ",", 2)
		if len(parts) != 2 {
			t.Fatalf("row %d has no timestamp column: %q", i, row)
		}
		if parts[0] != r.Timestamp {
			t.Errorf("row %d timestamp = %q, want %q", i, parts[0], r.Timestamp)
		}

		// The value columns parse back to the original reading
		parsed, err := telemetry.ParseLine(parts[1])
		if err != nil {
			t.Fatalf("row %d does not parse back: %v", i, err)
		}
		parsed.Timestamp = r.Timestamp
		if parsed != r {
			t.Errorf("row %d round-trip = %+v, want %+v", i, parsed, r)
		}
	}
}

func TestReopenKeepsExistingRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l, err := NewCSVLog(path)
	if err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}
	if err := l.Append(models.Reading{Timestamp: "t1", RRI: 0.5, BSI: 10, RoadCondition: "SMOOTH", BatteryStatus: "NORMAL"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A second startup must not rewrite the header or the rows
	l2, err := NewCSVLog(path)
	if err != nil {
		t.Fatalf("NewCSVLog (reopen): %v", err)
	}
	if err := l2.Append(models.Reading{Timestamp: "t2", RRI: 0.6, BSI: 11, RoadCondition: "SMOOTH", BatteryStatus: "NORMAL"}); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("log has %d lines after reopen, want 3", len(lines))
	}
	if strings.Count(string(data), "timestamp,") != 1 {
		t.Errorf("header written more than once:\n%s", string(data))
	}
}

func TestAppendFailsWhenDirRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dir, "log.csv")
	l, err := NewCSVLog(path)
	if err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	if err := l.Append(models.Reading{Timestamp: "t", RRI: 1, BSI: 1}); err == nil {
		t.Error("Append succeeded with the log directory removed, want error")
	}
}
