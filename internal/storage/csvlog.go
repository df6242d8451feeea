package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"roadsense/internal/models"
)

// csvHeader names the five columns of the durable log
const csvHeader = "timestamp,rri,bsi,road_condition,battery_status"

// CSVLog appends accepted readings to an append-only CSV file. Every
// append opens and closes the file, so no file handle outlives a row.
type CSVLog struct {
	path string
}

// NewCSVLog ensures the log directory exists and writes the header row
// if the file does not exist yet. Reopening an existing log never
// rewrites it.
func NewCSVLog(path string) (*CSVLog, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %v", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(csvHeader+"\n"), 0644); err != nil {
			return nil, fmt.Errorf("failed to write log header: %v", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat log file: %v", err)
	}

	return &CSVLog{path: path}, nil
}

// Append writes one reading as a single CSV row. Values never contain
// the delimiter, so there is no quoting.
func (l *CSVLog) Append(r models.Reading) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}
	defer f.Close()

	row := strings.Join([]string{
		r.Timestamp,
		strconv.FormatFloat(r.RRI, 'f', -1, 64),
		strconv.FormatFloat(r.BSI, 'f', -1, 64),
		r.RoadCondition,
		r.BatteryStatus,
	}, ",") + "\n"

	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("failed to append to log file: %v", err)
	}
	return nil
}

// Path returns the log file location
func (l *CSVLog) Path() string {
	return l.path
}
