package models

import "time"

// TimestampLayout renders ingestion timestamps as UTC instants with
// millisecond precision and a literal trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// MQTTPublishTimeout bounds every MQTT publish and connect attempt
const MQTTPublishTimeout = 5 * time.Second

// DefaultConfigPath is used when no -config flag is given
const DefaultConfigPath = "roadsense.yml"

// Road condition categories produced by the synthetic generator.
// Hardware may report any token; these are the expected ones.
const (
	RoadSmooth   = "SMOOTH"
	RoadModerate = "MODERATE"
	RoadRough    = "ROUGH"
)

// Battery status categories produced by the synthetic generator
const (
	BatteryNormal   = "NORMAL"
	BatteryElevated = "ELEVATED"
	BatteryCritical = "CRITICAL"
)

// CommandLineFlags contains all command-line options
type CommandLineFlags struct {
	ConfigPath    string
	Identifier    string
	Token         string
	MqttBrokerURL string
	MqttCACert    string
	RedisURL      string
	Listen        string
	CSVPath       string
	PollInterval  string
	NoSerial      bool
	Debug         bool
	ShowVersion   bool
	// NTP configuration
	NtpEnabled bool
	NtpServer  string
}

// Config represents the application configuration
type Config struct {
	Vehicle  VehicleConfig   `yaml:"vehicle"`
	Serial   SerialConfig    `yaml:"serial"`
	Ingest   IngestConfig    `yaml:"ingest"`
	Storage  StorageConfig   `yaml:"storage"`
	HTTP     HTTPConfig      `yaml:"http"`
	MQTT     *MQTTConfig     `yaml:"mqtt,omitempty"`
	RedisURL string          `yaml:"redis_url,omitempty"`
	NTP      NTPConfig       `yaml:"ntp"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Debug    bool            `yaml:"debug,omitempty"`
}

// VehicleConfig identifies this vehicle to the uplink broker
type VehicleConfig struct {
	Identifier string `yaml:"identifier"`
	Token      string `yaml:"token,omitempty"`
}

// SerialConfig contains hardware source configuration
type SerialConfig struct {
	Enabled     bool     `yaml:"enabled"`
	BaudRate    int      `yaml:"baud_rate"`
	ReadTimeout string   `yaml:"read_timeout"`
	DeviceHints []string `yaml:"device_hints,omitempty"`
}

// IngestConfig contains acquisition loop configuration
type IngestConfig struct {
	PollInterval string `yaml:"poll_interval"`
	BufferSize   int    `yaml:"buffer_size"`
}

// StorageConfig contains durable log configuration
type StorageConfig struct {
	CSVPath         string `yaml:"csv_path"`
	EventBufferPath string `yaml:"event_buffer_path,omitempty"`
}

// HTTPConfig contains API server configuration
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig contains uplink broker configuration
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	CACert    string `yaml:"ca_cert,omitempty"`
	KeepAlive string `yaml:"keepalive"`
}

// NTPConfig contains NTP time synchronization configuration
type NTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Server  string `yaml:"server"`
}

// TelegramConfig contains alert notification configuration
type TelegramConfig struct {
	Enabled   bool            `yaml:"enabled"`
	BotToken  string          `yaml:"bot_token"`
	ChatID    string          `yaml:"chat_id"`
	RateLimit string          `yaml:"rate_limit"`
	QueueSize int             `yaml:"queue_size"`
	Events    map[string]bool `yaml:"events,omitempty"`
}

// Reading is one telemetry sample. The timestamp is assigned exactly
// once, when the acquisition loop accepts the reading; parser and
// generator leave it empty.
type Reading struct {
	Timestamp     string  `json:"timestamp"`
	RRI           float64 `json:"rri"`
	BSI           float64 `json:"bsi"`
	RoadCondition string  `json:"road_condition"`
	BatteryStatus string  `json:"battery_status"`
}

// CommandMessage represents an incoming command
type CommandMessage struct {
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
	RequestID string                 `json:"request_id"`
}

// CommandResponse represents a command response
type CommandResponse struct {
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
	RequestID  string   `json:"request_id"`
	MockMode   *bool    `json:"mock_mode,omitempty"`
	BufferSize *int     `json:"buffer_size,omitempty"`
	Latest     *Reading `json:"latest,omitempty"`
}
