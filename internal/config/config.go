package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"roadsense/internal/models"

	"gopkg.in/yaml.v2"
)

// ParseFlags parses command line flags and returns them as a struct
func ParseFlags() *models.CommandLineFlags {
	flags := &models.CommandLineFlags{}

	// Basic configuration
	flag.StringVar(&flags.ConfigPath, "config", "", "path to config file (defaults to roadsense.yml if not specified)")
	flag.StringVar(&flags.Identifier, "identifier", "", "vehicle identifier (MQTT username)")
	flag.StringVar(&flags.Token, "token", "", "authentication token (MQTT password)")
	flag.StringVar(&flags.MqttBrokerURL, "mqtt-broker", "", "MQTT broker URL (empty disables the uplink)")
	flag.StringVar(&flags.MqttCACert, "mqtt-cacert", "", "path to MQTT CA certificate")
	flag.StringVar(&flags.RedisURL, "redis-url", "", "Redis URL for the livestate mirror (empty disables it)")
	flag.StringVar(&flags.Listen, "listen", "", "HTTP API listen address")
	flag.StringVar(&flags.CSVPath, "csv-path", "", "path to the durable CSV log")
	flag.StringVar(&flags.PollInterval, "poll-interval", "", "acquisition loop poll interval")
	flag.BoolVar(&flags.NoSerial, "no-serial", false, "disable hardware probing, synthetic data only")
	flag.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	flag.BoolVar(&flags.ShowVersion, "version", false, "print version and exit")

	// NTP configuration
	flag.BoolVar(&flags.NtpEnabled, "ntp-enabled", false, "sync system clock from NTP at startup")
	flag.StringVar(&flags.NtpServer, "ntp-server", "pool.ntp.org", "NTP server address")

	flag.Parse()
	return flags
}

// defaultConfig returns the built-in configuration. The YAML file is
// unmarshalled over it so absent keys keep their defaults.
func defaultConfig() *models.Config {
	return &models.Config{
		Vehicle: models.VehicleConfig{
			Identifier: "dev",
		},
		Serial: models.SerialConfig{
			Enabled:     true,
			BaudRate:    9600,
			ReadTimeout: "100ms",
			DeviceHints: []string{"Arduino", "CH340", "USB"},
		},
		Ingest: models.IngestConfig{
			PollInterval: "100ms",
			BufferSize:   100,
		},
		Storage: models.StorageConfig{
			CSVPath:         "data/readings.csv",
			EventBufferPath: "data/events.json",
		},
		HTTP: models.HTTPConfig{
			Listen: "127.0.0.1:5000",
		},
		NTP: models.NTPConfig{
			Enabled: false,
			Server:  "pool.ntp.org",
		},
	}
}

// LoadConfig loads configuration from file and/or command line flags
func LoadConfig(flags *models.CommandLineFlags) (*models.Config, error) {
	config := defaultConfig()

	configPath := flags.ConfigPath
	if configPath == "" {
		configPath = models.DefaultConfigPath
	}

	// Try to read the config file
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
		log.Printf("Loaded configuration from %s", configPath)
	} else if flags.ConfigPath != "" {
		// Only return error if config file was explicitly specified
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	// Override with command line flags
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "identifier":
			config.Vehicle.Identifier = flags.Identifier
		case "token":
			config.Vehicle.Token = flags.Token
		case "mqtt-broker":
			if config.MQTT == nil {
				config.MQTT = &models.MQTTConfig{}
			}
			config.MQTT.BrokerURL = flags.MqttBrokerURL
		case "mqtt-cacert":
			if config.MQTT == nil {
				config.MQTT = &models.MQTTConfig{}
			}
			config.MQTT.CACert = flags.MqttCACert
		case "redis-url":
			config.RedisURL = flags.RedisURL
		case "listen":
			config.HTTP.Listen = flags.Listen
		case "csv-path":
			config.Storage.CSVPath = flags.CSVPath
		case "poll-interval":
			config.Ingest.PollInterval = flags.PollInterval
		case "no-serial":
			config.Serial.Enabled = !flags.NoSerial
		case "debug":
			config.Debug = flags.Debug
		case "ntp-enabled":
			config.NTP.Enabled = flags.NtpEnabled
		case "ntp-server":
			config.NTP.Server = flags.NtpServer
		}
	})

	// Validate the final configuration
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	return config, nil
}

// ValidateConfig validates configuration and backfills omitted optional
// values with their defaults
func ValidateConfig(config *models.Config) error {
	var errors []string

	if config.Vehicle.Identifier == "" {
		errors = append(errors, "vehicle identifier is required")
	}
	if config.Ingest.BufferSize < 1 {
		errors = append(errors, fmt.Sprintf("ingest buffer_size must be at least 1, got %d", config.Ingest.BufferSize))
	}
	if config.Serial.Enabled && config.Serial.BaudRate < 1 {
		errors = append(errors, fmt.Sprintf("serial baud_rate must be positive, got %d", config.Serial.BaudRate))
	}
	if config.HTTP.Listen == "" {
		errors = append(errors, "http listen address is required")
	}
	if config.Storage.CSVPath == "" {
		errors = append(errors, "storage csv_path is required")
	}
	if config.Storage.EventBufferPath == "" {
		config.Storage.EventBufferPath = "data/events.json"
	}

	if config.MQTT != nil {
		if config.MQTT.BrokerURL == "" {
			errors = append(errors, "mqtt broker_url is required when mqtt is configured")
		}
		if config.Vehicle.Token == "" {
			errors = append(errors, "vehicle token is required when mqtt is configured")
		}
		if config.MQTT.KeepAlive == "" {
			config.MQTT.KeepAlive = "30s"
		}
	}

	if config.Telegram != nil && config.Telegram.Enabled {
		if config.Telegram.BotToken == "" {
			errors = append(errors, "telegram bot_token is required when telegram is enabled")
		}
		if config.Telegram.ChatID == "" {
			errors = append(errors, "telegram chat_id is required when telegram is enabled")
		}
		if config.Telegram.RateLimit == "" {
			config.Telegram.RateLimit = "1s"
		}
		if config.Telegram.QueueSize <= 0 {
			config.Telegram.QueueSize = 10
		}
	}

	if config.NTP.Enabled && config.NTP.Server == "" {
		errors = append(errors, "ntp server is required when ntp is enabled")
	}

	// Parse and validate durations
	durations := map[string]string{
		"serial.read_timeout":  config.Serial.ReadTimeout,
		"ingest.poll_interval": config.Ingest.PollInterval,
	}
	if config.MQTT != nil {
		durations["mqtt.keepalive"] = config.MQTT.KeepAlive
	}
	if config.Telegram != nil && config.Telegram.Enabled {
		durations["telegram.rate_limit"] = config.Telegram.RateLimit
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s: %v", name, err))
			continue
		}
		if d <= 0 {
			errors = append(errors, fmt.Sprintf("invalid %s: must be positive, got %s", name, value))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
