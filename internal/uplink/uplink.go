package uplink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"roadsense/internal/alerts"
	"roadsense/internal/models"
	"roadsense/internal/storage"
	"roadsense/internal/utils"
)

// eventBufferSize caps the disk-backed store of undelivered events
const eventBufferSize = 100

// Uplink manages the MQTT connection to the fleet broker. Accepted
// readings and detected events are published as they arrive; while the
// broker is unreachable readings collect in an in-memory backlog and
// events in a disk-backed buffer, both drained on reconnect.
type Uplink struct {
	config     *models.Config
	mqttClient mqtt.Client
	store      *storage.MemoryStore
	ctx        context.Context
	cancel     context.CancelFunc

	backlogMu sync.Mutex
	backlog   []models.Reading

	eventBuffer *alerts.Buffer
}

// New connects to the configured broker. The connection carries a
// retained last-will so the fleet sees an unclean death as a
// disconnect.
func New(config *models.Config, store *storage.MemoryStore) (*Uplink, error) {
	if config.MQTT == nil {
		return nil, fmt.Errorf("mqtt is not configured")
	}

	keepAlive, err := time.ParseDuration(config.MQTT.KeepAlive)
	if err != nil {
		return nil, fmt.Errorf("could not parse keepalive interval: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &Uplink{
		config:      config,
		store:       store,
		ctx:         ctx,
		cancel:      cancel,
		eventBuffer: alerts.NewBuffer(eventBufferSize, config.Storage.EventBufferPath),
	}

	clientID := fmt.Sprintf("roadsense-%s", config.Vehicle.Identifier)
	willMessage := []byte(`{"status": "disconnected"}`)

	opts := mqtt.NewClientOptions().
		AddBroker(config.MQTT.BrokerURL).
		SetClientID(clientID).
		SetUsername(config.Vehicle.Identifier).
		SetPassword(config.Vehicle.Token).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(models.MQTTPublishTimeout).
		SetConnectTimeout(models.MQTTPublishTimeout).
		SetWriteTimeout(models.MQTTPublishTimeout).
		SetPingTimeout(models.MQTTPublishTimeout).
		SetCleanSession(false). // Maintain session so command subscriptions survive reconnects
		SetWill(u.topic("status"), string(willMessage), 1, true).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Printf("[Uplink] Connection lost: %v", err)
		}).
		SetOnConnectHandler(u.onConnect)

	if utils.IsTLSURL(config.MQTT.BrokerURL) {
		tlsConfig, err := buildTLSConfig(config.MQTT.CACert)
		if err != nil {
			cancel()
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(models.MQTTPublishTimeout) || token.Error() != nil {
		cancel()
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("MQTT connection failed: %v", err)
		}
		return nil, fmt.Errorf("MQTT connection failed: timeout")
	}
	u.mqttClient = client

	return u, nil
}

// Start subscribes to the per-vehicle command topic
func (u *Uplink) Start() error {
	commandTopic := u.topic("commands")
	token := u.mqttClient.Subscribe(commandTopic, 1, u.handleCommand)
	if !token.WaitTimeout(models.MQTTPublishTimeout) || token.Error() != nil {
		return fmt.Errorf("failed to subscribe to commands: %v", token.Error())
	}
	log.Printf("[Uplink] Subscribed to commands channel %s", commandTopic)
	return nil
}

// Stop publishes the retained disconnected status and closes the
// connection. The last-will only fires on unclean disconnects, so the
// status must go out explicitly here.
func (u *Uplink) Stop() {
	commandTopic := u.topic("commands")
	if u.mqttClient.IsConnected() {
		log.Printf("[Uplink] Unsubscribing from %s", commandTopic)
		if token := u.mqttClient.Unsubscribe(commandTopic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
			log.Printf("[Uplink] Error unsubscribing from command topic: %v", token.Error())
		}
	}

	u.cancel()

	if u.mqttClient.IsConnected() {
		statusMessage := []byte(`{"status": "disconnected"}`)
		if token := u.mqttClient.Publish(u.topic("status"), 1, true, statusMessage); token.WaitTimeout(500*time.Millisecond) && token.Error() != nil {
			log.Printf("[Uplink] Failed to publish disconnected status: %v", token.Error())
		}
		u.mqttClient.Disconnect(500)
	}
	log.Println("[Uplink] Stopped")
}

// Name identifies the uplink in the acquisition loop's sink fan-out
func (u *Uplink) Name() string {
	return "uplink"
}

// Consume publishes one accepted reading. An unreachable broker or a
// failed publish diverts the reading to the backlog; ingestion itself
// never fails on uplink trouble.
func (u *Uplink) Consume(r models.Reading) error {
	if !u.mqttClient.IsConnectionOpen() {
		u.enqueueBacklog(r)
		return nil
	}
	if err := u.publishReading(u.mqttClient, r); err != nil {
		log.Printf("[Uplink] %v", err)
		u.enqueueBacklog(r)
	}
	return nil
}

// HandleEvent publishes a detected event, spilling to the disk-backed
// event buffer when delivery fails.
func (u *Uplink) HandleEvent(event alerts.Event) {
	if !u.mqttClient.IsConnectionOpen() {
		u.eventBuffer.Add(event)
		return
	}
	if err := u.publishEvent(u.mqttClient, event); err != nil {
		log.Printf("[Uplink] %v", err)
		u.eventBuffer.Add(event)
	}
}

func (u *Uplink) onConnect(c mqtt.Client) {
	log.Printf("[Uplink] Connected to broker at %s", u.config.MQTT.BrokerURL)

	statusMessage := []byte(`{"status": "connected"}`)
	token := c.Publish(u.topic("status"), 1, true, statusMessage)
	if !token.WaitTimeout(models.MQTTPublishTimeout) || token.Error() != nil {
		if err := token.Error(); err != nil {
			log.Printf("[Uplink] Failed to publish connection status: %v", err)
		} else {
			log.Printf("[Uplink] Failed to publish connection status: timeout")
		}
	}

	go u.flushBacklogs(c)
}

// flushBacklogs drains what accumulated while disconnected: readings
// first, then buffered events.
func (u *Uplink) flushBacklogs(c mqtt.Client) {
	if u.ctx.Err() != nil {
		return
	}
	u.flushBacklog(c)
	u.eventBuffer.Flush(u.ctx, func(event alerts.Event) error {
		return u.publishEvent(c, event)
	})
}

func (u *Uplink) publishReading(c mqtt.Client, r models.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %v", err)
	}

	token := c.Publish(u.topic("readings"), 1, false, payload)
	if !token.WaitTimeout(models.MQTTPublishTimeout) || token.Error() != nil {
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish reading: %v", err)
		}
		return fmt.Errorf("failed to publish reading: timeout")
	}
	return nil
}

func (u *Uplink) publishEvent(c mqtt.Client, event alerts.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}

	token := c.Publish(u.topic("events"), 1, false, payload)
	if !token.WaitTimeout(models.MQTTPublishTimeout) || token.Error() != nil {
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish event: %v", err)
		}
		return fmt.Errorf("failed to publish event: timeout")
	}
	return nil
}

func (u *Uplink) topic(suffix string) string {
	return fmt.Sprintf("roadsense/%s/%s", u.config.Vehicle.Identifier, suffix)
}

func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	tlsConfig := new(tls.Config)
	if caCertPath != "" {
		log.Printf("[Uplink] Using CA certificate from file: %s", caCertPath)
		caCert, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %v", err)
		}

		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}
	return tlsConfig, nil
}
