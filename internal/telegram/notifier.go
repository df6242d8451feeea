package telegram

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"roadsense/internal/alerts"
	"roadsense/internal/models"
)

// Notifier sends Telegram notifications for telemetry events
type Notifier struct {
	config     *models.TelegramConfig
	identifier string
	queue      chan alerts.Event
	client     *http.Client
	apiBase    string
	rateLimit  time.Duration
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewNotifier creates a new Telegram notifier
func NewNotifier(config *models.TelegramConfig, identifier string) (*Notifier, error) {
	rateLimit, err := time.ParseDuration(config.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid rate_limit: %v", err)
	}

	return &Notifier{
		config:     config,
		identifier: identifier,
		queue:      make(chan alerts.Event, config.QueueSize),
		client:     &http.Client{Timeout: 10 * time.Second},
		apiBase:    "https://api.telegram.org",
		rateLimit:  rateLimit,
	}, nil
}

// Start begins processing the notification queue
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go n.processQueue(ctx)
	log.Printf("[Telegram] Notifier started (rate_limit=%s, queue_size=%d)", n.rateLimit, n.config.QueueSize)
}

// Stop gracefully shuts down the notifier
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	log.Println("[Telegram] Notifier stopped")
}

// HandleEvent filters and enqueues a detected event. It implements
// the detector's sink interface and never blocks.
func (n *Notifier) HandleEvent(event alerts.Event) {
	if !n.ShouldNotify(event.EventType) {
		return
	}
	n.Notify(event)
}

// Notify enqueues an event for sending (non-blocking)
func (n *Notifier) Notify(event alerts.Event) {
	select {
	case n.queue <- event:
	default:
		log.Printf("[Telegram] Queue full, dropping event: %s", event.EventType)
	}
}

// ShouldNotify checks whether notifications are enabled for an event type
func (n *Notifier) ShouldNotify(eventType string) bool {
	if enabled, ok := n.config.Events[eventType]; ok {
		return enabled
	}
	return false
}

func (n *Notifier) processQueue(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.rateLimit)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			if err := n.sendToTelegram(event); err != nil {
				log.Printf("[Telegram] Failed to send: %v", err)
			}
			// Rate limit: wait for next tick before processing more
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func (n *Notifier) sendToTelegram(event alerts.Event) error {
	text := n.FormatMessage(event)
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.config.BotToken)

	resp, err := n.client.PostForm(apiURL, url.Values{
		"chat_id":    {n.config.ChatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	})
	if err != nil {
		return fmt.Errorf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API returned status %d", resp.StatusCode)
	}

	log.Printf("[Telegram] Sent %s notification", event.EventType)
	return nil
}

// FormatMessage formats an event into a concise one-line message for Telegram
func (n *Notifier) FormatMessage(event alerts.Event) string {
	d := event.Data
	str := func(key string) string {
		if v, ok := d[key]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}

	switch event.EventType {
	case alerts.EventTypeBatteryCritical:
		if event.Status == alerts.StatusCleared {
			if s := str("battery_status"); s != "" {
				return fmt.Sprintf("🔋 %s battery back to %s", n.identifier, s)
			}
			return fmt.Sprintf("🔋 %s battery recovered", n.identifier)
		}
		msg := fmt.Sprintf("🔋 %s battery CRITICAL", n.identifier)
		if s := str("bsi"); s != "" {
			msg += fmt.Sprintf(" (BSI %s)", s)
		}
		return msg

	case alerts.EventTypeBSIHigh:
		if event.Status == alerts.StatusCleared {
			return fmt.Sprintf("🌡️ %s battery stress back to normal", n.identifier)
		}
		return fmt.Sprintf("🌡️ %s battery stress high (BSI %s)", n.identifier, str("bsi"))

	case alerts.EventTypeRoughRoad:
		if event.Status == alerts.StatusCleared {
			return fmt.Sprintf("🛣 %s road surface recovered", n.identifier)
		}
		return fmt.Sprintf("🛣 %s rough road, %s readings in a row", n.identifier, str("streak"))

	case alerts.EventTypeSyntheticFallback:
		msg := fmt.Sprintf("⚙️ %s serial source lost, running on synthetic data", n.identifier)
		if cause := str("cause"); cause != "" {
			msg += fmt.Sprintf(" (%s)", cause)
		}
		return msg

	default:
		if event.Status != "" {
			return fmt.Sprintf("📢 %s %s: %s", n.identifier, event.EventType, event.Status)
		}
		return fmt.Sprintf("📢 %s %s", n.identifier, event.EventType)
	}
}
