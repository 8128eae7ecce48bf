package alert

import (
	"context"
	"sync"
	"time"

	"position_guard/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Target    string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// Manager fans alert events out to the configured channels. It implements
// core.IAlertSink: sends are asynchronous and never block the caller, and
// events without a target are muted (mirror-account monitors).
type Manager struct {
	channels []AlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *Manager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify delivers a monitor event. Fire-and-forget: failures are logged,
// never surfaced to reconciliation.
func (am *Manager) Notify(ctx context.Context, event core.AlertEvent) {
	if event.Target == "" {
		am.logger.Debug("Alert muted (no target)", "type", event.Type, "key", event.Key.String())
		return
	}

	level := Info
	switch event.Type {
	case core.EventUnprotectedPosition:
		level = Critical
	case core.EventPositionClosed, core.EventBreakevenApplied:
		level = Warning
	}

	payload := AlertPayload{
		Level:     level,
		Title:     event.Type,
		Message:   event.Message,
		Target:    event.Target,
		Timestamp: event.Timestamp,
		Fields:    event.Fields,
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	am.logger.Info("Triggering alert", "type", event.Type, "key", event.Key.String(), "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, ch := range am.channels {
		go func(c AlertChannel) {
			timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}
