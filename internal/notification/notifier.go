// Package notification delivers rule-transition alerts to external channels
// (log output, HTTP webhooks) so operators hear about actuations without
// watching the broker.
package notification

import (
	"context"
	"fmt"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level    AlertLevel `json:"level"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	RuleID   string     `json:"rule_id,omitempty"`
	DeviceID string     `json:"device_id,omitempty"`
}

// RuleTransition builds the alert for a rule verdict flip.
func RuleTransition(ruleID string, active bool) Alert {
	state := "inactive"
	level := AlertInfo
	if active {
		state = "active"
		level = AlertWarning
	}
	return Alert{
		Level:   level,
		Title:   "rule " + ruleID + " " + state,
		Message: fmt.Sprintf("rule %s transitioned to %s", ruleID, state),
		RuleID:  ruleID,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
