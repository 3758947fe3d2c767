// Package alert delivers operator alerts to chat channels.
package alert

import (
	"context"
	"errors"
	"sort"

	"github.com/zulandar/siteyard/internal/config"
)

// Severity levels.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Sidebar colors per severity.
const (
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Alert is a single operator notification.
type Alert struct {
	Title    string
	Body     string
	Severity string
	Fields   map[string]string
}

// Notifier sends alerts somewhere an operator will see them.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// New builds a Notifier from config: Slack and/or Discord when configured,
// Nop otherwise.
func New(cfg config.AlertsConfig) (Notifier, error) {
	var sinks []Notifier
	if cfg.Slack.Enabled() {
		sinks = append(sinks, NewSlack(cfg.Slack.Token, cfg.Slack.Channel))
	}
	if cfg.Discord.Enabled() {
		d, err := NewDiscord(cfg.Discord.Token, cfg.Discord.Channel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	switch len(sinks) {
	case 0:
		return Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return Multi(sinks), nil
	}
}

// Nop discards alerts.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Alert) error { return nil }

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func severityColor(severity string) string {
	switch severity {
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// sortedKeys returns field names in a stable order for rendering.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
