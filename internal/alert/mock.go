package alert

import (
	"context"
	"sync"
)

// MockNotifier records alerts for tests.
type MockNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	Err    error
}

// Notify implements Notifier.
func (m *MockNotifier) Notify(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return m.Err
}

// Alerts returns a copy of the recorded alerts.
func (m *MockNotifier) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
