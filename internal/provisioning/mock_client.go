package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Call records one invocation on MockClient.
type Call struct {
	Op     string
	SiteID string
	Arg    string
}

// MockClient implements Client for tests. Each operation consults the
// matching Func field when set; otherwise it answers with a successful
// default. Every call is recorded.
type MockClient struct {
	mu    sync.Mutex
	calls []Call
	seq   int

	CreateSiteFunc        func(snapshotRef string, params SiteParams) (SiteCreated, error)
	GetTaskStatusFunc     func(taskID string) (TaskStatus, error)
	UpdateSiteFunc        func(siteID string, update SiteUpdate) (json.RawMessage, error)
	UpgradePlanFunc       func(siteID, planID string) (UpgradeResult, error)
	DisableDemoHelperFunc func(siteID, siteURLHint string) error
	DeleteSiteFunc        func(siteID string) error
	AddDomainFunc         func(siteID, domain, domainType string) (DomainResult, error)
}

// NewMockClient returns a MockClient with default behaviour.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) record(op, siteID, arg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: op, SiteID: siteID, Arg: arg})
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times op was invoked.
func (m *MockClient) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// CreateSite returns a task-based site with a sequential id by default.
func (m *MockClient) CreateSite(ctx context.Context, snapshotRef string, params SiteParams) (SiteCreated, error) {
	m.record("CreateSite", "", snapshotRef)
	if m.CreateSiteFunc != nil {
		return m.CreateSiteFunc(snapshotRef, params)
	}
	m.mu.Lock()
	m.seq++
	n := m.seq
	m.mu.Unlock()
	return &TaskSiteCreated{
		SiteID:  fmt.Sprintf("%d", 1000+n),
		TaskID:  fmt.Sprintf("task-%d", n),
		Payload: json.RawMessage(`{}`),
	}, nil
}

// GetTaskStatus reports a running task by default.
func (m *MockClient) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	m.record("GetTaskStatus", "", taskID)
	if m.GetTaskStatusFunc != nil {
		return m.GetTaskStatusFunc(taskID)
	}
	return TaskStatus{Code: TaskCodeRunning, Payload: json.RawMessage(`{"status":1}`)}, nil
}

// UpdateSite succeeds by default.
func (m *MockClient) UpdateSite(ctx context.Context, siteID string, update SiteUpdate) (json.RawMessage, error) {
	m.record("UpdateSite", siteID, fmt.Sprintf("reserved=%t", update.IsReserved))
	if m.UpdateSiteFunc != nil {
		return m.UpdateSiteFunc(siteID, update)
	}
	return json.RawMessage(`{}`), nil
}

// UpgradePlan succeeds by default.
func (m *MockClient) UpgradePlan(ctx context.Context, siteID, planID string) (UpgradeResult, error) {
	m.record("UpgradePlan", siteID, planID)
	if m.UpgradePlanFunc != nil {
		return m.UpgradePlanFunc(siteID, planID)
	}
	return UpgradeResult{PlanID: planID, Payload: json.RawMessage(`{}`)}, nil
}

// DisableDemoHelper succeeds by default.
func (m *MockClient) DisableDemoHelper(ctx context.Context, siteID, siteURLHint string) error {
	m.record("DisableDemoHelper", siteID, siteURLHint)
	if m.DisableDemoHelperFunc != nil {
		return m.DisableDemoHelperFunc(siteID, siteURLHint)
	}
	return nil
}

// DeleteSite succeeds by default.
func (m *MockClient) DeleteSite(ctx context.Context, siteID string) error {
	m.record("DeleteSite", siteID, "")
	if m.DeleteSiteFunc != nil {
		return m.DeleteSiteFunc(siteID)
	}
	return nil
}

// AddDomain succeeds by default.
func (m *MockClient) AddDomain(ctx context.Context, siteID, domain, domainType string) (DomainResult, error) {
	m.record("AddDomain", siteID, domain)
	if m.AddDomainFunc != nil {
		return m.AddDomainFunc(siteID, domain, domainType)
	}
	return DomainResult{Domain: domain, Status: "pending", Payload: json.RawMessage(`{}`)}, nil
}
