package provisioning

import (
	"encoding/json"
	"testing"
)

func TestDecodeSiteCreated_Pool(t *testing.T) {
	raw := json.RawMessage(`{"id": 321, "wp_url": "https://a.example.com/", "wp_username": "admin", "wp_password": "pw", "s_hash": "h1", "is_pool": true}`)
	got, err := decodeSiteCreated(raw)
	if err != nil {
		t.Fatalf("decodeSiteCreated: %v", err)
	}
	pool, ok := got.(*PoolSiteCreated)
	if !ok {
		t.Fatalf("got %T, want *PoolSiteCreated", got)
	}
	if pool.SiteID != "321" {
		t.Errorf("SiteID = %q, want %q", pool.SiteID, "321")
	}
	if pool.Details.AdminURL != "https://a.example.com/wp-admin" {
		t.Errorf("AdminURL = %q", pool.Details.AdminURL)
	}
	if pool.Details.SHash != "h1" || pool.Details.Username != "admin" || pool.Details.Password != "pw" {
		t.Errorf("Details = %+v", pool.Details)
	}
}

func TestDecodeSiteCreated_Task(t *testing.T) {
	raw := json.RawMessage(`{"id": "77", "task_id": 9001, "is_pool": 0}`)
	got, err := decodeSiteCreated(raw)
	if err != nil {
		t.Fatalf("decodeSiteCreated: %v", err)
	}
	task, ok := got.(*TaskSiteCreated)
	if !ok {
		t.Fatalf("got %T, want *TaskSiteCreated", got)
	}
	if task.SiteID != "77" || task.TaskID != "9001" {
		t.Errorf("task = %+v", task)
	}
}

func TestDecodeSiteCreated_Legacy(t *testing.T) {
	raw := json.RawMessage(`{"site": {"site_id": 55, "url": "https://l.example.com"}, "task_id": "t-5"}`)
	got, err := decodeSiteCreated(raw)
	if err != nil {
		t.Fatalf("decodeSiteCreated: %v", err)
	}
	task, ok := got.(*TaskSiteCreated)
	if !ok {
		t.Fatalf("got %T, want *TaskSiteCreated", got)
	}
	if task.SiteID != "55" || task.TaskID != "t-5" {
		t.Errorf("task = %+v", task)
	}
	if task.Details.URL != "https://l.example.com" {
		t.Errorf("URL = %q", task.Details.URL)
	}
}

func TestDecodeSiteCreated_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no id", `{"is_pool": true}`},
		{"task without task id", `{"id": 1, "is_pool": false}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeSiteCreated(json.RawMessage(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeTaskStatus(t *testing.T) {
	ts, err := decodeTaskStatus(json.RawMessage(`{"status": "0", "wp_url": "https://done.example.com"}`))
	if err != nil {
		t.Fatalf("decodeTaskStatus: %v", err)
	}
	if ts.Code != TaskCodeCompleted {
		t.Errorf("Code = %d, want 0", ts.Code)
	}
	if ts.Details.URL != "https://done.example.com" {
		t.Errorf("URL = %q", ts.Details.URL)
	}

	if _, err := decodeTaskStatus(json.RawMessage(`{"wp_url": "x"}`)); err == nil {
		t.Error("expected error for missing status")
	}
}

func TestDecodeUpgrade_EmptyData(t *testing.T) {
	res, err := decodeUpgrade(nil)
	if err != nil {
		t.Fatalf("decodeUpgrade: %v", err)
	}
	if !res.Details.Empty() {
		t.Errorf("Details = %+v, want empty", res.Details)
	}
}
