package telemetry

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zulandar/siteyard/internal/config"
)

func TestNewLogger_JSONWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(config.LogConfig{Level: "info"}, &buf, false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Infow("site created", "site", "900")
	log.Debugw("hidden")
	_ = log.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1 (debug filtered): %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "site created" || entry["site"] != "900" || entry["level"] != "info" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewLogger_ConsoleOnTTY(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(config.LogConfig{Level: "debug"}, &buf, true)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debugw("sweep tick")
	_ = log.Sync()
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected console output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "sweep tick") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNewLogger_ExplicitFormatWins(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(config.LogConfig{Level: "info", Format: "json"}, &buf, true)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("hello")
	_ = log.Sync()
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON, got %q", buf.String())
	}
}

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siteyard.log")
	var buf bytes.Buffer
	log, err := newLogger(config.LogConfig{Level: "info", File: path}, &buf, false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("to both")
	_ = log.Sync()
	if !strings.Contains(buf.String(), "to both") {
		t.Error("stdout missing entry")
	}
}

func TestNewLogger_BadLevel(t *testing.T) {
	if _, err := newLogger(config.LogConfig{Level: "loud"}, &bytes.Buffer{}, false); err == nil {
		t.Error("expected error for bad level")
	}
}

func TestNewMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("siteyard", reg)

	m.SitesCreated.WithLabelValues("pool").Inc()
	m.PollUnknownStatus.Inc()
	m.RemoteCalls.WithLabelValues("create_site", "ok").Add(2)

	if got := testutil.ToFloat64(m.SitesCreated.WithLabelValues("pool")); got != 1 {
		t.Errorf("sites_created_total{pool} = %v", got)
	}
	if got := testutil.ToFloat64(m.RemoteCalls.WithLabelValues("create_site", "ok")); got != 2 {
		t.Errorf("remote_calls_total = %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"siteyard_sites_created_total", "siteyard_poll_unknown_status_total", "siteyard_remote_calls_total"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestNewMetrics_NilRegistererIsolated(t *testing.T) {
	a := NewMetrics("x", nil)
	b := NewMetrics("x", nil)
	a.DemoConversions.Inc()
	if testutil.ToFloat64(b.DemoConversions) != 0 {
		t.Error("unregistered metrics should not share state")
	}
}
