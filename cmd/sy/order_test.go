package main

import (
	"strings"
	"testing"
)

func TestOrderCreateSitesCmd_Help(t *testing.T) {
	out, err := runCmd(t, "order", "create-sites", "--help")
	if err != nil {
		t.Fatalf("order create-sites --help failed: %v", err)
	}
	if !strings.Contains(out, "auto_create") || !strings.Contains(out, "--config") {
		t.Errorf("help = %q", out)
	}
}

func TestOrderCreateSitesCmd_UnknownOrder(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := runCmd(t, "order", "create-sites", "nope", "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSweepCmd_NeedsAPIKey(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	out, err := runCmd(t, "sweep", "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "api key is not configured") {
		t.Errorf("err = %v, want missing api key", err)
	}
	if !strings.Contains(out, "Checked 0") {
		t.Errorf("output = %q", out)
	}
}

func TestServeCmd_Help(t *testing.T) {
	out, err := runCmd(t, "serve", "--help")
	if err != nil {
		t.Fatalf("serve --help failed: %v", err)
	}
	if !strings.Contains(out, "webhooks") || !strings.Contains(out, "--port") {
		t.Errorf("help = %q", out)
	}
}

func TestServeCmd_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "serve", "-c", "/nonexistent/siteyard.yaml")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v", err)
	}
}
