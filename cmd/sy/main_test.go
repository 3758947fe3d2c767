package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/zulandar/siteyard/internal/config"
	"github.com/zulandar/siteyard/internal/db"
	"gorm.io/gorm"
)

// runCmd executes the root command with args and returns its output.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeTestConfig writes a config pointing at a fresh SQLite file, migrates
// it, and returns the config path and an open handle for seeding.
func writeTestConfig(t *testing.T) (string, *gorm.DB) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sy.db")
	cfgPath := filepath.Join(dir, "siteyard.yaml")
	yaml := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\nlog:\n  level: error\n", dbPath)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: dbPath})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return cfgPath, gormDB
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "sy dev") {
		t.Errorf("expected output to contain 'sy dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "sy 1.0.0") || !strings.Contains(out, "commit: abc123") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	if !strings.Contains(out, "Siteyard") {
		t.Errorf("expected help output to contain 'Siteyard', got: %s", out)
	}
	for _, sub := range []string{"version", "db", "serve", "sweep", "site", "order"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestRootCmdNoArgs(t *testing.T) {
	if _, err := runCmd(t); err != nil {
		t.Fatalf("root command with no args failed: %v", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	if code := execute(newRootCmd()); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestExecuteError(t *testing.T) {
	cmd := &cobra.Command{
		Use:           "failing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("intentional error")
		},
	}
	if code := execute(cmd); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestNewVersionCmdOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	cmd.Run(cmd, nil)

	expected := "sy dev (commit: none, built: unknown)\n"
	if got := buf.String(); got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestNewApp_WithoutAPIKey(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	a, err := newApp(cfgPath)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()
	if a.engine == nil || a.orders == nil || a.subs == nil || a.registry == nil {
		t.Errorf("app not fully wired: %+v", a)
	}
}
