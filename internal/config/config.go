// Package config provides YAML-based configuration loading for Siteyard.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file.
const (
	EnvAPIKey       = "SITEYARD_API_KEY"
	EnvDBPassword   = "SITEYARD_DB_PASSWORD"
	EnvSlackToken   = "SITEYARD_SLACK_TOKEN"
	EnvDiscordToken = "SITEYARD_DISCORD_TOKEN"
)

// Config is the top-level Siteyard configuration, loaded from siteyard.yaml.
type Config struct {
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Database     DatabaseConfig     `yaml:"database"`
	AutoCreate   bool               `yaml:"auto_create"`
	Orders       OrdersConfig       `yaml:"orders"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Products     []ProductConfig    `yaml:"products" validate:"dive"`
}

// ProvisioningConfig holds settings for the remote provisioning API.
type ProvisioningConfig struct {
	BaseURL              string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey               string        `yaml:"api_key"`
	Timeout              time.Duration `yaml:"timeout"`
	RatePerSecond        float64       `yaml:"rate_per_second" validate:"gte=0"`
	TemporaryExpiryHours int           `yaml:"temporary_expiry_hours" validate:"gte=0"`
	DemoExpiryHours      int           `yaml:"demo_expiry_hours" validate:"gte=0"`
}

// DatabaseConfig selects and addresses the site record store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=mysql sqlite"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
}

// OrdersConfig tunes the order event adapter.
type OrdersConfig struct {
	// ClaimTimeout is how long a "processing" claim is honoured before
	// another delivery may reclaim the order.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
}

// SweepConfig schedules the pending-task reconciliation sweep.
type SweepConfig struct {
	Schedule string `yaml:"schedule"`
	Disabled bool   `yaml:"disabled"`
}

// ServerConfig holds HTTP ingress settings.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
	File   string `yaml:"file"`
}

// MetricsConfig controls Prometheus metric naming.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// AlertsConfig configures operator alert sinks. Empty tokens disable a sink.
type AlertsConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig addresses one chat channel.
type ChatConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Enabled reports whether both token and channel are set.
func (c ChatConfig) Enabled() bool {
	return c.Token != "" && c.Channel != ""
}

// ProductConfig maps a commerce product to the snapshot it provisions.
type ProductConfig struct {
	ProductID   string `yaml:"product_id" validate:"required"`
	Snapshot    string `yaml:"snapshot" validate:"required"`
	Plan        string `yaml:"plan"`
	SiteType    string `yaml:"site_type" validate:"omitempty,oneof=demo paid"`
	ExpiryHours *int   `yaml:"expiry_hours" validate:"omitempty,gt=0"`
}

// Product returns the product configuration for productID, if any.
func (c *Config) Product(productID string) (ProductConfig, bool) {
	for _, p := range c.Products {
		if p.ProductID == productID {
			return p, true
		}
	}
	return ProductConfig{}, false
}

var validate = validator.New()

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the working directory is loaded first, when present,
// so that secrets can stay out of the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets environment variables override secrets.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Provisioning.APIKey = v
	}
	if v := os.Getenv(EnvDBPassword); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(EnvSlackToken); v != "" {
		c.Alerts.Slack.Token = v
	}
	if v := os.Getenv(EnvDiscordToken); v != "" {
		c.Alerts.Discord.Token = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Provisioning.Timeout == 0 {
		c.Provisioning.Timeout = 30 * time.Second
	}
	if c.Provisioning.RatePerSecond == 0 {
		c.Provisioning.RatePerSecond = 5
	}
	if c.Provisioning.TemporaryExpiryHours == 0 {
		c.Provisioning.TemporaryExpiryHours = 24
	}
	if c.Provisioning.DemoExpiryHours == 0 {
		c.Provisioning.DemoExpiryHours = 48
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "siteyard.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "siteyard"
		}
	}
	if c.Orders.ClaimTimeout == 0 {
		c.Orders.ClaimTimeout = 10 * time.Minute
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "*/5 * * * *"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "siteyard"
	}
	for i := range c.Products {
		if c.Products[i].SiteType == "" {
			c.Products[i].SiteType = "paid"
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s failed %q", yamlPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}
	seen := make(map[string]bool)
	for i, p := range c.Products {
		if p.ProductID != "" && seen[p.ProductID] {
			errs = append(errs, fmt.Sprintf("products[%d].product_id %q is duplicated", i, p.ProductID))
		}
		seen[p.ProductID] = true
	}
	if _, err := ParseSchedule(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("sweep.schedule %q is not a valid cron expression", c.Sweep.Schedule))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// yamlPath turns "Config.Products[0].Snapshot" into "products[0].snapshot".
func yamlPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '[' {
				prev := rune(s[i-1])
				if prev >= 'a' && prev <= 'z' {
					b.WriteByte('_')
				}
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
