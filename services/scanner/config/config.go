// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the scanner service configuration.
//
// Precedence: built-in defaults < YAML file < SENTINEL_* environment
// variables. The Live wrapper watches the file and hot-reloads the policy
// section, so allowSecretReveal can be flipped without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// AuthConfig holds the optional bearer token. Empty disables auth.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// SourceConfig tunes the content source client.
type SourceConfig struct {
	BaseURL string `yaml:"baseUrl"`

	// RateLimit is the maximum source requests per second.
	RateLimit float64 `yaml:"rateLimit" validate:"gt=0"`

	// RetryAttempts bounds retries on transient source failures.
	RetryAttempts int `yaml:"retryAttempts" validate:"gte=0,lte=10"`
}

// PiiContextConfig sizes the masked context windows.
type PiiContextConfig struct {
	MaxLength  int `yaml:"maxLength" validate:"gt=0"`
	SideLength int `yaml:"sideLength" validate:"gt=0"`
}

// AttachmentConfig controls which attachments are analyzed.
type AttachmentConfig struct {
	ExtractableExtensions []string `yaml:"extractableExtensions" validate:"min=1"`
}

// ScanConfig tunes scan execution.
type ScanConfig struct {
	// Timeout bounds a whole scan. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`

	// KeepaliveInterval is the idle-stream liveness tick.
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval" validate:"gt=0"`

	// GraceTimeout bounds the in-flight flush after cancellation.
	GraceTimeout time.Duration `yaml:"graceTimeout" validate:"gt=0"`
}

// AuditConfig tunes the reveal audit trail.
type AuditConfig struct {
	RetentionDays int           `yaml:"retentionDays" validate:"gt=0"`
	PurgeSchedule time.Duration `yaml:"purgeSchedule" validate:"gt=0"`
}

// PolicyConfig holds the hot-reloadable policy switches.
type PolicyConfig struct {
	AllowSecretReveal bool `yaml:"allowSecretReveal"`
}

// StorageConfig selects and configures the store backend.
type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=badger postgres"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgresDSN"`
}

// DetectorConfig points at the external PII detection service.
type DetectorConfig struct {
	URL      string `yaml:"url"`
	Language string `yaml:"language"`
}

// Config is the root configuration of the scanner service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Source     SourceConfig     `yaml:"source"`
	PiiContext PiiContextConfig `yaml:"piiContext"`
	Attachment AttachmentConfig `yaml:"attachment"`
	Scan       ScanConfig       `yaml:"scan"`
	Audit      AuditConfig      `yaml:"audit"`
	Policy     PolicyConfig     `yaml:"policy"`
	Storage    StorageConfig    `yaml:"storage"`
	Detector   DetectorConfig   `yaml:"detector"`

	// EncryptionKey seeds the PII cipher. Env-only (SENTINEL_ENCRYPTION_KEY);
	// never written to or read from the YAML file.
	EncryptionKey string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 12310},
		Source: SourceConfig{RateLimit: 5, RetryAttempts: 3},
		PiiContext: PiiContextConfig{
			MaxLength:  200,
			SideLength: 80,
		},
		Attachment: AttachmentConfig{
			ExtractableExtensions: []string{
				"pdf", "doc", "docx", "ppt", "pptx", "xls", "xlsx",
				"rtf", "odt", "ods", "odp", "txt", "csv", "html", "htm",
			},
		},
		Scan: ScanConfig{
			KeepaliveInterval: 15 * time.Second,
			GraceTimeout:      5 * time.Second,
		},
		Audit: AuditConfig{
			RetentionDays: 730,
			PurgeSchedule: 24 * time.Hour,
		},
		Policy: PolicyConfig{AllowSecretReveal: false},
		Storage: StorageConfig{
			Backend: "badger",
			Path:    "~/.sentinel/db",
		},
		Detector: DetectorConfig{Language: "fr"},
	}
}

// Load reads the file at path on top of the defaults and applies the
// environment overrides. A missing file is not an error: defaults plus
// environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fine, defaults apply
		case err != nil:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays SENTINEL_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SENTINEL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("SENTINEL_SOURCE_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SENTINEL_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SENTINEL_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("SENTINEL_DETECTOR_URL"); v != "" {
		cfg.Detector.URL = v
	}
	if v := os.Getenv("SENTINEL_ALLOW_SECRET_REVEAL"); v != "" {
		if allow, err := strconv.ParseBool(v); err == nil {
			cfg.Policy.AllowSecretReveal = allow
		}
	}
	if v := os.Getenv("SENTINEL_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
}

// normalize fixes up values that are individually valid but mutually
// inconsistent.
func (c *Config) normalize() {
	// A side window must fit twice into the total window, otherwise the
	// two sides alone would overflow it.
	if c.PiiContext.MaxLength < 2*c.PiiContext.SideLength {
		c.PiiContext.SideLength = c.PiiContext.MaxLength / 2
		if c.PiiContext.SideLength < 1 {
			c.PiiContext.SideLength = 1
		}
	}
	for i, ext := range c.Attachment.ExtractableExtensions {
		c.Attachment.ExtractableExtensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	c.Storage.Path = expandPath(c.Storage.Path)
}

// Validate checks the configuration against the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("invalid configuration: storage.postgresDSN is required for the postgres backend")
	}
	return nil
}

// RetentionPeriod converts the retention setting to a duration.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
