package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ReportsConfig struct {
	Directory string   `yaml:"directory"`
	Formats   []string `yaml:"formats"`
	// FontPath is a TrueType font for PDF output. Empty means search the
	// usual system locations.
	FontPath string `yaml:"font_path"`
}

type ScanConfig struct {
	DefaultTarget  string        `yaml:"default_target"`
	DefaultProfile string        `yaml:"default_profile"`
	Timeout        time.Duration `yaml:"timeout"`
	ScansDir       string        `yaml:"scans_dir"`
	NmapPath       string        `yaml:"nmap_path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Console    bool   `yaml:"console"`
	File       bool   `yaml:"file"`
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RiskConfig struct {
	ServiceOverrides map[string]int `yaml:"service_overrides"`
	BackdoorPorts    []int          `yaml:"backdoor_ports"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Reports  ReportsConfig  `yaml:"reports"`
	Scan     ScanConfig     `yaml:"scan"`
	Logging  LoggingConfig  `yaml:"logging"`
	Risk     RiskConfig     `yaml:"risk"`
}

// ReportFormats lists the formats the report writers understand.
var ReportFormats = []string{"json", "markdown", "pdf"}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "data/surfacewatch.db",
		},
		Reports: ReportsConfig{
			Directory: "./reports",
			Formats:   []string{"json", "markdown"},
		},
		Scan: ScanConfig{
			DefaultTarget:  "127.0.0.1",
			DefaultProfile: "fast",
			Timeout:        5 * time.Minute,
			ScansDir:       "./scans",
			NmapPath:       "nmap",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			File:       false,
			Directory:  "./logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	for _, f := range c.Reports.Formats {
		if !knownFormat(f) {
			errs = append(errs, fmt.Errorf("reports.formats: unknown format %q (want one of %s)", f, strings.Join(ReportFormats, ", ")))
		}
	}
	if c.Scan.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scan.timeout: must be positive, got %s", c.Scan.Timeout))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	for svc, score := range c.Risk.ServiceOverrides {
		if score < 0 || score > 10 {
			errs = append(errs, fmt.Errorf("risk.service_overrides.%s: %d outside 0-10", svc, score))
		}
	}
	for _, p := range c.Risk.BackdoorPorts {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("risk.backdoor_ports: %d out of range", p))
		}
	}
	return errors.Join(errs...)
}

func knownFormat(f string) bool {
	for _, k := range ReportFormats {
		if f == k {
			return true
		}
	}
	return false
}
