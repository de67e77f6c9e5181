package config

import (
	"runtime"
	"strings"
	"time"
)

// SettingsSection is the reserved section holding runner settings.
const SettingsSection = "charlie"

// JobPrefix marks sections that define tasks.
const JobPrefix = "job."

// Config represents a loaded .charlie.yaml.
type Config struct {
	Settings Settings `yaml:"charlie"`

	// Sections holds every top-level section except the settings section,
	// in file order.
	Sections []Section `yaml:"-"`

	// Path is the absolute path the config was read from.
	Path string `yaml:"-"`

	// Fingerprint is "blake3:<hex>" of the raw file contents.
	Fingerprint string `yaml:"-"`
}

// Section is one named block of scalar key/value pairs.
type Section struct {
	Name string
	Line int
	Keys map[string]string
}

// Settings defines runner behavior. Every field has a default.
type Settings struct {
	TickInterval       time.Duration `yaml:"tick_interval"`
	DrainCap           int           `yaml:"drain_cap"`
	Encoding           string        `yaml:"encoding"`
	Shell              []string      `yaml:"shell,omitempty"`
	GracePeriod        time.Duration `yaml:"grace_period"`
	TerminateOnReplace bool          `yaml:"terminate_on_replace"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
	LogFile            string        `yaml:"log_file,omitempty"`
	HistoryPath        string        `yaml:"history_path,omitempty"`
	API                APIConfig     `yaml:"api,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// APIKey is a single bearer token. Empty disables auth.
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config with default settings and no sections.
func Defaults() *Config {
	return &Config{
		Settings: DefaultSettings(),
	}
}

// DefaultSettings returns the default runner settings.
func DefaultSettings() Settings {
	return Settings{
		TickInterval: 5 * time.Millisecond,
		DrainCap:     100,
		Encoding:     "utf-8",
		Shell:        DefaultShell(),
		GracePeriod:  5 * time.Second,
		LogLevel:     "info",
		LogFormat:    "json",
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8321",
		},
	}
}

// DefaultShell returns the host shell invocation used to run command lines.
func DefaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"/bin/sh", "-c"}
}

// JobSections returns the sections that define tasks, in file order.
func (c *Config) JobSections() []Section {
	var out []Section
	for _, s := range c.Sections {
		if strings.HasPrefix(s.Name, JobPrefix) {
			out = append(out, s)
		}
	}
	return out
}
