package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = ".charlie.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, &ConfigError{Path: configPath, Err: fmt.Errorf("resolve path: %w", err)}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &ConfigError{Path: absPath, Err: fmt.Errorf("read file: %w", err)}
	}

	cfg, err := Parse(data, absPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses raw config bytes. path is used for error messages and for
// resolving relative paths in settings; it may be empty.
func Parse(data []byte, path string) (*Config, error) {
	cfg := Defaults()
	cfg.Path = path
	cfg.Fingerprint = Fingerprint(data)

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parse YAML: %w", err)}
	}

	// Empty file: no sections, default settings.
	if root.Kind == 0 || len(root.Content) == 0 {
		return cfg, nil
	}

	doc := root.Content[0]
	if doc.Kind == yaml.ScalarNode && doc.Tag == "!!null" {
		return cfg, nil
	}
	if doc.Kind != yaml.MappingNode {
		return nil, &ConfigError{Path: path, Line: doc.Line, Err: errors.New("top level must be a mapping of sections")}
	}

	seen := make(map[string]bool)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		keyNode, valNode := doc.Content[i], doc.Content[i+1]
		name := keyNode.Value
		if keyNode.Kind != yaml.ScalarNode || name == "" {
			return nil, &ConfigError{Path: path, Line: keyNode.Line, Err: errors.New("section name must be a non-empty string")}
		}
		if seen[name] {
			return nil, &ConfigError{Path: path, Section: name, Line: keyNode.Line, Err: errors.New("duplicate section")}
		}
		seen[name] = true

		if name == SettingsSection {
			interpolateNode(valNode)
			if err := valNode.Decode(&cfg.Settings); err != nil {
				return nil, &ConfigError{Path: path, Section: name, Line: valNode.Line, Err: err}
			}
			continue
		}

		section, err := decodeSection(name, valNode)
		if err != nil {
			return nil, &ConfigError{Path: path, Section: name, Line: valNode.Line, Err: err}
		}
		cfg.Sections = append(cfg.Sections, section)
	}

	resolveSettingsPaths(&cfg.Settings, filepath.Dir(path))

	if err := validate(cfg); err != nil {
		return nil, &ConfigError{Path: path, Section: SettingsSection, Err: err}
	}
	return cfg, nil
}

// decodeSection converts a mapping of scalars into a Section.
func decodeSection(name string, node *yaml.Node) (Section, error) {
	section := Section{Name: name, Line: node.Line, Keys: make(map[string]string)}

	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return section, nil
	}
	if node.Kind != yaml.MappingNode {
		return section, errors.New("section must be a mapping of keys to values")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return section, fmt.Errorf("line %d: key must be a string", k.Line)
		}
		if _, dup := section.Keys[k.Value]; dup {
			return section, fmt.Errorf("line %d: duplicate key %q", k.Line, k.Value)
		}
		if v.Kind != yaml.ScalarNode {
			return section, fmt.Errorf("line %d: value of %q must be a scalar", v.Line, k.Value)
		}
		value := v.Value
		if v.Tag == "!!null" {
			value = ""
		}
		section.Keys[k.Value] = value
	}
	return section, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $CHARLIE_CONFIG, ./.charlie.yaml, ~/.charlie.yaml, ~/.config/charlie/config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("CHARLIE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName, nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		for _, p := range []string{
			filepath.Join(homeDir, DefaultFileName),
			filepath.Join(homeDir, ".config", "charlie", "config.yaml"),
		} {
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", fmt.Errorf("no config found (checked: $CHARLIE_CONFIG, ./%s, ~/%s, ~/.config/charlie/config.yaml)", DefaultFileName, DefaultFileName)
}

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func resolveSettingsPaths(s *Settings, baseDir string) {
	s.HistoryPath = resolvePath(s.HistoryPath, baseDir)
	s.LogFile = resolvePath(s.LogFile, baseDir)
}

func resolvePath(p, baseDir string) string {
	if p == "" {
		return ""
	}
	if expanded, err := ExpandHome(p); err == nil {
		p = expanded
	}
	if !filepath.IsAbs(p) && baseDir != "" && baseDir != "." {
		p = filepath.Join(baseDir, p)
	}
	return p
}

// interpolateNode expands ${VAR} in every scalar under n. Only settings are
// interpolated: job values belong to the shell and are kept verbatim.
func interpolateNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		n.Value = interpolateEnv(n.Value)
		return
	}
	for _, c := range n.Content {
		interpolateNode(c)
	}
}

// interpolateEnv replaces ${VAR} with the environment value, leaving unknown
// placeholders in place.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the settings.
func validate(cfg *Config) error {
	s := cfg.Settings

	if s.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if s.DrainCap <= 0 {
		return fmt.Errorf("drain_cap must be positive (got %d)", s.DrainCap)
	}
	if s.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative")
	}
	if len(s.Shell) == 0 || strings.TrimSpace(s.Shell[0]) == "" {
		return fmt.Errorf("shell must name an executable")
	}
	if err := ValidateEncoding(s.Encoding); err != nil {
		return err
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(s.LogLevel)] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", s.LogLevel)
	}
	if s.LogFormat != "json" && s.LogFormat != "text" {
		return fmt.Errorf("log_format must be json or text (got %q)", s.LogFormat)
	}

	if s.API.Enabled {
		if s.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if m := envVarPattern.FindStringSubmatch(s.API.APIKey); len(m) > 1 {
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", m[1])
		}
	}
	return nil
}

// ValidateEncoding checks that name is a known, ASCII-compatible encoding.
// Output is split on '\n' bytes before decoding, so UTF-16 cannot be used.
func ValidateEncoding(name string) error {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", name, err)
	}
	switch canonical {
	case "utf-16be", "utf-16le", "replacement":
		return fmt.Errorf("encoding %q is not ASCII-compatible", name)
	}
	return nil
}
