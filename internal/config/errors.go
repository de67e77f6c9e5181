package config

import "fmt"

// ConfigError reports an unreadable or malformed task source.
type ConfigError struct {
	Path    string
	Section string
	Line    int
	Err     error
}

func (e *ConfigError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Section != "" {
		if loc == "" {
			return fmt.Sprintf("config [%s]: %v", e.Section, e.Err)
		}
		return fmt.Sprintf("config %s [%s]: %v", loc, e.Section, e.Err)
	}
	if loc == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", loc, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
