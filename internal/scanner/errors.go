package scanner

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a scan request that names an unknown profile.
type ConfigurationError struct {
	Profile   string
	Available []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown scan profile %q (available: %s)", e.Profile, strings.Join(e.Available, ", "))
}

// ParseError reports scanner output that is not a usable nmap XML document.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return "parse nmap xml: " + e.Err.Error()
	}
	return fmt.Sprintf("parse nmap xml %s: %s", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
