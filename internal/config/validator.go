package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidateToolName validates a tool name
func (v *Validator) ValidateToolName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid tool name %q (lowercase letters, digits, _ and - only)", name)
	}
	return nil
}

// ValidateRateLimitMode validates a rate limit mode
func (v *Validator) ValidateRateLimitMode(mode string) error {
	if mode == "" {
		return nil
	}
	if mode != "reject" && mode != "queue" {
		return fmt.Errorf("invalid rate limit mode %q (must be: reject, queue)", mode)
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, vl := range validLevels {
		if level == vl {
			return nil
		}
	}
	return fmt.Errorf("invalid log level %q (must be: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP port number
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	return nil
}

// ValidateToolConfig validates one tool's loaded configuration
func (v *Validator) ValidateToolConfig(tool string, cfg *ToolConfig) []error {
	var errs []error

	if err := v.ValidateToolName(tool); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateRateLimitMode(cfg.RateLimit.Mode); err != nil {
		errs = append(errs, fmt.Errorf("tool %s: %w", tool, err))
	}
	if cfg.RateLimit.Capacity < 0 {
		errs = append(errs, fmt.Errorf("tool %s: rate limit capacity cannot be negative", tool))
	}
	if cfg.RateLimit.RefillRate < 0 {
		errs = append(errs, fmt.Errorf("tool %s: rate limit refill rate cannot be negative", tool))
	}
	if cfg.RateLimit.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("tool %s: queue depth cannot be negative", tool))
	}
	if cfg.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tool %s: timeout cannot be negative", tool))
	}
	if cfg.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("tool %s: max_concurrent cannot be negative", tool))
	}

	return errs
}

// ValidateConfig validates a full configuration
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if cfg.Logging.Level != "" {
		if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging: %w", err))
		}
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errs
}
