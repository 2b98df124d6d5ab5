package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ToolRateLimit mirrors the registry's rate-limit policy in file form
type ToolRateLimit struct {
	Capacity   float64 `json:"capacity" mapstructure:"capacity"`
	RefillRate float64 `json:"refill_rate" mapstructure:"refill_rate"`
	Mode       string  `json:"mode" mapstructure:"mode"`
	QueueDepth int     `json:"queue_depth" mapstructure:"queue_depth"`
}

// ToolConfig is one tool's configuration file, <config_dir>/<tool>.yaml
type ToolConfig struct {
	RateLimit     ToolRateLimit          `json:"rate_limit" mapstructure:"rate_limit"`
	Timeout       int                    `json:"timeout" mapstructure:"timeout"` // seconds
	MaxConcurrent int                    `json:"max_concurrent" mapstructure:"max_concurrent"`
	RequiredEnv   []string               `json:"required_env" mapstructure:"required_env"`
	Settings      map[string]interface{} `json:"settings" mapstructure:"settings"`
}

// LoadToolConfig reads one tool's yaml config and applies environment
// overrides of the form TOOLNAME__KEY (tool name uppercased, dashes as
// underscores). A missing file yields an empty config, overrides still
// applied.
func LoadToolConfig(dir, tool string) (*ToolConfig, error) {
	cfg := &ToolConfig{Settings: make(map[string]interface{})}

	path := filepath.Join(dir, tool+".yaml")
	if _, err := os.Stat(path); err == nil {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read tool config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool config %s: %w", path, err)
		}
		if cfg.Settings == nil {
			cfg.Settings = make(map[string]interface{})
		}
	}

	applyEnvOverrides(cfg, tool)
	return cfg, nil
}

// LoadToolConfigs reads every *.yaml file in dir, keyed by tool name.
// A missing directory is not an error; it just means no tool has file
// configuration.
func LoadToolConfigs(dir string) (map[string]*ToolConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*ToolConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read tool config directory: %w", err)
	}

	configs := make(map[string]*ToolConfig)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		tool := strings.TrimSuffix(entry.Name(), ".yaml")
		cfg, err := LoadToolConfig(dir, tool)
		if err != nil {
			return nil, err
		}
		configs[tool] = cfg
	}
	return configs, nil
}

// applyEnvOverrides merges TOOLNAME__KEY environment variables into the
// settings map. The key part is lowercased; values stay strings and
// are interpreted by the tool through the typed getters.
func applyEnvOverrides(cfg *ToolConfig, tool string) {
	prefix := strings.ToUpper(strings.ReplaceAll(tool, "-", "_")) + "__"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		rest := strings.TrimPrefix(kv, prefix)
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			continue
		}
		key := strings.ToLower(rest[:eq])
		cfg.Settings[key] = rest[eq+1:]
	}
}

// GetString returns a settings value as string, or def when absent.
func (c *ToolConfig) GetString(key, def string) string {
	raw, ok := c.Settings[key]
	if !ok {
		return def
	}
	return fmt.Sprintf("%v", raw)
}

// GetInt returns a settings value as int, or def when absent or not a
// number.
func (c *ToolConfig) GetInt(key string, def int) int {
	raw, ok := c.Settings[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetBool returns a settings value as bool, or def when absent or not
// parseable.
func (c *ToolConfig) GetBool(key string, def bool) bool {
	raw, ok := c.Settings[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// GetFloat returns a settings value as float64, or def when absent or
// not a number.
func (c *ToolConfig) GetFloat(key string, def float64) float64 {
	raw, ok := c.Settings[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
