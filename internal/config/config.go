package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Armory configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Engine
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Context store
	Context ContextConfig `json:"context" mapstructure:"context"`

	// Event publisher
	Events EventsConfig `json:"events" mapstructure:"events"`

	// Execution history
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tool configuration
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host  string `json:"host" mapstructure:"host"`
	Port  int    `json:"port" mapstructure:"port"`
	Name  string `json:"name" mapstructure:"name"`
	Debug bool   `json:"debug" mapstructure:"debug"`
}

// EngineConfig holds execution engine configuration
type EngineConfig struct {
	MaxInFlight     int `json:"max_in_flight" mapstructure:"max_in_flight"`
	DefaultTimeout  int `json:"default_timeout" mapstructure:"default_timeout"`   // seconds
	SyncWait        int `json:"sync_wait" mapstructure:"sync_wait"`               // milliseconds
	RecordRetention int `json:"record_retention" mapstructure:"record_retention"` // minutes
}

// ContextConfig holds context store configuration
type ContextConfig struct {
	TTL           int `json:"ttl" mapstructure:"ttl"`                       // minutes
	SweepInterval int `json:"sweep_interval" mapstructure:"sweep_interval"` // seconds
}

// EventsConfig holds event publisher configuration
type EventsConfig struct {
	BufferCapacity int `json:"buffer_capacity" mapstructure:"buffer_capacity"`
}

// HistoryConfig holds execution archive configuration
type HistoryConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	DBPath    string `json:"db_path" mapstructure:"db_path"`
	Retention int    `json:"retention" mapstructure:"retention"` // days
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ToolsConfig holds per-tool configuration settings
type ToolsConfig struct {
	ConfigDir string `json:"config_dir" mapstructure:"config_dir"`
	// HotReload re-applies a tool's config file when it changes on
	// disk. Meant for debug runs; rate-limit policy stays fixed for a
	// process lifetime regardless.
	HotReload bool `json:"hot_reload" mapstructure:"hot_reload"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Name: "agent-armory",
		},
		Engine: EngineConfig{
			MaxInFlight:     64,
			DefaultTimeout:  60,
			SyncWait:        2000,
			RecordRetention: 60,
		},
		Context: ContextConfig{
			TTL:           30,
			SweepInterval: 60,
		},
		Events: EventsConfig{
			BufferCapacity: 256,
		},
		History: HistoryConfig{
			Enabled:   true,
			Retention: 7,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Tools: ToolsConfig{},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Engine.MaxInFlight < 0 {
		return fmt.Errorf("engine max_in_flight cannot be negative")
	}
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine default_timeout must be positive")
	}
	if c.Context.TTL <= 0 {
		return fmt.Errorf("context ttl must be positive")
	}
	if c.Context.SweepInterval <= 0 {
		return fmt.Errorf("context sweep_interval must be positive")
	}
	if c.Events.BufferCapacity <= 0 {
		return fmt.Errorf("events buffer_capacity must be positive")
	}
	if c.History.Enabled && c.History.Retention <= 0 {
		return fmt.Errorf("history retention must be positive when history is enabled")
	}
	return nil
}
