package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Armory Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Server
	fmt.Println("Server:")
	fmt.Printf("Listen host [%s]: ", cfg.Server.Host)
	host, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if host != "" {
		cfg.Server.Host = host
	}

	for {
		fmt.Printf("Listen port [%d]: ", cfg.Server.Port)
		raw, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if raw == "" {
			break
		}
		port, err := strconv.Atoi(raw)
		if err != nil {
			fmt.Println("Error: port must be a number")
			continue
		}
		if err := validator.ValidatePort(port); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		cfg.Server.Port = port
		break
	}

	fmt.Println()

	// History
	fmt.Print("Keep an execution history database? (y/n) [y]: ")
	keep, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.History.Enabled = keep == "" || strings.ToLower(keep) == "y"

	fmt.Println()

	// Context TTL
	for {
		fmt.Printf("Session context TTL in minutes [%d]: ", cfg.Context.TTL)
		raw, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if raw == "" {
			break
		}
		ttl, err := strconv.Atoi(raw)
		if err != nil || ttl <= 0 {
			fmt.Println("Error: TTL must be a positive number")
			continue
		}
		cfg.Context.TTL = ttl
		break
	}

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
