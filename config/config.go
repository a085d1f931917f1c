// Package config defines the persisted connection configuration consumed
// at adapter construction, with YAML loading and validation.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/virgilvox/clasp-flow-sub003/errors"
)

// Default values applied by Validate
const (
	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
)

// ConnectionConfig describes one logical connection as persisted in the
// application state. Credentials are never part of this struct; they live
// in the credential store keyed by ID.
type ConnectionConfig struct {
	// ID uniquely identifies the connection across the application
	ID string `yaml:"id" json:"id"`

	// Protocol names the adapter kind ("mqtt", "osc", "websocket", ...)
	Protocol string `yaml:"protocol" json:"protocol"`

	// Name is the user-facing label shown in the editor
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// AutoConnect connects the adapter when the application starts
	AutoConnect bool `yaml:"auto_connect" json:"auto_connect"`

	// AutoReconnect schedules reconnect attempts after failures
	AutoReconnect bool `yaml:"auto_reconnect" json:"auto_reconnect"`

	// ReconnectDelay is the constant delay between reconnect attempts
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`

	// MaxReconnectAttempts caps scheduled reconnects (0 = unlimited)
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`

	// Buffered enables message buffering while the connection is down
	Buffered bool `yaml:"buffered" json:"buffered"`

	// Settings holds protocol-specific configuration (broker URL, topic
	// prefix, ...) interpreted by the concrete adapter
	Settings map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// Connections is the persisted set of connection configurations
type Connections struct {
	Connections []ConnectionConfig `yaml:"connections" json:"connections"`
}

// Load parses a YAML document of connection configurations and validates
// every entry
func Load(data []byte) (*Connections, error) {
	var cfg Connections
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "yaml parse")
	}

	seen := make(map[string]bool, len(cfg.Connections))
	for i := range cfg.Connections {
		if err := cfg.Connections[i].Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.Connections[i].ID] {
			return nil, errors.WrapInvalid(
				fmt.Errorf("duplicate connection id %q", cfg.Connections[i].ID),
				"config", "Load", "uniqueness check")
		}
		seen[cfg.Connections[i].ID] = true
	}

	return &cfg, nil
}

// Validate checks required fields and applies defaults in place
func (c *ConnectionConfig) Validate() error {
	if c.ID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "connection id check")
	}
	if c.Protocol == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "protocol check")
	}
	if c.ReconnectDelay < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("reconnect_delay must not be negative, got %s", c.ReconnectDelay),
			"config", "Validate", "reconnect delay check")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("max_reconnect_attempts must not be negative, got %d", c.MaxReconnectAttempts),
			"config", "Validate", "reconnect attempts check")
	}

	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	return nil
}

// ByID returns the configuration for a connection id
func (c *Connections) ByID(id string) (ConnectionConfig, bool) {
	for _, conn := range c.Connections {
		if conn.ID == id {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}
