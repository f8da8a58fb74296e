// Package config provides configuration types for the Mintoons quota service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/GanaRepository/mintoons-sub000/internal/domain/quota"
)

// Config is the top-level configuration for the quota service.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store configures the shared window counter store.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Bypass configures persistence of the bypass allow-list.
	Bypass BypassConfig `yaml:"bypass" mapstructure:"bypass"`

	// Admin configures the administrative API.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Actions maps each throttled action to its key scope
	// (anonymous, user, or role).
	Actions map[string]ActionConfig `yaml:"actions" mapstructure:"actions" validate:"omitempty,dive"`

	// Roles maps role -> action -> limits. The "user" role is the fallback
	// applied to unknown roles and must always be present.
	Roles map[string]map[string][]LimitConfig `yaml:"roles" mapstructure:"roles" validate:"required"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server listener.
type ServerConfig struct {
	// ListenAddr is the address the service listens on.
	// Default: "127.0.0.1:8080" (localhost only).
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"required"`
}

// StoreConfig configures the window counter store.
type StoreConfig struct {
	// Backend selects the store implementation. "sqlite" is the shared
	// persistent backend for production; "memory" is process-local and
	// intended for development and tests.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=sqlite memory"`

	// DSN is the SQLite database path or DSN. Required for the sqlite
	// backend; every API process must point at the same database.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// Timeout bounds each store round trip (e.g. "2s"). A call exceeding it
	// is treated as a store outage and fails open.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`

	// SweepInterval is how often expired counters are reclaimed (e.g. "5m").
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"omitempty"`
}

// BypassConfig configures bypass allow-list persistence.
type BypassConfig struct {
	// StatePath is the JSON state file holding the allow-list. When empty,
	// the allow-list is in-memory only and lost on restart.
	StatePath string `yaml:"state_path" mapstructure:"state_path"`
}

// AdminConfig configures the administrative API.
type AdminConfig struct {
	// KeyHash is the argon2id hash of the admin key (generate with
	// `mintoons-quota hash-key`). When empty, only localhost callers may
	// use the admin API.
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash"`

	// MaxRequests is the per-IP admin rate limit per window.
	// Default: 60.
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests" validate:"omitempty,min=1"`

	// Window is the admin rate limit window (e.g. "1m"). Default: "1m".
	Window string `yaml:"window" mapstructure:"window" validate:"omitempty"`
}

// ActionConfig describes one throttled action.
type ActionConfig struct {
	// Scope selects the key strategy: "anonymous", "user", or "role".
	// Default: "anonymous", the most conservative strategy.
	Scope string `yaml:"scope" mapstructure:"scope" validate:"omitempty,oneof=anonymous user role"`
}

// LimitConfig defines one fixed-window limit in the policy table.
type LimitConfig struct {
	// Name identifies the limit; it prefixes storage keys and is reported
	// as the denial reason.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Window is the fixed window length (e.g. "15m", "1h", "24h").
	Window string `yaml:"window" mapstructure:"window" validate:"required"`

	// MaxUnits is the ceiling per window.
	MaxUnits int64 `yaml:"max_units" mapstructure:"max_units" validate:"required,min=1"`

	// Unit is "request" or "cost". Default: "request".
	Unit string `yaml:"unit" mapstructure:"unit" validate:"omitempty,oneof=request cost"`

	// DenyMessage optionally overrides the denial message shown to callers.
	DenyMessage string `yaml:"deny_message" mapstructure:"deny_message"`
}

// Default configuration values.
const (
	DefaultListenAddr       = "127.0.0.1:8080"
	DefaultStoreTimeout     = "2s"
	DefaultSweepInterval    = "5m"
	DefaultAdminMaxRequests = 60
	DefaultAdminWindow      = "1m"
)

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Timeout == "" {
		c.Store.Timeout = DefaultStoreTimeout
	}
	if c.Store.SweepInterval == "" {
		c.Store.SweepInterval = DefaultSweepInterval
	}
	if c.Admin.MaxRequests == 0 {
		c.Admin.MaxRequests = DefaultAdminMaxRequests
	}
	if c.Admin.Window == "" {
		c.Admin.Window = DefaultAdminWindow
	}
}

// SetDevDefaults seeds a permissive development policy table when dev mode
// is on and no roles are configured, so the service starts without a config
// file. Production configs always define their own table.
func (c *Config) SetDevDefaults() {
	if !c.DevMode || len(c.Roles) > 0 {
		return
	}
	c.Roles = map[string]map[string][]LimitConfig{
		"user": {
			"login": {
				{Name: "login_attempts", Window: "15m", MaxUnits: 20},
			},
			"ai_generate": {
				{Name: "ai_requests", Window: "1h", MaxUnits: 100},
				{Name: "ai_cost", Window: "24h", MaxUnits: 10000, Unit: "cost"},
			},
		},
	}
	if c.Actions == nil {
		c.Actions = map[string]ActionConfig{
			"login":       {Scope: "anonymous"},
			"ai_generate": {Scope: "user"},
		}
	}
}

// Load reads the config file selected by InitViper, unmarshals it, and
// applies defaults. A missing config file is not an error: the service can
// run entirely from environment variables and defaults.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.ApplyDefaults()
	return &c, nil
}

// ConfigFileUsed returns the path of the config file in effect, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// StoreTimeout parses the store timeout. Call Validate first.
func (c *Config) StoreTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Store.Timeout)
	return d
}

// StoreSweepInterval parses the sweep interval. Call Validate first.
func (c *Config) StoreSweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Store.SweepInterval)
	return d
}

// AdminWindow parses the admin rate limit window. Call Validate first.
func (c *Config) AdminWindow() time.Duration {
	d, _ := time.ParseDuration(c.Admin.Window)
	return d
}

// PolicyTable converts the configured roles to the domain policy table.
func (c *Config) PolicyTable() (map[string]map[string][]quota.LimiterConfig, error) {
	table := make(map[string]map[string][]quota.LimiterConfig, len(c.Roles))
	for role, actions := range c.Roles {
		table[role] = make(map[string][]quota.LimiterConfig, len(actions))
		for action, limits := range actions {
			cfgs := make([]quota.LimiterConfig, 0, len(limits))
			for _, l := range limits {
				window, err := time.ParseDuration(l.Window)
				if err != nil {
					return nil, fmt.Errorf("role %s action %s limit %s: invalid window %q: %w", role, action, l.Name, l.Window, err)
				}
				unit := quota.UnitKind(l.Unit)
				if l.Unit == "" {
					unit = quota.UnitRequest
				}
				cfgs = append(cfgs, quota.LimiterConfig{
					Name:        l.Name,
					Window:      window,
					MaxUnits:    l.MaxUnits,
					Unit:        unit,
					DenyMessage: l.DenyMessage,
				})
			}
			table[role][action] = cfgs
		}
	}
	return table, nil
}

// KeyScopes converts the configured actions to the domain scope table.
func (c *Config) KeyScopes() map[string]quota.KeyScope {
	scopes := make(map[string]quota.KeyScope, len(c.Actions))
	for action, ac := range c.Actions {
		scope := quota.KeyScope(ac.Scope)
		if ac.Scope == "" {
			scope = quota.ScopeAnonymous
		}
		scopes[action] = scope
	}
	return scopes
}
