package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/crystal-mush/mudtelnet/pkg/logging"
	"github.com/crystal-mush/mudtelnet/pkg/telnet"
	"gopkg.in/yaml.v3"
)

// MSSP wire formats.
const (
	MSSPReference = "reference" // name+value rows joined by CRLF
	MSSPStandard  = "standard"  // MSSP_VAR/MSSP_VAL bytes
)

// WebConfig controls the WebSocket gateway.
type WebConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Port      int      `yaml:"port"`
	Host      string   `yaml:"host"`
	Origins   []string `yaml:"origins"`    // allowed Origin headers; empty allows any
	RateLimit int      `yaml:"rate_limit"` // HTTP requests per minute per IP
}

// StoreConfig controls the capability store.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables recording
}

// MSSPEntry is one row of the configured MSSP table.
type MSSPEntry struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Config holds server configuration. Loaded from YAML over DefaultConfig.
type Config struct {
	Name          string        `yaml:"name"`
	Port          int           `yaml:"port"`
	ProxyProtocol bool          `yaml:"proxy_protocol"`
	ResolveHosts  bool          `yaml:"resolve_hosts"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EscapeIAC     bool          `yaml:"escape_iac"`
	MTTSRequests  int           `yaml:"mtts_requests"`
	MSSPFormat    string        `yaml:"mssp_format"`
	MSSP          []MSSPEntry   `yaml:"mssp"`
	Welcome       string        `yaml:"welcome"`
	Prompt        string        `yaml:"prompt"`
	HistorySize   int           `yaml:"history_size"`
	HelpFile      string        `yaml:"help_file"` // "& topic" entries for help <topic>

	Web     WebConfig              `yaml:"web"`
	Store   StoreConfig            `yaml:"store"`
	Loggers []logging.LoggerConfig `yaml:"loggers"`
}

// DefaultWelcome is shown to new connections when none is configured.
const DefaultWelcome = "Welcome to %s.\r\nType 'help' for a list of commands.\r\n"

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:         "MudTelnet",
		Port:         4000,
		IdleTimeout:  time.Hour,
		EscapeIAC:    true,
		MTTSRequests: 2,
		MSSPFormat:   MSSPReference,
		MSSP: []MSSPEntry{
			{Name: "CODEBASE", Value: "mudtelnet"},
			{Name: "ANSI", Value: "1"},
			{Name: "UTF-8", Value: "1"},
			{Name: "GMCP", Value: "1"},
			{Name: "MSDP", Value: "1"},
		},
		Welcome:     DefaultWelcome,
		Prompt:      "> ",
		HistorySize: 10,
		Web: WebConfig{
			Port:      4080,
			RateLimit: 120,
		},
		Store: StoreConfig{Path: "data/capabilities.db"},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing YAML %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and normalises enumerations.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("web port %d out of range", c.Web.Port)
	}
	if c.MTTSRequests < 1 || c.MTTSRequests > 3 {
		return fmt.Errorf("mtts_requests must be 1-3, got %d", c.MTTSRequests)
	}
	c.MSSPFormat = strings.ToLower(c.MSSPFormat)
	switch c.MSSPFormat {
	case "":
		c.MSSPFormat = MSSPReference
	case MSSPReference, MSSPStandard:
	default:
		return fmt.Errorf("unknown mssp_format %q", c.MSSPFormat)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("negative idle_timeout %v", c.IdleTimeout)
	}
	return nil
}

// sessionOptions translates the protocol settings into telnet options.
func (c *Config) sessionOptions() []telnet.SessionOption {
	opts := []telnet.SessionOption{telnet.WithMTTSRequests(c.MTTSRequests)}
	if c.EscapeIAC {
		opts = append(opts, telnet.WithTextEscaping())
	}
	return opts
}

// welcomeText expands the optional %s in Welcome to the server name.
func (c *Config) welcomeText() string {
	if strings.Contains(c.Welcome, "%s") {
		return fmt.Sprintf(c.Welcome, c.Name)
	}
	return c.Welcome
}
