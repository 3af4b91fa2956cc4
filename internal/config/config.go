// Package config handles Meetly configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/meetly/config.yaml, /etc/meetly/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "meetly", "config.yaml"))
	}

	paths = append(paths, "/etc/meetly/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Meetly configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	LLM       LLMConfig       `yaml:"llm"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Google    GoogleConfig    `yaml:"google"`
	CalDAV    CalDAVConfig    `yaml:"caldav"`
	Contacts  ContactsConfig  `yaml:"contacts"`
	Session   SessionConfig   `yaml:"session"`
	Agent     AgentConfig     `yaml:"agent"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the HTTP API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects and configures the reasoning provider.
type LLMConfig struct {
	// Provider is one of ollama, anthropic, openai. The openai provider
	// speaks the OpenAI-compatible chat completions protocol, which also
	// covers Groq and most hosted inference gateways.
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
}

// CalendarConfig selects the calendar backend.
type CalendarConfig struct {
	// Provider is one of google, caldav, none.
	Provider string `yaml:"provider"`
}

// GoogleConfig holds the OAuth credentials and endpoint for the Google
// Calendar API. These are injected into the calendar provider at
// construction and never read from the environment afterwards.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	BaseURL      string `yaml:"base_url"`
	CalendarID   string `yaml:"calendar_id"`
}

// CalDAVConfig defines a CalDAV server used instead of Google Calendar.
type CalDAVConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Calendar is the calendar collection path. If empty, the first
	// calendar in the user's calendar home set is used.
	Calendar string `yaml:"calendar"`
}

// Configured reports whether a CalDAV server URL is set.
func (c CalDAVConfig) Configured() bool {
	return c.URL != ""
}

// ContactsConfig points at an optional vCard address book.
type ContactsConfig struct {
	VCardPath string `yaml:"vcard_path"`
}

// SessionConfig selects where conversation threads are kept.
type SessionConfig struct {
	Driver string `yaml:"driver"` // memory (default) or sqlite
	Path   string `yaml:"path"`   // database file for the sqlite driver
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	// MaxIterations bounds the number of reason/act cycles per turn.
	MaxIterations int `yaml:"max_iterations"`
	// MaxParallelTools bounds concurrent tool executions within one batch.
	MaxParallelTools int `yaml:"max_parallel_tools"`
	// Timezone is the IANA zone injected into the system prompt. Empty
	// means the local zone of the process.
	Timezone string `yaml:"timezone"`
}

// Location resolves the configured timezone.
func (a AgentConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(a.Timezone)
}

// MQTTConfig defines the optional broker that receives turn events.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether an MQTT broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "qwen3:4b",
		},
		Calendar: CalendarConfig{Provider: "google"},
		Google:   GoogleConfig{CalendarID: "primary"},
		Session:  SessionConfig{Driver: "memory"},
		Agent: AgentConfig{
			MaxIterations:    10,
			MaxParallelTools: 4,
		},
		MQTT: MQTTConfig{TopicPrefix: "meetly"},
	}
}

// Validate fills zero values with defaults and rejects settings the
// rest of the program cannot honor.
func (c *Config) Validate() error {
	d := Default()

	switch c.LLM.Provider {
	case "":
		c.LLM.Provider = d.LLM.Provider
	case "ollama", "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider %q not supported (valid: ollama, anthropic, openai)", c.LLM.Provider)
	}
	if c.LLM.Provider == "anthropic" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for the anthropic provider")
	}

	switch c.Calendar.Provider {
	case "":
		c.Calendar.Provider = d.Calendar.Provider
	case "google", "none":
	case "caldav":
		if !c.CalDAV.Configured() {
			return fmt.Errorf("caldav.url is required when calendar.provider is caldav")
		}
	default:
		return fmt.Errorf("calendar.provider %q not supported (valid: google, caldav, none)", c.Calendar.Provider)
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = d.Google.CalendarID
	}

	switch c.Session.Driver {
	case "":
		c.Session.Driver = d.Session.Driver
	case "memory":
	case "sqlite":
		if c.Session.Path == "" {
			return fmt.Errorf("session.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("session.driver %q not supported (valid: memory, sqlite)", c.Session.Driver)
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = d.Agent.MaxIterations
	}
	if c.Agent.MaxParallelTools <= 0 {
		c.Agent.MaxParallelTools = d.Agent.MaxParallelTools
	}
	if _, err := c.Agent.Location(); err != nil {
		return fmt.Errorf("agent.timezone: %w", err)
	}

	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
