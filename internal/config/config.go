package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models ctfbot.yml. The bot token is deliberately not part of it;
// credentials come from the environment.
type Config struct {
	CommandPrefix  string   `yaml:"command_prefix"`
	FlagEmoji      string   `yaml:"flag_emoji"`
	AcceptEmoji    string   `yaml:"accept_emoji"`
	DeclineEmoji   string   `yaml:"decline_emoji"`
	RoleColor      int      `yaml:"role_color"`
	TypingDelay    Duration `yaml:"typing_delay"`
	ConfirmTimeout Duration `yaml:"confirm_timeout"`
	DigestInterval Duration `yaml:"digest_interval"`
}

// Duration wraps time.Duration for yaml values like "500ms" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.CommandPrefix == "" {
		return fmt.Errorf("config.command_prefix is required")
	}
	if strings.ContainsAny(c.CommandPrefix, " \t") {
		return fmt.Errorf("config.command_prefix must not contain whitespace")
	}
	if c.FlagEmoji == "" {
		return fmt.Errorf("config.flag_emoji is required")
	}
	if c.AcceptEmoji == "" || c.DeclineEmoji == "" {
		return fmt.Errorf("config.accept_emoji and config.decline_emoji are required")
	}
	if c.AcceptEmoji == c.DeclineEmoji {
		return fmt.Errorf("config.accept_emoji and config.decline_emoji must differ")
	}
	if c.TypingDelay < 0 {
		return fmt.Errorf("config.typing_delay must not be negative")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("config.confirm_timeout must be positive")
	}
	if c.DigestInterval <= 0 {
		return fmt.Errorf("config.digest_interval must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ctfbot.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CommandPrefix:  ".",
		FlagEmoji:      "🏳",
		AcceptEmoji:    "✅",
		DeclineEmoji:   "❌",
		RoleColor:      0x00ff00,
		TypingDelay:    Duration(500 * time.Millisecond),
		ConfirmTimeout: Duration(30 * time.Second),
		DigestInterval: Duration(time.Hour),
	}
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `command_prefix: "."
flag_emoji: "🏳"
accept_emoji: "✅"
decline_emoji: "❌"
role_color: 65280
typing_delay: 500ms
confirm_timeout: 30s
digest_interval: 1h
`
