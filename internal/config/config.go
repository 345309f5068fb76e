package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel    string    `yaml:"log_level"`
	MetricsAddr string    `yaml:"metrics_addr"`
	DataDir     string    `yaml:"data_dir"`
	SMTP        SMTP      `yaml:"smtp"`
	Accounts    []Account `yaml:"accounts"`
}

// SMTP holds the relay used by accounts with forward_to.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// Account describes one mail store to poll.
type Account struct {
	Name     string `yaml:"name"`
	Protocol string `yaml:"protocol"` // "pop3", "imap", "mbox" or "maildir"

	// Network stores.
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Auth           string `yaml:"auth"` // "user", "login" or "plain"
	UseTLS         bool   `yaml:"use_tls"`
	TLSSkipVerify  bool   `yaml:"tls_skip_verify"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	IMAPFolder     string `yaml:"imap_folder"`

	// Local stores.
	Path string `yaml:"path"`

	CheckIntervalSeconds int `yaml:"check_interval_seconds"`

	// Keep leaves fetched messages in the store. Default true.
	Keep *bool `yaml:"keep"`

	// DeliverTo is the maildir fetched messages are written to.
	DeliverTo string `yaml:"deliver_to"`
	// ForwardTo is the address fetched messages are relayed to.
	ForwardTo string `yaml:"forward_to"`
}

// CheckInterval returns the check interval as a time.Duration.
func (a *Account) CheckInterval() time.Duration {
	if a.CheckIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(a.CheckIntervalSeconds) * time.Second
}

// Timeout returns the per-operation network timeout, defaulting to 30s.
func (a *Account) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// GetIMAPFolder returns the IMAP folder name, defaulting to "INBOX".
func (a *Account) GetIMAPFolder() string {
	if a.IMAPFolder == "" {
		return "INBOX"
	}
	return a.IMAPFolder
}

// KeepMessages reports whether fetched messages stay in the store.
func (a *Account) KeepMessages() bool {
	return a.Keep == nil || *a.Keep
}

// Label names the account in logs and error messages.
func (a *Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Host != "" {
		return a.Username + "@" + a.Host
	}
	return a.Path
}

// Network reports whether the account is reached over the network.
func (a *Account) Network() bool {
	return a.Protocol == "pop3" || a.Protocol == "imap"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		DataDir:  "data",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
		if cfg.SMTP.UseTLS {
			cfg.SMTP.Port = 465
		}
	}
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		a.Protocol = strings.ToLower(a.Protocol)
		a.Auth = strings.ToLower(a.Auth)
		if a.Port == 0 {
			a.Port = defaultPort(a.Protocol, a.UseTLS)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaultPort(protocol string, tls bool) int {
	switch {
	case protocol == "pop3" && tls:
		return 995
	case protocol == "pop3":
		return 110
	case protocol == "imap" && tls:
		return 993
	case protocol == "imap":
		return 143
	}
	return 0
}

func (c *Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}

	names := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if a.Name != "" {
			if names[a.Name] {
				return fmt.Errorf("account %s: duplicate name", label)
			}
			names[a.Name] = true
		}

		switch a.Protocol {
		case "pop3", "imap":
			if a.Host == "" {
				return fmt.Errorf("account %s: host is required", label)
			}
			if a.Username == "" {
				return fmt.Errorf("account %s: username is required", label)
			}
			if !validAuth(a.Protocol, a.Auth) {
				return fmt.Errorf("account %s: auth %q is not supported for %s", label, a.Auth, a.Protocol)
			}
		case "mbox", "maildir":
			if a.Path == "" {
				return fmt.Errorf("account %s: path is required", label)
			}
			if a.Protocol == "mbox" && !a.KeepMessages() {
				return fmt.Errorf("account %s: mbox accounts are read-only, keep must be true", label)
			}
		default:
			return fmt.Errorf("account %s: protocol must be pop3, imap, mbox or maildir", label)
		}

		if a.DeliverTo == "" && a.ForwardTo == "" {
			return fmt.Errorf("account %s: deliver_to or forward_to is required", label)
		}
		if a.ForwardTo != "" && c.SMTP.Host == "" {
			return fmt.Errorf("account %s: forward_to needs smtp.host", label)
		}
	}
	return nil
}

func validAuth(protocol, auth string) bool {
	switch auth {
	case "", "plain":
		return true
	case "user":
		return protocol == "pop3"
	case "login":
		return protocol == "imap"
	}
	return false
}
