// Package config holds the MailClaw configuration: a JSON5 file overlaid
// with MAILCLAW_* environment variables. Env vars take precedence over
// file values; secrets are never written back to disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// Mode selects how Gmail push notifications reach the dispatcher.
const (
	ModePubSub  = "pubsub"
	ModeWebhook = "webhook"
)

// Config is the root configuration for the MailClaw dispatcher.
type Config struct {
	Gmail    GmailConfig    `json:"gmail"`
	Google   GoogleConfig   `json:"google"`
	Claude   ClaudeConfig   `json:"claude"`
	Filter   FilterConfig   `json:"filter"`
	Dispatch DispatchConfig `json:"dispatch"`
	Webhook  WebhookConfig  `json:"webhook"`
	Watch    WatchConfig    `json:"watch"`
	Mode     string         `json:"mode"` // "pubsub" (default) or "webhook"
	mu       sync.RWMutex
}

// GmailConfig locates the OAuth2 installed-app credentials.
type GmailConfig struct {
	CredentialsFile string `json:"credentials_file"`
	TokenFile       string `json:"token_file"`
}

// GoogleConfig names the Cloud project and Pub/Sub resources that carry
// Gmail push notifications.
type GoogleConfig struct {
	ProjectID    string `json:"project_id"`
	Topic        string `json:"topic"`
	Subscription string `json:"subscription"`
}

// ClaudeConfig controls the claude CLI subprocess.
type ClaudeConfig struct {
	Bin          string   `json:"bin"`
	WorkingDir   string   `json:"working_dir"`
	TimeoutSec   int      `json:"timeout_sec"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// FilterConfig is the eligibility allow-list: mail must be self-addressed
// to TargetAddress with subject RequiredSubject to reach the agent.
type FilterConfig struct {
	TargetAddress   string `json:"target_address"`
	RequiredSubject string `json:"required_subject"`
	MinBodyChars    int    `json:"min_body_chars"`
}

// DispatchConfig tunes the worker pool and external-call retry policy.
type DispatchConfig struct {
	Workers             int    `json:"workers"`
	AckTimeoutSec       int    `json:"ack_timeout_sec"`
	MaxAttempts         int    `json:"max_attempts"`
	RetryBaseDelay      string `json:"retry_base_delay"` // Go duration, e.g. "2s"
	UnreadFallbackLimit int64  `json:"unread_fallback_limit"`
}

// WebhookConfig configures the push-notification HTTP listener.
type WebhookConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// WatchConfig schedules Gmail watch re-registration. Gmail watches expire
// after roughly seven days; the cron default renews well inside that.
type WatchConfig struct {
	RenewCron string `json:"renew_cron"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gmail: GmailConfig{
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
		Google: GoogleConfig{
			Topic:        "gmail-notifications",
			Subscription: "gmail-notifications-sub",
		},
		Claude: ClaudeConfig{
			Bin:        "claude",
			TimeoutSec: 300,
		},
		Filter: FilterConfig{
			RequiredSubject: "CLAUDE",
			MinBodyChars:    10,
		},
		Dispatch: DispatchConfig{
			Workers:             4,
			AckTimeoutSec:       600,
			MaxAttempts:         3,
			RetryBaseDelay:      "2s",
			UnreadFallbackLimit: 5,
		},
		Webhook: WebhookConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Watch: WatchConfig{
			RenewCron: "0 */12 * * *",
		},
		Mode: ModePubSub,
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) ApplyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("MAILCLAW_CREDENTIALS_FILE", &c.Gmail.CredentialsFile)
	envStr("MAILCLAW_TOKEN_FILE", &c.Gmail.TokenFile)
	envStr("MAILCLAW_PROJECT_ID", &c.Google.ProjectID)
	envStr("MAILCLAW_TOPIC", &c.Google.Topic)
	envStr("MAILCLAW_SUBSCRIPTION", &c.Google.Subscription)
	envStr("MAILCLAW_CLAUDE_BIN", &c.Claude.Bin)
	envStr("MAILCLAW_WORKING_DIR", &c.Claude.WorkingDir)
	envStr("MAILCLAW_TARGET_ADDRESS", &c.Filter.TargetAddress)
	envStr("MAILCLAW_REQUIRED_SUBJECT", &c.Filter.RequiredSubject)
	envStr("MAILCLAW_MODE", &c.Mode)
	envStr("MAILCLAW_WEBHOOK_HOST", &c.Webhook.Host)

	if v := os.Getenv("MAILCLAW_WEBHOOK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Webhook.Port = port
		}
	}
	if v := os.Getenv("MAILCLAW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatch.Workers = n
		}
	}
}

// Validate returns a list of configuration errors, empty when the config
// is usable for serve/setup.
func (c *Config) Validate() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []string
	if _, err := os.Stat(c.Gmail.CredentialsFile); err != nil {
		errs = append(errs, fmt.Sprintf("gmail credentials file not found: %s", c.Gmail.CredentialsFile))
	}
	if c.Google.ProjectID == "" {
		errs = append(errs, "google cloud project id not set")
	}
	if c.Filter.TargetAddress == "" {
		errs = append(errs, "filter target address not set")
	}
	return errs
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the config watcher on live reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gmail = src.Gmail
	c.Google = src.Google
	c.Claude = src.Claude
	c.Filter = src.Filter
	c.Dispatch = src.Dispatch
	c.Webhook = src.Webhook
	c.Watch = src.Watch
	c.Mode = src.Mode
}

// FilterSettings returns a copy of the filter section for concurrent readers.
func (c *Config) FilterSettings() FilterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Filter
}

// RetryBaseDelay parses the configured retry base delay, falling back to 2s.
func (c *Config) RetryBaseDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, err := time.ParseDuration(c.Dispatch.RetryBaseDelay); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

// AckTimeout returns the pull-mode dispatch deadline.
func (c *Config) AckTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Dispatch.AckTimeoutSec > 0 {
		return time.Duration(c.Dispatch.AckTimeoutSec) * time.Second
	}
	return 10 * time.Minute
}

// TopicName returns the fully qualified Pub/Sub topic name.
func (c *Config) TopicName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("projects/%s/topics/%s", c.Google.ProjectID, c.Google.Topic)
}

// Snapshot returns a deep copy of the config for display. All MailClaw
// secrets live in the OAuth credential files, never in the config itself,
// so nothing needs masking.
func (c *Config) Snapshot() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	return cp
}
