package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// QueueConfig tunes the ingest queue (spec.md §4.3).
type QueueConfig struct {
	BatchSize     int           `json:"batch_size,omitempty"`
	FlushInterval time.Duration `json:"-"`
	DedupWindow   time.Duration `json:"-"`

	// Raw duration strings as they appear in the JSON file, e.g. "60s".
	FlushIntervalRaw string `json:"flush_interval,omitempty"`
	DedupWindowRaw   string `json:"dedup_window,omitempty"`
}

// LLMConfig describes the classifier's remote model endpoint.
type LLMConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	APIBase  string `json:"api_base"`
}

// InputHookConfig gates and scopes the keystroke tap producer.
type InputHookConfig struct {
	Enabled       bool     `json:"enabled"`
	DedicatedApps []string `json:"dedicated_apps,omitempty"`
}

// InsightConfig configures the daily insight scheduler.
type InsightConfig struct {
	DailyTime string `json:"daily_time,omitempty"` // "HH:MM" local time
}

// Config is the daemon's fully-resolved configuration (spec.md §6).
// Loading it from disk is a thin JSON decode — the daemon does not
// search XDG paths or merge multiple sources; that discovery logic is
// the out-of-scope CLI front-end's job.
type Config struct {
	VaultPath  string          `json:"vault_path"`
	LLM        LLMConfig       `json:"llm"`
	Queue      QueueConfig     `json:"queue"`
	WatchDirs  []string        `json:"watch_dirs,omitempty"`
	InputHook  InputHookConfig `json:"input_hook"`
	Insight    InsightConfig   `json:"insight"`
	HTTPPort   int             `json:"http_port,omitempty"`
}

const defaultHTTPPort = 8330

// Load reads and validates the JSON config file at path, applying the
// defaults described in spec.md §4.3 and §4.9 and substituting
// DEEPSEEK_API_KEY into cfg.LLM.APIKey when the file left it blank.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if strings.TrimSpace(c.VaultPath) == "" {
		return errors.New("vault_path is required")
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = defaultHTTPPort
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 10
	}
	flush, err := parseDurationOrDefault(c.Queue.FlushIntervalRaw, 60*time.Second)
	if err != nil {
		return fmt.Errorf("queue.flush_interval: %w", err)
	}
	c.Queue.FlushInterval = flush
	dedup, err := parseDurationOrDefault(c.Queue.DedupWindowRaw, 60*time.Second)
	if err != nil {
		return fmt.Errorf("queue.dedup_window: %w", err)
	}
	c.Queue.DedupWindow = dedup

	if len(c.WatchDirs) == 0 {
		c.WatchDirs = []string{"Desktop", "Documents", "Downloads"}
	}
	if c.Insight.DailyTime == "" {
		c.Insight.DailyTime = "20:00"
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("DEEPSEEK_API_KEY")
	}
	return nil
}

func parseDurationOrDefault(raw string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
