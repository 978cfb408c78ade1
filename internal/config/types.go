package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Forecast  ForecastConfig  `json:"forecast"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// GroupLog optionally mirrors warnings to a chat, given as a numeric
	// chat ID (e.g. "-100123456").
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ForecastConfig controls acquisition and delivery behavior.
//
// All durations are Go duration strings (e.g. "90s", "2h").
type ForecastConfig struct {
	BaseURL string `json:"base_url"`
	// Strategy selects the acquisition engine: "browser" renders the
	// page headlessly and polls it; "direct" fetches the JSON endpoint.
	Strategy string `json:"strategy"`

	RequestTimeout string `json:"request_timeout,omitempty"`

	// Acceptance thresholds for a final report.
	MinSummaryLen int `json:"min_summary_len,omitempty"`
	MinSources    int `json:"min_sources,omitempty"`

	// MaxReloads bounds page reloads per acquisition (browser strategy).
	// Unset defaults to 2; an explicit 0 disables reloading.
	MaxReloads *int `json:"max_reloads,omitempty"`

	// ScreenshotPath receives a diagnostic capture on fatal timeout.
	ScreenshotPath string `json:"screenshot_path,omitempty"`

	// StaleRunAfter is how long a crashed run may block its slot.
	StaleRunAfter string `json:"stale_run_after,omitempty"`
	// SendGap is the minimum delay between broadcast recipients.
	SendGap string `json:"send_gap,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
}

const (
	StrategyBrowser = "browser"
	StrategyDirect  = "direct"
)

// Validate checks the invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if strings.TrimSpace(c.Forecast.BaseURL) == "" {
		return errors.New("forecast.base_url is required")
	}
	switch c.Forecast.Strategy {
	case StrategyBrowser, StrategyDirect:
	case "":
		return errors.New("forecast.strategy is required (browser or direct)")
	default:
		return fmt.Errorf("forecast.strategy: unknown strategy %q", c.Forecast.Strategy)
	}
	if c.Forecast.MinSummaryLen < 0 {
		return errors.New("forecast.min_summary_len must be >= 0")
	}
	if c.Forecast.MinSources < 0 {
		return errors.New("forecast.min_sources must be >= 0")
	}
	if c.Forecast.MaxReloads != nil && *c.Forecast.MaxReloads < 0 {
		return errors.New("forecast.max_reloads must be >= 0")
	}

	for _, f := range []struct {
		path string
		raw  string
	}{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"forecast.request_timeout", c.Forecast.RequestTimeout},
		{"forecast.stale_run_after", c.Forecast.StaleRunAfter},
		{"forecast.send_gap", c.Forecast.SendGap},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// Duration parses a duration field that Validate() already vetted,
// falling back to def when the field is empty or zero.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
