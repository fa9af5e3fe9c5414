package types

import (
	"fmt"
	"time"
)

// Output formats supported by the result exporter.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Config holds the configuration for a portal run
type Config struct {
	// Waits
	WaitTimeout   time.Duration // per-attempt bound for a UI condition
	WaitRetries   int           // total attempts per wait site
	PollInterval  time.Duration // how often a condition is re-evaluated inside one attempt
	RetryDelay    time.Duration // fixed sleep between attempts
	RetryJitter   time.Duration // random extra sleep in [0, RetryJitter)
	SearchTimeout time.Duration // per-attempt bound for the results table after submit
	LoginTimeout  time.Duration // bound for classifying the post-login page

	// Browser
	Headless       bool
	UserAgent      string
	ActionTimeout  time.Duration // bound for a single driver primitive
	ContextTimeout time.Duration // bound for a secondary context to appear after a click

	// Downloads
	DownloadTimeout time.Duration
	DownloadRetries int
	RequestDelay    time.Duration // minimum spacing between downloads

	// Output
	OutputDir    string
	OutputFormat string
	RasterToPDF  bool // also wrap converted raster pages into a single-page PDF
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		WaitTimeout:     20 * time.Second,
		WaitRetries:     3,
		PollInterval:    250 * time.Millisecond,
		RetryDelay:      2 * time.Second,
		RetryJitter:     1 * time.Second,
		SearchTimeout:   60 * time.Second,
		LoginTimeout:    15 * time.Second,
		Headless:        true,
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ActionTimeout:   15 * time.Second,
		ContextTimeout:  10 * time.Second,
		DownloadTimeout: 60 * time.Second,
		DownloadRetries: 2,
		RequestDelay:    500 * time.Millisecond,
		OutputDir:       "output",
		OutputFormat:    FormatCSV,
		RasterToPDF:     false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	if c.WaitRetries <= 0 {
		return fmt.Errorf("wait retries must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.PollInterval > c.WaitTimeout {
		return fmt.Errorf("poll interval (%s) cannot exceed wait timeout (%s)", c.PollInterval, c.WaitTimeout)
	}
	if c.RetryDelay < 0 || c.RetryJitter < 0 {
		return fmt.Errorf("retry delay and jitter cannot be negative")
	}
	if c.SearchTimeout <= 0 || c.LoginTimeout <= 0 {
		return fmt.Errorf("search and login timeouts must be positive")
	}
	if c.ActionTimeout <= 0 || c.ContextTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be positive")
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive")
	}
	if c.DownloadRetries < 0 {
		return fmt.Errorf("download retries cannot be negative")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request delay cannot be negative")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.OutputFormat != FormatCSV && c.OutputFormat != FormatJSON {
		return fmt.Errorf("output format must be %s or %s", FormatCSV, FormatJSON)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// Credentials for one portal account.
type Credentials struct {
	Username string
	Password string
}

// Logger defines the logging interface
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
