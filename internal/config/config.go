package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"landrecord-extractor/adapters"
	"landrecord-extractor/internal/types"
)

// AppName is the application name used for XDG directory paths.
const AppName = "landrecord"

// ErrMissingCredentials is returned when a portal's credential variables are unset.
var ErrMissingCredentials = errors.New("portal credentials not set")

// File is the portals configuration file.
type File struct {
	Settings Settings                `yaml:"settings"`
	Portals  map[string]PortalConfig `yaml:"portals"`
}

// Settings overrides run defaults. Zero values keep the defaults.
type Settings struct {
	OutputDir       string        `yaml:"output_dir"`
	OutputFormat    string        `yaml:"output_format"`
	Headless        *bool         `yaml:"headless"`
	UserAgent       string        `yaml:"user_agent"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	WaitRetries     int           `yaml:"wait_retries"`
	SearchTimeout   time.Duration `yaml:"search_timeout"`
	LoginTimeout    time.Duration `yaml:"login_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	DownloadRetries *int          `yaml:"download_retries"`
	RequestDelay    time.Duration `yaml:"request_delay"`
	RasterToPDF     *bool         `yaml:"raster_to_pdf"`
}

// PortalConfig holds per-portal settings. Credentials are never stored in the file,
// only the names of the environment variables that hold them.
type PortalConfig struct {
	UsernameEnv   string            `yaml:"username_env"`
	PasswordEnv   string            `yaml:"password_env"`
	LoginURL      string            `yaml:"login_url"`
	SearchURL     string            `yaml:"search_url"`
	DocumentTypes []string          `yaml:"document_types"`
	Filters       map[string]string `yaml:"filters"`
	LookbackDays  int               `yaml:"lookback_days"`
}

// ConfigDir returns the XDG config directory for the application.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Apply copies the file settings over cfg.
func (f *File) Apply(cfg *types.Config) {
	s := f.Settings
	if s.OutputDir != "" {
		cfg.OutputDir = s.OutputDir
	}
	if s.OutputFormat != "" {
		cfg.OutputFormat = strings.ToLower(s.OutputFormat)
	}
	if s.Headless != nil {
		cfg.Headless = *s.Headless
	}
	if s.UserAgent != "" {
		cfg.UserAgent = s.UserAgent
	}
	if s.WaitTimeout > 0 {
		cfg.WaitTimeout = s.WaitTimeout
	}
	if s.WaitRetries > 0 {
		cfg.WaitRetries = s.WaitRetries
	}
	if s.SearchTimeout > 0 {
		cfg.SearchTimeout = s.SearchTimeout
	}
	if s.LoginTimeout > 0 {
		cfg.LoginTimeout = s.LoginTimeout
	}
	if s.DownloadTimeout > 0 {
		cfg.DownloadTimeout = s.DownloadTimeout
	}
	if s.DownloadRetries != nil {
		cfg.DownloadRetries = *s.DownloadRetries
	}
	if s.RequestDelay > 0 {
		cfg.RequestDelay = s.RequestDelay
	}
	if s.RasterToPDF != nil {
		cfg.RasterToPDF = *s.RasterToPDF
	}
}

// Portal returns the settings for name, falling back to NAME_USERNAME and NAME_PASSWORD
// for credentials.
func (f *File) Portal(name string) PortalConfig {
	p := f.Portals[name]
	prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if p.UsernameEnv == "" {
		p.UsernameEnv = prefix + "_USERNAME"
	}
	if p.PasswordEnv == "" {
		p.PasswordEnv = prefix + "_PASSWORD"
	}
	return p
}

// Credentials reads the portal credentials from the environment.
func (p PortalConfig) Credentials() (types.Credentials, error) {
	creds := types.Credentials{
		Username: os.Getenv(p.UsernameEnv),
		Password: os.Getenv(p.PasswordEnv),
	}
	if creds.Username == "" || creds.Password == "" {
		return types.Credentials{}, fmt.Errorf("%w: set %s and %s", ErrMissingCredentials, p.UsernameEnv, p.PasswordEnv)
	}
	return creds, nil
}

// Options returns the adapter endpoint overrides.
func (p PortalConfig) Options() adapters.Options {
	return adapters.Options{LoginURL: p.LoginURL, SearchURL: p.SearchURL}
}

// Criteria builds search criteria from the portal settings. It returns nil when
// nothing is configured, leaving the adapter defaults in place.
func (p PortalConfig) Criteria(now time.Time) *types.SearchCriteria {
	if len(p.DocumentTypes) == 0 && len(p.Filters) == 0 && p.LookbackDays <= 0 {
		return nil
	}
	criteria := types.DefaultCriteria(now, p.DocumentTypes)
	if p.LookbackDays > 0 {
		start := now.AddDate(0, 0, -p.LookbackDays)
		criteria.StartDate = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, now.Location())
	}
	for k, v := range p.Filters {
		criteria.Filters[k] = v
	}
	return &criteria
}
