package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"landrecord-extractor/adapters"
	"landrecord-extractor/extractor"
	"landrecord-extractor/internal/config"
	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

// NewLogger creates the process logger. LOG_LEVEL wins over the verbose flag.
func NewLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()

	// Set timestamp format with milliseconds
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if level, err := logrus.ParseLevel(levelStr); err == nil {
			logger.SetLevel(level)
		}
	} else if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// App holds everything a portal run needs besides the portal itself.
type App struct {
	Config  *types.Config
	File    *config.File
	Logger  *logrus.Logger
	Metrics *extractor.Metrics

	// Options are appended to every extractor, mostly for tests.
	Options []extractor.Option
	now     func() time.Time
}

// New loads the portals file and the run configuration.
func New(configPath string, cfg *types.Config, logger *logrus.Logger) (*App, error) {
	file, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	file.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &App{
		Config:  cfg,
		File:    file,
		Logger:  logger,
		Metrics: extractor.NewMetrics(),
		now:     time.Now,
	}, nil
}

// Portals lists the supported portal names.
func (a *App) Portals() []string {
	return adapters.Names()
}

// Adapter builds the adapter for portal with its configured endpoint overrides.
func (a *App) Adapter(portal string) (types.PortalAdapter, error) {
	return adapters.New(portal, a.File.Portal(portal).Options())
}

// Run executes one portal run end to end.
func (a *App) Run(ctx context.Context, portal string, progress func(extractor.Progress)) (*extractor.RunReport, error) {
	adapter, err := a.Adapter(portal)
	if err != nil {
		return nil, err
	}
	pc := a.File.Portal(portal)
	creds, err := pc.Credentials()
	if err != nil {
		return nil, err
	}

	opts := []extractor.Option{extractor.WithMetrics(a.Metrics)}
	if progress != nil {
		opts = append(opts, extractor.WithProgress(progress))
	}
	opts = append(opts, a.Options...)

	ext := extractor.NewExtractor(a.Config, a.Logger, opts...)
	return ext.Run(ctx, extractor.RunRequest{
		Adapter:     adapter,
		Credentials: creds,
		Criteria:    pc.Criteria(a.now()),
	})
}

// Probe opens a browser on portal and reports which locators resolve. Credentials are
// used when login is set.
func (a *App) Probe(ctx context.Context, portal string, login bool) ([]extractor.ProbeResult, error) {
	adapter, err := a.Adapter(portal)
	if err != nil {
		return nil, err
	}
	var creds *types.Credentials
	if login {
		c, err := a.File.Portal(portal).Credentials()
		if err != nil {
			return nil, err
		}
		creds = &c
	}

	browser, err := utils.NewBrowser(ctx, a.Config, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	defer browser.Close()

	waiter := utils.NewWaiter(a.Config, a.Logger)
	return extractor.Probe(ctx, browser, adapter, waiter, a.Config, a.Logger, creds)
}
