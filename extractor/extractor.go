package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

// Run statuses.
const (
	StatusSuccess       = "success"
	StatusNoResults     = "no_results"
	StatusSearchTimeout = "search_timeout"
	StatusError         = "error"
	StatusCanceled      = "canceled"
)

// RunRequest describes one portal run.
type RunRequest struct {
	Adapter     types.PortalAdapter
	Credentials types.Credentials
	Criteria    *types.SearchCriteria // nil means the adapter defaults for the current month
}

// RunReport summarizes a finished run.
type RunReport struct {
	Portal       string                   `json:"portal"`
	Status       string                   `json:"status"`
	Message      string                   `json:"message,omitempty"`
	AuthStatus   string                   `json:"auth_status,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	Pages        int                      `json:"pages"`
	Rows         int                      `json:"rows"`
	Retrieved    int                      `json:"retrieved"`
	NoIcon       int                      `json:"no_icon"`
	Failed       int                      `json:"failed"`
	ExportPath   string                   `json:"export_path"`
	DocumentsDir string                   `json:"documents_dir"`
	Artifacts    []string                 `json:"artifacts,omitempty"`
	Outcomes     []types.RetrievalOutcome `json:"-"`
}

// Progress is reported as a run moves through its steps.
type Progress struct {
	Step      string
	Page      int
	Rows      int
	Retrieved int
}

// DownloadCloser is a Downloader owning network resources.
type DownloadCloser interface {
	Downloader
	Close()
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithBrowser replaces the browser factory.
func WithBrowser(factory func(ctx context.Context) (types.Driver, error)) Option {
	return func(e *Extractor) { e.newDriver = factory }
}

// WithDownloader replaces the download client factory.
func WithDownloader(factory func() DownloadCloser) Option {
	return func(e *Extractor) { e.newDownloads = factory }
}

// WithMetrics records run metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithProgress registers a progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(e *Extractor) { e.progress = fn }
}

// WithWaiter replaces the waiter built from the configuration.
func WithWaiter(w *utils.Waiter) Option {
	return func(e *Extractor) { e.waiter = w }
}

// Extractor drives one portal run: login, search, pagination, retrieval and export.
type Extractor struct {
	config       *types.Config
	logger       types.Logger
	metrics      *Metrics
	waiter       *utils.Waiter
	newDriver    func(ctx context.Context) (types.Driver, error)
	newDownloads func() DownloadCloser
	progress     func(Progress)
	now          func() time.Time
}

// NewExtractor creates a new extractor
func NewExtractor(config *types.Config, logger types.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		config: config,
		logger: logger,
		now:    time.Now,
	}
	e.newDriver = func(ctx context.Context) (types.Driver, error) {
		return utils.NewBrowser(ctx, config, logger)
	}
	e.newDownloads = func() DownloadCloser {
		return utils.NewDownloadClient(config, logger)
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.waiter == nil {
		e.waiter = utils.NewWaiter(config, logger)
	}
	e.waiter.Observe(e.metrics.ObserveWait)
	return e
}

func (e *Extractor) report(p Progress) {
	if e.progress != nil {
		e.progress(p)
	}
}

// Run executes a portal run. Every terminal state leaves an export file behind. The
// returned error is nil for success and for an empty result set.
func (e *Extractor) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	adapter := req.Adapter
	portal := adapter.Name()
	exporter := NewExporter(e.config.OutputFormat, e.logger)

	report := &RunReport{
		Portal:       portal,
		StartedAt:    e.now(),
		ExportPath:   exporter.Path(e.config.OutputDir, portal),
		DocumentsDir: filepath.Join(e.config.OutputDir, portal+"_documents"),
	}
	e.logger.Infof("Starting %s run at %v", portal, report.StartedAt.Format("15:04:05.000"))

	err := e.run(ctx, req, exporter, report)
	report.FinishedAt = e.now()

	switch {
	case err == nil:
		report.Status = StatusSuccess
	case errors.Is(err, types.ErrNoResults):
		report.Status = StatusNoResults
		report.Message = SentinelNoResults
		err = nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		report.Status = StatusCanceled
		report.Message = err.Error()
	default:
		var timeout *types.SearchTimeoutError
		if errors.As(err, &timeout) {
			report.Status = StatusSearchTimeout
		} else {
			report.Status = StatusError
		}
		report.Message = err.Error()
		e.metrics.IncError(err)
	}
	e.metrics.IncRun(portal, report.Status)

	e.logger.Infof("%s run finished in %v: %s (%d page(s), %d row(s), %d retrieved, %d without icon, %d failed)",
		portal, report.FinishedAt.Sub(report.StartedAt), report.Status, report.Pages, report.Rows, report.Retrieved, report.NoIcon, report.Failed)
	return report, err
}

func (e *Extractor) run(ctx context.Context, req RunRequest, exporter *Exporter, report *RunReport) (err error) {
	adapter := req.Adapter
	var headers []types.Header
	var rows []types.ResultRow
	exported := false

	// Whatever happens below, leave an export behind.
	defer func() {
		if exported {
			return
		}
		var exportErr error
		if err != nil && len(rows) == 0 {
			exportErr = exporter.ExportSentinel(report.ExportPath, SentinelFor(err))
		} else {
			exportErr = exporter.Export(report.ExportPath, headers, rows)
		}
		if exportErr != nil {
			e.logger.Errorf("Failed to write export: %v", exportErr)
			if err == nil {
				err = exportErr
			}
		}
	}()

	e.report(Progress{Step: "starting browser"})
	driver, err := e.newDriver(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &types.FatalSessionError{Stage: "browser start", Err: err}
	}
	defer func() {
		if closeErr := driver.Close(); closeErr != nil {
			e.logger.Warnf("Failed to close browser: %v", closeErr)
		}
	}()

	downloads := e.newDownloads()
	defer downloads.Close()

	controller := NewSessionController(adapter, e.waiter, e.config, e.logger)

	e.report(Progress{Step: "logging in"})
	session, err := controller.Login(ctx, driver, req.Credentials)
	if err != nil {
		return err
	}
	report.AuthStatus = session.Status.String()

	e.report(Progress{Step: "opening search"})
	if err := controller.OpenSearch(ctx, session); err != nil {
		return err
	}

	criteria := types.DefaultCriteria(e.now(), adapter.DefaultDocumentTypes())
	if req.Criteria != nil {
		criteria = req.Criteria.Clone()
		if len(criteria.DocumentTypes) == 0 {
			criteria.DocumentTypes = adapter.DefaultDocumentTypes()
		}
	}

	e.report(Progress{Step: "searching"})
	paginator := NewPaginator(session, adapter, e.waiter, e.config, e.logger)
	page, err := paginator.Submit(ctx, criteria)
	if err != nil {
		return err
	}
	headers = paginator.Headers()

	retriever := NewRetriever(session, controller, adapter, e.waiter, downloads, NewFileNamer(),
		report.DocumentsDir, e.config, e.logger, e.metrics)

	for page != nil {
		report.Pages++
		e.metrics.ObservePage(adapter.Name(), len(page.Rows))
		rows = append(rows, page.Rows...)
		report.Rows = len(rows)

		for _, row := range page.Rows {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.report(Progress{Step: "retrieving documents", Page: page.Number, Rows: report.Rows, Retrieved: report.Retrieved})

			outcome := retriever.Retrieve(ctx, row)
			report.Outcomes = append(report.Outcomes, outcome)
			switch {
			case outcome.OK():
				report.Retrieved++
				report.Artifacts = append(report.Artifacts, outcome.Artifact.Filename)
			case outcome.Failure == types.FailureNoIcon:
				report.NoIcon++
			default:
				report.Failed++
				e.metrics.IncError(outcome.Err)
			}
		}

		e.report(Progress{Step: "paging", Page: page.Number, Rows: report.Rows, Retrieved: report.Retrieved})
		page, err = paginator.Next(ctx)
		if err != nil {
			if errors.Is(err, types.ErrEndOfResults) {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Keep what was read; a broken pager does not invalidate earlier pages.
			e.logger.Warnf("Pagination stopped after page %d: %v", report.Pages, err)
			report.Message = fmt.Sprintf("pagination stopped after page %d: %v", report.Pages, err)
			break
		}
	}

	e.report(Progress{Step: "exporting", Page: report.Pages, Rows: report.Rows, Retrieved: report.Retrieved})
	if err := exporter.Export(report.ExportPath, headers, rows); err != nil {
		exported = true
		return err
	}
	exported = true
	return nil
}
