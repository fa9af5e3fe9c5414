package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"landrecord-extractor/internal/types"
	"landrecord-extractor/utils"
)

// Downloader transfers a document outside the browser.
type Downloader interface {
	Download(ctx context.Context, req utils.DownloadRequest) (*utils.DownloadResult, error)
}

// Retriever runs the document acquisition protocol for one row at a time.
type Retriever struct {
	session    *Session
	controller *SessionController
	adapter    types.PortalAdapter
	ui         *ui
	downloads  Downloader
	files      *FileNamer
	dir        string
	config     *types.Config
	logger     types.Logger
	metrics    *Metrics

	secondary types.Driver
}

// NewRetriever creates a retriever writing artifacts into dir.
func NewRetriever(session *Session, controller *SessionController, adapter types.PortalAdapter, waiter *utils.Waiter,
	downloads Downloader, files *FileNamer, dir string, config *types.Config, logger types.Logger, metrics *Metrics) *Retriever {
	return &Retriever{
		session:    session,
		controller: controller,
		adapter:    adapter,
		ui:         &ui{waiter: waiter, logger: logger},
		downloads:  downloads,
		files:      files,
		dir:        dir,
		config:     config,
		logger:     logger,
		metrics:    metrics,
	}
}

// Retrieve acquires the document for row. It never panics on portal trouble: every
// failure is reported in the outcome, and the detail view is closed before returning.
func (r *Retriever) Retrieve(ctx context.Context, row types.ResultRow) (outcome types.RetrievalOutcome) {
	outcome = types.RetrievalOutcome{Row: row}
	defer func() {
		r.metrics.ObserveRetrieval(r.adapter.Name(), outcome)
	}()

	if !row.Detail.Present {
		r.logger.Debugf("Page %d row %d has no detail affordance", row.Page, row.Index)
		outcome.Failure = types.FailureNoIcon
		return outcome
	}

	viewer := r.adapter.Viewer()
	view, err := r.open(ctx, viewer, row)
	if err != nil {
		r.logger.Warnf("Failed to open details for page %d row %d: %v", row.Page, row.Index, err)
		outcome.Failure = types.FailureOpenFailed
		outcome.Err = err
		return outcome
	}
	defer r.close(ctx, viewer, view)

	if !viewer.Ready.Empty() {
		if _, err := r.ui.resolve(ctx, view, "detail view ready", viewer.Ready, false); err != nil {
			if ctx.Err() != nil {
				outcome.Failure = types.FailureExhausted
				outcome.Err = ctx.Err()
				return outcome
			}
			r.logger.Debugf("Detail view not confirmed ready for page %d row %d: %v", row.Page, row.Index, err)
		}
	}

	for _, strategy := range viewer.Strategies {
		artifact, err := r.attempt(ctx, view, row, strategy)
		outcome.Attempts = append(outcome.Attempts, types.StrategyAttempt{Strategy: strategy.Name, Err: err})
		if err == nil {
			outcome.Strategy = strategy.Name
			outcome.Artifact = artifact
			r.logger.Infof("Saved %s for page %d row %d via %s", artifact.Filename, row.Page, row.Index, strategy.Name)
			return outcome
		}
		if ctx.Err() != nil {
			break
		}
		r.logger.Debugf("Strategy %s failed for page %d row %d: %v", strategy.Name, row.Page, row.Index, err)
	}

	outcome.Failure = types.FailureExhausted
	outcome.Err = &types.RetrievalExhaustedError{Page: row.Page, Index: row.Index, Attempts: outcome.Attempts}
	if ctx.Err() != nil {
		outcome.Err = ctx.Err()
	}
	r.logger.Warnf("%v", outcome.Err)
	return outcome
}

// open brings up the row's detail view and returns the context it lives in.
func (r *Retriever) open(ctx context.Context, viewer types.ViewerSurface, row types.ResultRow) (types.Driver, error) {
	if r.secondary != nil {
		return nil, types.ErrContextBusy
	}
	primary := r.session.Driver()

	switch viewer.Mode {
	case types.DetailInPlace:
		loc, err := r.ui.resolve(ctx, primary, "detail row", row.Detail.Locator, true)
		if err != nil {
			return nil, err
		}
		if err := primary.DoubleClick(ctx, loc); err != nil {
			return nil, err
		}
		return primary, nil

	case types.DetailHref:
		href := row.Detail.Href
		if href == "" {
			loc, err := r.ui.resolve(ctx, primary, "detail link", row.Detail.Locator, false)
			if err != nil {
				return nil, err
			}
			if href, _, err = primary.Attribute(ctx, loc, "href"); err != nil {
				return nil, err
			}
		}
		base, err := primary.CurrentURL(ctx)
		if err != nil {
			return nil, err
		}
		target, err := resolveURL(base, href)
		if err != nil {
			return nil, err
		}
		view, err := primary.OpenURL(ctx, target)
		if err != nil {
			return nil, err
		}
		r.secondary = view
		return view, nil

	default:
		loc, err := r.ui.resolve(ctx, primary, "detail icon", row.Detail.Locator, true)
		if err != nil {
			return nil, err
		}
		view, err := primary.OpenByClick(ctx, loc)
		if err != nil {
			return nil, err
		}
		r.secondary = view
		return view, nil
	}
}

// close always returns control to the primary context, whatever happened to the row.
func (r *Retriever) close(ctx context.Context, viewer types.ViewerSurface, view types.Driver) {
	cleanupCtx := context.WithoutCancel(ctx)
	primary := r.session.Driver()

	if r.secondary != nil {
		if err := r.secondary.Close(); err != nil {
			r.logger.Debugf("Closing detail context: %v", err)
		}
		r.secondary = nil
		if err := primary.Focus(cleanupCtx); err != nil {
			r.logger.Warnf("Failed to return to results: %v", err)
		}
		return
	}

	if view == primary && !viewer.Close.Empty() {
		closeViewer := types.FormAction{Name: "close viewer", Kind: types.ActionClick, Target: viewer.Close, Optional: true}
		_ = r.ui.perform(cleanupCtx, primary, closeViewer)
	}
}

// attempt runs one strategy: switch the viewer, find the document URL, download it.
func (r *Retriever) attempt(ctx context.Context, view types.Driver, row types.ResultRow, strategy types.Strategy) (*types.DocumentArtifact, error) {
	if strategy.Switch != nil {
		if err := r.ui.perform(ctx, view, *strategy.Switch); err != nil {
			return nil, err
		}
	}

	raw, result := utils.AwaitValue(ctx, r.ui.waiter, strategy.Name+" document url", func(ctx context.Context) (string, bool, error) {
		return r.locateURL(ctx, view, strategy.Sources)
	})
	if !result.OK() {
		return nil, result.Err()
	}

	base, err := view.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	docURL, err := resolveURL(base, raw)
	if err != nil {
		return nil, err
	}

	// Cookies must come from this detail page; earlier snapshots are invalidated by navigation.
	cookies, err := r.controller.Snapshot(ctx, r.session, view)
	if err != nil {
		return nil, err
	}

	verify := utils.VerifyPDF
	if strategy.Format != types.ArtifactPDF {
		verify = utils.VerifyRaster
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	staging := filepath.Join(r.dir, fmt.Sprintf(".page%d-row%d.download", row.Page, row.Index))
	var downloaded *utils.DownloadResult
	dl := r.ui.waiter.Await(ctx, strategy.Name+" download", func(ctx context.Context) (bool, error) {
		start := time.Now()
		res, err := r.downloads.Download(ctx, utils.DownloadRequest{
			URL:     docURL,
			Cookies: cookies,
			Referer: base,
			Dest:    staging,
			Verify:  verify,
		})
		r.metrics.ObserveDownload(time.Since(start))
		if err != nil {
			return false, err
		}
		downloaded = res
		return true, nil
	}, utils.WithTimeout(r.config.DownloadTimeout))
	if !dl.OK() {
		return nil, dl.Err()
	}

	return r.persist(row, strategy, downloaded)
}

// locateURL returns the first usable URL among the strategy sources.
func (r *Retriever) locateURL(ctx context.Context, view types.Driver, sources []types.URLSource) (string, bool, error) {
	var lastErr error
	for _, source := range sources {
		for _, loc := range source.Target {
			value, _, err := view.Attribute(ctx, loc, source.Attr)
			if err != nil {
				if !errors.Is(err, types.ErrNotFound) {
					lastErr = err
				}
				continue
			}
			if usableURL(value) {
				return strings.TrimSpace(value), true, nil
			}
		}
	}
	return "", false, lastErr
}

func usableURL(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" || v == "#" {
		return false
	}
	return !strings.HasPrefix(v, "about:") && !strings.HasPrefix(v, "javascript:")
}

func resolveURL(base, ref string) (string, error) {
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid document url %q: %w", ref, err)
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid page url %q: %w", base, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// persist moves a verified download to its final name and derives raster siblings.
func (r *Retriever) persist(row types.ResultRow, strategy types.Strategy, dl *utils.DownloadResult) (*types.DocumentArtifact, error) {
	format := types.ArtifactPDF
	ext := "pdf"
	if strategy.Format != types.ArtifactPDF {
		var ok bool
		if format, ext, ok = utils.DetectRaster(dl.Head); !ok {
			os.Remove(dl.Path)
			return nil, fmt.Errorf("downloaded payload is not an image")
		}
	}

	stem := r.files.Reserve(Stem(r.adapter.DocumentType(row), r.adapter.InstrumentNumber(row), row.Index))
	filename := stem + "." + ext
	path := filepath.Join(r.dir, filename)
	if err := os.Rename(dl.Path, path); err != nil {
		os.Remove(dl.Path)
		return nil, fmt.Errorf("move download into place: %w", err)
	}

	artifact := &types.DocumentArtifact{
		Path:     path,
		Filename: filename,
		Format:   format,
		Size:     dl.Size,
	}

	if format == types.ArtifactPDF {
		if pages, err := utils.PDFPageCount(path); err != nil {
			r.logger.Debugf("Could not count pages of %s: %v", filename, err)
		} else {
			artifact.Pages = pages
		}
		return artifact, nil
	}

	// Raster conversion is best-effort; the raw image is already saved.
	pngPath := filepath.Join(r.dir, stem+".png")
	if ext == "png" {
		artifact.PNGPath = path
	} else if err := utils.ConvertToPNG(path, pngPath); err != nil {
		r.logger.Warnf("Failed to convert %s to PNG: %v", filename, err)
	} else {
		artifact.PNGPath = pngPath
	}

	if r.config.RasterToPDF && artifact.PNGPath != "" {
		pdfPath := filepath.Join(r.dir, stem+".pdf")
		if err := utils.WrapImageAsPDF(artifact.PNGPath, pdfPath); err != nil {
			r.logger.Warnf("Failed to wrap %s as PDF: %v", filename, err)
		} else {
			artifact.PDFPath = pdfPath
		}
	}
	return artifact, nil
}
