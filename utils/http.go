package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
	"landrecord-extractor/internal/types"
)

// sniffLen is how many leading bytes are handed to a Verify callback.
const sniffLen = 512

// DownloadRequest describes one authenticated binary transfer.
type DownloadRequest struct {
	URL     string
	Cookies []*http.Cookie
	Referer string
	Dest    string
	// Verify inspects the first bytes of the body; an error discards the download.
	Verify func(head []byte, contentType string) error
}

// DownloadResult describes a file written by Download.
type DownloadResult struct {
	Path        string
	Size        int64
	ContentType string
	Head        []byte
}

// StatusError is a non-2xx response from the document endpoint.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d for %s", e.StatusCode, e.URL)
}

// DownloadClient streams documents to disk outside the browser.
// It keeps no cookie jar: every request carries exactly the cookies it is given.
type DownloadClient struct {
	client  *resty.Client
	config  *types.Config
	logger  types.Logger
	limiter *rate.Limiter
}

// NewDownloadClient creates a new download client with the given configuration
func NewDownloadClient(config *types.Config, logger types.Logger) *DownloadClient {
	client := resty.New()
	client.SetCookieJar(nil)
	client.SetTimeout(config.DownloadTimeout)
	client.SetHeader("User-Agent", config.UserAgent)
	client.SetHeader("Accept", "application/pdf,image/tiff,image/*,*/*;q=0.8")
	client.SetRetryCount(config.DownloadRetries)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
	})

	limit := rate.Inf
	if config.RequestDelay > 0 {
		limit = rate.Every(config.RequestDelay)
	}

	return &DownloadClient{
		client:  client,
		config:  config,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Download streams req.URL into req.Dest. The file only appears once the body was
// fully written and verified; failures leave nothing behind.
func (d *DownloadClient) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	r := d.client.R().
		SetContext(ctx).
		SetCookies(req.Cookies).
		SetDoNotParseResponse(true)
	if req.Referer != "" {
		r.SetHeader("Referer", req.Referer)
	}

	d.logger.Debugf("Downloading %s with %d cookie(s)", req.URL, len(req.Cookies))
	resp, err := r.Get(req.URL)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode(), URL: req.URL}
	}

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(req.Dest), ".partial-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	head = head[:n]

	contentType := resp.Header().Get("Content-Type")
	if req.Verify != nil {
		if err := req.Verify(head, contentType); err != nil {
			return nil, err
		}
	}

	if _, err := tmp.Write(head); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	rest, err := io.Copy(tmp, body)
	if err != nil {
		return nil, fmt.Errorf("stream body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpName, req.Dest); err != nil {
		return nil, fmt.Errorf("move file into place: %w", err)
	}
	committed = true

	size := int64(n) + rest
	d.logger.Debugf("Saved %d bytes from %s to %s", size, req.URL, req.Dest)
	return &DownloadResult{
		Path:        req.Dest,
		Size:        size,
		ContentType: contentType,
		Head:        head,
	}, nil
}

// Close cleans up resources
func (d *DownloadClient) Close() {
	if d.client != nil {
		d.client.GetClient().CloseIdleConnections()
	}
}
