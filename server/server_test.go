package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"landrecord-extractor/extractor"
)

type statusResponse struct {
	Success bool      `json:"success"`
	Data    RunStatus `json:"data"`
	Error   string    `json:"error"`
}

func newTestServer(t *testing.T, run RunFunc) (*Server, *httptest.Server) {
	t.Helper()
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "landrecord_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	s := NewServer([]string{"fairfax", "loudoun"}, run, registry, logrus.New())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, ts
}

func doRequest(t *testing.T, method, url string) (int, statusResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func waitFinished(t *testing.T, s *Server, portal string) RunStatus {
	t.Helper()
	var status RunStatus
	require.Eventually(t, func() bool {
		st, ok := s.Status(portal)
		status = st
		return ok && !st.Running
	}, 2*time.Second, 10*time.Millisecond)
	return status
}

func TestServer_StartAndFinish(t *testing.T) {
	release := make(chan struct{})
	s, ts := newTestServer(t, func(ctx context.Context, portal string, progress func(extractor.Progress)) (*extractor.RunReport, error) {
		progress(extractor.Progress{Step: "retrieving documents", Page: 1, Rows: 3, Retrieved: 1})
		<-release
		return &extractor.RunReport{Portal: portal, Status: extractor.StatusSuccess, Pages: 1, Rows: 3, Retrieved: 2}, nil
	})

	code, body := doRequest(t, http.MethodPost, ts.URL+"/runs/fairfax")
	assert.Equal(t, http.StatusAccepted, code)
	assert.True(t, body.Success)
	assert.True(t, body.Data.Running)
	assert.NotEmpty(t, body.Data.ID)
	runID := body.Data.ID

	require.Eventually(t, func() bool {
		st, _ := s.Status("fairfax")
		return st.Step == "retrieving documents"
	}, 2*time.Second, 10*time.Millisecond)

	code, body = doRequest(t, http.MethodGet, ts.URL+"/runs/fairfax")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Data.Running)
	assert.Equal(t, 3, body.Data.Rows)

	close(release)
	status := waitFinished(t, s, "fairfax")
	assert.Equal(t, runID, status.ID)
	assert.Equal(t, 2, status.Retrieved)
	assert.NotNil(t, status.FinishedAt)
	require.NotNil(t, status.Report)
	assert.Equal(t, extractor.StatusSuccess, status.Report.Status)
	assert.Empty(t, status.Error)
}

func TestServer_ConflictWhileRunning(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	_, ts := newTestServer(t, func(ctx context.Context, portal string, progress func(extractor.Progress)) (*extractor.RunReport, error) {
		<-release
		return &extractor.RunReport{Portal: portal, Status: extractor.StatusSuccess}, nil
	})

	code, _ := doRequest(t, http.MethodPost, ts.URL+"/runs/fairfax")
	require.Equal(t, http.StatusAccepted, code)

	code, body := doRequest(t, http.MethodPost, ts.URL+"/runs/fairfax")
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "already in progress")

	// Other portals are independent.
	code, _ = doRequest(t, http.MethodPost, ts.URL+"/runs/loudoun")
	assert.Equal(t, http.StatusAccepted, code)
}

func TestServer_RestartAfterFinish(t *testing.T) {
	s, ts := newTestServer(t, func(ctx context.Context, portal string, progress func(extractor.Progress)) (*extractor.RunReport, error) {
		return nil, errors.New("fatal session error during login: no form")
	})

	code, first := doRequest(t, http.MethodPost, ts.URL+"/runs/loudoun")
	require.Equal(t, http.StatusAccepted, code)
	status := waitFinished(t, s, "loudoun")
	assert.Contains(t, status.Error, "no form")

	code, second := doRequest(t, http.MethodPost, ts.URL+"/runs/loudoun")
	assert.Equal(t, http.StatusAccepted, code)
	assert.NotEqual(t, first.Data.ID, second.Data.ID)
}

func TestServer_UnknownPortal(t *testing.T) {
	_, ts := newTestServer(t, nil)

	code, body := doRequest(t, http.MethodPost, ts.URL+"/runs/arlington")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body.Error, "Unsupported portal")

	code, _ = doRequest(t, http.MethodGet, ts.URL+"/runs/fairfax")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_ShutdownCancelsRuns(t *testing.T) {
	started := make(chan struct{})
	s, ts := newTestServer(t, func(ctx context.Context, portal string, progress func(extractor.Progress)) (*extractor.RunReport, error) {
		close(started)
		<-ctx.Done()
		return &extractor.RunReport{Portal: portal, Status: extractor.StatusCanceled}, ctx.Err()
	})

	code, _ := doRequest(t, http.MethodPost, ts.URL+"/runs/fairfax")
	require.Equal(t, http.StatusAccepted, code)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	status, ok := s.Status("fairfax")
	require.True(t, ok)
	assert.False(t, status.Running)
	assert.Equal(t, context.Canceled.Error(), status.Error)

	code, _ = doRequest(t, http.MethodPost, ts.URL+"/runs/fairfax")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "landrecord_test_total 1"))
}

func TestServer_List(t *testing.T) {
	s, ts := newTestServer(t, func(ctx context.Context, portal string, progress func(extractor.Progress)) (*extractor.RunReport, error) {
		return &extractor.RunReport{Portal: portal, Status: extractor.StatusNoResults}, nil
	})

	code, _ := doRequest(t, http.MethodPost, ts.URL+"/runs/fairfax")
	require.Equal(t, http.StatusAccepted, code)
	waitFinished(t, s, "fairfax")

	resp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Data []RunStatus `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "fairfax", body.Data[0].Portal)
	assert.Equal(t, extractor.StatusNoResults, body.Data[0].Report.Status)
}
