package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"landrecord-extractor/extractor"
	"landrecord-extractor/internal/types"
)

// RunFunc executes one portal run, reporting progress as it goes.
type RunFunc func(ctx context.Context, portal string, progress func(extractor.Progress)) (*extractor.RunReport, error)

// RunStatus is the state of the latest run of a portal.
type RunStatus struct {
	ID         string               `json:"id"`
	Portal     string               `json:"portal"`
	Running    bool                 `json:"running"`
	Step       string               `json:"step,omitempty"`
	Page       int                  `json:"page"`
	Rows       int                  `json:"rows"`
	Retrieved  int                  `json:"retrieved"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Error      string               `json:"error,omitempty"`
	Report     *extractor.RunReport `json:"report,omitempty"`
}

// APIResponse represents the response from the API
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server triggers portal runs in the background and reports their status.
// At most one run per portal is active at a time.
type Server struct {
	logger   types.Logger
	run      RunFunc
	portals  []string
	registry *prometheus.Registry
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*RunStatus
	http *http.Server
}

// NewServer creates a new API server
func NewServer(portals []string, run RunFunc, registry *prometheus.Registry, logger types.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		logger:   logger,
		run:      run,
		portals:  append([]string(nil), portals...),
		registry: registry,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		runs:     map[string]*RunStatus{},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs/{portal}", s.handleStart)
	mux.HandleFunc("GET /runs/{portal}", s.handleStatus)
	mux.HandleFunc("GET /runs", s.handleList)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// handleStart starts a run unless one is already active for the portal.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	portal := r.PathValue("portal")
	if !slices.Contains(s.portals, portal) {
		s.sendError(w, "Unsupported portal: "+portal, http.StatusNotFound)
		return
	}

	s.mu.Lock()
	if current, ok := s.runs[portal]; ok && current.Running {
		s.mu.Unlock()
		s.sendError(w, portal+" run already in progress", http.StatusConflict)
		return
	}
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		s.sendError(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	status := &RunStatus{
		ID:        uuid.NewString(),
		Portal:    portal,
		Running:   true,
		Step:      "queued",
		StartedAt: s.now(),
	}
	s.runs[portal] = status
	snapshot := *status
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Infof("Starting %s run %s", portal, status.ID)
	go s.execute(portal, status.ID)

	s.send(w, APIResponse{Success: true, Data: snapshot}, http.StatusAccepted)
}

// execute runs in the background; the request that started it is long gone.
func (s *Server) execute(portal, id string) {
	defer s.wg.Done()

	progress := func(p extractor.Progress) {
		s.update(id, portal, func(st *RunStatus) {
			st.Step = p.Step
			st.Page = p.Page
			st.Rows = p.Rows
			st.Retrieved = p.Retrieved
		})
	}

	report, err := s.run(s.ctx, portal, progress)

	s.update(id, portal, func(st *RunStatus) {
		finished := s.now()
		st.Running = false
		st.FinishedAt = &finished
		st.Report = report
		st.Step = "finished"
		if report != nil {
			st.Rows = report.Rows
			st.Retrieved = report.Retrieved
			st.Page = report.Pages
		}
		if err != nil {
			st.Error = err.Error()
		}
	})
	if err != nil {
		s.logger.Warnf("%s run %s failed: %v", portal, id, err)
		return
	}
	s.logger.Infof("%s run %s finished: %s", portal, id, report.Status)
}

func (s *Server) update(id, portal string, fn func(*RunStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.runs[portal]; ok && st.ID == id {
		fn(st)
	}
}

// Status returns a copy of the latest run of portal.
func (s *Server) Status(portal string) (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[portal]
	if !ok {
		return RunStatus{}, false
	}
	return *st, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	portal := r.PathValue("portal")
	status, ok := s.Status(portal)
	if !ok {
		s.sendError(w, "No run recorded for "+portal, http.StatusNotFound)
		return
	}
	s.send(w, APIResponse{Success: true, Data: status}, http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	statuses := make([]RunStatus, 0, len(s.portals))
	for _, portal := range s.portals {
		if st, ok := s.Status(portal); ok {
			statuses = append(statuses, st)
		}
	}
	s.send(w, APIResponse{Success: true, Data: statuses}, http.StatusOK)
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.send(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func (s *Server) send(w http.ResponseWriter, body interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	s.send(w, APIResponse{Success: false, Error: message}, statusCode)
}

// Start serves the API on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Infof("Starting API server on %s", addr)
	s.logger.Info("Available endpoints:")
	s.logger.Info("  POST /runs/{portal} - Start a portal run")
	s.logger.Info("  GET  /runs/{portal} - Status of the latest portal run")
	s.logger.Info("  GET  /runs          - Status of all portals")
	s.logger.Info("  GET  /health        - Health check")
	s.logger.Info("  GET  /metrics       - Prometheus metrics")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels active runs and waits for them to clean up.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
