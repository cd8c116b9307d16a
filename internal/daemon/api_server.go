package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"celluloid/internal/api"
	"celluloid/internal/config"
	"celluloid/internal/lifecycle"
	"celluloid/internal/logging"
	"celluloid/internal/store"
)

const maxSubmitBody = 1 << 20

type apiServer struct {
	bind      string
	apiKey    string
	outputDir string
	logger    *slog.Logger
	manager   *lifecycle.Manager
	store     *store.Store

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, mgr *lifecycle.Manager, st *store.Store, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:      cfg.Paths.APIBind,
		apiKey:    cfg.Paths.APIKey,
		outputDir: cfg.Paths.OutputDir,
		logger:    logging.NewComponentLogger(logger, "api"),
		manager:   mgr,
		store:     st,
	}
	srv.server = &http.Server{
		Handler:           srv.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/jobs", authMiddleware(s.apiKey, http.HandlerFunc(s.handleJobs)))
	mux.Handle("/api/jobs/", authMiddleware(s.apiKey, http.HandlerFunc(s.handleJob)))
	mux.Handle("/outputs/", authMiddleware(s.apiKey,
		http.StripPrefix("/outputs/", http.FileServer(http.Dir(s.outputDir)))))
	// Health stays unauthenticated for probes.
	mux.HandleFunc("/api/health", s.handleHealth)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String(logging.FieldURL, listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	body := io.LimitReader(r.Body, maxSubmitBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := s.manager.Submit(r.Context(), lifecycle.SubmitRequest{
		ExternalID:          req.ExternalID,
		VideoURL:            req.VideoURL,
		WebhookURL:          req.WebhookURL,
		SimilarityThreshold: req.SimilarityThreshold,
	})
	if errors.Is(err, lifecycle.ErrInvalidRequest) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := api.JobFromStore(sub.Job)
	payload.QueuePosition = sub.QueuePosition
	payload.Deduplicated = sub.Deduplicated
	if sub.EstimatedWait > 0 {
		payload.EstimatedWait = sub.EstimatedWait.String()
	}

	status := http.StatusAccepted
	if sub.Deduplicated {
		status = http.StatusOK
	}
	s.writeJSON(w, status, payload)
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []store.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status := store.Status(trimmed)
		if !status.Valid() {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", trimmed))
			return
		}
		statuses = append(statuses, status)
	}

	externalID := strings.TrimSpace(r.URL.Query().Get("external_id"))
	jobs, err := s.manager.List(r.Context(), externalID, statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]api.Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, api.JobFromStore(job))
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: out})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	jobID, tail, _ := strings.Cut(rest, "/")
	if jobID == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch {
	case tail == "" && r.Method == http.MethodGet:
		s.handleStatus(w, r, jobID)
	case tail == "" && r.Method == http.MethodDelete:
		s.handleCancel(w, r, jobID)
	case tail == "results" && r.Method == http.MethodGet:
		s.handleResults(w, r, jobID)
	case tail == "" || tail == "results":
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	status, err := s.manager.Status(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := api.JobFromStore(status.Job)
	payload.QueuePosition = status.QueuePosition
	if status.EstimatedWait > 0 {
		payload.EstimatedWait = status.EstimatedWait.String()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.manager.Cancel(r.Context(), jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, lifecycle.ErrAlreadyTerminal):
		s.writeError(w, http.StatusConflict,
			fmt.Sprintf("job already %s", job.Status))
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobFromStore(job))
}

// handleResults serves the completed result document. Unfinished jobs answer
// with their current status so callers can poll the same URL.
func (s *apiServer) handleResults(w http.ResponseWriter, r *http.Request, jobID string) {
	status, err := s.manager.Status(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job := status.Job
	switch job.Status {
	case store.StatusCompleted:
		data, err := os.ReadFile(filepath.Join(s.outputDir, job.ResultPath))
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "result document unavailable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case store.StatusFailed, store.StatusCancelled:
		s.writeError(w, http.StatusConflict,
			fmt.Sprintf("job %s: %s", job.Status, job.ErrorMessage))
	default:
		payload := api.JobFromStore(job)
		payload.QueuePosition = status.QueuePosition
		s.writeJSON(w, http.StatusAccepted, payload)
	}
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload := api.HealthResponse{Status: "ok", Version: version, JobCounts: map[string]int{}}
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		payload.Status = "degraded"
		payload.StoreError = err.Error()
		code = http.StatusServiceUnavailable
	} else if health, err := s.store.Health(r.Context()); err == nil {
		payload.JobCounts = map[string]int{
			"queued":     health.Queued,
			"processing": health.Processing,
			"completed":  health.Completed,
			"failed":     health.Failed,
			"cancelled":  health.Cancelled,
		}
	}
	s.writeJSON(w, code, payload)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
