package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"uploadai/internal/history"
	"uploadai/internal/logging"
	"uploadai/internal/media"
	"uploadai/internal/services"
	"uploadai/internal/status"
	"uploadai/internal/workflow"
)

const (
	defaultMaxUploadBytes = 512 * 1024 * 1024
	defaultRunsLimit      = 20
	maxPromptBytes        = 64 * 1024
	fileField             = "file"
)

// EngineStatus reports whether the engine has been loaded.
type EngineStatus interface {
	Loaded() bool
}

// Deps wires a Server. Session is required.
type Deps struct {
	Session        *workflow.Session
	History        *history.Store
	Engine         EngineStatus
	MaxUploadBytes int64
}

// Server routes control requests to a session. Runs started over HTTP
// outlive the request that started them and end when Close is called.
type Server struct {
	logger  *slog.Logger
	session *workflow.Session
	history *history.Store
	engine  EngineStatus

	maxUploadBytes int64
	router         *chi.Mux
	upgrader       websocket.Upgrader

	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// SessionView is the JSON body of GET /session.
type SessionView struct {
	status.Snapshot
	LabelPT  string `json:"label_pt"`
	File     string `json:"file,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size_bytes,omitempty"`
}

// RunResponse is returned when a run is accepted.
type RunResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// New builds the router.
func New(deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Session == nil {
		return nil, services.Wrap(services.ErrConfiguration, "server", "new", "session is required", nil)
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:         logging.NewComponentLogger(logger, "server"),
		session:        deps.Session,
		history:        deps.History,
		engine:         deps.Engine,
		maxUploadBytes: maxUpload,
		router:         chi.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		runCtx:     runCtx,
		cancelRuns: cancel,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close cancels runs started over HTTP.
func (s *Server) Close() {
	s.cancelRuns()
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.health)
	s.router.Get("/session", s.getSession)
	s.router.Get("/session/ws", s.sessionWS)
	s.router.Post("/session/file", s.selectFile)
	s.router.Post("/session/submit", s.submit)
	s.router.Post("/session/cancel", s.cancel)
	s.router.Post("/session/retry", s.retry)
	s.router.Get("/runs", s.runs)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"state":     s.session.Snapshot().State,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if s.engine != nil {
		payload["engine_loaded"] = s.engine.Loaded()
	}
	s.respondJSON(w, http.StatusOK, payload)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.view())
}

func (s *Server) view() SessionView {
	snap := s.session.Snapshot()
	view := SessionView{Snapshot: snap, LabelPT: status.LabelPT(snap.State)}
	if file, ok := s.session.Selected(); ok {
		view.File = file.Name()
		view.MIMEType = file.MIMEType()
		view.Size = file.Size()
	}
	return view
}

func (s *Server) selectFile(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	reader, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "file field is required")
			return
		}
		if err != nil {
			s.respondUploadError(w, err)
			return
		}
		if part.FormName() != fileField {
			_ = part.Close()
			continue
		}
		file, err := media.FromUpload(part.FileName(), part.Header.Get("Content-Type"), part, s.maxUploadBytes)
		_ = part.Close()
		if err != nil {
			s.respondUploadError(w, err)
			return
		}
		if err := s.session.Select(file); err != nil {
			s.respondError(w, http.StatusBadRequest, services.Details(err).Message)
			return
		}
		logger.Info("file received",
			logging.String(logging.FieldEventType, "file_received"),
			logging.String("file", file.Name()),
			logging.Int64("size_bytes", file.Size()),
		)
		s.respondJSON(w, http.StatusOK, s.view())
		return
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	prompt, ok := s.readPrompt(w, r)
	if !ok {
		return
	}
	run, err := s.session.Start(s.runContext(r), prompt)
	if err != nil {
		s.respondRunError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, RunResponse{RunID: run.ID(), State: string(s.session.Snapshot().State)})
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	prompt, ok := s.readPrompt(w, r)
	if !ok {
		return
	}
	run, err := s.session.Retry(s.runContext(r), prompt)
	if err != nil {
		s.respondRunError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, RunResponse{RunID: run.ID(), State: string(s.session.Snapshot().State)})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.session.Cancel()
	s.respondJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"runs": []history.Record{}})
		return
	}
	limit := defaultRunsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.requestLogger(r).Error("history query failed", logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"runs": records})
}

// runContext detaches the run from the request while keeping its
// correlation id.
func (s *Server) runContext(r *http.Request) context.Context {
	ctx := s.runCtx
	if id := middleware.GetReqID(r.Context()); id != "" {
		ctx = services.WithRequestID(ctx, id)
	}
	return ctx
}

func (s *Server) readPrompt(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Body == nil || r.ContentLength == 0 {
		return "", true
	}
	var req promptRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxPromptBytes))
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "body must be JSON {\"prompt\": \"...\"}")
		return "", false
	}
	return req.Prompt, true
}

func (s *Server) respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrNoFile):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrBusy), errors.Is(err, workflow.ErrNotRetryable):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		s.respondError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit")
	case errors.Is(err, services.ErrValidation):
		status := http.StatusBadRequest
		if strings.Contains(services.Details(err).Message, "exceeds") {
			status = http.StatusRequestEntityTooLarge
		}
		s.respondError(w, status, services.Details(err).Message)
	default:
		s.respondError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, map[string]string{"error": message})
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	ctx := r.Context()
	if id := middleware.GetReqID(ctx); id != "" {
		ctx = services.WithRequestID(ctx, id)
	}
	return logging.WithContext(ctx, s.logger)
}
