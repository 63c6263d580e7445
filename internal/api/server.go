// Package api exposes the HTTP control surface for the monitoring service.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/metrics"
	"github.com/evergrid-labs/bidwatch/internal/monitor"
	"github.com/evergrid-labs/bidwatch/internal/round"
)

// Monitor is the orchestrator surface the API drives.
type Monitor interface {
	Start() error
	Stop() error
	RunRound(ctx context.Context) (monitor.RoundReport, error)
	Status() monitor.StateSnapshot
	Settings() round.Settings
	UpdateSettings(s round.Settings)
}

// AuthConfig enables HTTP basic auth on the API routes.
type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

// Server wires HTTP handlers to the orchestrator and record store.
type Server struct {
	router  chi.Router
	monitor Monitor
	store   monitor.RecordStore
	persist func(round.Settings) error
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. persist, when
// non-nil, is called after every settings update so operator edits survive a
// restart; persistence failures are logged, not surfaced, since the running
// settings already changed.
func NewServer(mon Monitor, store monitor.RecordStore, auth AuthConfig, persist func(round.Settings) error, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		monitor: mon,
		store:   store,
		persist: persist,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if auth.Enabled {
			r.Use(basicAuthMiddleware(auth.Username, auth.Password))
		}
		r.Get("/status", s.getStatus)
		r.Post("/start", s.startMonitor)
		r.Post("/stop", s.stopMonitor)
		r.Post("/run-once", s.runOnce)
		r.Get("/config", s.getConfig)
		r.Post("/config", s.updateConfig)
		r.Get("/sites", s.getSites)
		r.Post("/sites", s.updateSites)
		r.Get("/contacts", s.getContacts)
		r.Post("/contacts", s.updateContacts)
		r.Get("/results", s.getResults)
		r.Delete("/history", s.clearHistory)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Status()
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count records")
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		State:        st,
		TotalRecords: count,
	})
}

func (s *Server) startMonitor(w http.ResponseWriter, _ *http.Request) {
	if err := s.monitor.Start(); err != nil {
		if errors.Is(err, round.ErrAlreadyRunning) {
			s.writeJSON(w, http.StatusConflict, actionResponse{Success: false, Message: "monitor is already running"})
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "monitor started"})
}

func (s *Server) stopMonitor(w http.ResponseWriter, _ *http.Request) {
	if err := s.monitor.Stop(); err != nil {
		if errors.Is(err, round.ErrNotRunning) {
			s.writeJSON(w, http.StatusConflict, actionResponse{Success: false, Message: "monitor is not running"})
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "monitor stopped"})
}

func (s *Server) runOnce(w http.ResponseWriter, _ *http.Request) {
	if s.monitor.Status().CurrentTaskRunning {
		s.writeJSON(w, http.StatusConflict, actionResponse{Success: false, Message: "a round is already running"})
		return
	}
	// Rounds can take minutes; run detached and let /api/status report
	// progress. The orchestrator rejects overlapping rounds itself.
	go func() {
		if _, err := s.monitor.RunRound(context.Background()); err != nil && !errors.Is(err, round.ErrRoundInFlight) {
			s.logger.Error("manual round failed", zap.Error(err))
		}
	}()
	s.writeJSON(w, http.StatusAccepted, actionResponse{Success: true, Message: "round started"})
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, settingsToPayload(s.monitor.Settings()))
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req configPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.IntervalMinutes <= 0 {
		s.writeError(w, http.StatusBadRequest, "interval_minutes must be > 0")
		return
	}
	settings := s.monitor.Settings()
	settings.Interval = time.Duration(req.IntervalMinutes) * time.Minute
	settings.Policy = monitor.MatchPolicy{
		Include:     req.Include,
		Exclude:     req.Exclude,
		MustContain: req.MustContain,
	}
	settings.UseBrowser = req.UseBrowser
	settings.EnabledSites = req.EnabledSites
	s.monitor.UpdateSettings(settings)
	s.persistSettings(settings)
	s.writeJSON(w, http.StatusOK, settingsToPayload(settings))
}

func (s *Server) getSites(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]monitor.Site{"custom_sites": s.monitor.Settings().CustomSites})
}

func (s *Server) updateSites(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomSites []monitor.Site `json:"custom_sites"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, site := range req.CustomSites {
		if site.Name == "" || site.URL == "" {
			s.writeError(w, http.StatusBadRequest, "each site needs a name and a url")
			return
		}
	}
	settings := s.monitor.Settings()
	settings.CustomSites = req.CustomSites
	s.monitor.UpdateSettings(settings)
	s.persistSettings(settings)
	s.writeJSON(w, http.StatusOK, map[string][]monitor.Site{"custom_sites": req.CustomSites})
}

func (s *Server) getContacts(w http.ResponseWriter, _ *http.Request) {
	contacts := s.monitor.Settings().Contacts
	// Credentials stay server-side.
	redacted := make([]monitor.Contact, len(contacts))
	for i, c := range contacts {
		c.EmailPassword = ""
		c.ChatToken = ""
		redacted[i] = c
	}
	s.writeJSON(w, http.StatusOK, map[string][]monitor.Contact{"contacts": redacted})
}

func (s *Server) updateContacts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Contacts []monitor.Contact `json:"contacts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, c := range req.Contacts {
		if c.Name == "" {
			s.writeError(w, http.StatusBadRequest, "each contact needs a name")
			return
		}
	}
	settings := s.monitor.Settings()
	settings.Contacts = req.Contacts
	s.monitor.UpdateSettings(settings)
	s.persistSettings(settings)
	s.writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "contacts updated"})
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.store.Recent(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to fetch records")
		return
	}
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count records")
		return
	}
	s.writeJSON(w, http.StatusOK, resultsResponse{
		Records: records,
		Total:   count,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	s.writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "history cleared"})
}

func (s *Server) persistSettings(settings round.Settings) {
	if s.persist == nil {
		return
	}
	if err := s.persist(settings); err != nil {
		s.logger.Error("persist settings failed", zap.Error(err))
	}
}

type statusResponse struct {
	State        monitor.StateSnapshot `json:"state"`
	TotalRecords int64                 `json:"total_records"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type resultsResponse struct {
	Records []monitor.StoredRecord `json:"records"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

type configPayload struct {
	IntervalMinutes int      `json:"interval_minutes"`
	Include         []string `json:"include"`
	Exclude         []string `json:"exclude"`
	MustContain     []string `json:"must_contain"`
	UseBrowser      bool     `json:"use_browser"`
	EnabledSites    []string `json:"enabled_sites"`
}

func settingsToPayload(s round.Settings) configPayload {
	return configPayload{
		IntervalMinutes: int(s.Interval / time.Minute),
		Include:         s.Policy.Include,
		Exclude:         s.Policy.Exclude,
		MustContain:     s.Policy.MustContain,
		UseBrowser:      s.UseBrowser,
		EnabledSites:    s.EnabledSites,
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func basicAuthMiddleware(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="bidwatch"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
