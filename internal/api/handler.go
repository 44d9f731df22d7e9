package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
	"github.com/bubu-agent/bubu/internal/biz/usecase"
	"github.com/bubu-agent/bubu/internal/service"
)

// Version is reported by the root endpoint
const Version = "0.1.0"

const (
	defaultRecentDays = 7
	maxRecentDays     = 30
)

// Dispatcher is the part of the scheduler the API drives
type Dispatcher interface {
	Status() service.Status
	Today() time.Time
	DailyPlan(date time.Time) domain.DailyPlan
	DryRun(ctx context.Context) map[domain.Slot]domain.ComposedMessage
	Compose(ctx context.Context, slot domain.Slot, date time.Time, forceFallback bool) domain.ComposedMessage
	Preview(slot domain.Slot, opts usecase.PreviewOptions) string
	SendNow(ctx context.Context, slot domain.Slot) service.SendResult
	SendCustom(ctx context.Context, slot domain.Slot, text string) (service.SendResult, error)
	Pause()
	Resume()
	RecentMessages(ctx context.Context, days int) ([]domain.MessageRecord, error)
}

// Config contains HTTP server settings
type Config struct {
	Addr        string
	BearerToken string
	Timezone    string
	Enabled     bool
}

// Server exposes the dispatcher over HTTP
type Server struct {
	dispatcher Dispatcher
	messenger  repo.Messenger
	cfg        Config
	log        zerolog.Logger

	server *http.Server
}

// NewServer creates a new API server
func NewServer(dispatcher Dispatcher, messenger repo.Messenger, cfg Config, log zerolog.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		messenger:  messenger,
		cfg:        cfg,
		log:        log.With().Str("component", "api").Logger(),
	}
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverPanics, s.requestID)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/plan/today", s.handlePlanToday).Methods(http.MethodGet)
	r.HandleFunc("/dry-run", s.handleDryRun).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.requireToken)
	protected.HandleFunc("/config/preview", s.handlePreview).Methods(http.MethodPost)
	protected.HandleFunc("/send-now", s.handleSendNow).Methods(http.MethodPost)
	protected.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost)
	protected.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost)
	protected.HandleFunc("/messages/recent", s.handleRecentMessages).Methods(http.MethodGet)

	return r
}

// Start serves until Stop; it returns nil after a clean shutdown
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// send-now waits on the LLM and the provider
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ============ Middleware ============

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("url", r.URL.String()).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if s.cfg.BearerToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.BearerToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("expected 'Bearer <token>'")
	}
	return token, nil
}

// ============ Handlers ============

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":    "bubu",
		"version": Version,
		"endpoints": map[string]string{
			"health":          "/healthz",
			"plan":            "/plan/today",
			"dry_run":         "/dry-run",
			"send_now":        "/send-now",
			"preview":         "/config/preview",
			"pause":           "/pause",
			"resume":          "/resume",
			"recent_messages": "/messages/recent",
			"metrics":         "/metrics",
		},
	})
}

// HealthResponse is the /healthz body
type HealthResponse struct {
	Status   string     `json:"status"`
	Enabled  bool       `json:"enabled"`
	Running  bool       `json:"running"`
	Paused   bool       `json:"paused"`
	Provider string     `json:"provider"`
	Timezone string     `json:"timezone"`
	NextSlot string     `json:"next_slot,omitempty"`
	NextAt   *time.Time `json:"next_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.dispatcher.Status()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	status := "healthy"
	if !s.messenger.IsAvailable(ctx) {
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   status,
		Enabled:  s.cfg.Enabled,
		Running:  st.Running,
		Paused:   st.Paused,
		Provider: st.Provider,
		Timezone: s.cfg.Timezone,
		NextSlot: st.NextSlot,
		NextAt:   st.NextAt,
	})
}

func (s *Server) handlePlanToday(w http.ResponseWriter, r *http.Request) {
	today := s.dispatcher.Today()
	plan := s.dispatcher.DailyPlan(today)

	body := map[string]any{"date": domain.DateKey(today)}
	for slot, t := range plan.Formatted() {
		body[slot] = t
	}
	s.writeJSON(w, http.StatusOK, body)
}

// DryRunMessage is one composed slot in a dry run
type DryRunMessage struct {
	Type    string               `json:"type"`
	Message string               `json:"message"`
	Status  domain.ComposeStatus `json:"status"`
}

func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	today := s.dispatcher.Today()

	// ai=true exercises the generator; default is templates only
	var composed map[domain.Slot]domain.ComposedMessage
	if ai, _ := strconv.ParseBool(r.URL.Query().Get("ai")); ai {
		composed = make(map[domain.Slot]domain.ComposedMessage, len(domain.AllSlots))
		for _, slot := range domain.AllSlots {
			composed[slot] = s.dispatcher.Compose(r.Context(), slot, today, false)
		}
	} else {
		composed = s.dispatcher.DryRun(r.Context())
	}

	messages := make([]DryRunMessage, 0, len(domain.AllSlots))
	for _, slot := range domain.AllSlots {
		msg := composed[slot]
		messages = append(messages, DryRunMessage{Type: slot.String(), Message: msg.Text, Status: msg.Status})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"date":     domain.DateKey(today),
		"messages": messages,
	})
}

// PreviewRequest is the /config/preview body
type PreviewRequest struct {
	Type    string `json:"type"`
	Options struct {
		Date        string `json:"date"`
		Randomize   bool   `json:"randomize"`
		Seed        *int64 `json:"seed"`
		UseFallback bool   `json:"use_fallback"`
	} `json:"options"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slot, err := domain.ParseSlot(req.Type)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, invalidTypeMessage)
		return
	}

	opts := usecase.PreviewOptions{
		Randomize:   req.Options.Randomize,
		Seed:        req.Options.Seed,
		UseFallback: req.Options.UseFallback,
	}
	if req.Options.Date != "" {
		date, err := time.ParseInLocation(time.DateOnly, req.Options.Date, s.dispatcher.Today().Location())
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		opts.Date = date
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": s.dispatcher.Preview(slot, opts),
		"type":    slot.String(),
	})
}

// SendNowRequest is the /send-now body. Text, when set, is sent verbatim.
type SendNowRequest struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (s *Server) handleSendNow(w http.ResponseWriter, r *http.Request) {
	var req SendNowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slot, err := domain.ParseSlot(req.Type)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, invalidTypeMessage)
		return
	}

	if req.Text == "" {
		s.writeJSON(w, http.StatusOK, s.dispatcher.SendNow(r.Context(), slot))
		return
	}

	res, err := s.dispatcher.SendCustom(r.Context(), slot, req.Text)
	switch {
	case errors.Is(err, service.ErrInvalidCustomText):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error().Err(err).Str("slot", slot.String()).Msg("custom send failed")
		s.writeError(w, http.StatusInternalServerError, "failed to send message")
	default:
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.dispatcher.Pause()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"paused":  true,
		"message": "Scheduled sends paused until resume or restart. Set BUBU_ENABLED=false to disable permanently.",
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.dispatcher.Resume()
	s.writeJSON(w, http.StatusOK, map[string]any{"paused": false, "message": "Scheduled sends resumed."})
}

// RecentMessage is one ledger row in /messages/recent
type RecentMessage struct {
	Date       string                `json:"date"`
	Slot       string                `json:"slot"`
	Text       string                `json:"text"`
	Status     domain.DeliveryStatus `json:"status"`
	ProviderID string                `json:"provider_id"`
	CreatedAt  time.Time             `json:"created_at"`
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	days := defaultRecentDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRecentDays {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxRecentDays))
			return
		}
		days = n
	}

	records, err := s.dispatcher.RecentMessages(r.Context(), days)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load recent messages")
		s.writeError(w, http.StatusInternalServerError, "failed to get recent messages")
		return
	}

	messages := make([]RecentMessage, 0, len(records))
	for _, rec := range records {
		messages = append(messages, RecentMessage{
			Date:       domain.DateKey(rec.Date),
			Slot:       rec.Slot.String(),
			Text:       rec.Text,
			Status:     rec.Status,
			ProviderID: rec.ProviderID,
			CreatedAt:  rec.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"days": days, "messages": messages})
}

// ============ Helpers ============

const invalidTypeMessage = "invalid message type, must be one of: morning, flirty, night"

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, ErrorResponse{Error: http.StatusText(code), Code: code, Message: message})
}
