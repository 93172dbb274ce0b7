package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
	"github.com/mikey/sender-trust/internal/locator"
)

// Server is the HTTP frontend exposing the trust and analysis operations.
// Each operation is its own route; there is no generic dispatch endpoint, so
// an unknown operation is a routing 404 rather than a handled request.
type Server struct {
	trust   *core.TrustService
	ai      *core.AiService
	locator *locator.Locator
	logger  *zap.Logger

	srv *http.Server
}

// NewServer creates the HTTP frontend.
func NewServer(
	trust *core.TrustService,
	ai *core.AiService,
	loc *locator.Locator,
	listenAddr string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		trust:   trust,
		ai:      ai,
		locator: loc,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sender-info", s.handleSenderInfo)
		r.Post("/verify", s.handleVerify)
		r.Get("/ai/available", s.handleAiAvailable)
		r.Post("/analyze", s.handleAnalyze)
	})

	s.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP frontend", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

type senderInfoRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSenderInfo(w http.ResponseWriter, r *http.Request) {
	var req senderInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := s.trust.SenderInfo(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

type verifyRequest struct {
	Email     string                `json:"email"`
	MessageID string                `json:"messageId,omitempty"`
	Page      *locator.PageSnapshot `json:"page,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		s.writeError(w, http.StatusBadRequest, "missing email")
		return
	}

	// When the caller has no identifier, try to locate one in the supplied
	// page snapshot. Total failure is fine; verification proceeds without
	// an auth signal.
	var located *core.MessageLocatorResult
	messageID := req.MessageID
	if messageID == "" && req.Page != nil {
		if located = s.locator.Locate(*req.Page); located != nil {
			messageID = located.ID
		}
	}

	res, err := s.trust.VerifySender(r.Context(), req.Email, messageID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res.Locator = located
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAiAvailable(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ai.CheckAvailability(r.Context()))
}

type analyzeRequest struct {
	Data      *core.EmailAnalysisRequest `json:"data"`
	SkipCache bool                       `json:"skipCache,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.ai.Analyze(r.Context(), req.Data, req.SkipCache)
	switch {
	case errors.Is(err, core.ErrUnavailable):
		s.writeJSON(w, http.StatusOK, map[string]bool{"unavailable": true})
	case errors.Is(err, core.ErrTimedOut):
		s.writeJSON(w, http.StatusOK, map[string]bool{"timeout": true})
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
