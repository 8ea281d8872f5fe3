package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"deception-service/internal/models"
	"deception-service/internal/pipeline"
	"deception-service/internal/session"
	"deception-service/internal/threatintel"
	"deception-service/internal/util"
)

// ErrInvalidInput marks malformed trap submissions.
var ErrInvalidInput = errors.New("invalid input")

// TrapHandler handles HTTP requests for the deception engine.
type TrapHandler struct {
	pipeline *pipeline.Pipeline
	store    *session.Store
	intel    *threatintel.Service
	logger   *zap.Logger
}

// NewTrapHandler creates a new trap handler.
func NewTrapHandler(p *pipeline.Pipeline, store *session.Store, intel *threatintel.Service, logger *zap.Logger) *TrapHandler {
	return &TrapHandler{
		pipeline: p,
		store:    store,
		intel:    intel,
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// TrapRequest is one classified request forwarded by the trap boundary. The
// classifier and tarpit run upstream; their verdict and delay arrive here.
type TrapRequest struct {
	IP           string  `json:"ip,omitempty"`
	UserAgent    string  `json:"user_agent"`
	RawInput     string  `json:"raw_input"`
	AttackType   string  `json:"attack_type"`
	Confidence   float64 `json:"confidence"`
	IsMalicious  bool    `json:"is_malicious"`
	DelayApplied float64 `json:"delay_applied"`
}

// TrapResponse carries the deceptive message back to the boundary.
type TrapResponse struct {
	Fingerprint string `json:"attacker_fingerprint"`
	Message     string `json:"message"`
	Stage       int    `json:"stage"`
	Novel       bool   `json:"novel"`
}

// RegisterRoutes registers all trap routes.
func (h *TrapHandler) RegisterRoutes(router chi.Router) {
	router.Route("/trap", func(r chi.Router) {
		r.Post("/submit", h.SubmitAttempt)
	})
	router.Route("/sessions", func(r chi.Router) {
		r.Get("/stats", h.GetSessionStats)
		r.Get("/{fingerprint}", h.GetSession)
	})
	router.Route("/threat-intel", func(r chi.Router) {
		r.Get("/reports", h.GetReports)
		r.Get("/statistics", h.GetStatistics)
	})
}

// SubmitAttempt runs one classified attempt through the deception pipeline.
func (h *TrapHandler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req TrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.RawInput == "" {
		h.respondWithError(w, http.StatusBadRequest, ErrInvalidInput, "raw_input is required")
		return
	}

	// The boundary may omit the source address; fall back to the connection.
	ip := req.IP
	if ip == "" {
		ip = remoteIP(r)
	}

	outcome := h.pipeline.Handle(ctx, pipeline.Attempt{
		IP:        ip,
		UserAgent: req.UserAgent,
		RawInput:  req.RawInput,
		Classification: models.Classification{
			AttackType:  req.AttackType,
			Confidence:  req.Confidence,
			IsMalicious: req.IsMalicious,
		},
		DelayApplied: req.DelayApplied,
	})

	h.respondWithJSON(w, http.StatusOK, successResponse(TrapResponse{
		Fingerprint: outcome.Fingerprint,
		Message:     outcome.Message,
		Stage:       outcome.Stage,
		Novel:       outcome.Novel,
	}, "Attempt processed"))

	h.logger.Info("attempt handled via HTTP",
		util.String("fingerprint", outcome.Fingerprint),
		util.String("attack_type", req.AttackType),
		util.Int("stage", outcome.Stage),
		util.Bool("novel", outcome.Novel),
		util.Duration("duration", time.Since(startTime)),
	)
}

// GetSession returns one attacker session by fingerprint.
func (h *TrapHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")

	sess, err := h.store.Get(fp)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(sess, "Session retrieved"))
}

// GetSessionStats returns aggregate session store statistics.
func (h *TrapHandler) GetSessionStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.store.Stats(), "Session statistics"))
}

// GetReports returns recent threat reports, bounded by the limit query param.
func (h *TrapHandler) GetReports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.respondWithError(w, http.StatusBadRequest, ErrInvalidInput, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(h.intel.Reports(limit), "Threat reports"))
}

// GetStatistics returns aggregate threat intelligence statistics.
func (h *TrapHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.intel.Statistics(), "Threat intelligence statistics"))
}

func (h *TrapHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *TrapHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *TrapHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
