package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"deception-service/internal/repository/redisfeed"
	"deception-service/internal/util"
)

var errFeedUnavailable = errors.New("attack feed not configured")

// FeedHandler serves the live attack feed. The feed is optional; without
// Redis the endpoints answer 503 rather than disappearing, so dashboards can
// distinguish "not configured" from "wrong URL".
type FeedHandler struct {
	feed   *redisfeed.AttackFeed
	logger *zap.Logger
}

func NewFeedHandler(feed *redisfeed.AttackFeed, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{feed: feed, logger: logger}
}

func (h *FeedHandler) RegisterRoutes(router chi.Router) {
	router.Route("/feed", func(r chi.Router) {
		r.Get("/recent", h.GetRecent)
		r.Get("/counters", h.GetCounters)
	})
}

func (h *FeedHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errFeedUnavailable, "Live feed is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.respondWithError(w, http.StatusBadRequest, ErrInvalidInput, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := h.feed.Recent(r.Context(), limit)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to read attack feed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(events, "Recent attack events"))
}

func (h *FeedHandler) GetCounters(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errFeedUnavailable, "Live feed is not configured")
		return
	}

	counters, err := h.feed.Counters(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to read attack counters")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(counters, "Attack counters"))
}

func (h *FeedHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *FeedHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}
