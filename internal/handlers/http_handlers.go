package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"pulsewatch/internal/alerting"
	"pulsewatch/internal/database"
	"pulsewatch/internal/runstate"
	"pulsewatch/internal/scheduler"
)

// HTTPHandler handles HTTP requests for the detection pipeline
type HTTPHandler struct {
	logger      *slog.Logger
	alertRepo   *database.AlertRepository
	insightRepo *database.InsightRepository
	subRepo     *database.SubscriptionRepository
	engine      *alerting.Engine
	scheduler   *scheduler.Scheduler
	runState    *runstate.RedisStore
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	logger *slog.Logger,
	alertRepo *database.AlertRepository,
	insightRepo *database.InsightRepository,
	subRepo *database.SubscriptionRepository,
	engine *alerting.Engine,
	sched *scheduler.Scheduler,
	runState *runstate.RedisStore,
) *HTTPHandler {
	return &HTTPHandler{
		logger:      logger,
		alertRepo:   alertRepo,
		insightRepo: insightRepo,
		subRepo:     subRepo,
		engine:      engine,
		scheduler:   sched,
		runState:    runState,
	}
}

// RegisterRoutes registers HTTP routes
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	orgRouter := api.PathPrefix("/organizations/{orgID}").Subrouter()
	orgRouter.HandleFunc("/insights", h.handleListInsights).Methods("GET")
	orgRouter.HandleFunc("/alerts/stats", h.handleAlertStats).Methods("GET")
	orgRouter.HandleFunc("/subscriptions", h.handleListSubscriptions).Methods("GET")
	orgRouter.HandleFunc("/runs/last", h.handleLastRun).Methods("GET")

	alertRouter := api.PathPrefix("/alerts").Subrouter()
	alertRouter.HandleFunc("/{id}", h.handleGetAlert).Methods("GET")
	alertRouter.HandleFunc("/{id}/notifications", h.handleListNotifications).Methods("GET")
	alertRouter.HandleFunc("/{id}/acknowledge", h.handleAcknowledgeAlert).Methods("POST")
	alertRouter.HandleFunc("/{id}/resolve", h.handleResolveAlert).Methods("POST")

	subRouter := api.PathPrefix("/subscriptions").Subrouter()
	subRouter.HandleFunc("", h.handleCreateSubscription).Methods("POST")
	subRouter.HandleFunc("/{id}", h.handleGetSubscription).Methods("GET")
	subRouter.HandleFunc("/{id}", h.handleUpdateSubscription).Methods("PUT")
	subRouter.HandleFunc("/{id}", h.handleDeactivateSubscription).Methods("DELETE")

	api.HandleFunc("/runs/trigger", h.handleTriggerRun).Methods("POST")
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "pulsewatch",
	}
	h.writeJSON(w, http.StatusOK, health)
}

// Insight handlers

func (h *HTTPHandler) handleListInsights(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgID"]
	limit := parseLimit(r, 50)

	insights, err := h.insightRepo.ListByOrganization(r.Context(), orgID, limit)
	if err != nil {
		h.logger.Error("Failed to list insights", "org_id", orgID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list insights")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"insights":    insights,
		"total_count": len(insights),
	})
}

// Alert handlers

func (h *HTTPHandler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	alert, err := h.alertRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Alert not found")
			return
		}
		h.logger.Error("Failed to get alert", "alert_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to get alert")
		return
	}

	h.writeJSON(w, http.StatusOK, alert)
}

func (h *HTTPHandler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	records, err := h.alertRepo.ListNotifications(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list notifications", "alert_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"total_count":   len(records),
	})
}

func (h *HTTPHandler) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	alert, err := h.engine.Acknowledge(r.Context(), id, req.UserID)
	if err != nil {
		h.writeTransitionError(w, id, "acknowledge", err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

func (h *HTTPHandler) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	alert, err := h.engine.Resolve(r.Context(), id)
	if err != nil {
		h.writeTransitionError(w, id, "resolve", err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

func (h *HTTPHandler) writeTransitionError(w http.ResponseWriter, alertID, action string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Alert not found")
	case errors.Is(err, alerting.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "Alert status does not allow this transition")
	default:
		h.logger.Error("Failed to update alert", "alert_id", alertID, "action", action, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to update alert")
	}
}

func (h *HTTPHandler) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgID"]

	timeRange := 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			h.writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		timeRange = time.Duration(hours) * time.Hour
	}

	stats, err := h.alertRepo.GetStats(r.Context(), orgID, timeRange)
	if err != nil {
		h.logger.Error("Failed to get alert stats", "org_id", orgID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to get alert stats")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// Subscription handlers

func (h *HTTPHandler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var sub database.AlertSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if sub.OrganizationID == "" {
		h.writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	if sub.Recipient == "" {
		h.writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}
	if len(sub.Channels) == 0 {
		h.writeError(w, http.StatusBadRequest, "at least one channel is required")
		return
	}

	if err := h.subRepo.Create(r.Context(), &sub); err != nil {
		h.logger.Error("Failed to create subscription", "org_id", sub.OrganizationID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	h.writeJSON(w, http.StatusCreated, sub)
}

func (h *HTTPHandler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sub, err := h.subRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		h.logger.Error("Failed to get subscription", "subscription_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to get subscription")
		return
	}

	h.writeJSON(w, http.StatusOK, sub)
}

func (h *HTTPHandler) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var sub database.AlertSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sub.ID = id

	if err := h.subRepo.Update(r.Context(), &sub); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		h.logger.Error("Failed to update subscription", "subscription_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to update subscription")
		return
	}

	h.writeJSON(w, http.StatusOK, sub)
}

func (h *HTTPHandler) handleDeactivateSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.subRepo.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		h.logger.Error("Failed to deactivate subscription", "subscription_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to deactivate subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgID"]

	subs, err := h.subRepo.ListActive(r.Context(), orgID)
	if err != nil {
		h.logger.Error("Failed to list subscriptions", "org_id", orgID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list subscriptions")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"total_count":   len(subs),
	})
}

// Run handlers

func (h *HTTPHandler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	// The sweep honors the usual cooldown and in-flight guards, so a manual
	// trigger cannot stack runs.
	go h.scheduler.RunNow(context.Background())

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":    "triggered",
		"timestamp": time.Now().UTC(),
	})
}

func (h *HTTPHandler) handleLastRun(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgID"]

	record, err := h.runState.LastRun(r.Context(), orgID)
	if err != nil {
		h.logger.Error("Failed to load last run", "org_id", orgID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load last run")
		return
	}
	if record == nil {
		h.writeError(w, http.StatusNotFound, "No runs recorded for organization")
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// Helpers

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}
