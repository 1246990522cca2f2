// Package api provides HTTP handlers for GuestPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/GuestPipe/GuestPipe/internal/models"
	"github.com/GuestPipe/GuestPipe/internal/util"
)

// webhookHandler handles POST /webhook: one inbound guest message.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing inbound message", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	if msg.MessageID == "" {
		// Callers that do not supply an idempotency key opt out of dedup.
		msg.MessageID = util.GenerateMessageID()
	}

	resp, err := s.processor.ProcessMessage(r.Context(), msg)
	if err != nil {
		if errors.Is(err, models.ErrEmptyUserID) || errors.Is(err, models.ErrEmptyHotelID) || errors.Is(err, models.ErrEmptyMessage) {
			slog.Warn("Server.webhookHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.webhookHandler: failed to process message", "error", err, "messageID", msg.MessageID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	if resp == nil {
		// Redelivery of an already-processed message id.
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Duplicate message ignored", nil))
		return
	}

	slog.Info("Server.webhookHandler: message processed", "userID", msg.UserID, "hotelID", msg.HotelID, "ended", resp.Ended)
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// sessionHandler handles GET /sessions/{hotelID}/{userID} for debugging.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sessionHandler invoked", "method", r.Method, "path", r.URL.Path)

	segments := pathSegments(r.URL.Path, "/sessions/")
	if len(segments) != 2 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
		return
	}
	hotelID, userID := segments[0], segments[1]

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.st.GetSession(userID, hotelID)
	if err != nil {
		slog.Error("Server.sessionHandler: failed to fetch session", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// adminUserHandler handles DELETE /admin/users/{userID}/sessions: remove all
// of a user's sessions so their next message starts fresh.
func (s *Server) adminUserHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.adminUserHandler invoked", "method", r.Method, "path", r.URL.Path)

	segments := pathSegments(r.URL.Path, "/admin/users/")
	if len(segments) != 2 || segments[1] != "sessions" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown admin endpoint"))
		return
	}
	userID := segments[0]

	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	deleted, err := s.st.DeleteSessions(userID)
	if err != nil {
		slog.Error("Server.adminUserHandler: failed to delete sessions", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset user"))
		return
	}

	slog.Info("Server.adminUserHandler: user reset", "userID", userID, "sessions_deleted", deleted)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("User reset", map[string]int{"sessions_deleted": deleted}))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	// Template availability is the load-bearing dependency.
	flows, err := s.st.ListFlows()
	if err != nil {
		slog.Warn("Health check: failed to list flows", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to fetch flow templates"
	} else {
		healthData["flows"] = len(flows)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}

// pathSegments strips prefix from path and splits the remainder, dropping a
// trailing slash.
func pathSegments(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
