// Package api provides per-hotel customization and guest context handlers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

// hotelsHandler routes /hotels/{hotelID}/overlays[/{category}] and
// /hotels/{hotelID}/guests/{userID}.
func (s *Server) hotelsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.hotelsHandler invoked", "method", r.Method, "path", r.URL.Path)

	segments := pathSegments(r.URL.Path, "/hotels/")
	if len(segments) < 2 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown hotel endpoint"))
		return
	}
	hotelID := segments[0]

	switch {
	case segments[1] == "overlays" && len(segments) == 2:
		s.listOverlaysHandler(w, r, hotelID)
	case segments[1] == "overlays" && len(segments) == 3:
		s.overlayHandler(w, r, hotelID, segments[2])
	case segments[1] == "guests" && len(segments) == 3:
		s.guestContextHandler(w, r, hotelID, segments[2])
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown hotel endpoint"))
	}
}

func (s *Server) listOverlaysHandler(w http.ResponseWriter, r *http.Request, hotelID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	overlays, err := s.st.ListOverlays(hotelID)
	if err != nil {
		slog.Error("Server.listOverlaysHandler: failed to list overlays", "error", err, "hotelID", hotelID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch overlays"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(overlays))
}

func (s *Server) overlayHandler(w http.ResponseWriter, r *http.Request, hotelID, category string) {
	switch r.Method {
	case http.MethodGet:
		overlay, err := s.st.GetOverlay(hotelID, category)
		if err != nil {
			slog.Error("Server.overlayHandler: failed to fetch overlay", "error", err, "hotelID", hotelID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch overlay"))
			return
		}
		if overlay == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Overlay not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(overlay))

	case http.MethodPut:
		defer r.Body.Close()
		var overlay models.CustomizationOverlay
		if err := json.NewDecoder(r.Body).Decode(&overlay); err != nil {
			slog.Warn("Server.overlayHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		overlay.HotelID = hotelID
		overlay.FlowCategory = category
		if err := s.st.SaveOverlay(overlay); err != nil {
			slog.Error("Server.overlayHandler: failed to save overlay", "error", err, "hotelID", hotelID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save overlay"))
			return
		}
		slog.Info("Server.overlayHandler: overlay saved", "hotelID", hotelID, "category", category, "enabled", overlay.Enabled)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Overlay saved", nil))

	case http.MethodDelete:
		if err := s.st.DeleteOverlay(hotelID, category); err != nil {
			slog.Error("Server.overlayHandler: failed to delete overlay", "error", err, "hotelID", hotelID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete overlay"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Overlay deleted", nil))

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// guestContextHandler handles GET and PUT for one guest's placeholder fields.
func (s *Server) guestContextHandler(w http.ResponseWriter, r *http.Request, hotelID, userID string) {
	switch r.Method {
	case http.MethodGet:
		fields, err := s.st.GetGuestContext(userID, hotelID)
		if err != nil {
			slog.Error("Server.guestContextHandler: failed to fetch guest context", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch guest context"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(fields))

	case http.MethodPut:
		defer r.Body.Close()
		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			slog.Warn("Server.guestContextHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := s.st.SaveGuestContext(userID, hotelID, fields); err != nil {
			slog.Error("Server.guestContextHandler: failed to save guest context", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save guest context"))
			return
		}
		slog.Info("Server.guestContextHandler: guest context saved", "hotelID", hotelID, "userID", userID, "fields", len(fields))
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Guest context saved", nil))

	default:
		w.Header().Set("Allow", "GET, PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
