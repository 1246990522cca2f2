// Package api provides flow template administration handlers for GuestPipe.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

// flowsHandler handles the /flows collection (GET list, POST upsert).
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.flowsHandler invoked", "method", r.Method, "path", r.URL.Path)

	switch r.Method {
	case http.MethodGet:
		flows, err := s.st.ListFlows()
		if err != nil {
			slog.Error("Server.flowsHandler: failed to list flows", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flows"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(flows))

	case http.MethodPost:
		defer r.Body.Close()
		var f models.FlowDefinition
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			slog.Warn("Server.flowsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if f.Category == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyFlowCategory.Error()))
			return
		}
		if err := s.st.SaveFlow(f); err != nil {
			slog.Error("Server.flowsHandler: failed to save flow", "error", err, "category", f.Category)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
			return
		}
		slog.Info("Server.flowsHandler: flow saved", "category", f.Category)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Flow saved", nil))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// flowHandler routes /flows/{category}, /flows/{category}/steps and
// /flows/{category}/steps/{id}.
func (s *Server) flowHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.flowHandler invoked", "method", r.Method, "path", r.URL.Path)

	segments := pathSegments(r.URL.Path, "/flows/")
	switch {
	case len(segments) == 1:
		s.handleFlow(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "steps":
		s.handleSteps(w, r, segments[0])
	case len(segments) == 3 && segments[1] == "steps":
		s.handleStep(w, r, segments[0], segments[2])
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown flow endpoint"))
	}
}

func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request, category string) {
	switch r.Method {
	case http.MethodGet:
		f, err := s.st.GetFlow(category)
		if err != nil {
			if errors.Is(err, models.ErrFlowNotFound) {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
				return
			}
			slog.Error("Server.handleFlow: failed to fetch flow", "error", err, "category", category)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flow"))
			return
		}
		steps, err := s.st.ListSteps(category)
		if err != nil {
			slog.Error("Server.handleFlow: failed to list steps", "error", err, "category", category)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch steps"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
			"flow":  f,
			"steps": steps,
		}))

	case http.MethodDelete:
		if err := s.st.DeleteFlow(category); err != nil {
			if errors.Is(err, models.ErrFlowNotFound) {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
				return
			}
			slog.Error("Server.handleFlow: failed to delete flow", "error", err, "category", category)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete flow"))
			return
		}
		slog.Info("Server.handleFlow: flow deleted", "category", category)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow deleted", nil))

	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request, category string) {
	switch r.Method {
	case http.MethodGet:
		steps, err := s.st.ListSteps(category)
		if err != nil {
			slog.Error("Server.handleSteps: failed to list steps", "error", err, "category", category)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch steps"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(steps))

	case http.MethodPost:
		defer r.Body.Close()
		var step models.StepDefinition
		if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
			slog.Warn("Server.handleSteps: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		step.FlowCategory = category

		if err := s.validateStep(step); err != nil {
			slog.Warn("Server.handleSteps: step validation failed", "error", err, "stepID", step.ID)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := s.st.SaveStep(step); err != nil {
			slog.Error("Server.handleSteps: failed to save step", "error", err, "stepID", step.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save step"))
			return
		}
		slog.Info("Server.handleSteps: step saved", "category", category, "stepID", step.ID)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Step saved", nil))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, category, stepID string) {
	switch r.Method {
	case http.MethodGet:
		step, err := s.st.GetStep(category, stepID)
		if err != nil {
			if errors.Is(err, models.ErrStepNotFound) {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Step not found"))
				return
			}
			slog.Error("Server.handleStep: failed to fetch step", "error", err, "stepID", stepID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch step"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(step))

	case http.MethodDelete:
		if err := s.st.DeleteStep(category, stepID); err != nil {
			if errors.Is(err, models.ErrStepNotFound) {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Step not found"))
				return
			}
			slog.Error("Server.handleStep: failed to delete step", "error", err, "stepID", stepID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete step"))
			return
		}
		slog.Info("Server.handleStep: step deleted", "category", category, "stepID", stepID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Step deleted", nil))

	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// validateStep runs structural validation and checks that transition targets
// either already exist in the flow or point at the step itself.
func (s *Server) validateStep(step models.StepDefinition) error {
	existing, err := s.st.ListSteps(step.FlowCategory)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing)+1)
	for _, st := range existing {
		known[st.ID] = true
	}
	known[step.ID] = true
	return step.Validate(func(id string) bool { return known[id] })
}
