// Package flow implements the conversation flow engine for GuestPipe.
//
// The engine is the state machine at the heart of the service. It takes one
// inbound message plus the session for its (user, hotel) key and produces the
// next session state together with the rendered response. It never persists
// anything itself; the inbound processor owns loading, locking and saving
// sessions.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/GuestPipe/GuestPipe/internal/guest"
	"github.com/GuestPipe/GuestPipe/internal/models"
	"github.com/GuestPipe/GuestPipe/internal/placeholder"
	"github.com/GuestPipe/GuestPipe/internal/store"
)

// Engine evaluates inbound messages against flow templates and session state.
type Engine struct {
	templates store.TemplateRepo
	overlays  store.OverlayRepo
	external  guest.ContextProvider
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source. Used by tests to simulate
// session expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a flow engine over the given template, overlay and guest
// context collaborators.
func NewEngine(templates store.TemplateRepo, overlays store.OverlayRepo, external guest.ContextProvider, opts ...Option) *Engine {
	e := &Engine{
		templates: templates,
		overlays:  overlays,
		external:  external,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// normalize lowercases and trims an inbound message for matching against
// options, navigation commands and triggers.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// effectiveStep loads a step and applies the hotel's customization overlay.
func (e *Engine) effectiveStep(hotelID, category, stepID string) (*models.StepDefinition, error) {
	step, err := e.templates.GetStep(category, stepID)
	if err != nil {
		return nil, err
	}
	overlay, err := e.overlays.GetOverlay(hotelID, category)
	if err != nil {
		slog.Warn("Engine.effectiveStep: overlay lookup failed, using base step", "error", err, "hotelID", hotelID, "category", category)
		return step, nil
	}
	effective := overlay.ApplyTo(*step)
	return &effective, nil
}

// render resolves placeholders for a step and assembles the outbound
// response. External lookup failures degrade to an empty view.
func (e *Engine) render(ctx context.Context, sess *models.Session, step *models.StepDefinition) *models.RenderedResponse {
	external, err := e.external.Fetch(ctx, sess.UserID, sess.HotelID)
	if err != nil {
		slog.Warn("Engine.render: external context unavailable, rendering without it", "error", err, "userID", sess.UserID, "hotelID", sess.HotelID)
		external = nil
	}

	text := placeholder.Render(step.MessageTemplate, sess.Collected, external)
	if len(step.Options) > 0 && step.Interactive == nil {
		text += "\n" + formatOptions(step.Options)
	}
	return &models.RenderedResponse{
		Text:        text,
		Interactive: placeholder.RenderInteractive(step.Interactive, sess.Collected, external),
	}
}

// formatOptions lists a step's options one per line, "key. label", in key
// order so the rendering is stable.
func formatOptions(options map[string]string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%s. %s", k, options[k])
	}
	return strings.Join(lines, "\n")
}

// resetToMainMenu points the session at the hotel's main-menu root, clears
// history and the error count, and renders the root message prefixed with
// notice. Collected data is preserved so later flows can reuse it.
func (e *Engine) resetToMainMenu(ctx context.Context, sess *models.Session, notice string) (*models.RenderedResponse, error) {
	root, err := e.templates.GetRootStep(models.FlowCategoryMainMenu)
	if err != nil {
		return nil, fmt.Errorf("main menu root unavailable: %w", err)
	}
	effective, err := e.effectiveStep(sess.HotelID, models.FlowCategoryMainMenu, root.ID)
	if err != nil {
		return nil, fmt.Errorf("main menu root unavailable: %w", err)
	}

	sess.FlowCategory = models.FlowCategoryMainMenu
	sess.CurrentStep = effective.ID
	sess.History = nil
	sess.ErrorCount = 0
	sess.Active = true
	sess.LastActivity = e.now()

	resp := e.render(ctx, sess, effective)
	if notice != "" {
		resp.Text = notice + "\n\n" + resp.Text
	}
	return resp, nil
}

// quoteJoin renders option keys as a sorted, quoted, comma-separated list.
func quoteJoin(keys []string) string {
	sort.Strings(keys)
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = "'" + k + "'"
	}
	return strings.Join(quoted, ", ")
}

// isTerminal reports whether a step ends the conversation on entry: purely
// informational with no outgoing transitions.
func isTerminal(step *models.StepDefinition) bool {
	return step.DefaultNext == "" && len(step.ConditionalNext) == 0 &&
		len(step.Options) == 0 && step.DataKey == ""
}
