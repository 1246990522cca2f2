package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

// keywordTriggers maps exact (normalized) messages to the flow category they
// start. Greetings land on the main menu; "demo" starts the demo flow.
var keywordTriggers = map[string]string{
	"demo":    models.FlowCategoryDemo,
	"hi":      models.FlowCategoryMainMenu,
	"hello":   models.FlowCategoryMainMenu,
	"hey":     models.FlowCategoryMainMenu,
	"menu":    models.FlowCategoryMainMenu,
	"start":   models.FlowCategoryMainMenu,
	"checkin": models.FlowCategoryCheckin,
}

// deepLinkPattern matches the QR deep-link code "start-<hotel-uuid>" that
// starts the check-in flow for a specific hotel.
var deepLinkPattern = regexp.MustCompile(`^start-([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// DeepLinkCode builds the QR payload that starts check-in at a hotel.
func DeepLinkCode(hotelID string) string {
	return "start-" + hotelID
}

// matchTrigger resolves a message with no active session to a flow category.
// The second return value is the hotel id encoded in a deep link, if any.
func matchTrigger(input string) (category, hotelID string, ok bool) {
	if m := deepLinkPattern.FindStringSubmatch(input); m != nil {
		return models.FlowCategoryCheckin, m[1], true
	}
	if category, found := keywordTriggers[input]; found {
		return category, "", true
	}
	return "", "", false
}

// HandleTrigger evaluates a message that arrived with no active session. A
// recognized trigger returns a fresh session rooted at the flow's first step
// together with the rendered root message; anything else returns a nil
// session and the start-over prompt.
func (e *Engine) HandleTrigger(ctx context.Context, userID, hotelID, text string) (*models.Session, *models.RenderedResponse, error) {
	input := normalize(text)
	category, linkedHotel, ok := matchTrigger(input)
	if !ok {
		slog.Debug("Engine.HandleTrigger: unrecognized trigger", "userID", userID, "hotelID", hotelID)
		return nil, &models.RenderedResponse{Text: MsgStartOver}, nil
	}
	if linkedHotel != "" {
		// The QR code pins the tenant regardless of which number the
		// message arrived on.
		hotelID = linkedHotel
	}

	def, err := e.templates.GetFlow(category)
	if err != nil {
		if errors.Is(err, models.ErrFlowNotFound) {
			slog.Error("Engine.HandleTrigger: flow not configured", "category", category, "hotelID", hotelID)
			return nil, &models.RenderedResponse{Text: MsgServiceUnavailable}, nil
		}
		return nil, nil, fmt.Errorf("flow lookup %s: %w", category, err)
	}
	if !def.Active {
		slog.Info("Engine.HandleTrigger: flow inactive, trigger ignored", "category", category, "hotelID", hotelID)
		return nil, &models.RenderedResponse{Text: MsgServiceUnavailable}, nil
	}

	// A hotel may disable a flow entirely; the trigger is then refused.
	// Existing active sessions are unaffected by this check.
	overlay, err := e.overlays.GetOverlay(hotelID, category)
	if err != nil {
		slog.Warn("Engine.HandleTrigger: overlay lookup failed, assuming enabled", "error", err, "hotelID", hotelID, "category", category)
	} else if overlay != nil && !overlay.Enabled {
		slog.Info("Engine.HandleTrigger: flow disabled for hotel, trigger ignored", "category", category, "hotelID", hotelID)
		return nil, &models.RenderedResponse{Text: MsgServiceUnavailable}, nil
	}

	root, err := e.templates.GetRootStep(category)
	if err != nil {
		slog.Error("Engine.HandleTrigger: flow has no root step", "error", err, "category", category)
		return nil, &models.RenderedResponse{Text: MsgServiceUnavailable}, nil
	}
	effective, err := e.effectiveStep(hotelID, category, root.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("root step %s/%s: %w", category, root.ID, err)
	}

	sess := &models.Session{
		UserID:       userID,
		HotelID:      hotelID,
		FlowCategory: category,
		CurrentStep:  effective.ID,
		Active:       true,
		LastActivity: e.now(),
	}
	resp := e.render(ctx, sess, effective)
	if isTerminal(effective) {
		sess.Active = false
		resp.Ended = true
	}
	slog.Info("Engine.HandleTrigger: session started", "userID", userID, "hotelID", hotelID, "category", category, "root", effective.ID)
	return sess, resp, nil
}
