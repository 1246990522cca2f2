package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

// Navigation commands matched case-insensitively, independent of step options.
const (
	navBack     = "back"
	navMainMenu = "main menu"
)

// HandleMessage advances an active session by one inbound message. The
// session is mutated in place; callers pass a copy and persist it only when
// no error is returned, so a failed message never leaves half-updated state.
//
// Evaluation order is fixed: expiry check, navigation commands, input
// validation, transition.
func (e *Engine) HandleMessage(ctx context.Context, sess *models.Session, text string) (*models.RenderedResponse, error) {
	if !sess.Active {
		return nil, models.ErrSessionInactive
	}

	now := e.now()
	if sess.Expired(now) {
		slog.Info("Engine.HandleMessage: session expired, resetting", "userID", sess.UserID, "hotelID", sess.HotelID, "idle", now.Sub(sess.LastActivity))
		return e.resetToMainMenu(ctx, sess, MsgSessionExpired)
	}

	input := normalize(text)
	switch input {
	case navMainMenu:
		return e.resetToMainMenu(ctx, sess, MsgReturningToMenu)
	case navBack:
		return e.navigateBack(ctx, sess)
	}

	step, err := e.effectiveStep(sess.HotelID, sess.FlowCategory, sess.CurrentStep)
	if err != nil {
		slog.Error("Engine.HandleMessage: current step unresolvable", "error", err, "userID", sess.UserID, "hotelID", sess.HotelID, "flow", sess.FlowCategory, "step", sess.CurrentStep)
		return nil, fmt.Errorf("current step %s/%s: %w", sess.FlowCategory, sess.CurrentStep, err)
	}

	outcome, canonical := validateInput(step, input, text)
	if outcome != models.OutcomeValid {
		return e.handleInvalid(ctx, sess, step)
	}

	sess.ErrorCount = 0
	sess.LastActivity = now
	if step.DataKey != "" {
		sess.SetCollected(step.DataKey, canonical)
	}
	sess.PushHistory(step.ID)

	nextID := resolveNext(step, input)
	if nextID == "" {
		// Nothing to transition to: close the conversation.
		sess.Active = false
		return &models.RenderedResponse{Text: MsgCompleted, Ended: true}, nil
	}

	next, err := e.effectiveStep(sess.HotelID, sess.FlowCategory, nextID)
	if err != nil {
		slog.Error("Engine.HandleMessage: next step unresolvable", "error", err, "userID", sess.UserID, "hotelID", sess.HotelID, "flow", sess.FlowCategory, "next", nextID)
		return nil, fmt.Errorf("next step %s/%s: %w", sess.FlowCategory, nextID, err)
	}

	sess.CurrentStep = next.ID
	resp := e.render(ctx, sess, next)
	if isTerminal(next) {
		sess.Active = false
		resp.Ended = true
	}
	return resp, nil
}

// validateInput checks one message against the current step. Steps with
// options require a case-insensitive match on an option key; free-text steps
// accept any non-empty message. The canonical value is the matched option key
// for option steps and the trimmed text otherwise.
func validateInput(step *models.StepDefinition, input, raw string) (models.ValidationOutcome, string) {
	if len(step.Options) > 0 {
		for key := range step.Options {
			if normalize(key) == input {
				return models.OutcomeValid, key
			}
		}
		return models.OutcomeInvalid, ""
	}
	if input == "" {
		return models.OutcomeInvalid, ""
	}
	return models.OutcomeValid, raw
}

// resolveNext computes the successor step id for a validated input:
// conditional match first, then the wildcard entry, then the linear default.
// Empty means the flow ends here.
func resolveNext(step *models.StepDefinition, input string) string {
	if next, ok := step.ConditionalNext[input]; ok {
		return next
	}
	if next, ok := step.ConditionalNext[models.WildcardInput]; ok {
		return next
	}
	return step.DefaultNext
}

// handleInvalid applies the bounded error policy: count the miss, force a
// cooloff reset at the threshold, otherwise repeat the step with a
// validation notice. No state transition occurs.
func (e *Engine) handleInvalid(ctx context.Context, sess *models.Session, step *models.StepDefinition) (*models.RenderedResponse, error) {
	sess.ErrorCount++
	sess.LastActivity = e.now()
	if sess.ErrorCount >= models.ErrorThreshold {
		slog.Info("Engine.handleInvalid: cooloff threshold reached", "userID", sess.UserID, "hotelID", sess.HotelID, "step", step.ID)
		return e.resetToMainMenu(ctx, sess, MsgCooloff)
	}

	resp := e.render(ctx, sess, step)
	resp.Text = validationNotice(step) + "\n\n" + resp.Text
	return resp, nil
}

// validationNotice names the accepted options when there are any.
func validationNotice(step *models.StepDefinition) string {
	if len(step.Options) == 0 {
		return "Sorry, I didn't catch that. Please type your answer."
	}
	keys := make([]string, 0, len(step.Options))
	for k := range step.Options {
		keys = append(keys, k)
	}
	return "Invalid option. Please select from: " + quoteJoin(keys)
}

// navigateBack pops the history stack, skipping optional steps whose answer
// is already collected, and lands on the result. An exhausted stack falls
// back to the main menu. Back-navigation never counts as an error.
func (e *Engine) navigateBack(ctx context.Context, sess *models.Session) (*models.RenderedResponse, error) {
	for {
		stepID, ok := sess.PopHistory()
		if !ok {
			return e.resetToMainMenu(ctx, sess, MsgAtBeginning)
		}

		step, err := e.effectiveStep(sess.HotelID, sess.FlowCategory, stepID)
		if err != nil {
			slog.Warn("Engine.navigateBack: history step unresolvable, resetting", "error", err, "userID", sess.UserID, "hotelID", sess.HotelID, "step", stepID)
			return e.resetToMainMenu(ctx, sess, MsgReturningToMenu)
		}

		// Skip steps whose answer we already have.
		if step.IsOptional && step.DataKey != "" {
			if _, collected := sess.Collected[step.DataKey]; collected {
				continue
			}
		}

		sess.CurrentStep = step.ID
		sess.ErrorCount = 0
		sess.LastActivity = e.now()
		return e.render(ctx, sess, step), nil
	}
}
