package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GuestPipe/GuestPipe/internal/flow"
	"github.com/GuestPipe/GuestPipe/internal/metrics"
	"github.com/GuestPipe/GuestPipe/internal/models"
	"github.com/GuestPipe/GuestPipe/internal/store"
)

// Processor configuration defaults.
const (
	// DefaultMaxSaveAttempts bounds optimistic-concurrency retries for one
	// inbound message.
	DefaultMaxSaveAttempts = 3
	// DefaultSaveRetryDelay is the pause before re-reading a session after a
	// version conflict.
	DefaultSaveRetryDelay = 25 * time.Millisecond
)

// Processor drives one guest conversation turn per inbound message: dedup,
// per-conversation lease, engine evaluation, atomic session persistence and
// outbound delivery. Redelivered messages (same provider message id) are
// acknowledged without a second state transition.
type Processor struct {
	store           store.Store
	locker          store.Locker
	engine          *flow.Engine
	sender          Service
	defaultHotelID  string
	maxSaveAttempts int
	saveRetryDelay  time.Duration
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithSender attaches a delivery transport. Without one the processor only
// returns rendered responses, which is what the webhook API needs.
func WithSender(s Service) ProcessorOption {
	return func(p *Processor) { p.sender = s }
}

// WithDefaultHotel sets the hotel used for inbound messages that carry no
// hotel context (keyword triggers from transports that only know a phone
// number). Deep-link triggers override it.
func WithDefaultHotel(hotelID string) ProcessorOption {
	return func(p *Processor) { p.defaultHotelID = hotelID }
}

// WithMaxSaveAttempts overrides the optimistic-concurrency retry bound.
func WithMaxSaveAttempts(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxSaveAttempts = n
		}
	}
}

// NewProcessor creates a Processor over the given store, lease provider and
// engine.
func NewProcessor(st store.Store, locker store.Locker, engine *flow.Engine, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:           st,
		locker:          locker,
		engine:          engine,
		maxSaveAttempts: DefaultMaxSaveAttempts,
		saveRetryDelay:  DefaultSaveRetryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessMessage handles one inbound guest message end to end and returns the
// rendered response, or nil for a deduplicated redelivery. State changes and
// dedup bookkeeping are complete before delivery is attempted; a delivery
// failure is logged but never rolls the conversation back.
func (p *Processor) ProcessMessage(ctx context.Context, msg models.InboundMessage) (*models.RenderedResponse, error) {
	timer := prometheusTimer()
	defer timer()

	if err := msg.Validate(); err != nil {
		slog.Error("Processor.ProcessMessage: invalid message", "error", err, "messageID", msg.MessageID)
		metrics.InboundMessages.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	recorded, err := p.store.RecordInbound(msg.MessageID, msg.UserID, msg.HotelID)
	if err != nil {
		metrics.InboundMessages.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to record inbound message: %w", err)
	}
	if !recorded {
		slog.Info("Processor.ProcessMessage: duplicate message ignored", "messageID", msg.MessageID, "userID", msg.UserID)
		metrics.InboundMessages.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return nil, nil
	}

	release, err := p.locker.Acquire(ctx, leaseKey(msg.UserID, msg.HotelID))
	if err != nil {
		metrics.InboundMessages.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to acquire conversation lease: %w", err)
	}
	defer release()

	resp, err := p.advance(ctx, msg)
	if err != nil {
		metrics.InboundMessages.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	metrics.InboundMessages.WithLabelValues(metrics.OutcomeProcessed).Inc()

	if err := p.store.MarkProcessed(msg.MessageID); err != nil {
		slog.Error("Processor.ProcessMessage: failed to mark message processed", "error", err, "messageID", msg.MessageID)
	}

	if p.sender != nil && resp != nil {
		p.deliver(ctx, msg.UserID, resp)
	}
	return resp, nil
}

// advance evaluates the message against the current session (or the trigger
// set when there is none) and persists the result. A concurrent writer
// surfaces as a version conflict; the whole turn is then re-evaluated against
// the fresh session.
func (p *Processor) advance(ctx context.Context, msg models.InboundMessage) (*models.RenderedResponse, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxSaveAttempts; attempt++ {
		if attempt > 0 {
			slog.Debug("Processor.advance: retrying after version conflict", "attempt", attempt, "userID", msg.UserID)
			select {
			case <-time.After(p.saveRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		sess, err := p.store.GetSession(msg.UserID, msg.HotelID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}

		if sess == nil || !sess.Active {
			return p.startConversation(ctx, msg)
		}

		working := sess.Clone()
		resp, err := p.engine.HandleMessage(ctx, working, msg.Text)
		if errors.Is(err, models.ErrSessionInactive) {
			return p.startConversation(ctx, msg)
		}
		if err != nil {
			return nil, err
		}

		if _, err := p.store.SaveSession(*working); err != nil {
			if errors.Is(err, models.ErrSessionConflict) || errors.Is(err, models.ErrSessionNotFound) {
				metrics.SaveConflicts.Inc()
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to save session: %w", err)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("conversation update contended after %d attempts: %w", p.maxSaveAttempts, lastErr)
}

// startConversation runs trigger evaluation for a user with no active
// session. Only a recognized trigger creates state.
func (p *Processor) startConversation(ctx context.Context, msg models.InboundMessage) (*models.RenderedResponse, error) {
	sess, resp, err := p.engine.HandleTrigger(ctx, msg.UserID, msg.HotelID, msg.Text)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if _, err := p.store.CreateSession(*sess); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		metrics.SessionsStarted.WithLabelValues(sess.FlowCategory).Inc()
	}
	return resp, nil
}

func (p *Processor) deliver(ctx context.Context, to string, resp *models.RenderedResponse) {
	var err error
	if resp.Interactive != nil {
		err = p.sender.SendInteractive(ctx, to, resp.Text, resp.Interactive)
	} else {
		err = p.sender.SendMessage(ctx, to, resp.Text)
	}
	if err != nil {
		slog.Error("Processor.deliver: send failed", "error", err, "to", to)
		metrics.OutboundMessages.WithLabelValues(metrics.ResultFailed).Inc()
		return
	}
	metrics.OutboundMessages.WithLabelValues(metrics.ResultSent).Inc()
}

// prometheusTimer starts the process-duration observation and returns the
// stop function.
func prometheusTimer() func() {
	start := time.Now()
	return func() {
		metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}
}

// Run consumes inbound messages from the attached transport until ctx is
// cancelled or the responses channel closes.
func (p *Processor) Run(ctx context.Context) error {
	if p.sender == nil {
		return errors.New("processor has no transport attached")
	}
	slog.Info("Processor.Run: consuming inbound messages")
	for {
		select {
		case response, ok := <-p.sender.Responses():
			if !ok {
				slog.Debug("Processor.Run: responses channel closed")
				return nil
			}
			msg := p.toInbound(response)
			if _, err := p.ProcessMessage(ctx, msg); err != nil {
				slog.Error("Processor.Run: failed to process message", "error", err, "from", response.From)
			}
		case <-ctx.Done():
			slog.Debug("Processor.Run: stopping due to context cancellation")
			return ctx.Err()
		}
	}
}

// toInbound maps a transport-level response onto the processor's message
// shape, synthesizing a deterministic id when the transport supplied none.
func (p *Processor) toInbound(response models.Response) models.InboundMessage {
	userID := response.From
	if canonical, err := p.sender.ValidateAndCanonicalizeRecipient(response.From); err == nil {
		userID = canonical
	}
	messageID := response.MessageID
	if messageID == "" {
		messageID = syntheticMessageID(userID, response.Body, response.Time)
	}
	return models.InboundMessage{
		UserID:    userID,
		HotelID:   p.defaultHotelID,
		MessageID: messageID,
		Text:      response.Body,
		Timestamp: response.Time,
	}
}

func leaseKey(userID, hotelID string) string {
	return hotelID + "/" + userID
}

// syntheticMessageID derives a stable id so redeliveries of the same webhook
// payload still deduplicate.
func syntheticMessageID(userID, body string, ts int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", userID, ts, body)))
	return hex.EncodeToString(sum[:16])
}
