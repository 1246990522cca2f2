// Package guest provides read-only access to guest, stay and hotel data for
// placeholder resolution.
//
// The engine treats this as an external collaborator: lookups are bounded in
// time and a failure degrades placeholder rendering rather than aborting the
// message.
package guest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GuestPipe/GuestPipe/internal/store"
)

// DefaultFetchTimeout bounds a single context lookup.
const DefaultFetchTimeout = 2 * time.Second

// ContextProvider fetches the placeholder fields known about a guest at a
// hotel (guest_name, room_number, hotel_name, wifi_password, checkout_time).
// Implementations must be read-only and side-effect-free.
type ContextProvider interface {
	Fetch(ctx context.Context, userID, hotelID string) (map[string]string, error)
}

// StoreProvider reads guest context from the persistence layer.
type StoreProvider struct {
	repo    store.GuestContextRepo
	timeout time.Duration
}

// NewStoreProvider creates a provider backed by the given repository.
func NewStoreProvider(repo store.GuestContextRepo) *StoreProvider {
	return &StoreProvider{repo: repo, timeout: DefaultFetchTimeout}
}

// Fetch returns the guest's placeholder fields, bounded by the provider
// timeout. A deadline overrun is reported as an error; callers degrade to an
// empty view.
func (p *StoreProvider) Fetch(ctx context.Context, userID, hotelID string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		fields map[string]string
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		fields, err := p.repo.GetGuestContext(userID, hotelID)
		ch <- result{fields, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			slog.Warn("StoreProvider.Fetch: lookup failed", "error", res.err, "userID", userID, "hotelID", hotelID)
			return nil, fmt.Errorf("guest context lookup failed: %w", res.err)
		}
		return res.fields, nil
	case <-ctx.Done():
		slog.Warn("StoreProvider.Fetch: lookup timed out", "userID", userID, "hotelID", hotelID)
		return nil, fmt.Errorf("guest context lookup timed out: %w", ctx.Err())
	}
}

// StaticProvider serves a fixed set of fields. Used in tests and demo mode.
type StaticProvider struct {
	Fields map[string]string
	Err    error
}

// Fetch returns the configured fields or error.
func (p *StaticProvider) Fetch(ctx context.Context, userID, hotelID string) (map[string]string, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Fields, nil
}
