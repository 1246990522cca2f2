package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

func newTestRedisStore(t *testing.T) *RedisSessionStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisSessionStore(WithDSN(mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisSessionStoreCAS(t *testing.T) {
	s := newTestRedisStore(t)

	sess := models.Session{
		UserID: "15551234567", HotelID: "hotel-1",
		FlowCategory: models.FlowCategoryDemo, CurrentStep: "demo_intro",
		Collected:    map[string]string{"demo_service": "restaurant"},
		LastActivity: time.Now(), Active: true,
	}
	created, err := s.CreateSession(sess)
	require.NoError(t, err)
	require.EqualValues(t, 1, created.Version)

	created.CurrentStep = "demo_service"
	saved, err := s.SaveSession(*created)
	require.NoError(t, err)
	assert.EqualValues(t, 2, saved.Version)

	// Stale version conflicts.
	created.CurrentStep = "demo_complete"
	_, err = s.SaveSession(*created)
	assert.ErrorIs(t, err, models.ErrSessionConflict)

	// Missing session is reported distinctly.
	missing := models.Session{UserID: "nobody", HotelID: "hotel-1", Version: 1}
	_, err = s.SaveSession(missing)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	loaded, err := s.GetSession("15551234567", "hotel-1")
	require.NoError(t, err)
	assert.Equal(t, "demo_service", loaded.CurrentStep)
	assert.Equal(t, "restaurant", loaded.Collected["demo_service"])

	none, err := s.GetSession("nobody", "hotel-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRedisSessionStoreDedup(t *testing.T) {
	s := newTestRedisStore(t)

	fresh, err := s.RecordInbound("wamid.abc", "15551234567", "hotel-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.RecordInbound("wamid.abc", "15551234567", "hotel-1")
	require.NoError(t, err)
	assert.False(t, fresh)

	dup, err := s.IsDuplicate("wamid.abc")
	require.NoError(t, err)
	assert.True(t, dup)

	require.NoError(t, s.MarkProcessed("wamid.abc"))
	// Marking an unknown id is a no-op.
	require.NoError(t, s.MarkProcessed("wamid.unknown"))
}

func TestRedisLease(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	release, err := s.Acquire(ctx, "hotel-1/15551234567")
	require.NoError(t, err)

	// Second acquire for the same key must time out while held.
	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(short, "hotel-1/15551234567")
	assert.ErrorIs(t, err, models.ErrLeaseUnavailable)

	// A different key is unaffected.
	otherRelease, err := s.Acquire(ctx, "hotel-1/other")
	require.NoError(t, err)
	otherRelease()

	release()

	// After release the lease is available again.
	release2, err := s.Acquire(ctx, "hotel-1/15551234567")
	require.NoError(t, err)
	release2()
}

func TestRedisDeleteSessions(t *testing.T) {
	s := newTestRedisStore(t)

	for _, hotel := range []string{"hotel-1", "hotel-2"} {
		_, err := s.CreateSession(models.Session{
			UserID: "15551234567", HotelID: hotel,
			FlowCategory: models.FlowCategoryDemo, CurrentStep: "demo_intro",
			LastActivity: time.Now(), Active: true,
		})
		require.NoError(t, err)
	}

	deleted, err := s.DeleteSessions("15551234567")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	none, err := s.GetSession("15551234567", "hotel-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}
