package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GuestPipe/GuestPipe/internal/guest"
	"github.com/GuestPipe/GuestPipe/internal/models"
	"github.com/GuestPipe/GuestPipe/internal/store"
)

const (
	testUser  = "15551234567"
	testHotel = "3f2a8b9c-1d4e-4f6a-8b2c-9d0e1f2a3b4c"
)

type engineFixture struct {
	engine *Engine
	store  *store.InMemoryStore
	now    time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	require.NoError(t, store.SeedDefaultFlows(st))

	f := &engineFixture{store: st, now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	external := &guest.StaticProvider{Fields: map[string]string{
		"hotel_name":    "Sea View",
		"room_number":   "205",
		"wifi_password": "conch-shell",
		"checkout_time": "11:00",
	}}
	f.engine = NewEngine(st, st, external, WithClock(func() time.Time { return f.now }))
	return f
}

// startSession runs a trigger and persists the resulting session.
func (f *engineFixture) startSession(t *testing.T, text string) *models.Session {
	t.Helper()
	sess, _, err := f.engine.HandleTrigger(context.Background(), testUser, testHotel, text)
	require.NoError(t, err)
	require.NotNil(t, sess)
	created, err := f.store.CreateSession(*sess)
	require.NoError(t, err)
	return created
}

func TestTriggerDemoCreatesSession(t *testing.T) {
	f := newEngineFixture(t)

	sess, resp, err := f.engine.HandleTrigger(context.Background(), testUser, testHotel, "Demo")
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, models.FlowCategoryDemo, sess.FlowCategory)
	assert.Equal(t, "demo_intro", sess.CurrentStep)
	assert.True(t, sess.Active)
	assert.Empty(t, sess.History)
	assert.Zero(t, sess.ErrorCount)

	assert.Contains(t, resp.Text, "demo")
	require.NotNil(t, resp.Interactive)
	titles := make([]string, 0, len(resp.Interactive.Options))
	for _, opt := range resp.Interactive.Options {
		titles = append(titles, opt.Title)
	}
	assert.Contains(t, titles, "🍽️ Restaurant")
	assert.False(t, resp.Ended)
}

func TestTriggerUnrecognizedCreatesNoSession(t *testing.T) {
	f := newEngineFixture(t)

	sess, resp, err := f.engine.HandleTrigger(context.Background(), testUser, testHotel, "what is this")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, MsgStartOver, resp.Text)
}

func TestTriggerDeepLinkPinsHotel(t *testing.T) {
	f := newEngineFixture(t)

	sess, resp, err := f.engine.HandleTrigger(context.Background(), testUser, "other-hotel", "start-"+testHotel)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, models.FlowCategoryCheckin, sess.FlowCategory)
	assert.Equal(t, testHotel, sess.HotelID)
	assert.Equal(t, "checkin_welcome", sess.CurrentStep)
	assert.Contains(t, resp.Text, "Sea View")
}

func TestTriggerDisabledFlowIgnored(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.store.SaveOverlay(models.CustomizationOverlay{
		HotelID:      testHotel,
		FlowCategory: models.FlowCategoryDemo,
		Enabled:      false,
	}))

	sess, resp, err := f.engine.HandleTrigger(context.Background(), testUser, testHotel, "demo")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, MsgServiceUnavailable, resp.Text)

	// An existing active session in the disabled flow keeps working.
	active := &models.Session{
		UserID: testUser, HotelID: testHotel,
		FlowCategory: models.FlowCategoryDemo, CurrentStep: "demo_intro",
		Active: true, LastActivity: f.now,
	}
	_, err = f.engine.HandleMessage(context.Background(), active, "restaurant")
	require.NoError(t, err)
	assert.Equal(t, "demo_service", active.CurrentStep)
}

func TestValidOptionTransition(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.startSession(t, "demo")

	resp, err := f.engine.HandleMessage(context.Background(), sess, "Restaurant")
	require.NoError(t, err)

	assert.Equal(t, "demo_service", sess.CurrentStep)
	assert.Equal(t, "restaurant", sess.Collected["demo_service"])
	assert.Equal(t, []string{"demo_intro"}, sess.History)
	assert.Zero(t, sess.ErrorCount)
	assert.Contains(t, resp.Text, "restaurant")
}

func TestWildcardTransition(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.startSession(t, "demo")

	// "management" has no dedicated conditional entry; the wildcard routes it.
	_, err := f.engine.HandleMessage(context.Background(), sess, "management")
	require.NoError(t, err)
	assert.Equal(t, "demo_service", sess.CurrentStep)
	assert.Equal(t, "management", sess.Collected["demo_service"])
}

func TestInvalidInputRetriesThenCooloff(t *testing.T) {
	f := newEngineFixture(t)
	sess := &models.Session{
		UserID: testUser, HotelID: testHotel,
		FlowCategory: models.FlowCategoryCheckin, CurrentStep: "confirm_details",
		Collected:    map[string]string{"guest_name": "Asha", "email": "a@b.c", "id_number": "X1"},
		History:      []string{"checkin_welcome", "collect_full_name", "collect_email", "collect_id_number"},
		Active:       true,
		LastActivity: f.now,
	}

	for i := 1; i < models.ErrorThreshold; i++ {
		resp, err := f.engine.HandleMessage(context.Background(), sess, "3")
		require.NoError(t, err)
		assert.Equal(t, i, sess.ErrorCount)
		assert.Equal(t, "confirm_details", sess.CurrentStep, "no transition on invalid input")
		assert.Contains(t, resp.Text, "Invalid option")
		assert.Contains(t, resp.Text, "'1', '2'")
	}

	// The fifth miss forces the cooloff reset.
	resp, err := f.engine.HandleMessage(context.Background(), sess, "3")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Text, MsgCooloff))
	assert.Equal(t, models.FlowCategoryMainMenu, sess.FlowCategory)
	assert.Equal(t, "welcome", sess.CurrentStep)
	assert.Zero(t, sess.ErrorCount)
	assert.Empty(t, sess.History)
	assert.Equal(t, "Asha", sess.Collected["guest_name"], "collected data survives the reset")
}

func TestErrorCountNeverExceedsThreshold(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.startSession(t, "demo")

	for i := 0; i < 20; i++ {
		_, err := f.engine.HandleMessage(context.Background(), sess, "not an option")
		require.NoError(t, err)
		assert.LessOrEqual(t, sess.ErrorCount, models.ErrorThreshold)
	}
}

func TestFreeTextRejectsEmptyMessage(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.startSession(t, "demo")
	_, err := f.engine.HandleMessage(context.Background(), sess, "restaurant")
	require.NoError(t, err)
	require.Equal(t, "demo_service", sess.CurrentStep)

	_, err = f.engine.HandleMessage(context.Background(), sess, "   ")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.ErrorCount)
	assert.Equal(t, "demo_service", sess.CurrentStep)
}

func TestBackNavigationSkipsCollectedOptionalSteps(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.startSession(t, "start-"+testHotel)

	// checkin_welcome -> collect_full_name -> collect_email
	_, err := f.engine.HandleMessage(context.Background(), sess, "ok")
	require.NoError(t, err)
	_, err = f.engine.HandleMessage(context.Background(), sess, "Asha Rao")
	require.NoError(t, err)
	require.Equal(t, "collect_email", sess.CurrentStep)
	require.Equal(t, []string{"checkin_welcome", "collect_full_name"}, sess.History)

	// Back skips collect_full_name (optional, already answered) and lands
	// on checkin_welcome.
	resp, err := f.engine.HandleMessage(context.Background(), sess, "Back")
	require.NoError(t, err)
	assert.Equal(t, "checkin_welcome", sess.CurrentStep)
	assert.Empty(t, sess.History)
	assert.Zero(t, sess.ErrorCount)
	assert.Contains(t, resp.Text, "Sea View")
}

func TestBackOnEmptyHistoryGoesToMainMenu(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.startSession(t, "demo")

	resp, err := f.engine.HandleMessage(context.Background(), sess, "back")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Text, MsgAtBeginning))
	assert.Equal(t, models.FlowCategoryMainMenu, sess.FlowCategory)
	assert.Equal(t, "welcome", sess.CurrentStep)
}

func TestMainMenuNavigationIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.startSession(t, "demo")
	_, err := f.engine.HandleMessage(context.Background(), sess, "restaurant")
	require.NoError(t, err)

	first, err := f.engine.HandleMessage(context.Background(), sess, "Main Menu")
	require.NoError(t, err)
	second, err := f.engine.HandleMessage(context.Background(), sess, "main menu")
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, models.FlowCategoryMainMenu, sess.FlowCategory)
	assert.Empty(t, sess.History)
	assert.Zero(t, sess.ErrorCount)
	assert.Equal(t, "restaurant", sess.Collected["demo_service"], "collected data is preserved")
}

func TestSessionExpiryResetsToMainMenu(t *testing.T) {
	f := newEngineFixture(t)
	sess := f.startSession(t, "demo")
	_, err := f.engine.HandleMessage(context.Background(), sess, "restaurant")
	require.NoError(t, err)

	// Idle for five hours and one minute.
	f.now = f.now.Add(models.SessionTTL + time.Minute)

	resp, err := f.engine.HandleMessage(context.Background(), sess, "hello")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Text, MsgSessionExpired))
	assert.Contains(t, resp.Text, "Welcome to Sea View!")
	assert.Equal(t, models.FlowCategoryMainMenu, sess.FlowCategory)
	assert.Empty(t, sess.History)
	assert.Zero(t, sess.ErrorCount)
}

func TestTerminalStepDeactivatesSession(t *testing.T) {
	f := newEngineFixture(t)
	sess := &models.Session{
		UserID: testUser, HotelID: testHotel,
		FlowCategory: models.FlowCategoryCheckin, CurrentStep: "confirm_details",
		Collected:    map[string]string{"guest_name": "Asha", "email": "a@b.c", "id_number": "X1"},
		Active:       true,
		LastActivity: f.now,
	}

	resp, err := f.engine.HandleMessage(context.Background(), sess, "1")
	require.NoError(t, err)
	assert.True(t, resp.Ended)
	assert.False(t, sess.Active)
	assert.Equal(t, "checkin_complete", sess.CurrentStep)
	assert.Contains(t, resp.Text, "Asha")
	assert.Contains(t, resp.Text, "205")

	// A message to the inactive session is rejected; the processor then
	// re-runs trigger evaluation.
	_, err = f.engine.HandleMessage(context.Background(), sess, "hello")
	assert.ErrorIs(t, err, models.ErrSessionInactive)
}

func TestOverlayCustomizesRenderedStep(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.store.SaveOverlay(models.CustomizationOverlay{
		HotelID:      testHotel,
		FlowCategory: models.FlowCategoryMainMenu,
		Enabled:      true,
		Steps: map[string]models.StepOverride{
			"welcome": {MessageTemplate: "Namaste from {hotel_name}! Pick a service:"},
		},
	}))

	sess, resp, err := f.engine.HandleTrigger(context.Background(), testUser, testHotel, "hi")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Contains(t, resp.Text, "Namaste from Sea View!")
	// Base options still listed below the customized message.
	assert.Contains(t, resp.Text, "1. Room service")
}

func TestStepLookupFailureLeavesSessionUntouched(t *testing.T) {
	f := newEngineFixture(t)
	sess := &models.Session{
		UserID: testUser, HotelID: testHotel,
		FlowCategory: models.FlowCategoryDemo, CurrentStep: "deleted_step",
		ErrorCount:   2,
		Active:       true,
		LastActivity: f.now,
	}
	before := sess.Clone()

	_, err := f.engine.HandleMessage(context.Background(), sess, "restaurant")
	require.ErrorIs(t, err, models.ErrStepNotFound)
	assert.Equal(t, before.CurrentStep, sess.CurrentStep)
	assert.Equal(t, before.ErrorCount, sess.ErrorCount)
	assert.Equal(t, before.Active, sess.Active)
}

func TestExternalLookupFailureDegradesRendering(t *testing.T) {
	st := store.NewInMemoryStore()
	require.NoError(t, store.SeedDefaultFlows(st))
	external := &guest.StaticProvider{Err: context.DeadlineExceeded}
	engine := NewEngine(st, st, external)

	sess, resp, err := engine.HandleTrigger(context.Background(), testUser, testHotel, "hi")
	require.NoError(t, err)
	require.NotNil(t, sess)
	// Placeholder renders empty instead of aborting the message.
	assert.Contains(t, resp.Text, "Welcome to !")
}
