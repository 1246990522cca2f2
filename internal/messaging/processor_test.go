package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GuestPipe/GuestPipe/internal/flow"
	"github.com/GuestPipe/GuestPipe/internal/guest"
	"github.com/GuestPipe/GuestPipe/internal/models"
	"github.com/GuestPipe/GuestPipe/internal/store"
)

const (
	procUser  = "15559876543"
	procHotel = "8c1d2e3f-4a5b-4c6d-8e9f-0a1b2c3d4e5f"
)

// recordingSender captures outbound sends without a real transport.
type recordingSender struct {
	mu        sync.Mutex
	sent      []string
	responses chan models.Response
}

func newRecordingSender() *recordingSender {
	return &recordingSender{responses: make(chan models.Response, 10)}
}

func (r *recordingSender) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (r *recordingSender) SendMessage(ctx context.Context, to string, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, body)
	return nil
}

func (r *recordingSender) SendInteractive(ctx context.Context, to string, body string, payload *models.InteractivePayload) error {
	return r.SendMessage(ctx, to, body)
}

func (r *recordingSender) Start(ctx context.Context) error   { return nil }
func (r *recordingSender) Stop() error                       { return nil }
func (r *recordingSender) Receipts() <-chan models.Receipt   { return nil }
func (r *recordingSender) Responses() <-chan models.Response { return r.responses }

func (r *recordingSender) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestProcessor(t *testing.T, opts ...ProcessorOption) (*Processor, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	require.NoError(t, store.SeedDefaultFlows(st))
	engine := flow.NewEngine(st, st, &guest.StaticProvider{Fields: map[string]string{"hotel_name": "Sea View"}})
	p := NewProcessor(st, store.NewKeyedMutex(), engine, opts...)
	return p, st
}

func inbound(messageID, text string) models.InboundMessage {
	return models.InboundMessage{
		UserID:    procUser,
		HotelID:   procHotel,
		MessageID: messageID,
		Text:      text,
		Timestamp: time.Now().Unix(),
	}
}

func TestProcessMessageCreatesSessionOnTrigger(t *testing.T) {
	p, st := newTestProcessor(t)

	resp, err := p.ProcessMessage(context.Background(), inbound("m1", "demo"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Contains(t, resp.Text, "demo")

	sess, err := st.GetSession(procUser, procHotel)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, models.FlowCategoryDemo, sess.FlowCategory)
	assert.Equal(t, "demo_intro", sess.CurrentStep)
}

func TestProcessMessageAdvancesActiveSession(t *testing.T) {
	p, st := newTestProcessor(t)
	_, err := p.ProcessMessage(context.Background(), inbound("m1", "demo"))
	require.NoError(t, err)

	resp, err := p.ProcessMessage(context.Background(), inbound("m2", "restaurant"))
	require.NoError(t, err)
	require.NotNil(t, resp)

	sess, err := st.GetSession(procUser, procHotel)
	require.NoError(t, err)
	assert.Equal(t, "demo_service", sess.CurrentStep)
	assert.Equal(t, "restaurant", sess.Collected["demo_service"])
}

func TestProcessMessageDeduplicatesRedelivery(t *testing.T) {
	p, st := newTestProcessor(t)
	_, err := p.ProcessMessage(context.Background(), inbound("m1", "demo"))
	require.NoError(t, err)

	first, err := p.ProcessMessage(context.Background(), inbound("m2", "restaurant"))
	require.NoError(t, err)
	require.NotNil(t, first)

	// Same provider message id delivered again: no response, no transition.
	second, err := p.ProcessMessage(context.Background(), inbound("m2", "restaurant"))
	require.NoError(t, err)
	assert.Nil(t, second)

	sess, err := st.GetSession(procUser, procHotel)
	require.NoError(t, err)
	assert.Equal(t, "demo_service", sess.CurrentStep)
	assert.Equal(t, []string{"demo_intro"}, sess.History, "exactly one forward transition")
}

func TestProcessMessageUnrecognizedTriggerLeavesNoSession(t *testing.T) {
	p, st := newTestProcessor(t)

	resp, err := p.ProcessMessage(context.Background(), inbound("m1", "is anyone there"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, flow.MsgStartOver, resp.Text)

	sess, err := st.GetSession(procUser, procHotel)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestProcessMessageRejectsInvalidInput(t *testing.T) {
	p, _ := newTestProcessor(t)

	_, err := p.ProcessMessage(context.Background(), models.InboundMessage{
		UserID: "", HotelID: procHotel, MessageID: "m1", Text: "hi",
	})
	assert.ErrorIs(t, err, models.ErrEmptyUserID)
}

func TestProcessMessageDeliversViaSender(t *testing.T) {
	sender := newRecordingSender()
	p, _ := newTestProcessor(t, WithSender(sender))

	_, err := p.ProcessMessage(context.Background(), inbound("m1", "demo"))
	require.NoError(t, err)
	require.Equal(t, 1, sender.sentCount())

	// Duplicate redelivery must not send a second message.
	_, err = p.ProcessMessage(context.Background(), inbound("m1", "demo"))
	require.NoError(t, err)
	assert.Equal(t, 1, sender.sentCount())
}

func TestProcessMessageRetriesOnVersionConflict(t *testing.T) {
	p, st := newTestProcessor(t)
	_, err := p.ProcessMessage(context.Background(), inbound("m1", "demo"))
	require.NoError(t, err)

	// Concurrent messages for the same conversation serialize on the lease
	// and each one lands exactly one transition.
	var wg sync.WaitGroup
	for _, id := range []string{"m2", "m3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := p.ProcessMessage(context.Background(), inbound(id, "restaurant"))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	sess, err := st.GetSession(procUser, procHotel)
	require.NoError(t, err)
	// demo_intro -> demo_service (option), then free text at demo_service.
	assert.Equal(t, "demo_confirmation", sess.CurrentStep)
}

func TestRunConsumesTransportResponses(t *testing.T) {
	sender := newRecordingSender()
	p, st := newTestProcessor(t, WithSender(sender), WithDefaultHotel(procHotel))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	sender.responses <- models.Response{
		From:      "+1 (555) 987-6543",
		Body:      "demo",
		MessageID: "wamid.1",
		Time:      time.Now().Unix(),
	}

	require.Eventually(t, func() bool {
		sess, err := st.GetSession(procUser, procHotel)
		return err == nil && sess != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	sess, err := st.GetSession(procUser, procHotel)
	require.NoError(t, err)
	assert.Equal(t, models.FlowCategoryDemo, sess.FlowCategory)
}

func TestSyntheticMessageIDIsStable(t *testing.T) {
	a := syntheticMessageID("15551234567", "hello", 1748779200)
	b := syntheticMessageID("15551234567", "hello", 1748779200)
	c := syntheticMessageID("15551234567", "hello", 1748779201)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, strings.Contains(a, "|"))
}
