package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/models"
	"github.com/pavitra93/go-tenant-rbac/shared/testutil"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) WriteSync(ctx context.Context, event Event) error {
	msg, err := Message("admin-events", event)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, msg)
}

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *memorySink) Store(_ context.Context, event Event, _ []byte, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func TestNewEvent(t *testing.T) {
	tenant := uuid.New()
	actor := &authz.Actor{UserID: uuid.New()}

	e := New(TenantUpdated, actor, &tenant, tenant.String(), map[string]string{"name": "Acme"})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, actor.UserID, *e.ActorID)
	assert.Equal(t, tenant.String(), e.Key())
	assert.JSONEq(t, `{"name":"Acme"}`, string(e.Payload))

	entry := e.AuditEntry()
	assert.Equal(t, e.ID, entry.EventID)
	assert.Equal(t, &tenant, entry.TenantID)

	assert.Equal(t, "global", New(RoleCreated, nil, nil, "", nil).Key())
}

func TestProducerDeliversOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaProducer(w, "admin-events", ProducerOptions{Workers: 2})

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), New(UserCreated, nil, nil, "", nil)))
	}
	require.NoError(t, p.Close())

	assert.Len(t, w.msgs, 5)
	assert.True(t, w.closed)
	assert.Equal(t, "admin-events", w.msgs[0].Topic)

	decoded, err := Decode(w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, UserCreated, decoded.Type)
}

func TestProducerFailuresGoToSink(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := &memorySink{}
	p := NewKafkaProducer(w, "admin-events", ProducerOptions{Workers: 1, Sink: sink})

	require.NoError(t, p.Publish(context.Background(), New(TenantCreated, nil, nil, "", nil)))
	require.NoError(t, p.Close())

	require.Len(t, sink.events, 1)
	assert.Equal(t, TenantCreated, sink.events[0].Type)
}

// blockingWriter never acks; writes end when their context does
type blockingWriter struct{}

func (blockingWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingWriter) Close() error { return nil }

func TestProducerParksTimedOutWrites(t *testing.T) {
	db := testutil.NewDB(t)
	p := NewKafkaProducer(blockingWriter{}, "admin-events", ProducerOptions{
		Workers: 1,
		Timeout: 20 * time.Millisecond,
		Sink:    NewOutbox(db),
	})

	event := New(TenantCreated, nil, nil, "t1", nil)
	require.NoError(t, p.Publish(context.Background(), event))
	require.NoError(t, p.Close())

	var failed []models.FailedEvent
	require.NoError(t, db.Find(&failed).Error)
	require.Len(t, failed, 1)
	assert.Equal(t, event.ID, failed[0].EventID)
	assert.Equal(t, models.FailedEventPending, failed[0].Status)
}

func TestProducerAfterCloseUsesSink(t *testing.T) {
	sink := &memorySink{}
	p := NewKafkaProducer(&fakeWriter{}, "admin-events", ProducerOptions{Sink: sink})
	require.NoError(t, p.Close())

	require.NoError(t, p.Publish(context.Background(), New(RoleCreated, nil, nil, "", nil)))
	assert.Len(t, sink.events, 1)
}

func TestDecodeRejectsIncompleteEvents(t *testing.T) {
	_, err := Decode(kafka.Message{Value: []byte(`{"type":"user.created"}`)})
	assert.Error(t, err)
	_, err = Decode(kafka.Message{Value: []byte(`not json`)})
	assert.Error(t, err)
}

func TestRedelivery(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	outbox := NewOutbox(db)

	event := New(UserDeleted, nil, nil, "u1", nil)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, outbox.Store(ctx, event, body, errors.New("broker down")))

	w := &fakeWriter{err: errors.New("still down")}
	r := NewRedeliverer(db, w, DefaultRetryConfig())

	n, err := r.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	now := time.Now().Add(2 * time.Minute)
	r.now = func() time.Time { return now }
	n, err = r.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var failed models.FailedEvent
	require.NoError(t, db.First(&failed).Error)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, models.FailedEventPending, failed.Status)
	assert.WithinDuration(t, now.Add(time.Minute), *failed.NextRetryAt, time.Second)

	w.err = nil
	now = now.Add(time.Hour)
	_, err = r.ProcessBatch(ctx)
	require.NoError(t, err)

	require.NoError(t, db.First(&failed).Error)
	assert.Equal(t, models.FailedEventResolved, failed.Status)
	require.Len(t, w.msgs, 1)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, RetryStats{Resolved: 1}, stats["retry_stats"])
}

func TestRedeliveryGivesUp(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2

	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.Create(&models.FailedEvent{
		EventID: "e1", EventType: UserCreated, Body: []byte(`{"id":"e1","type":"user.created"}`),
		ErrorMessage: "x", Status: models.FailedEventPending, NextRetryAt: &past, RetryCount: 1,
	}).Error)
	require.NoError(t, db.Create(&models.FailedEvent{
		EventID: "e2", EventType: UserCreated, Body: []byte(`garbage`),
		ErrorMessage: "x", Status: models.FailedEventPending, NextRetryAt: &past,
	}).Error)

	r := NewRedeliverer(db, &fakeWriter{err: errors.New("down")}, cfg)
	_, err := r.ProcessBatch(ctx)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.FailedEvent{}).Where("status = ?", models.FailedEventPermanentlyFailed).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestBackoff(t *testing.T) {
	r := NewRedeliverer(nil, nil, DefaultRetryConfig())
	assert.Equal(t, time.Minute, r.Backoff(1))
	assert.Equal(t, 2*time.Minute, r.Backoff(2))
	assert.Equal(t, 16*time.Minute, r.Backoff(5))
}

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerCommitsAfterHandling(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 3)}
	good, err := Message("admin-events", New(UserCreated, nil, nil, "", nil))
	require.NoError(t, err)
	good.Offset = 1
	reader.msgs <- good
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte("poison")}

	var mu sync.Mutex
	var handled []string
	attempts := 0
	c := NewConsumer(reader, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("database busy")
		}
		handled = append(handled, e.Type)
		return nil
	})
	c.pollTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2}, reader.commits())
	mu.Lock()
	assert.Equal(t, []string{UserCreated}, handled)
	assert.Equal(t, 2, attempts)
	mu.Unlock()
}
