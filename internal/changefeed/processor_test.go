package changefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/breaker"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/metrics"
)

type fakeFeed struct {
	mu     sync.Mutex
	events []*Event
	i      int
	failN  int // number of leading calls that fail before events are returned
}

func (f *fakeFeed) Next(ctx context.Context) (*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failN > 0 {
		f.failN--
		return nil, errors.New("read failed")
	}
	if f.i >= len(f.events) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, nil
		}
	}
	ev := f.events[f.i]
	f.i++
	return ev, nil
}

func (f *fakeFeed) Close(_ context.Context) error { return nil }

type fakeSource struct {
	feed        *fakeFeed
	resumeToken []byte
}

func (f *fakeSource) Watch(_ context.Context, resumeToken []byte) (Feed, error) {
	f.resumeToken = resumeToken
	return f.feed, nil
}

type memCursorStore struct {
	mu    sync.Mutex
	token []byte
}

func (m *memCursorStore) Load(_ context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil, false, nil
	}
	return m.token, true, nil
}

func (m *memCursorStore) Save(_ context.Context, token []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	keys     []string
	payloads [][]byte
}

func (s *recordingSink) Send(key string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.payloads = append(s.payloads, payload)
}

func newEntry() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

func TestProcessor_InsertThenDelete(t *testing.T) {
	feed := &fakeFeed{events: []*Event{
		{OpType: "insert", DocumentKey: bson.M{"_id": "7"}, FullDocument: bson.M{"_id": "7", "x": int32(1)}, CursorToken: []byte("T1")},
		{OpType: "delete", DocumentKey: bson.M{"_id": "7"}, CursorToken: []byte("T2")},
	}}
	src := &fakeSource{feed: feed}
	store := &memCursorStore{}
	sink := &recordingSink{}
	p := New(src, store, sink, breaker.New("src", breaker.Config{}), metrics.New("t"), newEntry())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.keys) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	require.Equal(t, []string{"7", "7"}, sink.keys)
	token, present, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte("T2"), token)
}

func TestProcessor_SkipsLegacyMarker(t *testing.T) {
	feed := &fakeFeed{events: []*Event{
		{OpType: "insert", DocumentKey: bson.M{"_id": "abc_initial_load_marker_1"}, FullDocument: bson.M{"_id": "abc_initial_load_marker_1"}, CursorToken: []byte("T9")},
	}}
	store := &memCursorStore{}
	sink := &recordingSink{}
	p := New(&fakeSource{feed: feed}, store, sink, breaker.New("src", breaker.Config{}), metrics.New("t2"), newEntry())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		token, present, _ := store.Load(context.Background())
		return present && string(token) == "T9"
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Empty(t, sink.keys)
}

func TestProcessor_UnknownOpTypeEmitsNothingButAcks(t *testing.T) {
	feed := &fakeFeed{events: []*Event{
		{OpType: "mystery", DocumentKey: bson.M{"_id": "5"}, CursorToken: []byte("T5")},
	}}
	store := &memCursorStore{}
	sink := &recordingSink{}
	m := metrics.New("t3")
	p := New(&fakeSource{feed: feed}, store, sink, breaker.New("src", breaker.Config{}), m, newEntry())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		token, present, _ := store.Load(context.Background())
		return present && string(token) == "T5"
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Empty(t, sink.keys)
}

func TestProcessor_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	feed := &fakeFeed{failN: 100}
	br := breaker.New("src", breaker.Config{FailureThreshold: 3, ResetTimeout: 50 * time.Millisecond})
	p := New(&fakeSource{feed: feed}, &memCursorStore{}, &recordingSink{}, br, metrics.New("t4"), newEntry())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := p.Run(ctx)
	require.Error(t, err)
	require.Equal(t, breaker.Open, br.State())
}

func TestProcessor_StopEndsLoop(t *testing.T) {
	feed := &fakeFeed{events: []*Event{
		{OpType: "insert", DocumentKey: bson.M{"_id": "1"}, FullDocument: bson.M{"_id": "1"}, CursorToken: []byte("T1")},
	}}
	p := New(&fakeSource{feed: feed}, &memCursorStore{}, &recordingSink{}, breaker.New("src", breaker.Config{}), metrics.New("t5"), newEntry())

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
