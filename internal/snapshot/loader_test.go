package snapshot

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/breaker"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/metrics"
)

type fakeCursor struct {
	docs []bson.M
	i    int
}

func (f *fakeCursor) Next(_ context.Context) bool {
	if f.i >= len(f.docs) {
		return false
	}
	f.i++
	return true
}

func (f *fakeCursor) Decode(val interface{}) error {
	m := val.(*bson.M)
	*m = f.docs[f.i-1]
	return nil
}

func (f *fakeCursor) Err() error               { return nil }
func (f *fakeCursor) Close(_ context.Context) error { return nil }

type fakeSource struct{ docs []bson.M }

func (f *fakeSource) Find(_ context.Context, _ int32) (DocumentCursor, error) {
	return &fakeCursor{docs: f.docs}, nil
}

type recordingSink struct {
	keys     []string
	payloads [][]byte
}

func (s *recordingSink) Send(key string, payload []byte) {
	s.keys = append(s.keys, key)
	s.payloads = append(s.payloads, payload)
}

func newTestBreaker() *breaker.Breaker {
	return breaker.New("test", breaker.Config{})
}

func TestLoader_DisabledIsNoOp(t *testing.T) {
	sink := &recordingSink{}
	l := New(&fakeSource{docs: []bson.M{{"_id": "1"}}}, sink, newTestBreaker(), metrics.New("t"), logrus.NewEntry(logrus.New()), Config{Enabled: false})
	require.NoError(t, l.Run(context.Background()))
	require.Empty(t, sink.keys)
}

func TestLoader_EmitsKeyedEnvelopes(t *testing.T) {
	docs := []bson.M{
		{"_id": "1", "name": "a"},
		{"_id": "2", "name": "b", "vuid": "V2"},
		{"_id": "3"},
	}
	sink := &recordingSink{}
	l := New(&fakeSource{docs: docs}, sink, newTestBreaker(), metrics.New("t"), logrus.NewEntry(logrus.New()), Config{Enabled: true, BatchSize: 1000})

	require.NoError(t, l.Run(context.Background()))
	require.Equal(t, []string{"1", "V2", "3"}, sink.keys)

	for _, p := range sink.payloads {
		require.Contains(t, string(p), `"_source":"initial_load"`)
		require.Contains(t, string(p), `"_operation":"read"`)
	}
}
