package health

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/breaker"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/changefeed"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/metrics"
)

type fakeTailer struct{ state changefeed.RunState }

func (f fakeTailer) State() changefeed.RunState { return f.state }

func get(t *testing.T, mux http.Handler, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	mux.ServeHTTP(rec, req)
	_, _ = io.ReadAll(rec.Body)
	return rec.Code
}

func TestHealth_OKWhenBreakersClosed(t *testing.T) {
	src := breaker.New("mongo", breaker.Config{})
	logBr := breaker.New("kafka", breaker.Config{})
	s := newServer(0, fakeTailer{changefeed.Ready}, src, logBr, metrics.New("h1"), logrus.NewEntry(logrus.New()), time.Minute)

	require.Equal(t, http.StatusOK, get(t, s.srv.Handler, "/health"))
}

func TestHealth_ServiceUnavailableWhenBreakerOpenPastGraceWindow(t *testing.T) {
	src := breaker.New("mongo", breaker.Config{FailureThreshold: 1})
	logBr := breaker.New("kafka", breaker.Config{})
	s := newServer(0, fakeTailer{changefeed.Ready}, src, logBr, metrics.New("h2"), logrus.NewEntry(logrus.New()), 10*time.Millisecond)

	_ = src.Execute(context.Background(), func(_ context.Context) error { return errBoomHealth })
	require.Equal(t, breaker.Open, src.State())
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, http.StatusServiceUnavailable, get(t, s.srv.Handler, "/health"))
}

func TestHealth_HealthyWithinGraceWindowDespiteOpenBreaker(t *testing.T) {
	src := breaker.New("mongo", breaker.Config{FailureThreshold: 1})
	logBr := breaker.New("kafka", breaker.Config{})
	s := newServer(0, fakeTailer{changefeed.Ready}, src, logBr, metrics.New("h3"), logrus.NewEntry(logrus.New()), time.Minute)

	_ = src.Execute(context.Background(), func(_ context.Context) error { return errBoomHealth })
	require.Equal(t, breaker.Open, src.State())

	require.Equal(t, http.StatusOK, get(t, s.srv.Handler, "/health"))
}

func TestReady_UnavailableBeforeTailing(t *testing.T) {
	src := breaker.New("mongo", breaker.Config{})
	logBr := breaker.New("kafka", breaker.Config{})
	s := newServer(0, fakeTailer{changefeed.Ready}, src, logBr, metrics.New("h4"), logrus.NewEntry(logrus.New()), time.Minute)

	require.Equal(t, http.StatusServiceUnavailable, get(t, s.srv.Handler, "/ready"))
}

func TestReady_UnavailableWhenLogBreakerOpenEvenIfTailing(t *testing.T) {
	src := breaker.New("mongo", breaker.Config{})
	logBr := breaker.New("kafka", breaker.Config{FailureThreshold: 1})
	s := newServer(0, fakeTailer{changefeed.Tailing}, src, logBr, metrics.New("h5"), logrus.NewEntry(logrus.New()), time.Minute)

	_ = logBr.Execute(context.Background(), func(_ context.Context) error { return errBoomHealth })
	require.Equal(t, breaker.Open, logBr.State())

	require.Equal(t, http.StatusServiceUnavailable, get(t, s.srv.Handler, "/ready"))
}

func TestReady_OKWhenTailingAndBreakersClosed(t *testing.T) {
	src := breaker.New("mongo", breaker.Config{})
	logBr := breaker.New("kafka", breaker.Config{})
	s := newServer(0, fakeTailer{changefeed.Tailing}, src, logBr, metrics.New("h6"), logrus.NewEntry(logrus.New()), time.Minute)

	require.Equal(t, http.StatusOK, get(t, s.srv.Handler, "/ready"))
}

var errBoomHealth = errHealthTest{}

type errHealthTest struct{}

func (errHealthTest) Error() string { return "boom" }
