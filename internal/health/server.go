// Package health exposes the pipeline's liveness, readiness, and metrics
// surface over HTTP, the way the teacher's server.Server binds an
// HTTPMux for its own diagnostic endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/breaker"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/changefeed"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/metrics"
)

// defaultGraceWindow is how long a breaker may stay continuously Open
// before /health reports unhealthy rather than merely degraded.
const defaultGraceWindow = 60 * time.Second

// Tailer is the subset of *changefeed.Processor the health server reads,
// narrowed so tests can substitute a fake instead of driving a real
// Processor through its full Run loop just to observe a state.
type Tailer interface {
	State() changefeed.RunState
}

// Server binds /health, /ready, and /metrics on a single port.
type Server struct {
	srv *http.Server
	log *logrus.Entry
}

// New builds a Server. Both sourceBreaker and logBreaker are read
// directly on every request — there is no separate synthetic probe;
// every breaker-guarded MongoDB read or Kafka flush already doubles as a
// probe of that dependency (see SPEC_FULL.md §3.1).
func New(port int, proc Tailer, sourceBreaker, logBreaker *breaker.Breaker, m *metrics.Sink, log *logrus.Entry) *Server {
	return newServer(port, proc, sourceBreaker, logBreaker, m, log, defaultGraceWindow)
}

func newServer(port int, proc Tailer, sourceBreaker, logBreaker *breaker.Breaker, m *metrics.Sink, log *logrus.Entry, graceWindow time.Duration) *Server {
	mux := http.NewServeMux()

	stuckOpen := func(b *breaker.Breaker) bool {
		return b.State() == breaker.Open && time.Since(b.StateSince()) > graceWindow
	}
	eitherOpen := func() bool {
		return sourceBreaker.State() == breaker.Open || logBreaker.State() == breaker.Open
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if stuckOpen(sourceBreaker) || stuckOpen(logBreaker) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("breaker open past grace window"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if proc.State() != changefeed.Tailing {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(proc.State().String()))
			return
		}
		if eitherOpen() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("dependency breaker open"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return &Server{
		srv: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux},
		log: log,
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errC := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
			return
		}
		errC <- nil
	}()

	select {
	case <-ctx.Done():
		return s.srv.Shutdown(context.Background())
	case err := <-errC:
		return err
	}
}

// Close shuts the server down gracefully, waiting for in-flight requests
// until ctx is done, for use from the shutdown coordinator's action
// registry.
func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
