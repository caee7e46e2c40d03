package changefeed

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/breaker"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/cursor"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/egress"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/envelope"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/errs"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/metrics"
)

// RunState is one of the processor's four lifecycle states (spec §4.3).
type RunState int

const (
	Ready RunState = iota
	Tailing
	Stopping
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Tailing:
		return "tailing"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// legacyMarker is the literal substring that flags a document key as an
// artifact of an older snapshot protocol (spec §4.3 step 2.1).
const legacyMarker = "initial_load_marker"

// Processor drives the Ready -> Tailing -> Stopping -> Stopped state
// machine. Exactly one Run call is live at a time; the stop flag is the
// only state the outside world may mutate while Tailing is in progress
// (spec §5).
type Processor struct {
	source      Source
	cursorStore cursor.Store
	sink        egress.Sink
	breaker     *breaker.Breaker
	metrics     *metrics.Sink
	log         *logrus.Entry

	stop  atomic.Bool
	state atomic.Int32
}

// New builds a Processor.
func New(source Source, cursorStore cursor.Store, sink egress.Sink, br *breaker.Breaker, m *metrics.Sink, log *logrus.Entry) *Processor {
	return &Processor{
		source:      source,
		cursorStore: cursorStore,
		sink:        sink,
		breaker:     br,
		metrics:     m,
		log:         log,
	}
}

// Stop requests that the Tailing loop exit at the next iteration
// boundary (spec §5: "setting stop=true is sufficient; the next
// iteration of the loop exits within one event of latency").
func (p *Processor) Stop() { p.stop.Store(true) }

func (p *Processor) isStopped() bool { return p.stop.Load() }

// State returns the processor's current lifecycle state for diagnostics.
func (p *Processor) State() RunState { return RunState(p.state.Load()) }

func (p *Processor) setState(s RunState) { p.state.Store(int32(s)) }

// Run opens (or resumes) the change feed and tails it until Stop is
// called or ctx is canceled. A breaker-open error aborts the run and is
// returned to the caller; every other read failure is logged, counted,
// and the loop continues (spec §4.3's wrapper + propagation policy).
func (p *Processor) Run(ctx context.Context) error {
	p.setState(Ready)

	resumeToken, err := p.loadResumeToken(ctx)
	if err != nil {
		return err
	}

	feed, err := p.source.Watch(ctx, resumeToken)
	if err != nil {
		return errs.New(errs.KindFatal, "changefeed.watch", err)
	}
	defer feed.Close(ctx)

	p.setState(Tailing)
	runErr := p.tail(ctx, feed)

	p.setState(Stopping)
	if err := feed.Close(ctx); err != nil {
		p.log.WithError(err).Warn("error closing change feed")
	}
	p.setState(Stopped)

	return runErr
}

// loadResumeToken loads the persisted cursor, treating a load fault as
// "start from now" after logging (spec §4.5 error handling).
func (p *Processor) loadResumeToken(ctx context.Context) ([]byte, error) {
	token, present, err := p.cursorStore.Load(ctx)
	if err != nil {
		p.metrics.CursorLoadErrors.Inc()
		p.log.WithError(err).Warn("cursor load failed, starting change feed from now")
		return nil, nil
	}
	if !present {
		return nil, nil
	}
	return token, nil
}

func (p *Processor) tail(ctx context.Context, feed Feed) error {
	for !p.isStopped() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var event *Event
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			var readErr error
			event, readErr = feed.Next(ctx)
			return readErr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errs.Is(err, errs.KindBreakerOpen) {
				p.log.WithError(err).Error("source breaker open, aborting change feed run")
				return err
			}
			p.metrics.FeedReadErrors.Inc()
			p.log.WithError(err).Warn("change feed read failed, continuing")
			continue
		}
		if event == nil {
			continue
		}

		p.handleEvent(ctx, event)
	}
	return nil
}

// handleEvent implements the Classify/Act/Acknowledge steps for a single
// event (spec §4.3 step 2).
func (p *Processor) handleEvent(ctx context.Context, ev *Event) {
	p.metrics.EventsProcessed.Inc()

	if isLegacyMarker(ev.DocumentKey) {
		p.metrics.EventsMarkerSkip.Inc()
		p.ack(ctx, ev.CursorToken)
		return
	}

	op := classify(ev.OpType)
	if op == unknownOp {
		p.metrics.EventsUnknown.Inc()
	}

	switch op {
	case "insert", "update", "replace":
		if ev.FullDocument == nil {
			p.metrics.EventsSkippedBad.Inc()
			p.log.WithField("op_type", ev.OpType).Warn("missing full_document, skipping emission")
			break
		}
		p.emit(ev.FullDocument, op)
	case "delete":
		p.emit(ev.DocumentKey, op)
	default:
		// drop, rename, dropDatabase, invalidate, unknown: no emission.
	}

	p.ack(ctx, ev.CursorToken)
}

func (p *Processor) emit(doc map[string]interface{}, op string) {
	payload, err := envelope.Build(doc, envelope.Metadata{
		Operation: op,
		Source:    envelope.SourceChangeStream,
		Timestamp: time.Now(),
	})
	if err != nil {
		p.log.WithError(err).Warn("failed building envelope")
		return
	}
	p.sink.Send(envelope.Key(doc), payload)
}

func (p *Processor) ack(ctx context.Context, token []byte) {
	if token == nil {
		return
	}
	if err := p.cursorStore.Save(ctx, token); err != nil {
		p.metrics.CursorSaveErrors.Inc()
		p.log.WithError(err).Warn("cursor save failed")
	}
}

func isLegacyMarker(documentKey map[string]interface{}) bool {
	if documentKey == nil {
		return false
	}
	id, ok := documentKey["_id"]
	if !ok {
		return false
	}
	return strings.Contains(envelope.Stringify(id), legacyMarker)
}
