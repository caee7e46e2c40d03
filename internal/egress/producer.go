// Package egress is the batching egress producer (spec §4.2): it accepts
// (key, payload) pairs from the snapshot loader and the change-feed
// processor — the pipeline's only two DocumentSink callers — batches
// them, and flushes to the log broker with per-record delivery
// callbacks. The producer owns the only connection to the log broker.
package egress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/breaker"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/metrics"
)

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Sink is the interface the snapshot loader (C5) and the change-feed
// processor (C6) send envelopes through. The Producer is its only
// implementation; there is no runtime registry of observers.
type Sink interface {
	Send(key string, payload []byte)
}

type pendingRecord struct {
	key     string
	payload []byte
}

// recordMeta correlates a ProducerMessage's async delivery outcome back
// to the WaitGroup of the Flush call that submitted it, and to that
// flush's shared failure flag.
type recordMeta struct {
	key    string
	wg     *sync.WaitGroup
	failed *atomic.Bool
}

// Producer accumulates records into a size-bounded batch and flushes them
// to sarama's AsyncProducer in FIFO submission order. The pending batch
// is owned exclusively by the calling goroutine; concurrent Send calls
// require external serialization, per spec §5. Every Flush is wrapped in
// the log breaker, so a real pattern of delivery failures — not merely
// the absence of a return value on Send — trips it (spec §4.1: the
// breaker protects every log client call).
type Producer struct {
	client     sarama.AsyncProducer
	topic      string
	batchCount int
	breaker    *breaker.Breaker
	metrics    *metrics.Sink
	log        *logrus.Entry

	mu      sync.Mutex
	pending []pendingRecord

	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewProducer wraps an already-configured sarama.AsyncProducer. Callers
// build the sarama.Config (idempotent producer, acks, compression) via
// NewSaramaConfig before constructing the client.
func NewProducer(client sarama.AsyncProducer, topic string, egressBatchCount int, br *breaker.Breaker, sink *metrics.Sink, log *logrus.Entry) *Producer {
	p := &Producer{
		client:     client,
		topic:      topic,
		batchCount: egressBatchCount,
		breaker:    br,
		metrics:    sink,
		log:        log,
		doneCh:     make(chan struct{}),
	}
	go p.consumeSuccesses()
	go p.consumeErrors()
	return p
}

// Send appends (key, payload) to the pending batch. When the batch
// reaches egressBatchCount, Flush runs synchronously on the calling
// goroutine before Send returns. Send itself never returns an error —
// per spec §5 it is fire-and-forget — so a flush failure is logged here
// and otherwise only visible via the breaker's state and the
// egress.sent_err_total counter.
func (p *Producer) Send(key string, payload []byte) {
	p.mu.Lock()
	p.pending = append(p.pending, pendingRecord{key: key, payload: payload})
	full := len(p.pending) >= p.batchCount
	p.mu.Unlock()

	if full {
		if err := p.Flush(); err != nil {
			p.log.WithError(err).Warn("egress batch flush failed")
		}
	}
}

// Flush drains every pending record into the log broker in FIFO order,
// then blocks until the broker has acknowledged (or failed) every record
// in this flush before clearing the batch. An empty batch is a no-op and
// never touches the underlying client or the breaker. The submit-and-wait
// call is itself the breaker-guarded action: a breaker-open rejection
// returns immediately, leaving the batch already cleared (those records
// are dropped and are not counted in egress.sent_err_total, since they
// never reach the client and consumeErrors never sees them — callers rely
// on the log line and the breaker state gauge, not a retry, per spec's
// fire-and-forget Send contract).
func (p *Producer) Flush() error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	return p.breaker.Execute(context.Background(), func(_ context.Context) error {
		var wg sync.WaitGroup
		var failed atomic.Bool
		wg.Add(len(batch))
		for _, rec := range batch {
			p.client.Input() <- &sarama.ProducerMessage{
				Topic:    p.topic,
				Key:      sarama.StringEncoder(rec.key),
				Value:    sarama.ByteEncoder(rec.payload),
				Metadata: &recordMeta{key: rec.key, wg: &wg, failed: &failed},
			}
		}
		wg.Wait()
		if failed.Load() {
			return errors.New("one or more records in this flush failed delivery")
		}
		return nil
	})
}

// Close flushes any pending records, stops the delivery-callback
// goroutines, and closes the underlying client. The client is always
// closed even if the final flush failed.
func (p *Producer) Close() error {
	flushErr := p.Flush()
	var closeErr error
	p.closeOnce.Do(func() {
		closeErr = p.client.Close()
		close(p.doneCh)
	})
	if closeErr != nil {
		return closeErr
	}
	return flushErr
}

func (p *Producer) consumeSuccesses() {
	for msg := range p.client.Successes() {
		meta, _ := msg.Metadata.(*recordMeta)
		p.metrics.EgressSentOK.Inc()
		if p.log != nil {
			p.log.WithFields(logrus.Fields{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
				"key":       metaKey(meta),
			}).Debug("egress record delivered")
		}
		if meta != nil {
			meta.wg.Done()
		}
	}
}

func (p *Producer) consumeErrors() {
	for perr := range p.client.Errors() {
		meta, _ := perr.Msg.Metadata.(*recordMeta)
		p.metrics.EgressSentErr.Inc()
		if p.log != nil {
			p.log.WithError(perr.Err).WithField("key", metaKey(meta)).Warn("egress record delivery failed")
		}
		if meta != nil {
			meta.failed.Store(true)
			meta.wg.Done()
		}
	}
}

func metaKey(meta *recordMeta) string {
	if meta == nil {
		return ""
	}
	return meta.key
}

// NewSaramaConfig builds the producer configuration demanded by spec §3's
// log options: idempotent producer, configurable acks, compression, and
// linger.
func NewSaramaConfig(clientID string, maxRequestBytes int, acks string, compression string, lingerMs int, idempotent bool) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.MaxMessageBytes = maxRequestBytes
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = idempotent
	cfg.Producer.Flush.Frequency = msToDuration(lingerMs)

	switch acks {
	case "all", "-1":
		cfg.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		cfg.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("unrecognized acks value %q", acks)
	}

	switch compression {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "none", "":
		cfg.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("unrecognized compression value %q", compression)
	}

	if idempotent {
		// Idempotent production requires exactly one in-flight request
		// per connection and RequiredAcks == WaitForAll.
		cfg.Net.MaxOpenRequests = 1
		cfg.Producer.RequiredAcks = sarama.WaitForAll
	}

	return cfg, nil
}
