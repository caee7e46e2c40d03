// Package assembly is C9: it turns a validated config.Config into a
// fully wired set of running components — the only place in the module
// that knows how every other package's constructor fits together.
package assembly

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/breaker"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/changefeed"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/config"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/cursor"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/egress"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/metrics"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/shutdown"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/snapshot"
)

// Context holds every constructed component plus the handles main needs
// to drive startup and shutdown.
type Context struct {
	Config        config.Config
	Log           *logrus.Entry
	Metrics       *metrics.Sink
	Mongo         *mongo.Client
	Producer      *egress.Producer
	Loader        *snapshot.Loader
	Proc          *changefeed.Processor
	SourceBreaker *breaker.Breaker
	LogBreaker    *breaker.Breaker
	Shutdown      *shutdown.Coordinator
}

// Build connects to MongoDB and the log broker (retrying per
// pipeline.retry-max-attempts), then wires every component. A returned
// error is always Fatal: the process must not start degraded.
func Build(ctx context.Context, cfg config.Config, log *logrus.Entry) (*Context, error) {
	m := metrics.New("cdc")

	sourceBreaker := breaker.New("mongo", breaker.Config{OnTransition: breakerObserver(m, "mongo")})
	logBreaker := breaker.New("kafka", breaker.Config{OnTransition: breakerObserver(m, "kafka")})
	m.BreakerState.WithLabelValues("mongo").Set(metrics.BreakerStateValue(int(breaker.Closed)))
	m.BreakerState.WithLabelValues("kafka").Set(metrics.BreakerStateValue(int(breaker.Closed)))

	mongoClient, err := connectMongoWithRetry(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	collection := mongoClient.Database(cfg.Source.Database).Collection(cfg.Source.Collection)

	saramaCfg, err := egress.NewSaramaConfig(
		cfg.Log.ClientID, cfg.Log.MaxRequestBytes, cfg.Log.Acks, cfg.Log.Compression, cfg.Log.LingerMs, cfg.Log.Idempotent,
	)
	if err != nil {
		return nil, fmt.Errorf("building sarama config: %w", err)
	}

	asyncProducer, err := newAsyncProducerWithRetry(cfg, saramaCfg, log)
	if err != nil {
		_ = mongoClient.Disconnect(ctx)
		return nil, fmt.Errorf("connecting to Kafka: %w", err)
	}
	producer := egress.NewProducer(asyncProducer, cfg.Log.Topic, cfg.Log.EgressBatchCount, logBreaker, m, log.WithField("component", "egress"))

	store, err := buildCursorStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building cursor store: %w", err)
	}

	loader := snapshot.New(
		&snapshot.MongoSource{Collection: collection},
		producer,
		sourceBreaker,
		m,
		log.WithField("component", "snapshot"),
		snapshot.Config{Enabled: cfg.Pipeline.SnapshotEnabled, BatchSize: cfg.Source.BatchSize},
	)

	proc := changefeed.New(
		&changefeed.MongoSource{Collection: collection},
		store,
		producer,
		sourceBreaker,
		m,
		log.WithField("component", "changefeed"),
	)

	coordinator := shutdown.New(proc, func(_ context.Context) error {
		return producer.Close()
	}, log.WithField("component", "shutdown"))
	coordinator.Register("flush_producer", func(_ context.Context) error {
		return producer.Flush()
	})
	coordinator.Register("disconnect_mongo", func(ctx context.Context) error {
		return mongoClient.Disconnect(ctx)
	})

	return &Context{
		Config:        cfg,
		Log:           log,
		Metrics:       m,
		Mongo:         mongoClient,
		Producer:      producer,
		Loader:        loader,
		Proc:          proc,
		SourceBreaker: sourceBreaker,
		LogBreaker:    logBreaker,
		Shutdown:      coordinator,
	}, nil
}

// breakerObserver publishes a breaker's transitions onto the shared
// metrics sink, keeping the breaker package itself free of a prometheus
// dependency (see internal/breaker's Config.OnTransition doc comment).
func breakerObserver(m *metrics.Sink, name string) func(from, to breaker.State) {
	return func(_, to breaker.State) {
		m.BreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(int(to)))
		if to == breaker.Open {
			m.BreakerTrips.WithLabelValues(name).Inc()
		}
	}
}

func connectMongoWithRetry(ctx context.Context, cfg config.Config, log *logrus.Entry) (*mongo.Client, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.Source.URI).
		SetMinPoolSize(cfg.Source.PoolMin).
		SetMaxPoolSize(cfg.Source.PoolMax).
		SetConnectTimeout(cfg.Source.ConnectTimeout())

	var lastErr error
	for attempt := 1; attempt <= cfg.Pipeline.RetryMaxAttempts; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Source.ConnectTimeout())
		client, err := mongo.Connect(connectCtx, clientOpts)
		if err == nil {
			err = client.Ping(connectCtx, nil)
		}
		cancel()
		if err == nil {
			return client, nil
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("MongoDB connect attempt failed")
		backoff(ctx, cfg.Pipeline.RetryBackoffMs, attempt)
	}
	return nil, lastErr
}

func newAsyncProducerWithRetry(cfg config.Config, saramaCfg *sarama.Config, log *logrus.Entry) (sarama.AsyncProducer, error) {
	brokers := splitBrokers(cfg.Log.Bootstrap)

	var lastErr error
	for attempt := 1; attempt <= cfg.Pipeline.RetryMaxAttempts; attempt++ {
		client, err := sarama.NewAsyncProducer(brokers, saramaCfg)
		if err == nil {
			return client, nil
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("Kafka producer connect attempt failed")
		backoff(context.Background(), cfg.Pipeline.RetryBackoffMs, attempt)
	}
	return nil, lastErr
}

func backoff(ctx context.Context, baseMs int, attempt int) {
	d := time.Duration(baseMs) * time.Millisecond * time.Duration(attempt)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func splitBrokers(bootstrap string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(bootstrap); i++ {
		if i == len(bootstrap) || bootstrap[i] == ',' {
			if i > start {
				out = append(out, bootstrap[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func buildCursorStore(ctx context.Context, cfg config.Config) (cursor.Store, error) {
	if !cfg.AWS.UsesRemoteCursor() {
		return cursor.NewLocalStore(cfg.Cursor.LocalPath), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Cursor.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return cursor.NewRemoteStore(client, cfg.Cursor.RemoteBucket, cfg.Cursor.RemoteKey), nil
}
