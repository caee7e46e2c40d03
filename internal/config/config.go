// Package config is the pipeline's configuration surface (spec §3):
// immutable after C9 finishes building the assembly context. Recognized
// fields mirror spec §3's table and §6's environment variable names, via
// go-flags' env struct tags — the same shape cmd/ingester's
// Config struct uses in the teacher.
package config

import (
	"fmt"
	"time"
)

// Source holds the MongoDB connection and read-path settings.
type Source struct {
	URI              string `long:"uri" env:"MONGODB_URI" description:"MongoDB connection URI" required:"true"`
	Database         string `long:"database" env:"MONGODB_DATABASE" description:"Source database name" required:"true"`
	Collection       string `long:"collection" env:"MONGODB_COLLECTION" description:"Source collection name" required:"true"`
	BatchSize        int32  `long:"batch-size" env:"MONGODB_BATCH_SIZE" default:"1000" description:"Server-side cursor batch size"`
	PoolMin          uint64 `long:"pool-min" env:"MONGODB_MIN_POOL_SIZE" default:"1" description:"Minimum connection pool size"`
	PoolMax          uint64 `long:"pool-max" env:"MONGODB_MAX_POOL_SIZE" default:"10" description:"Maximum connection pool size"`
	ConnectTimeoutMs int64  `long:"connect-timeout-ms" default:"30000" description:"Connection timeout, in milliseconds"`
	ReadTimeoutMs    int64  `long:"read-timeout-ms" default:"30000" description:"Read timeout, in milliseconds"`
}

func (s Source) ConnectTimeout() time.Duration { return time.Duration(s.ConnectTimeoutMs) * time.Millisecond }
func (s Source) ReadTimeout() time.Duration    { return time.Duration(s.ReadTimeoutMs) * time.Millisecond }

// Log holds the Kafka bootstrap and producer settings.
type Log struct {
	Bootstrap        string `long:"bootstrap" env:"KAFKA_BOOTSTRAP_SERVERS" description:"Comma-separated Kafka bootstrap servers" required:"true"`
	Topic            string `long:"topic" env:"KAFKA_TOPIC" description:"Destination topic" required:"true"`
	ClientID         string `long:"client-id" env:"KAFKA_CLIENT_ID" default:"mongo-kafka-cdc" description:"Kafka client id"`
	MaxRequestBytes  int    `long:"max-request-bytes" env:"KAFKA_MAX_REQUEST_SIZE" default:"1048576" description:"Maximum request size in bytes"`
	Acks             string `long:"acks" env:"KAFKA_ACKS" default:"all" description:"Producer acks setting (all, 1, 0)"`
	EgressBatchCount int    `long:"egress-batch-count" env:"KAFKA_BATCH_SIZE" default:"100" description:"Records per egress batch"`
	LingerMs         int    `long:"linger-ms" default:"0" description:"Producer linger, in milliseconds (0-5)"`
	Compression      string `long:"compression" default:"snappy" description:"Producer compression codec (snappy, none)"`
	Idempotent       bool   `long:"idempotent" default:"true" description:"Enable idempotent producer semantics"`
}

// Pipeline holds behavior flags that are not specific to either client.
type Pipeline struct {
	SnapshotEnabled  bool `long:"snapshot-enabled" env:"INITIAL_LOAD_ENABLED" default:"true" description:"Run the bulk snapshot phase before tailing"`
	SnapshotForce    bool `long:"snapshot-force" env:"INITIAL_LOAD_FORCE" default:"false" description:"Accepted but not read by any component; the snapshot runs whenever snapshot-enabled is true"`
	HealthPort       int  `long:"health-port" env:"HEALTH_PORT" default:"8080" description:"Health/ready/metrics HTTP port"`
	RetryMaxAttempts int  `long:"retry-max-attempts" env:"RETRY_MAX_ATTEMPTS" default:"5" description:"Max startup connect retries before Fatal"`
	RetryBackoffMs   int  `long:"retry-backoff-ms" env:"RETRY_BACKOFF_MS" default:"1000" description:"Startup retry backoff, in milliseconds"`
}

// Cursor holds the resume-cursor store settings for both backings. Which
// one is active is decided by AWS credential presence (spec §6), not by
// a field here.
type Cursor struct {
	LocalPath    string `long:"local-path" env:"RESUME_TOKEN_PATH" default:"./resume-token.json" description:"Local cursor file path"`
	RemoteBucket string `long:"remote-bucket" env:"RESUME_TOKEN_BUCKET" default:"mongo-kafka-cdc-tokens" description:"S3 bucket for the cursor object"`
	RemoteKey    string `long:"remote-key" env:"RESUME_TOKEN_KEY" default:"resume-token.json" description:"S3 key for the cursor object"`
	Region       string `long:"region" env:"AWS_REGION" description:"AWS region"`
}

// AWS holds the credential pair whose presence selects the remote cursor
// backing (spec §6).
type AWS struct {
	AccessKeyID     string `long:"aws-access-key-id" env:"AWS_ACCESS_KEY_ID" description:"AWS access key id"`
	SecretAccessKey string `long:"aws-secret-access-key" env:"AWS_SECRET_ACCESS_KEY" description:"AWS secret access key"`
}

// UsesRemoteCursor reports whether both credential fields are non-empty,
// which per spec §6 selects the S3-backed cursor store over the local
// file backing.
func (a AWS) UsesRemoteCursor() bool {
	return a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// Logging controls logrus's level and format, the way the teacher's
// go/flowctl/logging.go LogConfig does.
type Logging struct {
	Level  string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
}

// Config is the immutable, validated root configuration object built by
// C9 before any other component is constructed.
type Config struct {
	Source   Source   `group:"Source" namespace:"source"`
	Log      Log      `group:"Log" namespace:"log"`
	Pipeline Pipeline  `group:"Pipeline" namespace:"pipeline"`
	Cursor   Cursor   `group:"Cursor" namespace:"cursor"`
	AWS      AWS      `group:"AWS" namespace:"aws"`
	Logging  Logging  `group:"Logging" namespace:"log"`
}

// Validate checks the invariants config loading cannot express purely
// through go-flags tags. A failure here is Fatal (spec §7): the process
// should not start.
func (c Config) Validate() error {
	if c.Source.URI == "" {
		return fmt.Errorf("source.uri is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if c.Source.Collection == "" {
		return fmt.Errorf("source.collection is required")
	}
	if c.Log.Bootstrap == "" {
		return fmt.Errorf("log.bootstrap is required")
	}
	if c.Log.Topic == "" {
		return fmt.Errorf("log.topic is required")
	}
	if c.Log.EgressBatchCount <= 0 {
		return fmt.Errorf("log.egress-batch-count must be positive, got %d", c.Log.EgressBatchCount)
	}
	switch c.Log.Acks {
	case "all", "-1", "1", "0":
	default:
		return fmt.Errorf("log.acks must be one of all|1|0, got %q", c.Log.Acks)
	}
	switch c.Log.Compression {
	case "snappy", "none":
	default:
		return fmt.Errorf("log.compression must be snappy|none, got %q", c.Log.Compression)
	}
	if c.Pipeline.RetryMaxAttempts <= 0 {
		return fmt.Errorf("pipeline.retry-max-attempts must be positive, got %d", c.Pipeline.RetryMaxAttempts)
	}
	if c.Cursor.LocalPath == "" && !c.AWS.UsesRemoteCursor() {
		return fmt.Errorf("cursor.local-path is required when no AWS credentials are configured")
	}
	return nil
}
