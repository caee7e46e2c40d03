package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/ghoshp83/mongo-kafka-cdc/internal/assembly"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/config"
	"github.com/ghoshp83/mongo-kafka-cdc/internal/health"
)

const iniFilename = "cdc-pipeline.ini"

// Config is the top-level configuration object, parsed by go-flags from
// flags, environment variables, and an optional ini file, the way the
// teacher's cmd/ingester does.
var Config = new(config.Config)

type cmdServe struct{}

func initLog(cfg config.Logging) *logrus.Entry {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(log)
}

func (cmdServe) Execute(_ []string) error {
	log := initLog(Config.Logging)

	if err := Config.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ac, err := assembly.Build(ctx, *Config, log)
	if err != nil {
		log.WithError(err).Fatal("failed building pipeline")
	}

	hs := health.New(Config.Pipeline.HealthPort, ac.Proc, ac.SourceBreaker, ac.LogBreaker, ac.Metrics, log.WithField("component", "health"))
	ac.Shutdown.Register("stop_health_server", hs.Close)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-signalCh
		log.WithField("signal", sig).Info("caught signal, shutting down")
		cancel()
	}()

	go func() {
		if err := hs.Run(ctx); err != nil {
			log.WithError(err).Warn("health server exited with error")
		}
	}()

	if err := ac.Loader.Run(ctx); err != nil {
		log.WithError(err).Error("bulk snapshot phase failed")
	}

	runErr := ac.Proc.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("change feed processor exited with error")
	}

	if !ac.Shutdown.Shutdown(30 * time.Second) {
		log.Warn("shutdown deadline elapsed before all actions completed")
	}

	return runErr
}

func main() {
	parser := flags.NewParser(Config, flags.Default)
	_, _ = parser.AddCommand("serve", "Run the CDC pipeline", `
Run the MongoDB-to-Kafka change-data-capture pipeline: an optional bulk
snapshot followed by an indefinite change-feed tail, until signaled to
exit (via SIGTERM or SIGINT).
`, &cmdServe{})

	iniParser := flags.NewIniParser(parser)
	if _, err := os.Stat(iniFilename); err == nil {
		_ = iniParser.ParseFile(iniFilename)
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
