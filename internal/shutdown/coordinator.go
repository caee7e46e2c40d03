// Package shutdown is the graceful shutdown coordinator (spec §4.6): a
// registry of named, fallible shutdown actions run concurrently under a
// deadline, sequencing producer drain and client close after the
// change-feed processor's stop flag is set.
package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Action is a single shutdown step, identified by a human name for
// diagnostics.
type Action struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stoppable is anything with a stop flag the coordinator marks before
// running the registered actions — the change-feed processor, in
// practice.
type Stoppable interface {
	Stop()
}

// Coordinator runs a registry of shutdown actions to completion (or
// until a deadline elapses), then closes the log client. Re-entrant
// calls to Shutdown collapse into the first one (spec §4.6 idempotency).
type Coordinator struct {
	log        *logrus.Entry
	processor  Stoppable
	actions    []Action
	closeLog   func(ctx context.Context) error

	once    sync.Once
	result  bool
	resultC chan struct{}
}

// New builds a Coordinator. closeLog is invoked last, after every
// registered action has finished or the deadline elapsed, per spec §4.6
// step 3 ("explicitly flush and close the log client").
func New(processor Stoppable, closeLog func(ctx context.Context) error, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		processor: processor,
		closeLog:  closeLog,
		log:       log,
		resultC:   make(chan struct{}),
	}
}

// Register adds a shutdown action. Registration is not safe to call
// concurrently with Shutdown.
func (c *Coordinator) Register(name string, run func(ctx context.Context) error) {
	c.actions = append(c.actions, Action{Name: name, Run: run})
}

// Shutdown marks the processor's stop flag, then runs every registered
// action concurrently, waiting for all of them or for deadline to
// elapse, and finally closes the log client. It returns true if every
// action completed before the deadline. Calling Shutdown more than once
// is safe; later calls block until the first completes and return its
// result.
func (c *Coordinator) Shutdown(deadline time.Duration) bool {
	c.once.Do(func() {
		c.result = c.run(deadline)
		close(c.resultC)
	})
	<-c.resultC
	return c.result
}

func (c *Coordinator) run(deadline time.Duration) bool {
	c.processor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	var wg sync.WaitGroup
	doneC := make(chan struct{})
	wg.Add(len(c.actions))
	for _, action := range c.actions {
		go func(a Action) {
			defer wg.Done()
			if err := a.Run(ctx); err != nil {
				c.log.WithError(err).WithField("action", a.Name).Warn("shutdown action failed")
			} else {
				c.log.WithField("action", a.Name).Info("shutdown action complete")
			}
		}(action)
	}
	go func() {
		wg.Wait()
		close(doneC)
	}()

	completed := false
	select {
	case <-doneC:
		completed = true
	case <-ctx.Done():
		c.log.Warn("shutdown deadline elapsed before all actions completed")
	}

	if c.closeLog != nil {
		if err := c.closeLog(context.Background()); err != nil {
			c.log.WithError(err).Warn("error closing log client during shutdown")
		}
	}

	return completed
}
