// Package scheduler triggers periodic feed imports on a cron schedule.
package scheduler

import (
	"context"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/jobsink/jobsink/pkg/domain"
)

// Producer enqueues import tasks for the configured feeds
type Producer interface {
	Enqueue(ctx context.Context, trigger domain.Trigger, override ...string) (int, error)
}

// Scheduler wraps robfig/cron and fires the producer on each tick
type Scheduler struct {
	producer Producer
	spec     string
	cron     *cron.Cron
}

// New creates a Scheduler firing on the given cron spec
func New(producer Producer, spec string) *Scheduler {
	return &Scheduler{producer: producer, spec: spec, cron: cron.New()}
}

// Start registers the import job and starts the cron loop. One import cycle
// runs immediately so a fresh deployment does not wait for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.run(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[INFO] scheduler started, spec %q", s.spec)

	go s.run(ctx)
	return nil
}

// Stop halts the cron loop, waiting for a running job to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Printf("[INFO] scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	count, err := s.producer.Enqueue(ctx, domain.TriggerCron)
	if err != nil {
		log.Printf("[WARN] scheduled enqueue incomplete, %d tasks queued: %v", count, err)
		return
	}
	log.Printf("[INFO] scheduled import, %d tasks queued", count)
}
