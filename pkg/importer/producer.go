package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-pkgz/lgr"

	"github.com/jobsink/jobsink/pkg/domain"
)

// Enqueuer submits tasks to the durable queue
type Enqueuer interface {
	Enqueue(ctx context.Context, task domain.Task) (string, error)
}

// Producer schedules ingestion work: one task per feed URL, from either an
// explicit override list or the configured default list. The queue's retry
// policy covers task delivery; the producer does not retry its own enqueue
// calls.
type Producer struct {
	queue Enqueuer
	feeds []string
}

// NewProducer creates a producer with the configured default feed list
func NewProducer(queue Enqueuer, feeds []string) *Producer {
	return &Producer{queue: queue, feeds: feeds}
}

// Enqueue submits one task per URL and returns how many were accepted.
// Individual submissions succeed or fail independently; errors are joined
// and surfaced to the caller after all URLs were tried.
func (p *Producer) Enqueue(ctx context.Context, trigger domain.Trigger, override ...string) (int, error) {
	urls := p.feeds
	if len(override) > 0 {
		urls = override
	}

	var errs []error
	enqueued := 0
	for _, url := range urls {
		if _, err := p.queue.Enqueue(ctx, domain.Task{URL: url, Trigger: trigger, Attempt: 1}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", url, err))
			continue
		}
		enqueued++
	}

	if len(errs) > 0 {
		return enqueued, errors.Join(errs...)
	}

	lgr.Printf("[INFO] enqueued %d feed import tasks (trigger %s)", enqueued, trigger)
	return enqueued, nil
}
