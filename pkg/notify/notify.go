// Package notify publishes completed import results to a Redis pub/sub
// channel for live observation. Publishing is best-effort by contract:
// callers log and discard any failure, a missed notification never fails
// the task that produced it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-pkgz/lgr"
	"github.com/redis/go-redis/v9"

	"github.com/jobsink/jobsink/pkg/domain"
)

// Event is the wire envelope published for each completed task
type Event struct {
	Type    string               `json:"type"`
	Payload *domain.ImportResult `json:"payload"`
}

// Notifier publishes and subscribes to import result events
type Notifier struct {
	client  *redis.Client
	channel string
}

// New creates a notifier on the given channel. The client is owned by the
// caller; the notifier never closes it.
func New(client *redis.Client, channel string) *Notifier {
	if channel == "" {
		channel = "import-log"
	}
	return &Notifier{client: client, channel: channel}
}

// Publish sends one result event to the channel. Callers treat the returned
// error as advisory only.
func (n *Notifier) Publish(ctx context.Context, result *domain.ImportResult) error {
	data, err := json.Marshal(Event{Type: "result", Payload: result})
	if err != nil {
		return fmt.Errorf("marshal result event: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish result event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded import results and a cancel
// function releasing the subscription. Every subscriber receives every
// published event. Malformed messages are logged and skipped.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan domain.ImportResult, func(), error) {
	pubsub := n.client.Subscribe(ctx, n.channel)

	// confirm the subscription before handing out the channel
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", n.channel, err)
	}

	out := make(chan domain.ImportResult)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				lgr.Printf("[WARN] skipping malformed result event: %v", err)
				continue
			}
			if event.Payload == nil {
				continue
			}

			select {
			case out <- *event.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		if err := pubsub.Close(); err != nil {
			lgr.Printf("[WARN] failed to close subscription: %v", err)
		}
	}
	return out, cancel, nil
}
