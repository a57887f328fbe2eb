package importer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobsink/jobsink/pkg/domain"
)

// recordingEnqueuer captures enqueued tasks, failing URLs in failURLs
type recordingEnqueuer struct {
	mu       sync.Mutex
	tasks    []domain.Task
	failURLs map[string]bool
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, task domain.Task) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failURLs[task.URL] {
		return "", errors.New("queue unavailable")
	}
	e.tasks = append(e.tasks, task)
	return "1-0", nil
}

func TestProducer_DefaultList(t *testing.T) {
	enq := &recordingEnqueuer{}
	producer := NewProducer(enq, []string{"https://a/feed", "https://b/feed"})

	count, err := producer.Enqueue(context.Background(), domain.TriggerCron)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, enq.tasks, 2)
	assert.Equal(t, "https://a/feed", enq.tasks[0].URL)
	assert.Equal(t, domain.TriggerCron, enq.tasks[0].Trigger)
	assert.Equal(t, 1, enq.tasks[0].Attempt)
}

func TestProducer_Override(t *testing.T) {
	enq := &recordingEnqueuer{}
	producer := NewProducer(enq, []string{"https://a/feed", "https://b/feed"})

	count, err := producer.Enqueue(context.Background(), domain.TriggerAPI, "https://on-demand/feed")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, "https://on-demand/feed", enq.tasks[0].URL)
	assert.Equal(t, domain.TriggerAPI, enq.tasks[0].Trigger)
}

func TestProducer_PartialEnqueueFailure(t *testing.T) {
	// one URL fails at the queue layer, the others still go through and
	// the error is surfaced to the caller
	enq := &recordingEnqueuer{failURLs: map[string]bool{"https://b/feed": true}}
	producer := NewProducer(enq, []string{"https://a/feed", "https://b/feed", "https://c/feed"})

	count, err := producer.Enqueue(context.Background(), domain.TriggerCron)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://b/feed")
	assert.Equal(t, 2, count)
	assert.Len(t, enq.tasks, 2)
}

func TestProducer_EmptyList(t *testing.T) {
	producer := NewProducer(&recordingEnqueuer{}, nil)
	count, err := producer.Enqueue(context.Background(), domain.TriggerCron)
	require.NoError(t, err)
	assert.Zero(t, count)
}
