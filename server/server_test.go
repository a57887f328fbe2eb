package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobsink/jobsink/pkg/domain"
	"github.com/jobsink/jobsink/pkg/repository"
)

type fakeJobStore struct {
	jobs      []domain.Job
	count     int
	searchErr error
	lastQuery string
}

func (f *fakeJobStore) Search(_ context.Context, query string, _, _ int) ([]domain.Job, error) {
	f.lastQuery = query
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.jobs, nil
}

func (f *fakeJobStore) Count(_ context.Context) (int, error) { return f.count, nil }

type fakeResultStore struct {
	results []domain.ImportResult
	total   int
	getErr  error
	filter  repository.ResultFilter
}

func (f *fakeResultStore) Get(_ context.Context, id int64) (*domain.ImportResult, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for i := range f.results {
		if f.results[i].ID == id {
			return &f.results[i], nil
		}
	}
	return nil, nil
}

func (f *fakeResultStore) List(_ context.Context, filter repository.ResultFilter) ([]domain.ImportResult, int, error) {
	f.filter = filter
	return f.results, f.total, nil
}

type fakeProducer struct {
	queued   int
	err      error
	trigger  domain.Trigger
	override []string
}

func (f *fakeProducer) Enqueue(_ context.Context, trigger domain.Trigger, override ...string) (int, error) {
	f.trigger = trigger
	f.override = override
	if f.err != nil {
		return 0, f.err
	}
	return f.queued, nil
}

type fakeStreamer struct {
	ch  chan domain.ImportResult
	err error
}

func (f *fakeStreamer) Subscribe(_ context.Context) (<-chan domain.ImportResult, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.ch, func() {}, nil
}

func testServer(jobs *fakeJobStore, results *fakeResultStore, producer *fakeProducer, stream *fakeStreamer) *Server {
	if jobs == nil {
		jobs = &fakeJobStore{}
	}
	if results == nil {
		results = &fakeResultStore{}
	}
	if producer == nil {
		producer = &fakeProducer{}
	}
	if stream == nil {
		stream = &fakeStreamer{ch: make(chan domain.ImportResult)}
	}
	cfg := Config{Listen: "127.0.0.1:0", Timeout: 5 * time.Second, Version: "test"}
	return New(cfg, jobs, results, producer, stream)
}

func TestServer_Status(t *testing.T) {
	ts := httptest.NewServer(testServer(nil, nil, nil, nil).router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestServer_Import(t *testing.T) {
	t.Run("all configured feeds", func(t *testing.T) {
		producer := &fakeProducer{queued: 9}
		ts := httptest.NewServer(testServer(nil, nil, producer, nil).router)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/v1/import", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, domain.TriggerAPI, producer.trigger)
		assert.Empty(t, producer.override)

		var body map[string]int
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 9, body["queued"])
	})

	t.Run("single url", func(t *testing.T) {
		producer := &fakeProducer{queued: 1}
		ts := httptest.NewServer(testServer(nil, nil, producer, nil).router)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/v1/import", "application/json",
			strings.NewReader(`{"url":"https://example.com/feed"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, []string{"https://example.com/feed"}, producer.override)
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := httptest.NewServer(testServer(nil, nil, nil, nil).router)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/v1/import", "application/json", strings.NewReader("{bad"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("enqueue failure", func(t *testing.T) {
		producer := &fakeProducer{err: errors.New("redis down")}
		ts := httptest.NewServer(testServer(nil, nil, producer, nil).router)
		defer ts.Close()

		resp, err := http.Post(ts.URL+"/api/v1/import", "application/json", http.NoBody)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestServer_Results(t *testing.T) {
	now := time.Now().UTC()
	results := &fakeResultStore{
		results: []domain.ImportResult{
			{ID: 2, SourceURL: "https://example.com/feed", Timestamp: now, TotalFetched: 5},
			{ID: 1, SourceURL: "https://example.com/feed", Timestamp: now.Add(-time.Hour)},
		},
		total: 2,
	}
	ts := httptest.NewServer(testServer(nil, results, nil, nil).router)
	defer ts.Close()

	t.Run("list with filters", func(t *testing.T) {
		since := now.Add(-2 * time.Hour).Format(time.RFC3339)
		resp, err := http.Get(ts.URL + "/api/v1/results?source=example&failed=true&since=" + since + "&page=2&page_size=10")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "example", results.filter.SourceURL)
		assert.True(t, results.filter.FailedOnly)
		require.NotNil(t, results.filter.Since)
		assert.Equal(t, 10, results.filter.Limit)
		assert.Equal(t, 10, results.filter.Offset)

		var body struct {
			Items    []domain.ImportResult `json:"items"`
			Total    int                   `json:"total"`
			Page     int                   `json:"page"`
			PageSize int                   `json:"pageSize"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Len(t, body.Items, 2)
		assert.Equal(t, 2, body.Total)
		assert.Equal(t, 2, body.Page)
		assert.Equal(t, 10, body.PageSize)
	})

	t.Run("invalid since", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/results?since=yesterday")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("get by id", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/results/2")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var got domain.ImportResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, int64(2), got.ID)
		assert.Equal(t, 5, got.TotalFetched)
	})

	t.Run("get missing", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/results/99")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("get bad id", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/results/abc")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_ResultsStream(t *testing.T) {
	stream := &fakeStreamer{ch: make(chan domain.ImportResult, 1)}
	ts := httptest.NewServer(testServer(nil, nil, nil, stream).router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/results/stream", http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stream.ch <- domain.ImportResult{ID: 7, SourceURL: "https://example.com/feed", NewJobs: 3}

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	assert.Equal(t, "result", event)
	var got domain.ImportResult
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, 3, got.NewJobs)
}

func TestServer_Jobs(t *testing.T) {
	jobs := &fakeJobStore{
		jobs: []domain.Job{
			{ID: 1, Title: "Go Developer", Company: "Acme"},
		},
		count: 42,
	}
	ts := httptest.NewServer(testServer(jobs, nil, nil, nil).router)
	defer ts.Close()

	t.Run("search", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/jobs?q=developer")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "developer", jobs.lastQuery)

		var body struct {
			Items []domain.Job `json:"items"`
			Total int          `json:"total"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		assert.Equal(t, "Go Developer", body.Items[0].Title)
		assert.Equal(t, 42, body.Total)
	})

	t.Run("no query returns count only", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/jobs")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Items []domain.Job `json:"items"`
			Total int          `json:"total"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Empty(t, body.Items)
		assert.Equal(t, 42, body.Total)
	})

	t.Run("search failure", func(t *testing.T) {
		failing := &fakeJobStore{searchErr: errors.New("fts broken")}
		tsFail := httptest.NewServer(testServer(failing, nil, nil, nil).router)
		defer tsFail.Close()

		resp, err := http.Get(tsFail.URL + "/api/v1/jobs?q=x")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestServer_Ping(t *testing.T) {
	ts := httptest.NewServer(testServer(nil, nil, nil, nil).router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
