package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/jobsink/jobsink/pkg/domain"
	"github.com/jobsink/jobsink/pkg/repository"
)

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// importHandler enqueues import tasks. An empty body queues the configured
// feed list, a body with a url field queues that single feed.
func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	var override []string
	if req.URL != "" {
		override = []string{req.URL}
	}

	count, err := s.producer.Enqueue(r.Context(), domain.TriggerAPI, override...)
	if err != nil {
		log.Printf("[ERROR] failed to enqueue import: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusAccepted, map[string]interface{}{"queued": count})
}

// resultsHandler lists import results, newest first
func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	filter := repository.ResultFilter{
		SourceURL:  r.URL.Query().Get("source"),
		FailedOnly: r.URL.Query().Get("failed") == "true",
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}

	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			renderError(w, r, fmt.Errorf("invalid since timestamp"), http.StatusBadRequest)
			return
		}
		filter.Since = &ts
	}
	if until := r.URL.Query().Get("until"); until != "" {
		ts, err := time.Parse(time.RFC3339, until)
		if err != nil {
			renderError(w, r, fmt.Errorf("invalid until timestamp"), http.StatusBadRequest)
			return
		}
		filter.Until = &ts
	}

	results, total, err := s.results.List(r.Context(), filter)
	if err != nil {
		log.Printf("[ERROR] failed to list results: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"items":    results,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// resultHandler returns a single import result by ID
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid result ID"), http.StatusBadRequest)
		return
	}

	result, err := s.results.Get(r.Context(), id)
	if err != nil {
		log.Printf("[ERROR] failed to get result %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	if result == nil {
		renderError(w, r, fmt.Errorf("result not found"), http.StatusNotFound)
		return
	}

	renderJSON(w, r, http.StatusOK, result)
}

// resultsStreamHandler streams import results over SSE as they complete
func (s *Server) resultsStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		renderError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.stream.Subscribe(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to subscribe to results stream: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case result, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(result)
			if err != nil {
				log.Printf("[WARN] failed to marshal streamed result: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: result\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// jobsHandler searches imported jobs with full-text query, or lists the
// total count when no query is given
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	total, err := s.jobs.Count(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to count jobs: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	var jobs []domain.Job
	if query := r.URL.Query().Get("q"); query != "" {
		jobs, err = s.jobs.Search(r.Context(), query, pageSize, (page-1)*pageSize)
		if err != nil {
			log.Printf("[ERROR] failed to search jobs: %v", err)
			renderError(w, r, err, http.StatusInternalServerError)
			return
		}
	}

	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"items":    jobs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// pagination extracts page and page_size query parameters with defaults
func pagination(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 && v <= 100 {
		pageSize = v
	}
	return page, pageSize
}
