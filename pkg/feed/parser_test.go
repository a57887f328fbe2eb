package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Fetch(t *testing.T) {
	rssContent := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Remote Jobs</title>
	<link>http://example.com</link>
	<item>
		<title>Senior Go Developer</title>
		<link>http://example.com/jobs/1</link>
		<description>Backend role</description>
		<pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
		<guid>http://example.com/jobs/1</guid>
	</item>
	<item>
		<title>Data Engineer</title>
		<link>http://example.com/jobs/2</link>
		<description>Pipelines</description>
	</item>
</channel>
</rss>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssContent))
	}))
	defer server.Close()

	parser := NewParser(5*time.Second, "jobsink-test/1.0")
	feed, err := parser.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, "Remote Jobs", feed.Title)
	require.Len(t, feed.Items, 2)
	assert.Equal(t, "Senior Go Developer", feed.Items[0].Title)
	assert.Equal(t, "http://example.com/jobs/1", feed.Items[0].GUID)
}

func TestParser_Fetch_Errors(t *testing.T) {
	t.Run("HTTP error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		parser := NewParser(5*time.Second, "jobsink-test/1.0")
		_, err := parser.Fetch(context.Background(), server.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status code: 500")
	})

	t.Run("invalid XML", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not xml"))
		}))
		defer server.Close()

		parser := NewParser(5*time.Second, "jobsink-test/1.0")
		_, err := parser.Fetch(context.Background(), server.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse feed")
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte("too late"))
		}))
		defer server.Close()

		parser := NewParser(50*time.Millisecond, "jobsink-test/1.0")
		_, err := parser.Fetch(context.Background(), server.URL)
		require.Error(t, err)
	})

	t.Run("invalid URL", func(t *testing.T) {
		parser := NewParser(5*time.Second, "jobsink-test/1.0")
		_, err := parser.Fetch(context.Background(), "not-a-url")
		require.Error(t, err)
	})
}
