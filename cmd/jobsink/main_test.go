package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("invalid: yaml: content: ["), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := run(ctx, Opts{Config: path})
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}

func TestRun_RedisUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := fmt.Sprintf("redis:\n  url: \"redis://127.0.0.1:1\"\ndatabase:\n  dsn: %q\n",
		"file:"+filepath.Join(dir, "test.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, Opts{Config: path})
	require.Error(t, err)
	require.Contains(t, err.Error(), "setup redis")
}

func TestRun_StartStop(t *testing.T) {
	mr := miniredis.RunT(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := fmt.Sprintf(`
server:
  listen: "127.0.0.1:18765"

database:
  dsn: %q

redis:
  url: "redis://%s"

feeds:
  schedule: "0 0 1 1 *"
  urls:
    - "http://127.0.0.1:1/feed"
`, "file:"+filepath.Join(dir, "test.db"), mr.Addr())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- run(ctx, Opts{Config: path})
	}()

	// wait for the http server to come up
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18765/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:18765/api/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// graceful shutdown
	cancel()
	select {
	case err := <-serverErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Error("shutdown timeout")
	}
}

func TestSetupLog(t *testing.T) {
	t.Run("debug mode", func(t *testing.T) {
		setupLog(true, false)
	})
	t.Run("no color", func(t *testing.T) {
		setupLog(false, true)
	})
	t.Run("with secrets", func(t *testing.T) {
		setupLog(true, false, "secret1", "secret2")
	})
}
