package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "aegis", cmd.Use)
	assert.True(t, cmd.SilenceUsage)

	for _, name := range []string{"fetch", "watch", "cache"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
	for _, name := range []string{"stats", "clear", "invalidate"} {
		sub, _, err := cmd.Find([]string{"cache", name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	config := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "c", config.Shorthand)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"page=2", "q=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"page": "2", "q": "a=b"}, params)

	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "aegis.yaml")
	content := fmt.Sprintf(`
cache:
  cleanup_interval: 0s
  store:
    driver: sqlite
    path: %s
retry:
  max_attempts: 1
http:
  base_url: %s
  tenant_id: acme
`, filepath.Join(dir, "cache.db"), baseURL)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFetchThenCacheCommands(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/entities", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "acme", r.Header.Get("X-Tenant-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"e1"}]}`))
	}))
	defer srv.Close()

	cfg := writeConfig(t, srv.URL)

	out, err := run(t, "-c", cfg, "fetch", "/entities", "--param", "page=2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[{"id":"e1"}]}`, out)

	// The second process finds the response in the persistent tier.
	out, err = run(t, "-c", cfg, "fetch", "/entities", "-p", "page=2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[{"id":"e1"}]}`, out)
	assert.EqualValues(t, 1, calls.Load())

	out, err = run(t, "--config", cfg, "cache", "stats")
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 1, stats["storage_count"])
	assert.EqualValues(t, 100, stats["max_memory_items"])

	out, err = run(t, "-c", cfg, "cache", "invalidate", "entities")
	require.NoError(t, err)
	assert.Equal(t, "removed 1 entries\n", out)

	out, err = run(t, "-c", cfg, "cache", "clear")
	require.NoError(t, err)
	assert.Equal(t, "cache cleared\n", out)
}

func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"no such entity"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := run(t, "-c", writeConfig(t, srv.URL), "fetch", "/entities/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestWatch_RequiresRealtimeURL(t *testing.T) {
	_, err := run(t, "-c", writeConfig(t, "http://127.0.0.1:1"), "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realtime")
}
