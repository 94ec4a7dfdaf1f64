package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute()
	return out.String(), err
}

func TestCreateAndSync(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/room/create", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"room_id": "A3F7B2C1"})
	})
	mux.HandleFunc("/api/time", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int64{"server_time_ms": time.Now().UnixMilli() + 60_000})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := runCLI(t, "create", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "A3F7B2C1", strings.TrimSpace(out))

	out, err = runCLI(t, "sync", "--server", srv.URL)
	require.NoError(t, err)
	var ms int64
	_, err = fmt.Sscanf(out, "offset: %d ms", &ms)
	require.NoError(t, err, out)
	assert.InDelta(t, 60_000, ms, 1_000)
}

func TestSync_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	out, err := runCLI(t, "sync", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "offset: 0 ms (sync unavailable")
}

func TestDrain_EmptyQueue(t *testing.T) {
	out, err := runCLI(t, "drain", "ROOM", "--queue", filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")
}
