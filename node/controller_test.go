package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelnet/scenario-runner/pkg/logger"
)

func testManager(t *testing.T, handler http.Handler) *ManagerController {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewManagerController(srv.URL, logger.Test(t))
}

func TestManagerController_StopStart(t *testing.T) {
	t.Parallel()

	var stopped, started bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /nodes/1/stop", func(w http.ResponseWriter, _ *http.Request) {
		stopped = true
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /nodes/1/start", func(w http.ResponseWriter, _ *http.Request) {
		started = true
		w.WriteHeader(http.StatusOK)
	})
	c := testManager(t, mux)

	require.NoError(t, c.Stop(context.Background(), 1))
	require.NoError(t, c.Start(context.Background(), 1))
	assert.True(t, stopped)
	assert.True(t, started)
}

func TestManagerController_AlreadyInState(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /nodes/0/stop", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	c := testManager(t, mux)

	require.ErrorIs(t, c.Stop(context.Background(), 0), ErrAlreadyInState)
}

func TestManagerController_Status(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /nodes/2/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "stopped"}`))
	})
	c := testManager(t, mux)

	status, err := c.Status(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status)
}

func TestUnavailableController(t *testing.T) {
	t.Parallel()

	var c Controller = UnavailableController{}
	require.ErrorContains(t, c.Stop(context.Background(), 0), "no cluster manager")
	require.ErrorContains(t, c.Start(context.Background(), 0), "no cluster manager")
	_, err := c.Status(context.Background(), 0)
	require.ErrorContains(t, err, "no cluster manager")
}
