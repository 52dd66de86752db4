package enforcer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
)

type recordedRequest struct {
	method string
	path   string
	body   map[string]any
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []recordedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{method: r.Method, path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		mu.Lock()
		requests = append(requests, rec)
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestHTTPEnforcer_Mute(t *testing.T) {
	server, requests := newTestServer(t, http.StatusNoContent)
	enf := NewHTTPEnforcer(server.URL, server.Client())

	until := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, enf.Mute(context.Background(), "user-1", &until))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/v1/users/user-1/mute", req.path)
	assert.Equal(t, "2026-03-01T12:00:00Z", req.body["until"])
}

func TestHTTPEnforcer_BanWithoutExpiry(t *testing.T) {
	server, requests := newTestServer(t, http.StatusNoContent)
	enf := NewHTTPEnforcer(server.URL, server.Client())

	require.NoError(t, enf.Ban(context.Background(), "user-1", nil))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "/v1/users/user-1/ban", req.path)
	assert.NotContains(t, req.body, "until")
}

func TestHTTPEnforcer_Lift(t *testing.T) {
	server, requests := newTestServer(t, http.StatusNoContent)
	enf := NewHTTPEnforcer(server.URL, server.Client())

	require.NoError(t, enf.Lift(context.Background(), "user-1", domain.KindMute))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodDelete, req.method)
	assert.Equal(t, "/v1/users/user-1/restrictions/mute", req.path)
}

func TestHTTPEnforcer_LiftTreatsNotFoundAsSuccess(t *testing.T) {
	server, _ := newTestServer(t, http.StatusNotFound)
	enf := NewHTTPEnforcer(server.URL, server.Client())

	assert.NoError(t, enf.Lift(context.Background(), "user-1", domain.KindMute))
}

func TestHTTPEnforcer_ErrorStatus(t *testing.T) {
	server, _ := newTestServer(t, http.StatusBadGateway)
	enf := NewHTTPEnforcer(server.URL, server.Client())

	err := enf.Mute(context.Background(), "user-1", nil)
	assert.Error(t, err)
}

func TestHTTPEnforcer_CircuitBreakerOpensAndFailsFast(t *testing.T) {
	server, requests := newTestServer(t, http.StatusInternalServerError)
	enf := NewHTTPEnforcer(server.URL, server.Client())

	// Enough failures to trip the 60%-of-5 threshold
	for i := 0; i < 5; i++ {
		assert.Error(t, enf.Ban(context.Background(), "user-1", nil))
	}
	assert.Equal(t, circuitbreaker.OpenState, enf.State())

	sent := len(*requests)
	err := enf.Ban(context.Background(), "user-1", nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)

	// The rejected call never reached the server
	assert.Len(t, *requests, sent)
}

func TestNoop_AllOperationsSucceed(t *testing.T) {
	ctx := context.Background()
	until := time.Now().Add(time.Hour)

	assert.NoError(t, Noop{}.Mute(ctx, "user-1", &until))
	assert.NoError(t, Noop{}.Ban(ctx, "user-1", nil))
	assert.NoError(t, Noop{}.Lift(ctx, "user-1", domain.KindTempBan))
}
