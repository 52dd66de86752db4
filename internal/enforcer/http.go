// Package enforcer talks to the platform-integration service that actually
// mutes and bans users. The engine treats it as fire-and-forget with retries;
// this package adds the transport, timeouts, and a circuit breaker.
package enforcer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/metrics"
)

// HTTPEnforcer implements domain.Enforcer against the platform-integration
// HTTP API. A shared circuit breaker covers all operations: when the platform
// is down, calls fail fast instead of piling up retries.
type HTTPEnforcer struct {
	baseURL string
	client  *http.Client
	cb      circuitbreaker.CircuitBreaker[any]
}

var _ domain.Enforcer = (*HTTPEnforcer)(nil)

// NewHTTPEnforcer creates an enforcer for the given base URL. Circuit breaker
// settings: 60% failure rate over a 10s window (min 5 requests) opens the
// breaker, 30s delay before half-open, one success closes it again.
func NewHTTPEnforcer(baseURL string, client *http.Client) *HTTPEnforcer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "enforcer",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerState.Set(stateToFloat(e.NewState))
		}).
		Build()

	return &HTTPEnforcer{
		baseURL: baseURL,
		client:  client,
		cb:      cb,
	}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

type restrictionRequest struct {
	Until *time.Time `json:"until,omitempty"`
}

func (e *HTTPEnforcer) Mute(ctx context.Context, userID string, until *time.Time) error {
	return e.call(ctx, "mute", http.MethodPut,
		fmt.Sprintf("%s/v1/users/%s/mute", e.baseURL, userID),
		restrictionRequest{Until: until})
}

func (e *HTTPEnforcer) Ban(ctx context.Context, userID string, until *time.Time) error {
	return e.call(ctx, "ban", http.MethodPut,
		fmt.Sprintf("%s/v1/users/%s/ban", e.baseURL, userID),
		restrictionRequest{Until: until})
}

func (e *HTTPEnforcer) Lift(ctx context.Context, userID string, kind domain.SanctionKind) error {
	return e.call(ctx, "lift", http.MethodDelete,
		fmt.Sprintf("%s/v1/users/%s/restrictions/%s", e.baseURL, userID, kind), nil)
}

func (e *HTTPEnforcer) call(ctx context.Context, operation, method, url string, body any) error {
	if !e.cb.TryAcquirePermit() {
		metrics.EnforcerCalls.WithLabelValues(operation, "rejected").Inc()
		return fmt.Errorf("enforcer circuit breaker open: %w", circuitbreaker.ErrOpen)
	}

	start := time.Now()
	err := e.doRequest(ctx, method, url, body)
	metrics.EnforcerCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		e.cb.RecordError(err)
		metrics.EnforcerCalls.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("enforcer %s failed: %w", operation, err)
	}

	e.cb.RecordSuccess()
	metrics.EnforcerCalls.WithLabelValues(operation, "success").Inc()
	return nil
}

func (e *HTTPEnforcer) doRequest(ctx context.Context, method, url string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	// A lift for a restriction the platform no longer has is already done.
	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// State returns the current circuit breaker state (for testing/monitoring).
func (e *HTTPEnforcer) State() circuitbreaker.State {
	return e.cb.State()
}
