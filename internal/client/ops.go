package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// HealthStatus is the outcome of a health probe
type HealthStatus struct {
	Healthy  bool   `json:"healthy"`
	Endpoint string `json:"endpoint"`
	Detail   string `json:"detail,omitempty"`
}

// ErrUnhealthy is returned when every health endpoint answered but none
// reported healthy
var ErrUnhealthy = errors.New("api reported unhealthy")

// Health probes /health and then /. A 2xx with {"ok": true} or a body that
// carries no ok field counts as healthy. Repeated failures trip a circuit
// breaker so a wait-for-ready loop backs off instead of hammering the server.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var lastErr error
		for _, path := range []string{"/health", "/"} {
			status, err := c.probe(ctx, path)
			if err == nil {
				return status, nil
			}
			lastErr = err
		}
		return nil, lastErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return HealthStatus{Detail: "circuit open"}, fmt.Errorf("health probe suppressed: %w", err)
		}
		return HealthStatus{Detail: err.Error()}, err
	}
	return result.(HealthStatus), nil
}

func (c *Client) probe(ctx context.Context, path string) (HealthStatus, error) {
	endpoint := c.endpoint(path)
	var body json.RawMessage
	if err := c.doJSON(ctx, c.newHTTP(5*time.Second), http.MethodGet, endpoint, nil, nil, &body); err != nil {
		// a bare 2xx with a non-JSON body is still a live server
		var status *StatusError
		if !errors.As(err, &status) && body == nil && isDecodeError(err) {
			return HealthStatus{Healthy: true, Endpoint: endpoint}, nil
		}
		return HealthStatus{}, err
	}

	var payload struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.OK == nil {
		return HealthStatus{Healthy: true, Endpoint: endpoint}, nil
	}
	if !*payload.OK {
		return HealthStatus{Endpoint: endpoint, Detail: "ok=false"}, fmt.Errorf("%s: %w", endpoint, ErrUnhealthy)
	}
	return HealthStatus{Healthy: true, Endpoint: endpoint}, nil
}

func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	return errors.As(err, &syntax)
}

// RefreshOpenAPI asks the server to regenerate its OpenAPI document
func (c *Client) RefreshOpenAPI(ctx context.Context, adminToken string) (map[string]any, error) {
	if adminToken == "" {
		return nil, fmt.Errorf("admin token is required")
	}
	var out map[string]any
	err := c.doJSON(ctx, c.newHTTP(30*time.Second), http.MethodPost, c.endpoint("/ops/openapi/refresh"),
		struct{}{}, map[string]string{"X-Admin-Token": adminToken}, &out)
	if err != nil {
		return nil, fmt.Errorf("refresh openapi: %w", err)
	}
	c.logger.InfoContext(ctx, "openapi_refreshed", slog.Any("result", out))
	return out, nil
}
