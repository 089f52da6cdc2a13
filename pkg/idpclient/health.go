package idpclient

import (
	"context"
	"net/http"
)

// IsHealthy reports whether the provider's health endpoint answers 2xx.
// Probes are not counted in Stats.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.HealthPath, nil)
	if err != nil {
		return false
	}
	resp, _, err := c.do(ctx, "health", req)
	if err != nil {
		return false
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
