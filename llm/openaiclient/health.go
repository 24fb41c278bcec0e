package openaiclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mobilityone/fleetbridge/llm"
)

// HealthCheck issues a lightweight models-list request and reports the
// round-trip latency.
func (c *Client) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := c.do(ctx, "GET", "/v1/models", nil)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency, ErrorRate: 1}, err
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

type modelListResponse struct {
	Data []modelWire `json:"data"`
}

type modelWire struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels returns every model id the account has access to.
func (c *Client) ListModels(ctx context.Context) ([]llm.Model, error) {
	respBody, err := c.do(ctx, "GET", "/v1/models", nil)
	if err != nil {
		return nil, err
	}

	var wireResp modelListResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, err
	}

	models := make([]llm.Model, len(wireResp.Data))
	for i, m := range wireResp.Data {
		models[i] = llm.Model{
			ID:      m.ID,
			Object:  m.Object,
			Created: m.Created,
			OwnedBy: m.OwnedBy,
		}
	}
	return models, nil
}
