package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/planner"
)

// ErrAdvisoryUnavailable is returned when the advisory service cannot
// be reached or rejects the request.
var ErrAdvisoryUnavailable = errors.New("api: advisory service unavailable")

// AdvisoryClient calls the external AI advisory microservice. The
// service receives the canonical plan JSON and returns freeform
// advisory content that is attached to, never merged into, the plan.
type AdvisoryClient struct {
	baseURL string
	apiKey  auth.Secret
	client  *http.Client
}

// NewAdvisoryClient creates a client for the advisory service.
func NewAdvisoryClient(baseURL, apiKey string) *AdvisoryClient {
	return &AdvisoryClient{
		baseURL: baseURL,
		apiKey:  auth.Secret(apiKey),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Augment requests an advisory for a plan.
func (c *AdvisoryClient) Augment(ctx context.Context, plan *contracts.Plan) (json.RawMessage, error) {
	payload, err := planner.Serialize(plan)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]json.RawMessage{"plan": payload})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/advisory", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Reveal())

	resp, err := c.client.Do(req)
	if err != nil {
		// Error text may echo the request URL or headers; scrub the
		// key before the message can reach a client or a log line.
		return nil, fmt.Errorf("%w: %s", ErrAdvisoryUnavailable, auth.Scrub(err.Error(), c.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAdvisoryUnavailable, resp.StatusCode)
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAdvisoryUnavailable, auth.Scrub(err.Error(), c.apiKey))
	}
	return json.RawMessage(out), nil
}

// TestKey verifies the configured key against the advisory service.
// Any failure text is scrubbed of the key material.
func (c *AdvisoryClient) TestKey(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ping", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Reveal())
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAdvisoryUnavailable, auth.Scrub(err.Error(), c.apiKey))
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.New("api: advisory key rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAdvisoryUnavailable, resp.StatusCode)
	}
	return nil
}

// handleTestAIKey checks the advisory key without exposing it.
func (s *Server) handleTestAIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.advisory.TestKey(r.Context()); err != nil {
		WriteDetail(w, http.StatusBadGateway, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
