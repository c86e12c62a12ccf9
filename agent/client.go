// Package agent talks to the local fallback agent over HTTP.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github/itish2003/pointer/models"

	"github.com/tidwall/gjson"
)

// NoResponse is returned when the agent answers with an empty response field.
const NoResponse = "No response generated"

// HTTPError is a non-2xx answer from the agent. Detail comes from its {"detail": ...} body when present.
type HTTPError struct {
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// Client calls POST /api/agent and GET /health on the local agent.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Ask sends one query. Empty parts are sent as null; sessionID is sent only when non-empty.
func (c *Client) Ask(ctx context.Context, message string, parts []models.ContextPart, sessionID string) (*models.AgentResponse, error) {
	req := models.AgentRequest{Message: message}
	if len(parts) > 0 {
		req.ContextParts = parts
	}
	if sessionID != "" {
		req.SessionID = &sessionID
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/agent", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Detail: gjson.GetBytes(raw, "detail").String()}
	}

	var out models.AgentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	if out.Response == "" {
		out.Response = NoResponse
	}
	return &out, nil
}

// Ping is the liveness probe: any 2xx from /health is success.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode}
	}
	return nil
}
