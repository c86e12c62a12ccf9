// Package cloud is the client side of the backend HTTP surface.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github/itish2003/pointer/config"
	"github/itish2003/pointer/events"
	"github/itish2003/pointer/models"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrStreamIncomplete means the SSE body ended before [DONE].
var ErrStreamIncomplete = errors.New("stream ended before completion")

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend returned HTTP %d", e.Status)
}

// Client calls the backend with the bearer token from a routing snapshot.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a client for one routing snapshot. httpClient should not carry a timeout;
// streams are bounded by the caller's context.
func New(routing config.RoutingConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    routing.BaseURL(),
		token:      routing.Token,
		httpClient: httpClient,
		logger:     logger.Named("cloud"),
	}
}

// StreamChat posts a chat request and republishes the SSE stream on the bus: one token event per
// chunk, then a done event. Any failure publishes an error event and is also returned.
// Nothing is published once ctx is cancelled.
func (c *Client) StreamChat(ctx context.Context, bus *events.Bus, req models.ChatRequest) error {
	err := c.streamChat(ctx, bus, req)
	if err != nil && ctx.Err() == nil {
		c.logger.Debug("cloud stream failed", zap.Error(err))
		if pubErr := bus.Publish(events.TopicError, events.ErrorEvent{Message: err.Error()}); pubErr != nil {
			c.logger.Warn("failed to publish error event", zap.Error(pubErr))
		}
	}
	return err
}

func (c *Client) streamChat(ctx context.Context, bus *events.Bus, req models.ChatRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat", req, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := NewSSEReader(resp.Body)
	for {
		_, data, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamIncomplete
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if string(data) == "[DONE]" {
			return bus.Publish(events.TopicDone, events.DoneEvent{})
		}
		if !gjson.ValidBytes(data) {
			c.logger.Debug("skipping malformed stream line", zap.ByteString("data", data))
			continue
		}
		if msg := gjson.GetBytes(data, "error"); msg.Exists() {
			return fmt.Errorf("backend stream error: %s", msg.String())
		}
		if tok := gjson.GetBytes(data, "response"); tok.Exists() && tok.String() != "" {
			if err := bus.Publish(events.TopicToken, events.TokenEvent{Token: tok.String()}); err != nil {
				return err
			}
		}
	}
}

// Ingest stores text in backend memory and returns the number of chunks written.
func (c *Client) Ingest(ctx context.Context, text string, metadata map[string]interface{}) (int, error) {
	var out models.IngestResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/memory/ingest", models.IngestDataRequest{Text: text, Metadata: metadata}, &out); err != nil {
		return 0, err
	}
	return out.ChunksIngested, nil
}

// Search queries backend memory.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]models.MemoryMatch, error) {
	var out models.SearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/memory/search", models.SearchRequest{Query: query, TopK: topK}, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// Clear wipes backend memory.
func (c *Client) Clear(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/memory", nil, &models.OKResponse{})
}

// Stats returns the number of stored chunks.
func (c *Client) Stats(ctx context.Context) (int, error) {
	var out models.StatsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/memory/stats", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Health reports whether GET /health answers 200.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, "application/json")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// do sends the request and turns non-2xx answers into *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{Status: resp.StatusCode, Message: gjson.GetBytes(raw, "error").String()}
	}
	return resp, nil
}
