package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github/itish2003/pointer/config"
	"github/itish2003/pointer/events"
	"github/itish2003/pointer/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSSEReader(t *testing.T) {
	r := NewSSEReader(strings.NewReader(": comment\nevent: token\ndata: {\"a\":1}\n\ndata: one\ndata: two\n\ndata: [DONE]"))

	typ, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "token", typ)
	assert.Equal(t, `{"a":1}`, string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "[DONE]", string(data))

	_, _, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

type recorded struct {
	mu     sync.Mutex
	events []string
}

func (r *recorded) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorded) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// record subscribes to the three stream topics and logs events in arrival order.
func record(t *testing.T, bus *events.Bus) *recorded {
	t.Helper()
	rec := &recorded{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, topic := range []string{events.TopicToken, events.TopicDone, events.TopicError} {
		sub, err := bus.Subscribe(ctx, topic)
		require.NoError(t, err)
		go func(topic string) {
			for msg := range sub.Messages {
				switch topic {
				case events.TopicToken:
					var ev events.TokenEvent
					_ = events.Decode(msg, &ev)
					rec.add("token:" + ev.Token)
				case events.TopicDone:
					rec.add("done")
				case events.TopicError:
					var ev events.ErrorEvent
					_ = events.Decode(msg, &ev)
					rec.add("error:" + ev.Message)
				}
				msg.Ack()
			}
		}(topic)
	}
	return rec
}

func routing(url string) config.RoutingConfig {
	return config.RoutingConfig{CloudEnabled: true, Endpoint: url + "/", Token: "tok", DefaultModel: "m", TopK: 5}
}

func TestStreamChatPublishesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req models.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Messages[0].Content)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo", "!"} {
			fmt.Fprintf(w, "data: {\"response\":%q}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	bus := events.NewBus(zap.NewNop())
	defer bus.Close()
	rec := record(t, bus)

	c := New(routing(srv.URL), srv.Client(), zap.NewNop())
	err := c.StreamChat(context.Background(), bus, models.ChatRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(rec.list()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"token:Hel", "token:lo", "token:!", "done"}, rec.list())
}

func TestStreamChatErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"error":"Unauthorized"}`)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, http.StatusUnauthorized, se.Status)
				assert.Equal(t, "Unauthorized", se.Message)
			},
		},
		{
			name: "in-stream error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "data: {\"response\":\"par\"}\n\ndata: {\"error\":\"upstream model error\"}\n\n")
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "upstream model error")
			},
		},
		{
			name: "truncated",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "data: {\"response\":\"par\"}\n\n")
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrStreamIncomplete)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			bus := events.NewBus(zap.NewNop())
			defer bus.Close()
			rec := record(t, bus)

			err := New(routing(srv.URL), srv.Client(), zap.NewNop()).StreamChat(context.Background(), bus,
				models.ChatRequest{Messages: []models.ChatMessage{{Role: "user", Content: "x"}}})
			require.Error(t, err)
			tt.check(t, err)

			assert.Eventually(t, func() bool {
				evs := rec.list()
				return len(evs) > 0 && strings.HasPrefix(evs[len(evs)-1], "error:")
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestMemoryCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.Method + " " + r.URL.Path {
		case "POST /api/memory/ingest":
			var req models.IngestDataRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "remember this", req.Text)
			fmt.Fprint(w, `{"ok":true,"chunks_ingested":1}`)
		case "POST /api/memory/search":
			var req models.SearchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, 3, req.TopK)
			fmt.Fprint(w, `{"matches":[{"id":"1-a-0","score":0.9,"text":"remember this","metadata":{}}]}`)
		case "DELETE /api/memory":
			fmt.Fprint(w, `{"ok":true}`)
		case "GET /api/memory/stats":
			fmt.Fprint(w, `{"count":7}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"Not Found"}`)
		}
	}))
	defer srv.Close()

	c := New(routing(srv.URL), srv.Client(), zap.NewNop())
	ctx := context.Background()

	n, err := c.Ingest(ctx, "remember this", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := c.Search(ctx, "remember", 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "remember this", matches[0].Text)

	require.NoError(t, c.Clear(ctx))

	count, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	err = c.Health(ctx)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "backend returned 404: Not Found", se.Error())
}
