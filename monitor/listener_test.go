package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github/itish2003/pointer/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

func nextConnection(t *testing.T, sub *events.Subscription) bool {
	t.Helper()
	select {
	case msg := <-sub.Messages:
		var ev events.ConnectionEvent
		require.NoError(t, events.Decode(msg, &ev))
		msg.Ack()
		return ev.Connected
	case <-time.After(2 * time.Second):
		t.Fatal("no connection event")
		return false
	}
}

func TestListenerPublishesConnectAndDrop(t *testing.T) {
	var accepted atomic.Int64
	drop := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if accepted.Inc() == 1 {
			<-drop
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := events.NewBus(zap.NewNop())
	defer bus.Close()
	sub, err := bus.Subscribe(context.Background(), events.TopicConnection)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l := NewListener("ws"+strings.TrimPrefix(srv.URL, "http"), bus, ListenerOptions{
		Floor:   10 * time.Millisecond,
		Ceiling: 40 * time.Millisecond,
	}, zap.NewNop())
	go func() {
		l.Run(ctx)
		close(done)
	}()

	assert.True(t, nextConnection(t, sub))
	close(drop)
	assert.False(t, nextConnection(t, sub))
	assert.True(t, nextConnection(t, sub))
	assert.Equal(t, int64(2), accepted.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerDialFailurePublishesDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	bus := events.NewBus(zap.NewNop())
	defer bus.Close()
	sub, err := bus.Subscribe(context.Background(), events.TopicConnection)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewListener(url, bus, ListenerOptions{Floor: 10 * time.Millisecond, Ceiling: 20 * time.Millisecond}, zap.NewNop()).Run(ctx)

	assert.False(t, nextConnection(t, sub))
	assert.False(t, nextConnection(t, sub))
}

func TestDefaultListenerOptions(t *testing.T) {
	opts := DefaultListenerOptions()
	assert.Equal(t, 2*time.Second, opts.Floor)
	assert.Equal(t, 30*time.Second, opts.Ceiling)
	assert.Equal(t, 30*time.Second, opts.PingInterval)
}
