package monitor

import (
	"context"
	"time"

	"github/itish2003/pointer/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// ListenerOptions tunes the reconnect loop.
type ListenerOptions struct {
	Floor        time.Duration
	Ceiling      time.Duration
	PingInterval time.Duration
}

// DefaultListenerOptions reconnects between 2s and 30s and pings every 30s.
func DefaultListenerOptions() ListenerOptions {
	return ListenerOptions{
		Floor:        2 * time.Second,
		Ceiling:      30 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Listener holds a websocket open to the local backend and publishes a connection event
// whenever it connects or drops. Inbound frames are read only to detect the close.
type Listener struct {
	url    string
	bus    *events.Bus
	opts   ListenerOptions
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewListener(url string, bus *events.Bus, opts ListenerOptions, logger *zap.Logger) *Listener {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Listener{
		url:    url,
		bus:    bus,
		opts:   opts,
		dialer: websocket.DefaultDialer,
		logger: logger.Named("listener"),
	}
}

// Run reconnects until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	backoff := NewBackoff(l.opts.Floor, l.opts.Ceiling)
	for {
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Debug("dial failed", zap.String("url", l.url), zap.Error(err))
		} else {
			l.logger.Info("connected", zap.String("url", l.url))
			backoff = backoff.OnSuccess()
			l.publish(true)
			l.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			l.logger.Info("disconnected", zap.String("url", l.url))
		}
		l.publish(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Delay):
		}
		backoff = backoff.OnFailure()
	}
}

// serve returns when the connection fails or ctx is done.
func (l *Listener) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(l.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Debug("read failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				l.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (l *Listener) publish(connected bool) {
	if err := l.bus.Publish(events.TopicConnection, events.ConnectionEvent{Connected: connected}); err != nil {
		l.logger.Warn("failed to publish connection event", zap.Error(err))
	}
}
