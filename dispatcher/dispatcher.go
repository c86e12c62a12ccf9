// Package dispatcher routes a user query to the cloud backend or the local agent and always
// comes back with text.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github/itish2003/pointer/config"
	"github/itish2003/pointer/events"
	"github/itish2003/pointer/logger"
	"github/itish2003/pointer/models"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrStreamTimeout settles a cloud stream that produced no terminal event in time.
var ErrStreamTimeout = errors.New("cloud stream timed out")

// ErrBusy is what the reject policy answers while another query is in flight.
var ErrBusy = errors.New("a query is already in progress")

// Query is one user submission.
type Query struct {
	Text         string
	ContextParts []models.ContextPart
	SessionID    string
}

// CloudStreamer issues the streaming chat call and reports progress on the bus.
type CloudStreamer interface {
	StreamChat(ctx context.Context, bus *events.Bus, req models.ChatRequest) error
}

// LocalAgent answers a query in one call.
type LocalAgent interface {
	Ask(ctx context.Context, message string, parts []models.ContextPart, sessionID string) (*models.AgentResponse, error)
}

// CloudFactory builds a streamer for one routing snapshot.
type CloudFactory func(routing config.RoutingConfig) CloudStreamer

// Options tunes a Dispatcher.
type Options struct {
	StreamTimeout time.Duration // 0 disables the timeout
	InFlight      string        // config.InFlightReject, InFlightQueue or InFlightCancel
}

// Dispatcher owns the single in-flight slot.
type Dispatcher struct {
	bus    *events.Bus
	cloud  CloudFactory
	local  LocalAgent
	opts   Options
	logger *zap.Logger

	slot *semaphore.Weighted

	mu            sync.Mutex
	cancelRunning context.CancelFunc
}

func New(bus *events.Bus, cloud CloudFactory, local LocalAgent, opts Options, l *zap.Logger) *Dispatcher {
	if opts.InFlight == "" {
		opts.InFlight = config.InFlightReject
	}
	return &Dispatcher{
		bus:    bus,
		cloud:  cloud,
		local:  local,
		opts:   opts,
		logger: l.Named("dispatcher"),
		slot:   semaphore.NewWeighted(1),
	}
}

// Snapshot reads the routing file for one dispatch. An unreadable file means cloud disabled.
func Snapshot(path string, l *zap.Logger) config.RoutingConfig {
	routing, err := config.LoadRouting(path)
	if err != nil {
		l.Warn("routing config unreadable, using local agent only", zap.Error(err))
		return config.RoutingConfig{}
	}
	return routing
}

// Dispatch resolves q to display text. Failures come back as "Error: <message>", never as a panic or error value.
func (d *Dispatcher) Dispatch(ctx context.Context, routing config.RoutingConfig, q Query) string {
	if strings.TrimSpace(q.Text) == "" {
		return errorText(errors.New("query must not be empty"))
	}

	ctx, release, err := d.acquire(ctx)
	if err != nil {
		return errorText(err)
	}
	defer release()

	if routing.CloudUsable() {
		text, err := d.dispatchCloud(ctx, routing, q)
		if err == nil {
			d.logger.Debug("answered by cloud", zap.String("query", logger.Truncate(q.Text, 80)))
			return text
		}
		d.logger.Warn("cloud path failed, falling back to local agent", zap.Error(err))
	}

	return d.dispatchLocal(ctx, q)
}

// acquire applies the in-flight policy and returns the context the dispatch runs under.
func (d *Dispatcher) acquire(ctx context.Context) (context.Context, func(), error) {
	switch d.opts.InFlight {
	case config.InFlightQueue:
		if err := d.slot.Acquire(ctx, 1); err != nil {
			return nil, nil, err
		}
	case config.InFlightCancel:
		d.mu.Lock()
		if d.cancelRunning != nil {
			d.cancelRunning()
		}
		d.mu.Unlock()
		if err := d.slot.Acquire(ctx, 1); err != nil {
			return nil, nil, err
		}
	default:
		if !d.slot.TryAcquire(1) {
			return nil, nil, ErrBusy
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancelRunning = cancel
	d.mu.Unlock()

	return runCtx, func() {
		cancel()
		d.mu.Lock()
		d.cancelRunning = nil
		d.mu.Unlock()
		d.slot.Release(1)
	}, nil
}

// dispatchCloud subscribes before issuing the call and waits for the first terminal outcome.
// Subscriptions are closed and the call goroutine has returned by the time it does.
func (d *Dispatcher) dispatchCloud(ctx context.Context, routing config.RoutingConfig, q Query) (string, error) {
	tokens, err := d.bus.Subscribe(ctx, events.TopicToken)
	if err != nil {
		return "", err
	}
	defer tokens.Close()
	done, err := d.bus.Subscribe(ctx, events.TopicDone)
	if err != nil {
		return "", err
	}
	defer done.Close()
	failures, err := d.bus.Subscribe(ctx, events.TopicError)
	if err != nil {
		return "", err
	}
	defer failures.Close()

	req := models.ChatRequest{
		Messages:  []models.ChatMessage{{Role: "user", Content: CombineMessage(q)}},
		Model:     routing.DefaultModel,
		UseMemory: true,
	}

	callCtx, cancelCall := context.WithCancel(ctx)
	callErr := make(chan error, 1)
	streamer := d.cloud(routing)
	go func() {
		callErr <- streamer.StreamChat(callCtx, d.bus, req)
	}()

	var timeout <-chan time.Time
	if d.opts.StreamTimeout > 0 {
		timer := time.NewTimer(d.opts.StreamTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	session := &StreamSession{}
	callReturned := false
	for !session.Settled() {
		select {
		case msg, ok := <-tokens.Messages:
			if !ok {
				session.Fail(errors.New("token subscription closed"))
				continue
			}
			var ev events.TokenEvent
			if err := events.Decode(msg, &ev); err == nil {
				session.Append(ev.Token)
			}
			msg.Ack()
		case msg, ok := <-done.Messages:
			if !ok {
				session.Fail(errors.New("done subscription closed"))
				continue
			}
			msg.Ack()
			session.Complete()
		case msg, ok := <-failures.Messages:
			if !ok {
				session.Fail(errors.New("error subscription closed"))
				continue
			}
			var ev events.ErrorEvent
			_ = events.Decode(msg, &ev)
			msg.Ack()
			session.Fail(errors.New(ev.Message))
		case err := <-callErr:
			callReturned = true
			if err != nil {
				session.Fail(err)
			} else {
				// A clean return means done was already published and acked here.
				session.Complete()
			}
		case <-timeout:
			session.Fail(ErrStreamTimeout)
		case <-ctx.Done():
			session.Fail(ctx.Err())
		}
	}

	// Unsubscribe before waiting on the call: a publisher blocked on our ack is released by it.
	tokens.Close()
	done.Close()
	failures.Close()
	cancelCall()
	if !callReturned {
		<-callErr
	}

	if err := session.Err(); err != nil {
		return "", err
	}
	return session.Text(), nil
}

func (d *Dispatcher) dispatchLocal(ctx context.Context, q Query) string {
	resp, err := d.local.Ask(ctx, q.Text, q.ContextParts, q.SessionID)
	if err != nil {
		d.logger.Warn("local agent failed", zap.Error(err))
		return errorText(err)
	}
	return resp.Response
}

// CombineMessage prefixes the selected-text block when context parts are present.
func CombineMessage(q Query) string {
	if len(q.ContextParts) == 0 {
		return q.Text
	}
	contents := make([]string, len(q.ContextParts))
	for i, p := range q.ContextParts {
		contents[i] = p.Content
	}
	return "Selected text: " + strings.Join(contents, "\n") + "\n\n" + q.Text
}

func errorText(err error) string {
	return fmt.Sprintf("Error: %s", err.Error())
}
