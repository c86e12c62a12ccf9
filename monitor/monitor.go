package monitor

import (
	"context"
	"sync"
	"time"

	"github/itish2003/pointer/events"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Prober is the lightweight liveness request.
type Prober interface {
	Ping(ctx context.Context) error
}

// Options tunes the probe schedule.
type Options struct {
	Grace    time.Duration // delay before the first probe
	Floor    time.Duration
	Ceiling  time.Duration
	OnChange func(connected bool) // optional, called outside the lock
}

// ConnectionMonitor keeps one connectivity flag current from push events and timed probes.
// At most one probe timer is pending; scheduling always replaces the previous one, and a
// probe whose timer was superseded never writes the flag.
type ConnectionMonitor struct {
	bus    *events.Bus
	prober Prober
	opts   Options
	logger *zap.Logger

	connected atomic.Bool

	mu          sync.Mutex
	backoff     Backoff
	timer       *time.Timer
	probeCancel context.CancelFunc
	generation  uint64
	stopped     bool
	sub         *events.Subscription
	wg          sync.WaitGroup
}

func NewConnectionMonitor(bus *events.Bus, prober Prober, opts Options, logger *zap.Logger) *ConnectionMonitor {
	return &ConnectionMonitor{
		bus:     bus,
		prober:  prober,
		opts:    opts,
		logger:  logger.Named("monitor"),
		backoff: NewBackoff(opts.Floor, opts.Ceiling),
	}
}

// Connected is the current flag. It starts false.
func (m *ConnectionMonitor) Connected() bool {
	return m.connected.Load()
}

// Start subscribes to push events and schedules the first probe after the grace delay.
func (m *ConnectionMonitor) Start(ctx context.Context) error {
	sub, err := m.bus.Subscribe(ctx, events.TopicConnection)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sub = sub
	m.scheduleLocked(m.opts.Grace)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for msg := range sub.Messages {
			var ev events.ConnectionEvent
			if err := events.Decode(msg, &ev); err != nil {
				m.logger.Warn("ignoring malformed connection event", zap.Error(err))
			} else {
				m.handlePush(ev.Connected)
			}
			msg.Ack()
		}
	}()
	return nil
}

// Stop unsubscribes and cancels any pending probe. The flag is not written afterwards.
func (m *ConnectionMonitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancelLocked()
	sub := m.sub
	m.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	m.wg.Wait()
}

// Delay is the current backoff delay.
func (m *ConnectionMonitor) Delay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.Delay
}

func (m *ConnectionMonitor) handlePush(connected bool) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if connected {
		m.cancelLocked()
		m.backoff = m.backoff.Reset()
	} else if m.timer == nil && m.probeCancel == nil {
		// a pending or running probe already covers this; rescheduling would only push it back
		m.scheduleLocked(m.backoff.Delay)
	}
	changed := m.setLocked(connected)
	m.mu.Unlock()

	m.logger.Debug("push connectivity", zap.Bool("connected", connected))
	m.notify(changed, connected)
}

// cancelLocked stops the pending timer and any in-flight probe, and invalidates both.
func (m *ConnectionMonitor) cancelLocked() {
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.probeCancel != nil {
		m.probeCancel()
		m.probeCancel = nil
	}
}

func (m *ConnectionMonitor) scheduleLocked(delay time.Duration) {
	m.cancelLocked()
	gen := m.generation
	m.timer = time.AfterFunc(delay, func() { m.probe(gen) })
}

func (m *ConnectionMonitor) probe(gen uint64) {
	m.mu.Lock()
	if m.stopped || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout())
	m.probeCancel = cancel
	m.mu.Unlock()

	err := m.prober.Ping(ctx)
	cancel()

	m.mu.Lock()
	if m.stopped || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.probeCancel = nil
	if err == nil {
		m.backoff = m.backoff.OnSuccess()
	} else {
		m.backoff = m.backoff.OnFailure()
		m.scheduleLocked(m.backoff.Delay)
	}
	changed := m.setLocked(err == nil)
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug("probe failed", zap.Error(err), zap.Duration("next", m.Delay()))
	}
	m.notify(changed, err == nil)
}

// probeTimeout bounds a probe so a hung request cannot hold the schedule.
func (m *ConnectionMonitor) probeTimeout() time.Duration {
	if m.opts.Floor > 0 {
		return m.opts.Floor
	}
	return 5 * time.Second
}

// setLocked writes the flag under mu so a superseded writer cannot land after a newer one.
func (m *ConnectionMonitor) setLocked(connected bool) bool {
	return m.connected.Swap(connected) != connected
}

func (m *ConnectionMonitor) notify(changed, connected bool) {
	if changed && m.opts.OnChange != nil {
		m.opts.OnChange(connected)
	}
}
