package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"call-engine/internal/billing"
	"call-engine/internal/booking"
)

// Config bounds the maximum residency time of every non-terminal state.
// Peer-to-peer signaling has no delivery guarantee: without these bounds a
// callee that never answers, or media setup that never completes, would leave
// the session (and its billing clock) hanging forever.
type Config struct {
	// RingTimeout bounds how long the callee may be offered the call.
	RingTimeout time.Duration
	// ConnectTimeout bounds media setup after acceptance.
	ConnectTimeout time.Duration
	// TickInterval is the duration-update cadence while connected.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.RingTimeout <= 0 {
		out.RingTimeout = 60 * time.Second
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 90 * time.Second
	}
	if out.TickInterval <= 0 {
		out.TickInterval = time.Second
	}
	return out
}

// Transport is the command side of the signaling layer.
// Event delivery happens through the Machine's handler methods.
type Transport interface {
	Offer(ctx context.Context, peerAddress string) error
	Teardown(ctx context.Context, peerAddress string) error
}

// SettleFunc receives the terminal snapshot exactly once per session.
type SettleFunc func(snapshot CallSession, bill billing.Bill)

// MachineOptions wires one machine's collaborators.
type MachineOptions struct {
	Config    Config
	Transport Transport
	Bus       *Broadcaster
	Log       *slog.Logger
	Now       func() time.Time
	Settle    SettleFunc

	CallerAddress string
	CalleeAddress string
}

// Machine owns one CallSession for its entire lifetime.
//
// All transitions are serialized through one mutex (single writer). Timer
// callbacks re-check state under the same lock, so a timer racing a normal
// transition resolves to whichever serialized first; the loser is a no-op.
// Events arriving in a state where they have no defined transition are
// ignored, never surfaced as errors: the signaling layer may duplicate or
// reorder deliveries.
type Machine struct {
	mu   sync.Mutex
	sess CallSession

	cfg       Config
	transport Transport
	bus       *Broadcaster
	log       *slog.Logger
	now       func() time.Time
	clock     *SessionClock
	settle    SettleFunc

	ringTimer    *time.Timer
	connectTimer *time.Timer
	tickStop     chan struct{}
	settled      bool
}

func NewMachine(terms booking.CallTerms, opts MachineOptions) *Machine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = NewBroadcaster(0)
	}

	created := now().UTC()
	return &Machine{
		sess: CallSession{
			SessionID:          terms.SessionID,
			CallerID:           terms.CallerID,
			CalleeID:           terms.CalleeID,
			MediaKind:          MediaKind(terms.MediaKind),
			RatePerMinuteMinor: terms.RatePerMinuteMinor,
			CommissionPercent:  terms.CommissionPercent,
			Currency:           terms.Currency,
			State:              StateReady,
			CallerAddress:      opts.CallerAddress,
			CalleeAddress:      opts.CalleeAddress,
			CreatedAt:          created,
			UpdatedAt:          created,
		},
		cfg:       opts.Config.withDefaults(),
		transport: opts.Transport,
		bus:       bus,
		log:       log.With("session_id", terms.SessionID),
		now:       now,
		clock:     NewSessionClock(now),
		settle:    opts.Settle,
	}
}

// Snapshot returns a copy of the session, with connected duration refreshed
// from the clock if the call is live.
func (m *Machine) Snapshot() CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State == StateConnected {
		m.sess.ConnectedDurationSeconds = m.clock.ElapsedSeconds()
	}
	return m.sess.clone()
}

// Ring offers the session to the callee: ready -> ringing.
// Starts the ring timer. An offer the transport cannot deliver fails the
// session immediately.
func (m *Machine) Ring(ctx context.Context) {
	m.mu.Lock()
	if m.sess.State != StateReady {
		m.mu.Unlock()
		return
	}
	calleeAddr := m.sess.CalleeAddress
	now := m.now().UTC()
	m.sess.RingStartedAt = &now
	m.transitionLocked(StateRinging, "")
	m.ringTimer = time.AfterFunc(m.cfg.RingTimeout, m.onRingTimeout)
	m.mu.Unlock()

	if m.transport != nil {
		if err := m.transport.Offer(ctx, calleeAddr); err != nil {
			m.log.Warn("offer failed", "peer_address", calleeAddr, "err", err)
			m.TransportError(err.Error())
		}
	}
}

// Accepted handles the callee accepting: ringing -> connecting.
// Cancels the ring timer and starts the connect timer.
func (m *Machine) Accepted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != StateRinging {
		return
	}
	stopTimer(m.ringTimer)
	now := m.now().UTC()
	m.sess.ConnectingStartedAt = &now
	m.transitionLocked(StateConnecting, "")
	m.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, m.onConnectTimeout)
}

// MediaLive handles both media streams going live: connecting -> connected.
// Cancels the connect timer and starts the session clock.
func (m *Machine) MediaLive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != StateConnecting {
		return
	}
	stopTimer(m.connectTimer)
	connectedAt := m.clock.Start()
	m.sess.ConnectedAt = &connectedAt
	m.transitionLocked(StateConnected, "")

	m.tickStop = make(chan struct{})
	go m.tickLoop(m.tickStop)
}

// Reconnecting handles a recoverable reconnect-in-progress signal during
// media setup. It re-arms the connect timer, extending the window by one
// timeout per reconnect attempt, so a flapping network cannot stall the
// session unboundedly. Outside connecting it is a no-op: a connected call's
// recovery is the transport's business.
func (m *Machine) Reconnecting() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != StateConnecting {
		return
	}
	stopTimer(m.connectTimer)
	m.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, m.onConnectTimeout)
	m.log.Debug("connect window extended for reconnect attempt")
}

// Hangup handles an explicit end-call request: connected -> ended.
// First request wins; anything else (already terminal, not yet connected) is
// a no-op.
func (m *Machine) Hangup(by Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != StateConnected {
		return
	}
	reason := EndReasonHangupCaller
	if by == RoleCallee {
		reason = EndReasonHangupCallee
	}
	m.terminateLocked(StateEnded, reason)
}

// TransportError fails the session from any non-terminal state.
func (m *Machine) TransportError(cause string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State.Terminal() {
		return
	}
	if cause != "" {
		m.log.Warn("transport failure", "cause", cause)
	}
	m.terminateLocked(StateFailed, EndReasonTransportFailure)
}

func (m *Machine) onRingTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != StateRinging {
		return
	}
	m.terminateLocked(StateFailed, EndReasonRingTimeout)
}

func (m *Machine) onConnectTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != StateConnecting {
		return
	}
	m.terminateLocked(StateFailed, EndReasonConnectTimeout)
}

// terminateLocked performs the single terminal transition: freezes the
// clock, computes the authoritative bill, records the settlement amounts,
// and hands the snapshot to the settle hook exactly once.
//
// A failed call that was billably connected for N seconds is billed for N
// seconds, not voided: the service was partially delivered.
func (m *Machine) terminateLocked(to State, reason EndReason) {
	stopTimer(m.ringTimer)
	stopTimer(m.connectTimer)
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}

	endedAt := m.now().UTC()
	m.sess.EndedAt = &endedAt
	m.sess.EndReason = reason

	var bill billing.Bill
	if m.sess.ConnectedAt != nil {
		m.sess.ConnectedDurationSeconds = m.clock.Stop()
		b, err := billing.Quote(m.sess.ConnectedDurationSeconds, m.sess.RatePerMinuteMinor, m.sess.CommissionPercent)
		if err != nil {
			// Terms were validated at creation; this is unreachable unless the
			// clock went backwards. Bill zero rather than guess.
			m.log.Error("bill computation failed", "err", err)
			b = billing.ZeroBill(m.sess.RatePerMinuteMinor, m.sess.CommissionPercent)
		}
		bill = b
	} else {
		bill = billing.ZeroBill(m.sess.RatePerMinuteMinor, m.sess.CommissionPercent)
	}

	if m.sess.Settlement == nil {
		m.sess.Settlement = &Settlement{
			GrossMinor:      bill.GrossMinor,
			CommissionMinor: bill.CommissionMinor,
			NetMinor:        bill.NetMinor,
			SettledAt:       endedAt,
		}
	}

	m.transitionLocked(to, reason)
	m.log.Info("session terminated",
		"state", to,
		"end_reason", reason,
		"connected_seconds", m.sess.ConnectedDurationSeconds,
		"net_minor", bill.NetMinor,
	)

	if m.settled {
		return
	}
	m.settled = true

	snapshot := m.sess.clone()
	callerAddr, calleeAddr := m.sess.CallerAddress, m.sess.CalleeAddress

	// Teardown and settlement leave the lock: settlement retries with backoff
	// and must not block other transitions for this or any session.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if m.transport != nil {
			if err := m.transport.Teardown(ctx, callerAddr); err != nil {
				m.log.Debug("caller teardown failed", "err", err)
			}
			if err := m.transport.Teardown(ctx, calleeAddr); err != nil {
				m.log.Debug("callee teardown failed", "err", err)
			}
		}
		if m.settle != nil {
			m.settle(snapshot, bill)
		}
	}()
}

// transitionLocked mutates state and publishes the state-change event.
// Callers hold the mutex.
func (m *Machine) transitionLocked(to State, reason EndReason) {
	prev := m.sess.State
	m.sess.State = to
	m.sess.UpdatedAt = m.now().UTC()

	var provisionalNet int64
	if m.sess.Settlement != nil {
		provisionalNet = m.sess.Settlement.NetMinor
	}
	m.bus.Publish(Event{
		Type:                EventStateChange,
		SessionID:           m.sess.SessionID,
		PreviousState:       prev,
		NewState:            to,
		EndReason:           reason,
		ConnectedSeconds:    m.sess.ConnectedDurationSeconds,
		ProvisionalNetMinor: provisionalNet,
		At:                  m.sess.UpdatedAt,
	})
}

// tickLoop publishes duration updates while connected. The provisional net
// comes from the same billing formula settlement uses; a missed or duplicate
// tick cannot corrupt the bill because the bill never reads the tick stream.
func (m *Machine) tickLoop(stop chan struct{}) {
	t := time.NewTicker(m.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.mu.Lock()
			if m.sess.State != StateConnected {
				m.mu.Unlock()
				return
			}
			elapsed := m.clock.ElapsedSeconds()
			m.sess.ConnectedDurationSeconds = elapsed
			bill, err := billing.Quote(elapsed, m.sess.RatePerMinuteMinor, m.sess.CommissionPercent)
			ev := Event{
				Type:             EventDurationUpdate,
				SessionID:        m.sess.SessionID,
				NewState:         StateConnected,
				ConnectedSeconds: elapsed,
				At:               m.now().UTC(),
			}
			if err == nil {
				ev.ProvisionalNetMinor = bill.NetMinor
			}
			m.mu.Unlock()

			m.bus.Publish(ev)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
