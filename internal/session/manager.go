package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"call-engine/internal/billing"
	"call-engine/internal/booking"
	"call-engine/internal/registry"
	"call-engine/internal/settlement"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionExists   = errors.New("session: already exists")
)

// Settler delivers a terminal session's settlement instruction.
type Settler interface {
	Dispatch(ctx context.Context, in settlement.Instruction) error
}

// ManagerOptions wires the engine's collaborators.
type ManagerOptions struct {
	Config    Config
	Terms     booking.TermsSource
	Registry  *registry.Allocator
	Transport Transport
	Settler   Settler
	Log       *slog.Logger
	Now       func() time.Time
}

// Manager owns all live sessions. Each session gets its own Machine (its
// single writer); the manager itself only guards the session map. Different
// sessions run fully independently.
type Manager struct {
	cfg       Config
	terms     booking.TermsSource
	registry  *registry.Allocator
	transport Transport
	settler   Settler
	log       *slog.Logger
	now       func() time.Time
	bus       *Broadcaster

	mu       sync.Mutex
	machines map[string]*Machine
	starting map[string]struct{}
}

func NewManager(opts ManagerOptions) *Manager {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:       opts.Config.withDefaults(),
		terms:     opts.Terms,
		registry:  opts.Registry,
		transport: opts.Transport,
		settler:   opts.Settler,
		log:       log,
		now:       now,
		bus:       NewBroadcaster(0),
		machines:  make(map[string]*Machine),
		starting:  make(map[string]struct{}),
	}
}

// StartSession creates the session for a booking's call attempt: terms are
// read once, both parties get peer addresses, and the machine waits in ready
// until the callee's endpoint becomes reachable.
//
// Peer registration failure does not error out; it fails the session, which
// still settles (at zero) and remains inspectable.
func (m *Manager) StartSession(ctx context.Context, sessionID string) (CallSession, error) {
	if sessionID == "" {
		return CallSession{}, ErrSessionNotFound
	}

	// Reserve the slot up front so a concurrent start for the same ID loses
	// immediately, before it claims peer addresses it would never release.
	m.mu.Lock()
	_, live := m.machines[sessionID]
	_, inflight := m.starting[sessionID]
	if live || inflight {
		m.mu.Unlock()
		return CallSession{}, ErrSessionExists
	}
	m.starting[sessionID] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.starting, sessionID)
		m.mu.Unlock()
	}()

	terms, err := m.terms.CallTerms(ctx, sessionID)
	if err != nil {
		return CallSession{}, err
	}
	if err := terms.Validate(); err != nil {
		return CallSession{}, err
	}

	var callerAddr, calleeAddr string
	var regErr error
	if m.registry != nil {
		if reg, err := m.registry.Register(ctx, sessionID, string(RoleCaller)); err != nil {
			regErr = err
		} else {
			callerAddr = reg.PeerAddress
		}
		if regErr == nil {
			if reg, err := m.registry.Register(ctx, sessionID, string(RoleCallee)); err != nil {
				regErr = err
			} else {
				calleeAddr = reg.PeerAddress
			}
		}
	}

	machine := NewMachine(terms, MachineOptions{
		Config:        m.cfg,
		Transport:     m.transport,
		Bus:           m.bus,
		Log:           m.log,
		Now:           m.now,
		Settle:        m.settleFunc(),
		CallerAddress: callerAddr,
		CalleeAddress: calleeAddr,
	})

	// The reservation above makes this insert race-free.
	m.mu.Lock()
	m.machines[sessionID] = machine
	m.mu.Unlock()

	if regErr != nil {
		m.log.Warn("peer registration failed", "session_id", sessionID, "err", regErr)
		machine.TransportError(regErr.Error())
	}

	return machine.Snapshot(), nil
}

// PeerReachable handles the callee's endpoint coming online; it triggers the
// offer and moves ready -> ringing.
func (m *Manager) PeerReachable(ctx context.Context, sessionID string) error {
	machine, err := m.machine(sessionID)
	if err != nil {
		return err
	}
	machine.Ring(ctx)
	return nil
}

// Accepted handles the callee accepting the offer.
func (m *Manager) Accepted(ctx context.Context, sessionID string) error {
	_ = ctx
	machine, err := m.machine(sessionID)
	if err != nil {
		return err
	}
	machine.Accepted()
	return nil
}

// MediaLive handles both media streams going live.
func (m *Manager) MediaLive(ctx context.Context, sessionID string) error {
	_ = ctx
	machine, err := m.machine(sessionID)
	if err != nil {
		return err
	}
	machine.MediaLive()
	return nil
}

// Reconnecting handles a recoverable transport reconnect signal.
func (m *Manager) Reconnecting(ctx context.Context, sessionID string) error {
	_ = ctx
	machine, err := m.machine(sessionID)
	if err != nil {
		return err
	}
	machine.Reconnecting()
	return nil
}

// TransportError handles an unrecoverable signaling failure.
func (m *Manager) TransportError(ctx context.Context, sessionID, cause string) error {
	_ = ctx
	machine, err := m.machine(sessionID)
	if err != nil {
		return err
	}
	machine.TransportError(cause)
	return nil
}

// Hangup handles an explicit end-call request from either party.
func (m *Manager) Hangup(ctx context.Context, sessionID string, role Role) error {
	_ = ctx
	machine, err := m.machine(sessionID)
	if err != nil {
		return err
	}
	machine.Hangup(role)
	return nil
}

// Snapshot returns the current CallSession for support and reconciliation
// tooling.
func (m *Manager) Snapshot(sessionID string) (CallSession, error) {
	machine, err := m.machine(sessionID)
	if err != nil {
		return CallSession{}, err
	}
	return machine.Snapshot(), nil
}

// Quote returns the provisional bill for a session, using the same formula
// settlement uses.
func (m *Manager) Quote(sessionID string) (billing.Bill, error) {
	snap, err := m.Snapshot(sessionID)
	if err != nil {
		return billing.Bill{}, err
	}
	if snap.ConnectedAt == nil {
		return billing.ZeroBill(snap.RatePerMinuteMinor, snap.CommissionPercent), nil
	}
	return billing.Quote(snap.ConnectedDurationSeconds, snap.RatePerMinuteMinor, snap.CommissionPercent)
}

// Sessions lists snapshots of every tracked session.
func (m *Manager) Sessions() []CallSession {
	m.mu.Lock()
	machines := make([]*Machine, 0, len(m.machines))
	for _, mc := range m.machines {
		machines = append(machines, mc)
	}
	m.mu.Unlock()

	out := make([]CallSession, 0, len(machines))
	for _, mc := range machines {
		out = append(out, mc.Snapshot())
	}
	return out
}

// Subscribe attaches a consumer to the state-change and duration-update
// stream. Consumers must de-duplicate by (session_id, new_state).
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.bus.Subscribe()
}

// Shutdown fails every non-terminal session so billing clocks stop and
// accumulated time settles before the process exits.
func (m *Manager) Shutdown(ctx context.Context) {
	_ = ctx
	for _, snap := range m.Sessions() {
		if snap.State.Terminal() {
			continue
		}
		if machine, err := m.machine(snap.SessionID); err == nil {
			machine.TransportError("engine shutdown")
		}
	}
}

func (m *Manager) machine(sessionID string) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	machine, ok := m.machines[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return machine, nil
}

func (m *Manager) settleFunc() SettleFunc {
	return func(snap CallSession, bill billing.Bill) {
		if m.settler == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		err := m.settler.Dispatch(ctx, settlement.Instruction{
			SessionID:       snap.SessionID,
			GrossMinor:      bill.GrossMinor,
			CommissionMinor: bill.CommissionMinor,
			NetMinor:        bill.NetMinor,
			CallerID:        snap.CallerID,
			CalleeID:        snap.CalleeID,
			Currency:        snap.Currency,
			EndReason:       string(snap.EndReason),
		})
		if err != nil {
			// The dispatcher has already queued it for reconciliation;
			// nothing more the engine can do here.
			m.log.Error("settlement dispatch failed", "session_id", snap.SessionID, "err", err)
		}
	}
}
