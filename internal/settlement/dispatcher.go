package settlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DispatcherConfig controls retry behavior for ledger delivery.
type DispatcherConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration

	// OnDelivered runs after an instruction first reaches the ledger, for
	// audit trailing. Repeat dispatches of a delivered session skip it.
	OnDelivered func(Instruction)
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	out := c
	if out.MaxRetries == 0 {
		out.MaxRetries = 5
	}
	if out.InitialInterval <= 0 {
		out.InitialInterval = 500 * time.Millisecond
	}
	if out.MaxElapsedTime <= 0 {
		out.MaxElapsedTime = 30 * time.Second
	}
	return out
}

// Dispatcher delivers settlement instructions to the external ledger at least
// once, with idempotency protection keyed by session ID.
//
// An instruction that cannot be delivered after exhausting retries is queued
// for reconciliation and logged as an operational incident. It is never
// dropped: it represents real compensation owed to the callee.
type Dispatcher struct {
	ledger Ledger
	cfg    DispatcherConfig
	log    *slog.Logger

	mu        sync.Mutex
	delivered map[string]struct{}
	pending   []Instruction
}

func NewDispatcher(ledger Ledger, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		ledger:    ledger,
		cfg:       cfg.withDefaults(),
		log:       log,
		delivered: make(map[string]struct{}),
	}
}

// Dispatch delivers one instruction. Safe to call more than once per session:
// a repeat for an already-delivered session is a silent success.
func (d *Dispatcher) Dispatch(ctx context.Context, in Instruction) error {
	if err := in.validate(); err != nil {
		return err
	}

	d.mu.Lock()
	if _, done := d.delivered[in.SessionID]; done {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	err := d.deliver(ctx, in)
	if err != nil {
		d.mu.Lock()
		d.pending = append(d.pending, in)
		d.mu.Unlock()
		d.log.Error("settlement delivery failed, queued for reconciliation",
			"session_id", in.SessionID,
			"net_minor", in.NetMinor,
			"err", err,
		)
		return ErrDeliveryFailed
	}

	d.mu.Lock()
	d.delivered[in.SessionID] = struct{}{}
	d.mu.Unlock()

	if d.cfg.OnDelivered != nil {
		d.cfg.OnDelivered(in)
	}
	return nil
}

// Reconcile retries every queued instruction once through the normal delivery
// path. Instructions that still fail stay queued.
func (d *Dispatcher) Reconcile(ctx context.Context) (delivered int, remaining int) {
	d.mu.Lock()
	queued := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, in := range queued {
		if err := d.Dispatch(ctx, in); err != nil {
			remaining++
			continue
		}
		delivered++
	}
	return delivered, remaining
}

// Pending returns a copy of the reconciliation queue for operational tooling.
func (d *Dispatcher) Pending() []Instruction {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Instruction, len(d.pending))
	copy(out, d.pending)
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, in Instruction) error {
	eback := backoff.NewExponentialBackOff()
	eback.InitialInterval = d.cfg.InitialInterval
	eback.MaxElapsedTime = d.cfg.MaxElapsedTime
	boff := backoff.WithContext(backoff.WithMaxRetries(eback, d.cfg.MaxRetries), ctx)

	attempt := func() error {
		res, err := d.ledger.RecordSettlement(ctx, in)
		if err != nil {
			d.log.Warn("settlement delivery attempt failed, will retry",
				"session_id", in.SessionID, "err", err)
			return err
		}
		if res == ResultAlreadyRecorded {
			d.log.Debug("settlement already recorded by ledger", "session_id", in.SessionID)
		}
		return nil
	}

	return backoff.Retry(attempt, boff)
}
