package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tenant-auth/internal/metrics"
)

// Pinger is implemented by stores that can be probed for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FastStore is a Store that can be probed.
type FastStore interface {
	Store
	Pinger
}

// Mode values accepted by Open.
const (
	ModeAuto    = "auto"
	ModeFast    = "fast"
	ModeDurable = "durable"
)

// Open picks the registry backend. Auto mode probes fast once and returns an
// AutoStore; fast and durable force one backend. fast may be nil when no
// fast store is deployed.
func Open(ctx context.Context, mode string, fast FastStore, durable Store, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	switch mode {
	case ModeFast:
		if fast == nil {
			return nil, fmt.Errorf("session store mode %q requires a fast store", mode)
		}
		metrics.SetSessionBackend(BackendFast, BackendFast, BackendDurable)
		return fast, nil
	case ModeDurable:
		if durable == nil {
			return nil, fmt.Errorf("session store mode %q requires a durable store", mode)
		}
		metrics.SetSessionBackend(BackendDurable, BackendFast, BackendDurable)
		return durable, nil
	case ModeAuto, "":
		if durable == nil {
			return nil, fmt.Errorf("auto session store requires a durable store")
		}
		return NewAutoStore(ctx, fast, durable, log), nil
	default:
		return nil, fmt.Errorf("unknown session store mode %q", mode)
	}
}

// AutoStore serves from the fast store while it is reachable and falls back
// to the durable store once a probe fails. The fallback is sticky: returning
// to the fast store could resurrect a session id that was superseded while it
// was unreachable.
type AutoStore struct {
	fast    FastStore
	durable Store
	onFast  atomic.Bool
	log     *slog.Logger
}

func NewAutoStore(ctx context.Context, fast FastStore, durable Store, log *slog.Logger) *AutoStore {
	a := &AutoStore{fast: fast, durable: durable, log: log}
	if fast != nil {
		if err := fast.Ping(ctx); err != nil {
			log.Warn("fast session store unreachable; using durable store", "err", err)
		} else {
			a.onFast.Store(true)
		}
	}
	a.report()
	return a
}

func (a *AutoStore) active() Store {
	if a.onFast.Load() {
		return a.fast
	}
	return a.durable
}

func (a *AutoStore) report() {
	metrics.SetSessionBackend(a.active().Name(), BackendFast, BackendDurable)
	a.log.Info("session registry backend selected", "backend", a.active().Name())
}

// Probe checks the fast store once and falls back if it is gone.
func (a *AutoStore) Probe(ctx context.Context) {
	if !a.onFast.Load() {
		return
	}
	if err := a.fast.Ping(ctx); err != nil {
		if a.onFast.CompareAndSwap(true, false) {
			a.log.Error("fast session store lost; falling back to durable store", "err", err)
			a.report()
		}
	}
}

// Run probes every interval until ctx is done or the store has fallen back.
func (a *AutoStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || !a.onFast.Load() {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Probe(ctx)
			if !a.onFast.Load() {
				return
			}
		}
	}
}

func (a *AutoStore) Name() string { return a.active().Name() }

func (a *AutoStore) SetActive(ctx context.Context, username, sessionID string) error {
	return a.active().SetActive(ctx, username, sessionID)
}

func (a *AutoStore) GetActive(ctx context.Context, username string) (string, bool, error) {
	return a.active().GetActive(ctx, username)
}

func (a *AutoStore) Clear(ctx context.Context, username string) error {
	return a.active().Clear(ctx, username)
}

func (a *AutoStore) ClearIf(ctx context.Context, username, sessionID string) (bool, error) {
	return a.active().ClearIf(ctx, username, sessionID)
}
