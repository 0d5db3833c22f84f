package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/utils"
)

// ErrCycleInFlight is returned when a cycle starts while another is still running.
var ErrCycleInFlight = errors.New("reconcile cycle already in flight")

// Target is the part of a session the reconciler mutates.
type Target interface {
	Subscribe(kind models.EventKind, handler models.Handler, symbols ...string) error
	Unsubscribe(kind models.EventKind, symbols ...string) error
}

// Config wires one reconciler to its asset class.
type Config struct {
	AssetClass models.AssetClass
	Source     interfaces.IWatchListSource
	Kinds      []models.EventKind
	Handlers   map[models.EventKind]models.Handler
	Interval   time.Duration
	Logger     *logger.Logger

	// OnApplied runs after a non-empty delta has been applied.
	OnApplied func(ctx context.Context, current utils.SymbolSet, delta utils.Delta)
}

// -----------------------------------------------------------------------------

// Reconciler keeps a session's subscriptions equal to the watch-list.
type Reconciler struct {
	cfg    Config
	target Target

	inFlight atomic.Bool

	mu      sync.RWMutex
	current utils.SymbolSet
	state   models.ReconcileState
}

// NewReconciler starts from the set the session was opened with.
func NewReconciler(cfg Config, target Target, initial utils.SymbolSet) *Reconciler {
	if initial == nil {
		initial = utils.NewSymbolSet()
	}
	return &Reconciler{
		cfg:     cfg,
		target:  target,
		current: initial.Clone(),
		state:   models.ReconcileIdle,
	}
}

func (r *Reconciler) State() models.ReconcileState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Current returns a copy of the last successfully applied set.
func (r *Reconciler) Current() utils.SymbolSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Clone()
}

func (r *Reconciler) setState(s models.ReconcileState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Run reconciles every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.setState(models.ReconcileWaiting)
	defer r.setState(models.ReconcileIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil && !errors.Is(err, ErrCycleInFlight) && ctx.Err() == nil {
				r.cfg.Logger.Warning("%s : reconcile cycle failed: %v", r.cfg.AssetClass, err)
			}
		}
	}
}

// Reconcile runs one cycle: poll, diff, then unsubscribe removed and
// subscribe added for every kind. current only moves on success.
func (r *Reconciler) Reconcile(ctx context.Context) (utils.Delta, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return utils.Delta{}, ErrCycleInFlight
	}
	defer r.inFlight.Store(false)
	defer r.setState(models.ReconcileWaiting)

	r.setState(models.ReconcileDiffing)
	next, err := r.cfg.Source.ListSymbols(ctx, r.cfg.AssetClass)
	if err != nil {
		r.cfg.Logger.Warning("%s : watch-list %s unavailable, keeping %d symbols: %v",
			r.cfg.AssetClass, r.cfg.Source.Name(), r.Current().Len(), err)
		return utils.Delta{}, err
	}

	current := r.Current()
	delta := utils.Diff(current, next)
	if delta.Empty() {
		r.cfg.Logger.Debug("%s : watch-list unchanged (%d symbols)", r.cfg.AssetClass, current.Len())
		return delta, nil
	}

	r.setState(models.ReconcileApplying)
	if err := r.apply(delta); err != nil {
		return delta, err
	}

	r.mu.Lock()
	r.current = next.Clone()
	r.mu.Unlock()

	r.cfg.Logger.Info("%s : watch-list applied (+%d %v, -%d %v)",
		r.cfg.AssetClass, delta.Added.Len(), delta.Added.Sorted(), delta.Removed.Len(), delta.Removed.Sorted())

	if r.cfg.OnApplied != nil {
		r.cfg.OnApplied(ctx, next.Clone(), delta)
	}
	return delta, nil
}

func (r *Reconciler) apply(delta utils.Delta) error {
	if delta.Removed.Len() > 0 {
		removed := delta.Removed.Sorted()
		for _, kind := range r.cfg.Kinds {
			if err := r.target.Unsubscribe(kind, removed...); err != nil {
				return fmt.Errorf("unsubscribe %s: %w", kind, err)
			}
		}
	}

	if delta.Added.Len() > 0 {
		added := delta.Added.Sorted()
		for _, kind := range r.cfg.Kinds {
			if err := r.target.Subscribe(kind, r.cfg.Handlers[kind], added...); err != nil {
				return fmt.Errorf("subscribe %s: %w", kind, err)
			}
		}
	}
	return nil
}
