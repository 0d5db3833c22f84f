package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"market-streamer/src/helpers"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/subscription"
	"market-streamer/src/utils"
)

// ControllerConfig wires one asset class.
type ControllerConfig struct {
	AssetClass  models.AssetClass
	Factory     interfaces.ISessionFactory
	Credentials models.MCredentials
	Source      interfaces.IWatchListSource
	// Calendar gates the session; nil streams around the clock.
	Calendar interfaces.IMarketCalendar
	Kinds    []models.EventKind
	Handlers map[models.EventKind]models.Handler

	ReconcileInterval time.Duration
	CalendarCheck     time.Duration
	RestartBackoff    time.Duration
	MaxRestartBackoff time.Duration
	ShutdownGrace     time.Duration

	Reporter interfaces.IStatusReporter
	Logger   *logger.Logger

	// OnSymbolsApplied runs whenever a new instrument set is live on the session.
	OnSymbolsApplied func(ctx context.Context, assetClass models.AssetClass, symbols utils.SymbolSet)
	// OnSessionClosed runs after a gated session stops because its window closed.
	OnSessionClosed func(ctx context.Context, assetClass models.AssetClass)

	Now func() time.Time
}

// -----------------------------------------------------------------------------

// Controller owns at most one live session for its asset class.
type Controller struct {
	cfg     ControllerConfig
	backoff *helpers.Backoff

	mu             sync.RWMutex
	state          models.ControllerState
	session        interfaces.ISession
	reconciler     *subscription.Reconciler
	symbols        utils.SymbolSet
	restarts       int
	lastErr        error
	lastTransition time.Time
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = []models.EventKind{models.EventKindBar}
	}
	return &Controller{
		cfg:     cfg,
		backoff: helpers.NewBackoff(cfg.RestartBackoff, cfg.MaxRestartBackoff),
		state:   models.StateStopped,
		symbols: utils.NewSymbolSet(),
	}
}

func (c *Controller) AssetClass() models.AssetClass { return c.cfg.AssetClass }

func (c *Controller) State() models.ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot for status reporters.
func (c *Controller) Status() models.MSessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := models.MSessionStatus{
		AssetClass:     c.cfg.AssetClass,
		State:          c.state,
		Gated:          c.cfg.Calendar != nil,
		MarketOpen:     c.isOpen(),
		Symbols:        c.symbols.Sorted(),
		Subscriptions:  make(map[models.EventKind]int, len(c.cfg.Kinds)),
		Restarts:       c.restarts,
		LastTransition: c.lastTransition,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.session != nil {
		st.SessionID = c.session.ID()
		for _, kind := range c.cfg.Kinds {
			st.Subscriptions[kind] = c.session.Subscriptions(kind).Len()
		}
	}
	return st
}

func (c *Controller) transition(state models.ControllerState, err error) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	if err != nil {
		c.lastErr = err
	}
	c.lastTransition = c.cfg.Now().UTC()
	c.mu.Unlock()

	log := c.cfg.Logger.With("asset_class", string(c.cfg.AssetClass))
	switch {
	case state == models.StateHalted:
		log.Error("%s -> %s: %v", prev, state, err)
	case err != nil:
		log.Warning("%s -> %s: %v", prev, state, err)
	default:
		log.Info("%s -> %s", prev, state)
	}

	if c.cfg.Reporter != nil {
		c.cfg.Reporter.OnStatus(c.Status())
	}
}

func (c *Controller) isOpen() bool {
	if c.cfg.Calendar == nil {
		return true
	}
	return c.cfg.Calendar.IsOpen(c.cfg.Now())
}

// -----------------------------------------------------------------------------

// Run drives the class until ctx is cancelled (nil) or a fatal error halts it.
func (c *Controller) Run(ctx context.Context) error {
	c.transition(models.StateStopped, nil)

	ticker := time.NewTicker(c.cfg.CalendarCheck)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.isOpen() {
			if err := c.runOpenWindow(ctx); err != nil {
				c.transition(models.StateHalted, err)
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Halt marks the class as terminally stopped.
func (c *Controller) Halt(err error) {
	c.transition(models.StateHalted, err)
}

// runOpenWindow keeps a session up for as long as the window is open.
// Only fatal errors are returned.
func (c *Controller) runOpenWindow(ctx context.Context) error {
	ran := false
	for {
		if ctx.Err() != nil || !c.isOpen() {
			c.settle(ctx, ran)
			return nil
		}

		sess, err := c.start(ctx)
		if err == nil {
			ran = true
			err = c.supervise(ctx, sess)
			if err == nil {
				return nil
			}
		}

		if helpers.IsConnectionLimit(err) || errors.Is(err, helpers.ErrShutdownTimeout) {
			return err
		}
		if ctx.Err() != nil {
			c.settle(ctx, ran)
			return nil
		}

		c.mu.Lock()
		c.restarts++
		c.mu.Unlock()
		c.transition(models.StateRestarting, err)

		if !sleep(ctx, c.backoff.Next()) {
			c.settle(ctx, ran)
			return nil
		}
	}
}

// settle parks the controller in STOPPED when the window loop exits with no
// live session. A window that closes after a session ran still ends the day.
func (c *Controller) settle(ctx context.Context, ran bool) {
	if c.State() != models.StateStopped {
		c.transition(models.StateStopped, nil)
	}
	if ran && ctx.Err() == nil && !c.isOpen() {
		c.sessionClosed()
	}
}

func (c *Controller) sessionClosed() {
	if c.cfg.OnSessionClosed == nil {
		return
	}
	hookCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c.cfg.OnSessionClosed(hookCtx, c.cfg.AssetClass)
}

// start opens a session and subscribes the full current instrument set.
func (c *Controller) start(ctx context.Context) (interfaces.ISession, error) {
	c.transition(models.StateStarting, nil)
	symbols := c.refreshSymbols(ctx)

	sess, err := c.cfg.Factory.Open(ctx, c.cfg.AssetClass, c.cfg.Credentials)
	if err != nil {
		return nil, err
	}

	list := symbols.Sorted()
	for _, kind := range c.cfg.Kinds {
		if err := sess.Subscribe(kind, c.cfg.Handlers[kind], list...); err != nil {
			sess.Stop()
			return nil, fmt.Errorf("initial subscribe %s: %w", kind, err)
		}
	}

	if c.cfg.OnSymbolsApplied != nil {
		c.cfg.OnSymbolsApplied(ctx, c.cfg.AssetClass, symbols.Clone())
	}
	return sess, nil
}

// refreshSymbols polls the watch-list, falling back to the last known set.
func (c *Controller) refreshSymbols(ctx context.Context) utils.SymbolSet {
	next, err := c.cfg.Source.ListSymbols(ctx, c.cfg.AssetClass)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.cfg.Logger.Warning("%s : watch-list %s unavailable at start, using last known %d symbols: %v",
			c.cfg.AssetClass, c.cfg.Source.Name(), c.symbols.Len(), err)
		return c.symbols.Clone()
	}
	c.symbols = next.Clone()
	return next
}

// -----------------------------------------------------------------------------

// supervise runs the session and its reconciler until the session drops
// (error), the window closes or ctx is cancelled (nil, or ErrShutdownTimeout).
func (c *Controller) supervise(ctx context.Context, sess interfaces.ISession) error {
	runDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				runDone <- helpers.NewStreamError(fmt.Sprintf("session panic: %v", r), nil)
			}
		}()
		// Stop, not ctx, ends the run lane so shutdown order stays ours.
		runDone <- sess.Run(context.Background())
	}()

	recCtx, cancelRec := context.WithCancel(ctx)
	defer cancelRec()

	c.mu.RLock()
	initial := c.symbols.Clone()
	c.mu.RUnlock()

	rec := subscription.NewReconciler(subscription.Config{
		AssetClass: c.cfg.AssetClass,
		Source:     c.cfg.Source,
		Kinds:      c.cfg.Kinds,
		Handlers:   c.cfg.Handlers,
		Interval:   c.cfg.ReconcileInterval,
		Logger:     c.cfg.Logger,
		OnApplied:  c.onApplied,
	}, sess, initial)

	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		rec.Run(recCtx)
	}()

	c.mu.Lock()
	c.session = sess
	c.reconciler = rec
	c.mu.Unlock()
	c.transition(models.StateRunning, nil)

	ticker := time.NewTicker(c.cfg.CalendarCheck)
	defer ticker.Stop()

	for {
		select {
		case err := <-runDone:
			cancelRec()
			<-recDone
			sess.Stop()
			c.release()
			if err == nil {
				err = helpers.NewStreamError("session ended without stop", nil)
			}
			return err

		case <-ctx.Done():
			return c.shutdown(sess, cancelRec, recDone, runDone, false)

		case <-ticker.C:
			if !c.isOpen() {
				return c.shutdown(sess, cancelRec, recDone, runDone, true)
			}
			c.backoff.Reset()
		}
	}
}

func (c *Controller) onApplied(ctx context.Context, current utils.SymbolSet, delta utils.Delta) {
	c.mu.Lock()
	c.symbols = current.Clone()
	c.mu.Unlock()

	if c.cfg.OnSymbolsApplied != nil {
		c.cfg.OnSymbolsApplied(ctx, c.cfg.AssetClass, current)
	}
	if c.cfg.Reporter != nil {
		c.cfg.Reporter.OnStatus(c.Status())
	}
}

// shutdown cancels reconciliation, stops the session and waits for its run
// lane within the grace period.
func (c *Controller) shutdown(sess interfaces.ISession, cancelRec context.CancelFunc, recDone <-chan struct{}, runDone <-chan error, closed bool) error {
	c.transition(models.StateStopping, nil)

	cancelRec()
	<-recDone

	if err := sess.Stop(); err != nil {
		c.cfg.Logger.Warning("%s : session stop: %v", c.cfg.AssetClass, err)
	}

	select {
	case err := <-runDone:
		if err != nil {
			c.cfg.Logger.Warning("%s : session ended with error during stop: %v", c.cfg.AssetClass, err)
		}
	case <-time.After(c.cfg.ShutdownGrace):
		c.release()
		return fmt.Errorf("%s session %s: %w", c.cfg.AssetClass, sess.ID(), helpers.ErrShutdownTimeout)
	}

	c.release()
	c.transition(models.StateStopped, nil)

	if closed {
		c.sessionClosed()
	}
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.session = nil
	c.reconciler = nil
	c.mu.Unlock()
}

// Reconciler returns the live reconciler, or nil when no session runs.
func (c *Controller) Reconciler() *subscription.Reconciler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconciler
}

// -----------------------------------------------------------------------------

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
