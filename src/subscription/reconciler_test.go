package subscription

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"market-streamer/src/helpers"
	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op      string
	kind    models.EventKind
	symbols []string
}

// fakeTarget keeps real subscription state and records every call.
type fakeTarget struct {
	mu      sync.Mutex
	subs    map[models.EventKind]utils.SymbolSet
	calls   []call
	failOn  string
	blockCh chan struct{}
}

func newFakeTarget(kinds []models.EventKind, initial ...string) *fakeTarget {
	f := &fakeTarget{subs: make(map[models.EventKind]utils.SymbolSet)}
	for _, k := range kinds {
		f.subs[k] = utils.NewSymbolSet(initial...)
	}
	return f
}

func (f *fakeTarget) Subscribe(kind models.EventKind, handler models.Handler, symbols ...string) error {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"subscribe", kind, symbols})
	if f.failOn == "subscribe" {
		return helpers.NewStreamError("write failed", nil)
	}
	f.subs[kind].Add(symbols...)
	return nil
}

func (f *fakeTarget) Unsubscribe(kind models.EventKind, symbols ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"unsubscribe", kind, symbols})
	if f.failOn == "unsubscribe" {
		return helpers.NewStreamError("write failed", nil)
	}
	f.subs[kind].Remove(symbols...)
	return nil
}

func (f *fakeTarget) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTarget) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// fakeSource returns the queued results in order, repeating the last one.
type fakeSource struct {
	mu      sync.Mutex
	results []utils.SymbolSet
	err     error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) ListSymbols(ctx context.Context, assetClass models.AssetClass) (utils.SymbolSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	next := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return next.Clone(), nil
}

func (s *fakeSource) set(symbols ...string) {
	s.mu.Lock()
	s.results = []utils.SymbolSet{utils.NewSymbolSet(symbols...)}
	s.err = nil
	s.mu.Unlock()
}

func testConfig(src *fakeSource, kinds ...models.EventKind) Config {
	logger.SetOutput(io.Discard)
	return Config{
		AssetClass: models.AssetClassEquity,
		Source:     src,
		Kinds:      kinds,
		Handlers:   map[models.EventKind]models.Handler{},
		Interval:   time.Hour,
		Logger:     logger.NewLogger(nil, "reconciler-test"),
	}
}

// -----------------------------------------------------------------------------

func TestReconcile_MinimalDelta(t *testing.T) {
	src := &fakeSource{}
	src.set("AAPL", "MSFT")
	target := newFakeTarget([]models.EventKind{models.EventKindBar}, "AAPL", "GE")
	r := NewReconciler(testConfig(src, models.EventKindBar), target, utils.NewSymbolSet("AAPL", "GE"))

	delta, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, delta.Added.Sorted())
	assert.Equal(t, []string{"GE"}, delta.Removed.Sorted())

	assert.Equal(t, []call{
		{"unsubscribe", models.EventKindBar, []string{"GE"}},
		{"subscribe", models.EventKindBar, []string{"MSFT"}},
	}, target.recorded())
	assert.Equal(t, []string{"AAPL", "MSFT"}, target.subs[models.EventKindBar].Sorted())
	assert.Equal(t, []string{"AAPL", "MSFT"}, r.Current().Sorted())
	assert.Equal(t, models.ReconcileWaiting, r.State())
}

func TestReconcile_UnsubscribesBeforeSubscribingAcrossKinds(t *testing.T) {
	kinds := []models.EventKind{models.EventKindBar, models.EventKindUpdatedBar}
	src := &fakeSource{}
	src.set("B")
	target := newFakeTarget(kinds, "A")
	r := NewReconciler(testConfig(src, kinds...), target, utils.NewSymbolSet("A"))

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	calls := target.recorded()
	require.Len(t, calls, 4)
	assert.Equal(t, "unsubscribe", calls[0].op)
	assert.Equal(t, "unsubscribe", calls[1].op)
	assert.Equal(t, "subscribe", calls[2].op)
	assert.Equal(t, "subscribe", calls[3].op)
}

func TestReconcile_UnchangedIssuesNoCalls(t *testing.T) {
	src := &fakeSource{}
	src.set("A", "B")
	target := newFakeTarget([]models.EventKind{models.EventKindBar}, "A", "B")
	r := NewReconciler(testConfig(src, models.EventKindBar), target, utils.NewSymbolSet("A", "B"))

	for i := 0; i < 3; i++ {
		delta, err := r.Reconcile(context.Background())
		require.NoError(t, err)
		assert.True(t, delta.Empty())
	}
	assert.Empty(t, target.recorded())
}

func TestReconcile_RoundTripRestoresState(t *testing.T) {
	kinds := []models.EventKind{models.EventKindBar, models.EventKindTrade}
	a := []string{"AAPL", "GE", "IBM"}
	b := []string{"AAPL", "MSFT", "NVDA"}

	src := &fakeSource{}
	target := newFakeTarget(kinds, a...)
	r := NewReconciler(testConfig(src, kinds...), target, utils.NewSymbolSet(a...))

	src.set(b...)
	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b, target.subs[models.EventKindBar].Sorted())

	src.set(a...)
	_, err = r.Reconcile(context.Background())
	require.NoError(t, err)

	for _, k := range kinds {
		assert.Equal(t, a, target.subs[k].Sorted(), "kind %s", k)
	}
	assert.Equal(t, a, r.Current().Sorted())
}

func TestReconcile_SourceUnavailableKeepsCurrent(t *testing.T) {
	src := &fakeSource{err: helpers.NewSourceUnavailable("db down", nil)}
	target := newFakeTarget([]models.EventKind{models.EventKindBar}, "A")
	r := NewReconciler(testConfig(src, models.EventKindBar), target, utils.NewSymbolSet("A"))

	_, err := r.Reconcile(context.Background())
	assert.True(t, helpers.IsSourceUnavailable(err))
	assert.Empty(t, target.recorded(), "an unavailable source is never an empty set")
	assert.Equal(t, []string{"A"}, r.Current().Sorted())
}

func TestReconcile_FailedApplyRetriesSameDelta(t *testing.T) {
	src := &fakeSource{}
	src.set("A", "C")
	target := newFakeTarget([]models.EventKind{models.EventKindBar}, "A", "B")
	target.failOn = "subscribe"
	r := NewReconciler(testConfig(src, models.EventKindBar), target, utils.NewSymbolSet("A", "B"))

	_, err := r.Reconcile(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"A", "B"}, r.Current().Sorted())

	target.reset()
	target.failOn = ""
	delta, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, delta.Added.Sorted())
	assert.Equal(t, []string{"B"}, delta.Removed.Sorted())
	assert.Equal(t, []call{
		{"unsubscribe", models.EventKindBar, []string{"B"}},
		{"subscribe", models.EventKindBar, []string{"C"}},
	}, target.recorded())
	assert.Equal(t, []string{"A", "C"}, r.Current().Sorted())
}

func TestReconcile_SingleFlight(t *testing.T) {
	src := &fakeSource{}
	src.set("A", "B")
	target := newFakeTarget([]models.EventKind{models.EventKindBar}, "A")
	target.blockCh = make(chan struct{})
	r := NewReconciler(testConfig(src, models.EventKindBar), target, utils.NewSymbolSet("A"))

	first := make(chan error, 1)
	go func() {
		_, err := r.Reconcile(context.Background())
		first <- err
	}()

	require.Eventually(t, func() bool { return r.State() == models.ReconcileApplying }, time.Second, 5*time.Millisecond)

	_, err := r.Reconcile(context.Background())
	assert.True(t, errors.Is(err, ErrCycleInFlight))

	close(target.blockCh)
	require.NoError(t, <-first)
	assert.Len(t, target.recorded(), 1)
}

func TestReconcile_OnAppliedHook(t *testing.T) {
	src := &fakeSource{}
	src.set("A", "B")
	cfg := testConfig(src, models.EventKindBar)

	var applied utils.SymbolSet
	cfg.OnApplied = func(ctx context.Context, current utils.SymbolSet, delta utils.Delta) {
		applied = current
	}
	r := NewReconciler(cfg, newFakeTarget([]models.EventKind{models.EventKindBar}, "A"), utils.NewSymbolSet("A"))

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, applied.Sorted())
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	src := &fakeSource{}
	src.set("A", "B")
	cfg := testConfig(src, models.EventKindBar)
	cfg.Interval = 5 * time.Millisecond
	target := newFakeTarget([]models.EventKind{models.EventKindBar})
	r := NewReconciler(cfg, target, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.Current().Len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, models.ReconcileIdle, r.State())
	assert.Len(t, target.recorded(), 1)
}
