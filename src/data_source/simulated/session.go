package simulated

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	datasource "market-streamer/src/data_source"
	"market-streamer/src/helpers"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/utils"

	"github.com/google/uuid"
)

func init() {
	datasource.MustRegister("simulated", NewFactory)
}

// -----------------------------------------------------------------------------

// Factory opens simulated sessions. Open never fails.
type Factory struct {
	Interval time.Duration
	Logger   *logger.Logger
}

// NewFactory matches interfaces.ISessionConstructor.
func NewFactory(cfg *models.MAssetClassConfig, log *logger.Logger) (interfaces.ISessionFactory, error) {
	interval := time.Duration(cfg.SimulateIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &Factory{Interval: interval, Logger: log}, nil
}

func (f *Factory) Open(ctx context.Context, assetClass models.AssetClass, creds models.MCredentials) (interfaces.ISession, error) {
	f.Logger.Info("%s : opening simulated session (every %v)", assetClass, f.Interval)
	return NewSession(assetClass, f.Interval, f.Logger), nil
}

// -----------------------------------------------------------------------------

// Session emits a random-walk bar for every subscribed bar symbol on each tick,
// plus a matching trade for every subscribed trade symbol. Symbols also
// subscribed to updated bars get a late correction of their previous bar.
type Session struct {
	id         string
	assetClass models.AssetClass
	interval   time.Duration
	logger     *logger.Logger

	mu       sync.RWMutex
	subs     map[models.EventKind]utils.SymbolSet
	handlers map[models.EventKind]models.Handler
	prices   map[string]float64
	lastBars map[string]models.MBar
	lastAt   map[string]time.Time
	tradeID  int64
	rng      *rand.Rand

	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func NewSession(assetClass models.AssetClass, interval time.Duration, log *logger.Logger) *Session {
	s := &Session{
		id:         uuid.NewString(),
		assetClass: assetClass,
		interval:   interval,
		logger:     log,
		subs:       make(map[models.EventKind]utils.SymbolSet),
		handlers:   make(map[models.EventKind]models.Handler),
		prices:     make(map[string]float64),
		lastBars:   make(map[string]models.MBar),
		lastAt:     make(map[string]time.Time),
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		done:       make(chan struct{}),
	}
	for _, kind := range models.AllEventKinds {
		s.subs[kind] = utils.NewSymbolSet()
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) AssetClass() models.AssetClass { return s.assetClass }

// -----------------------------------------------------------------------------

func (s *Session) Subscribe(kind models.EventKind, handler models.Handler, symbols ...string) error {
	if s.stopping.Load() {
		return helpers.NewStreamError("subscribe on stopped session", helpers.ErrSessionStopped)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[kind]
	if !ok {
		return fmt.Errorf("unknown event kind '%s'", kind)
	}
	if handler != nil {
		s.handlers[kind] = handler
	}
	set.Add(symbols...)
	return nil
}

func (s *Session) Unsubscribe(kind models.EventKind, symbols ...string) error {
	if s.stopping.Load() {
		return helpers.NewStreamError("unsubscribe on stopped session", helpers.ErrSessionStopped)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[kind]
	if !ok {
		return fmt.Errorf("unknown event kind '%s'", kind)
	}
	set.Remove(symbols...)
	return nil
}

func (s *Session) Subscriptions(kind models.EventKind) utils.SymbolSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, ok := s.subs[kind]; ok {
		return set.Clone()
	}
	return utils.NewSymbolSet()
}

// -----------------------------------------------------------------------------

func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case <-s.done:
			return nil
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick emits one round of synthetic observations stamped at now.
func (s *Session) Tick(now time.Time) {
	ts := now.UTC().Truncate(time.Second)

	s.mu.Lock()
	var batch []*models.MObservation
	for _, sym := range s.subs[models.EventKindUpdatedBar].Sorted() {
		if obs := s.reviseBar(sym, ts); obs != nil {
			batch = append(batch, obs)
		}
	}
	for _, sym := range s.subs[models.EventKindBar].Sorted() {
		batch = append(batch, s.nextBar(sym, ts))
	}
	for _, sym := range s.subs[models.EventKindTrade].Sorted() {
		batch = append(batch, s.nextTrade(sym, ts))
	}
	handlers := make(map[models.EventKind]models.Handler, len(s.handlers))
	for k, h := range s.handlers {
		handlers[k] = h
	}
	s.mu.Unlock()

	for _, obs := range batch {
		if h := handlers[obs.Kind]; h != nil {
			s.invoke(h, obs)
		}
	}
}

func (s *Session) invoke(h models.Handler, obs *models.MObservation) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("%s : handler panic on %s %s: %v", s.assetClass, obs.Kind, obs.Symbol, r)
		}
	}()
	h(obs)
}

// nextBar advances the symbol's random walk. Caller holds mu.
func (s *Session) nextBar(symbol string, ts time.Time) *models.MObservation {
	open, ok := s.prices[symbol]
	if !ok {
		open = 50 + s.rng.Float64()*450
	}
	closePrice := math.Max(0.01, open*(1+s.rng.NormFloat64()*0.002))
	high := math.Max(open, closePrice) * (1 + s.rng.Float64()*0.001)
	low := math.Min(open, closePrice) * (1 - s.rng.Float64()*0.001)
	s.prices[symbol] = closePrice

	bar := models.MBar{
		Open:       round(open),
		High:       round(high),
		Low:        round(low),
		Close:      round(closePrice),
		Volume:     float64(100 + s.rng.IntN(10000)),
		TradeCount: int64(1 + s.rng.IntN(200)),
		VWAP:       round((open + closePrice + high + low) / 4),
		Interval:   1,
	}
	s.lastBars[symbol] = bar
	s.lastAt[symbol] = ts

	return &models.MObservation{
		Kind:       models.EventKindBar,
		AssetClass: s.assetClass,
		Symbol:     symbol,
		Timestamp:  ts,
		Bar:        &bar,
		ReceivedAt: time.Now().UTC(),
	}
}

// reviseBar corrects the symbol's previous bar once, with late volume and a
// nudged close. Nil when no earlier bar is pending. Caller holds mu.
func (s *Session) reviseBar(symbol string, ts time.Time) *models.MObservation {
	prev, ok := s.lastBars[symbol]
	at := s.lastAt[symbol]
	if !ok || !at.Before(ts) {
		return nil
	}
	delete(s.lastBars, symbol)
	delete(s.lastAt, symbol)

	bar := prev
	bar.Close = round(math.Max(0.01, prev.Close*(1+s.rng.NormFloat64()*0.0005)))
	bar.High = math.Max(bar.High, bar.Close)
	bar.Low = math.Min(bar.Low, bar.Close)
	bar.Volume += float64(1 + s.rng.IntN(500))
	bar.TradeCount += int64(1 + s.rng.IntN(10))

	return &models.MObservation{
		Kind:       models.EventKindUpdatedBar,
		AssetClass: s.assetClass,
		Symbol:     symbol,
		Timestamp:  at,
		Bar:        &bar,
		ReceivedAt: time.Now().UTC(),
	}
}

func (s *Session) nextTrade(symbol string, ts time.Time) *models.MObservation {
	price, ok := s.prices[symbol]
	if !ok {
		price = 50 + s.rng.Float64()*450
		s.prices[symbol] = price
	}
	s.tradeID++

	return &models.MObservation{
		Kind:       models.EventKindTrade,
		AssetClass: s.assetClass,
		Symbol:     symbol,
		Timestamp:  ts,
		Trade: &models.MTrade{
			ID:       s.tradeID,
			Exchange: "SIM",
			Price:    round(price),
			Size:     float64(1 + s.rng.IntN(500)),
		},
		ReceivedAt: time.Now().UTC(),
	}
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

// -----------------------------------------------------------------------------

func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		close(s.done)
		s.logger.Info("%s : simulated session %s stopped", s.assetClass, s.id)
	})
	return nil
}
