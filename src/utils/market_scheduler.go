package utils

import (
	"sync"
	"time"

	"market-streamer/src/logger"
	"market-streamer/src/models"
)

// MarketScheduler maps each asset class to its trading calendar. A class
// without a calendar trades around the clock.
type MarketScheduler struct {
	Calendars map[models.AssetClass]*TradingCalendar
	Logger    *logger.Logger
	mu        sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(classes []models.MAssetClassConfig, l *logger.Logger) (*MarketScheduler, error) {
	ms := &MarketScheduler{
		Calendars: make(map[models.AssetClass]*TradingCalendar),
		Logger:    l,
	}

	gated := 0
	for _, ac := range classes {
		if !ac.TradingHours.Enabled {
			continue
		}
		cal, err := NewTradingCalendar(ac.TradingHours)
		if err != nil {
			return nil, err
		}
		ms.Calendars[models.AssetClass(ac.Name)] = cal
		gated++
	}

	ms.Logger.Info("MarketScheduler: %d asset classes, %d gated by trading hours.", len(classes), gated)
	return ms, nil
}

// -----------------------------------------------------------------------------

// Register replaces the calendar of one asset class; nil makes it 24/7.
func (ms *MarketScheduler) Register(assetClass models.AssetClass, cal *TradingCalendar) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if cal == nil {
		delete(ms.Calendars, assetClass)
		return
	}
	ms.Calendars[assetClass] = cal
}

// -----------------------------------------------------------------------------

// CalendarFor returns the calendar of an asset class, or nil if it is not gated.
func (ms *MarketScheduler) CalendarFor(assetClass models.AssetClass) *TradingCalendar {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.Calendars[assetClass]
}

// Gated reports whether the asset class follows a trading calendar.
func (ms *MarketScheduler) Gated(assetClass models.AssetClass) bool {
	return ms.CalendarFor(assetClass) != nil
}

// -----------------------------------------------------------------------------

// IsOpen checks the asset class's window at now.
func (ms *MarketScheduler) IsOpen(assetClass models.AssetClass, now time.Time) bool {
	cal := ms.CalendarFor(assetClass)
	if cal == nil {
		return true
	}
	return cal.IsOpen(now)
}

// -----------------------------------------------------------------------------

// AnyMarketOpen checks if ANY tracked markets are currently open
func (ms *MarketScheduler) AnyMarketOpen(now time.Time) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, cal := range ms.Calendars {
		if cal.IsOpen(now) {
			return true
		}
	}
	return false
}
