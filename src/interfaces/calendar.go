package interfaces

import "time"

// IMarketCalendar answers whether a gated asset class may stream at now.
type IMarketCalendar interface {
	IsOpen(now time.Time) bool
}
