package interfaces

import (
	"context"

	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/utils"
)

// -----------------------------------------------------------------------------
// ISession wraps one long-lived vendor streaming connection for one asset class.
// -----------------------------------------------------------------------------

type ISession interface {

	// ID identifies the session in logs and status snapshots.
	ID() string

	// AssetClass returns the asset class this session streams.
	AssetClass() models.AssetClass

	// -----------------------------------------------------------------------------

	// Subscribe binds handler to kind and adds symbols to the subscription state.
	// Already-subscribed symbols are ignored.
	Subscribe(kind models.EventKind, handler models.Handler, symbols ...string) error

	// Unsubscribe removes symbols from the subscription state of kind.
	// Absent symbols are ignored.
	Unsubscribe(kind models.EventKind, symbols ...string) error

	// Subscriptions returns a copy of the current subscription state of kind.
	Subscriptions(kind models.EventKind) utils.SymbolSet

	// -----------------------------------------------------------------------------

	// Run pumps inbound events until Stop is called (returns nil) or the
	// connection drops (returns a *helpers.StreamError).
	Run(ctx context.Context) error

	// Stop requests shutdown. Calling it more than once is a no-op.
	Stop() error
}

// -----------------------------------------------------------------------------
// ISessionFactory hides vendor-specific session construction.
// -----------------------------------------------------------------------------

type ISessionFactory interface {
	// Open performs the vendor handshake. Failures are *helpers.ConnectionError;
	// a connection-limit rejection wraps helpers.ErrConnectionLimitExceeded.
	Open(ctx context.Context, assetClass models.AssetClass, creds models.MCredentials) (ISession, error)
}

// ISessionConstructor builds a factory from the asset class config.
type ISessionConstructor func(cfg *models.MAssetClassConfig, log *logger.Logger) (ISessionFactory, error)
