package main

import (
	"context"
	"fmt"
	"time"

	"market-streamer/src/config"
	datasource "market-streamer/src/data_source"
	"market-streamer/src/helpers"
	"market-streamer/src/ingest"
	"market-streamer/src/interfaces"
	"market-streamer/src/lifecycle"
	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/network"
	"market-streamer/src/publisher"
	"market-streamer/src/storage"
	"market-streamer/src/utils"
	"market-streamer/src/watchlist"
)

// -----------------------------------------------------------------------------

// setupDatabase opens the configured sink, retrying the initial connection.
func setupDatabase(ctx context.Context, cfg *config.Config) (interfaces.IDatabase, error) {
	dbLogger := logger.NewLogger(cfg.MConfig, "Storage")

	db, err := storage.NewDatabase(cfg.MConfig, dbLogger)
	if err != nil {
		return nil, err
	}

	err = helpers.RetryWithBackoff(ctx, dbLogger, "database initialize", cfg.Storage.ConnectRetries, time.Second, db.Initialize)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the network manager
func setupNetwork(cfg *config.Config) interfaces.INetworkManager {
	return network.NewAsyncNetworkManager(cfg.MConfig, logger.NewLogger(cfg.MConfig, "NetworkManager"))
}

// -----------------------------------------------------------------------------

// setupPublisher connects the NATS publisher, or returns nil when disabled or
// unreachable. Publishing is never required for ingest.
func setupPublisher(cfg *config.Config) *publisher.NATSPublisher {
	if !cfg.Publisher.Enabled {
		return nil
	}

	pubLogger := logger.NewLogger(cfg.MConfig, "Publisher")
	pub := publisher.NewNATSPublisher(&cfg.Publisher, pubLogger)
	if err := pub.Connect(); err != nil {
		pubLogger.Warning("Publisher disabled: %v", err)
		return nil
	}
	return pub
}

// -----------------------------------------------------------------------------

// setupSupervisor builds one controller per configured asset class.
func setupSupervisor(
	cfg *config.Config,
	db interfaces.IDatabase,
	nm interfaces.INetworkManager,
	handlers *ingest.Handlers,
	reporter interfaces.IStatusReporter,
) (*lifecycle.Supervisor, error) {
	scheduler, err := utils.NewMarketScheduler(cfg.AssetClasses, logger.NewLogger(cfg.MConfig, "MarketScheduler"))
	if err != nil {
		return nil, err
	}

	supLogger := logger.NewLogger(cfg.MConfig, "Supervisor")
	supervisor := lifecycle.NewSupervisor(nil, supLogger)

	for i := range cfg.AssetClasses {
		acCfg := &cfg.AssetClasses[i]
		ac := models.AssetClass(acCfg.Name)
		acLogger := logger.NewLogger(cfg.MConfig, "Controller").With("asset_class", acCfg.Name)

		kinds, err := eventKinds(acCfg.EventKinds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ac, err)
		}

		factory, err := datasource.NewSessionFactory(acCfg, acLogger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ac, err)
		}

		creds := cfg.CredentialsFor(acCfg)
		source, err := watchlist.NewSource(acCfg, db, nm, creds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ac, err)
		}

		ctrlCfg := lifecycle.ControllerConfig{
			AssetClass:        ac,
			Factory:           factory,
			Credentials:       creds,
			Source:            source,
			Kinds:             kinds,
			Handlers:          handlers.For(kinds),
			ReconcileInterval: seconds(acCfg.ReconcileIntervalSeconds),
			CalendarCheck:     seconds(acCfg.CalendarCheckSeconds),
			RestartBackoff:    seconds(acCfg.RestartBackoffSeconds),
			MaxRestartBackoff: seconds(acCfg.MaxRestartBackoffSeconds),
			ShutdownGrace:     seconds(acCfg.ShutdownGraceSeconds),
			Reporter:          reporter,
			Logger:            acLogger,
			OnSymbolsApplied:  trackSymbols(db, source, acLogger),
			OnSessionClosed:   refreshViews(db, acLogger),
		}
		// A nil *TradingCalendar must stay a nil interface.
		if cal := scheduler.CalendarFor(ac); cal != nil {
			ctrlCfg.Calendar = cal
		}

		if err := supervisor.AddController(lifecycle.NewController(ctrlCfg)); err != nil {
			return nil, err
		}
		supLogger.Info("%s : vendor %s, watch-list %s, kinds %v, gated %v", ac, acCfg.Vendor, source.Name(), kinds, scheduler.Gated(ac))
	}

	return supervisor, nil
}

// -----------------------------------------------------------------------------

func eventKinds(names []string) ([]models.EventKind, error) {
	seen := make(map[models.EventKind]struct{}, len(names))
	kinds := make([]models.EventKind, 0, len(names))
	for _, name := range names {
		kind, err := models.ParseEventKind(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// trackSymbols records every applied instrument set in the tracked_symbols table.
func trackSymbols(db interfaces.IDatabase, source interfaces.IWatchListSource, log *logger.Logger) func(context.Context, models.AssetClass, utils.SymbolSet) {
	return func(ctx context.Context, ac models.AssetClass, symbols utils.SymbolSet) {
		if err := db.RegisterTrackedSymbols(ctx, ac, source.Name(), symbols.Sorted()); err != nil {
			log.Warning("failed to record %d tracked symbols: %v", symbols.Len(), err)
		}
	}
}

// refreshViews refreshes continuous aggregates once a gated session closes for the day.
func refreshViews(db interfaces.IDatabase, log *logger.Logger) func(context.Context, models.AssetClass) {
	return func(ctx context.Context, ac models.AssetClass) {
		if err := db.RefreshViews(ctx); err != nil {
			log.Warning("failed to refresh views after session close: %v", err)
		}
	}
}
