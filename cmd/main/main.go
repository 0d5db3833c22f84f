package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-streamer/src/config"
	"market-streamer/src/ingest"
	"market-streamer/src/lifecycle"
	"market-streamer/src/logger"

	// Session vendors register themselves by name.
	_ "market-streamer/src/data_source/alpaca"
	_ "market-streamer/src/data_source/simulated"
)

// -----------------------------------------------------------------------------

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on a clean interrupt, 1 when startup
// fails or a controller halted.
func run() int {
	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	verbosity := flag.Int("v", -1, "verbosity 0..3 (0 critical, 1 warnings, 2 info, 3 debug); overrides the config level")
	logLevel := flag.String("log-level", "", "DEBUG, INFO, WARNING, ERROR or CRITICAL; overrides -v and the config level")
	simulate := flag.Bool("simulate", false, "use the simulated vendor for every asset class")
	envFile := flag.String("env", ".env", "dotenv file holding vendor credentials")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Printf("Error loading env file: %v\n", err)
		return 1
	}

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return 1
	}

	switch {
	case *logLevel != "":
		if _, err := logger.ParseLevel(*logLevel); err != nil {
			fmt.Printf("Error: %v\n", err)
			return 1
		}
		cfg.LogLevel = *logLevel
	case *verbosity >= 0:
		cfg.LogLevel = logger.VerbosityLevel(*verbosity)
	}
	if *simulate {
		for i := range cfg.AssetClasses {
			cfg.AssetClasses[i].Vendor = "simulated"
		}
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.MConfig, cfg.Name)
	appLogger.Info("Starting %s with %d asset classes (config %s)", cfg.Name, len(cfg.AssetClasses), *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	db, err := setupDatabase(ctx, cfg)
	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return 1
	}
	defer db.Close()

	// Fan-out
	pub := setupPublisher(cfg)
	if pub != nil {
		defer pub.Disconnect()
	}

	srv, health := setupServers(cfg)

	listeners := []ingest.Listener{srv}
	if pub != nil {
		listeners = append(listeners, pub)
	}
	handlers := ingest.NewHandlers(db, cfg.WriteTimeout(), logger.NewLogger(cfg.MConfig, "Ingest"), listeners...)
	srv.IngestStats = handlers.Stats

	// Controllers
	reporter := lifecycle.Reporters{srv, health}
	supervisor, err := setupSupervisor(cfg, db, setupNetwork(cfg), handlers, reporter)
	if err != nil {
		appLogger.Error("Failed to set up asset classes: %v", err)
		return 1
	}

	startServers(cfg, srv, health, appLogger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stopServers(shutdownCtx, srv, health, appLogger)
	}()

	runErr := supervisor.Run(ctx)

	st := handlers.Stats()
	appLogger.Info("Ingest totals: %d stored, %d invalid, %d failed", st.Stored, st.Invalid, st.Failed)

	if runErr != nil {
		appLogger.Error("Exiting after fatal error: %v", runErr)
		return 1
	}
	appLogger.Info("Shutdown complete")
	return 0
}
