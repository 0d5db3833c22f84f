package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"market-streamer/src/models"
	"market-streamer/src/utils"

	"gopkg.in/yaml.v3"
)

const (
	DefaultReconcileInterval = 300
	DefaultCalendarCheck     = 60
	DefaultRestartBackoff    = 5
	DefaultMaxRestartBackoff = 300
	DefaultShutdownGrace     = 10
	DefaultSimulateInterval  = 60
	DefaultPingPeriod        = 54
	DefaultHandshakeTimeout  = 10
	DefaultWriteTimeoutMs    = 2000
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a validated Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills every unset knob with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "market-streamer"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.GrpcHost == "" {
		c.GrpcHost = c.Host
	}
	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = "market_streamer.db"
	}
	if c.Storage.Schema == "" {
		c.Storage.Schema = "public"
	}
	if c.Storage.WriteTimeoutMs == 0 {
		c.Storage.WriteTimeoutMs = DefaultWriteTimeoutMs
	}
	if c.Storage.ConnectRetries == 0 {
		c.Storage.ConnectRetries = 3
	}
	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 10
	}
	if c.Network.RequestsPerMinute == 0 {
		c.Network.RequestsPerMinute = 120
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = "market-streamer/1.0"
	}
	if c.Publisher.SubjectPrefix == "" {
		c.Publisher.SubjectPrefix = "market"
	}
	if c.Publisher.ClientID == "" {
		c.Publisher.ClientID = c.Name
	}
	if c.Publisher.ConnectTimeoutSeconds == 0 {
		c.Publisher.ConnectTimeoutSeconds = 5
	}
	if c.Publisher.MaxReconnects == 0 {
		c.Publisher.MaxReconnects = -1
	}

	for i := range c.AssetClasses {
		applyAssetClassDefaults(&c.AssetClasses[i])
	}
}

func applyAssetClassDefaults(ac *models.MAssetClassConfig) {
	ac.Name = strings.ToLower(strings.TrimSpace(ac.Name))
	if ac.Vendor == "" {
		ac.Vendor = "alpaca"
	}
	if ac.Codec == "" {
		ac.Codec = "json"
	}
	if ac.Feed == "" && models.AssetClass(ac.Name) == models.AssetClassEquity {
		ac.Feed = "iex"
	}
	if ac.TablePrefix == "" {
		switch models.AssetClass(ac.Name) {
		case models.AssetClassEquity:
			ac.TablePrefix = "stock"
		default:
			ac.TablePrefix = ac.Name
		}
	}
	if len(ac.EventKinds) == 0 {
		ac.EventKinds = []string{string(models.EventKindBar), string(models.EventKindUpdatedBar)}
	}
	if ac.WatchList.Type == "" {
		ac.WatchList.Type = "static"
	}

	th := &ac.TradingHours
	if th.Enabled {
		if th.Timezone == "" {
			th.Timezone = "America/New_York"
		}
		if th.Start == "" {
			th.Start = "09:00"
		}
		if th.End == "" {
			th.End = "16:00"
		}
	}

	setDefault(&ac.ReconcileIntervalSeconds, DefaultReconcileInterval)
	setDefault(&ac.CalendarCheckSeconds, DefaultCalendarCheck)
	setDefault(&ac.RestartBackoffSeconds, DefaultRestartBackoff)
	setDefault(&ac.MaxRestartBackoffSeconds, DefaultMaxRestartBackoff)
	setDefault(&ac.ShutdownGraceSeconds, DefaultShutdownGrace)
	setDefault(&ac.SimulateIntervalSeconds, DefaultSimulateInterval)
	setDefault(&ac.PingPeriodSeconds, DefaultPingPeriod)
	setDefault(&ac.HandshakeTimeoutSeconds, DefaultHandshakeTimeout)
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port != 0 && (c.Port <= 1024 || c.Port > 65535) {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d (must be between 1025 and 65535)", c.GrpcPort)
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres", "pgx":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for %s", c.Storage.DBType)
		}
	default:
		return fmt.Errorf("unsupported database type '%s'", c.Storage.DBType)
	}
	if c.Storage.WriteTimeoutMs < 0 {
		return fmt.Errorf("write timeout cannot be negative")
	}

	// Validate Network configuration
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Publisher.Enabled && len(c.Publisher.Servers) == 0 {
		return fmt.Errorf("publisher is enabled but no servers are configured")
	}

	// Validate asset classes
	if len(c.AssetClasses) == 0 {
		return fmt.Errorf("at least one asset class must be configured")
	}
	seen := make(map[string]struct{}, len(c.AssetClasses))
	for i := range c.AssetClasses {
		ac := &c.AssetClasses[i]
		if ac.Name == "" {
			return fmt.Errorf("asset class %d must have a name", i)
		}
		if _, dup := seen[ac.Name]; dup {
			return fmt.Errorf("asset class '%s' is configured twice", ac.Name)
		}
		seen[ac.Name] = struct{}{}

		if err := validateAssetClass(ac); err != nil {
			return fmt.Errorf("asset class '%s': %w", ac.Name, err)
		}
	}

	return nil
}

func validateAssetClass(ac *models.MAssetClassConfig) error {
	switch ac.Vendor {
	case "alpaca", "simulated":
	default:
		return fmt.Errorf("unsupported vendor '%s'", ac.Vendor)
	}

	switch ac.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unsupported codec '%s'", ac.Codec)
	}

	if len(ac.EventKinds) == 0 {
		return fmt.Errorf("at least one event kind must be configured")
	}
	for _, k := range ac.EventKinds {
		if _, err := models.ParseEventKind(k); err != nil {
			return err
		}
	}

	if ac.TradingHours.Enabled {
		if _, err := time.LoadLocation(ac.TradingHours.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", ac.TradingHours.Timezone, err)
		}
		start, err := utils.ParseClock(ac.TradingHours.Start)
		if err != nil {
			return err
		}
		end, err := utils.ParseClock(ac.TradingHours.End)
		if err != nil {
			return err
		}
		if end <= start {
			return fmt.Errorf("trading hours end %s must be after start %s", ac.TradingHours.End, ac.TradingHours.Start)
		}
	}

	switch ac.WatchList.Type {
	case "static":
	case "sql":
		if ac.WatchList.Reference == "" {
			return fmt.Errorf("sql watch list needs a schema.table.field reference")
		}
	case "alpaca_assets":
	default:
		return fmt.Errorf("unsupported watch list type '%s'", ac.WatchList.Type)
	}

	positive := map[string]int{
		"reconcile_interval_seconds":  ac.ReconcileIntervalSeconds,
		"calendar_check_seconds":      ac.CalendarCheckSeconds,
		"restart_backoff_seconds":     ac.RestartBackoffSeconds,
		"max_restart_backoff_seconds": ac.MaxRestartBackoffSeconds,
		"shutdown_grace_seconds":      ac.ShutdownGraceSeconds,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}
	if ac.MaxRestartBackoffSeconds < ac.RestartBackoffSeconds {
		return fmt.Errorf("max_restart_backoff_seconds must be >= restart_backoff_seconds")
	}

	return nil
}

// -----------------------------------------------------------------------------

// AssetClass looks up the configuration block of one asset class.
func (c *Config) AssetClass(name string) (*models.MAssetClassConfig, bool) {
	for i := range c.AssetClasses {
		if c.AssetClasses[i].Name == name {
			return &c.AssetClasses[i], true
		}
	}
	return nil, false
}

// CredentialsFor resolves vendor credentials: asset class block, then top-level YAML, then environment.
func (c *Config) CredentialsFor(ac *models.MAssetClassConfig) models.MCredentials {
	if ac != nil && ac.Credentials != nil && !ac.Credentials.IsZero() {
		return *ac.Credentials
	}
	if !c.Credentials.IsZero() {
		return c.Credentials
	}
	return c.EnvCredentials
}

// WriteTimeout is the per-observation storage budget.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Storage.WriteTimeoutMs) * time.Millisecond
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
