package models

// MConfig Structure
type MConfig struct {
	Name         string              `yaml:"name"`
	Host         string              `yaml:"host"`
	Port         int                 `yaml:"port"`
	LogLevel     string              `yaml:"log_level"`
	GrpcHost     string              `yaml:"grpc_host"`
	GrpcPort     int                 `yaml:"grpc_port"`
	Storage      MStorageConfig      `yaml:"storage"`
	Network      MNetworkConfig      `yaml:"network"`
	Publisher    MPublisherConfig    `yaml:"publisher"`
	Credentials  MCredentials        `yaml:"credentials,omitempty"`
	AssetClasses []MAssetClassConfig `yaml:"asset_classes"`

	// EnvCredentials are read from the environment and never written back to YAML.
	EnvCredentials MCredentials `yaml:"-"`
}

// GetLogLevel lets the logger pick up the configured level without importing config.
func (c *MConfig) GetLogLevel() string {
	if c == nil {
		return ""
	}
	return c.LogLevel
}

type MStorageConfig struct {
	DBType             string   `yaml:"db_type"`
	DBPath             string   `yaml:"db_path"`
	DBConnectionString string   `yaml:"db_connection_string"`
	Schema             string   `yaml:"schema"`
	WriteTimeoutMs     int      `yaml:"write_timeout_ms"`
	ConnectRetries     int      `yaml:"connect_retries"`
	RefreshViews       []string `yaml:"refresh_views"`
}

type MNetworkConfig struct {
	RequestTimeout    int    `yaml:"timeout"`
	MaxRetries        int    `yaml:"retries"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	UserAgent         string `yaml:"user_agent"`
}

type MPublisherConfig struct {
	Enabled               bool     `yaml:"enabled"`
	Servers               []string `yaml:"servers"`
	ClientID              string   `yaml:"client_id"`
	SubjectPrefix         string   `yaml:"subject_prefix"`
	ConnectTimeoutSeconds int      `yaml:"connect_timeout_seconds"`
	MaxReconnects         int      `yaml:"max_reconnects"`
}

type MCredentials struct {
	APIKey    string `yaml:"api_key,omitempty" json:"-"`
	APISecret string `yaml:"api_secret,omitempty" json:"-"`
}

// IsZero reports whether no key material is set.
func (c MCredentials) IsZero() bool {
	return c.APIKey == "" && c.APISecret == ""
}

type MAssetClassConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Vendor      string   `yaml:"vendor" json:"vendor"`
	Feed        string   `yaml:"feed" json:"feed"`
	Codec       string   `yaml:"codec" json:"codec"`
	URLOverride string   `yaml:"url_override" json:"url_override,omitempty"`
	Sandbox     bool     `yaml:"sandbox" json:"sandbox"`
	TablePrefix string   `yaml:"table_prefix" json:"table_prefix"`
	EventKinds  []string `yaml:"event_kinds" json:"event_kinds"`

	TradingHours MTradingHoursConfig `yaml:"trading_hours" json:"trading_hours"`
	WatchList    MWatchListConfig    `yaml:"watch_list" json:"watch_list"`
	Credentials  *MCredentials       `yaml:"credentials,omitempty" json:"-"`

	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds" json:"reconcile_interval_seconds"`
	CalendarCheckSeconds     int `yaml:"calendar_check_seconds" json:"calendar_check_seconds"`
	RestartBackoffSeconds    int `yaml:"restart_backoff_seconds" json:"restart_backoff_seconds"`
	MaxRestartBackoffSeconds int `yaml:"max_restart_backoff_seconds" json:"max_restart_backoff_seconds"`
	ShutdownGraceSeconds     int `yaml:"shutdown_grace_seconds" json:"shutdown_grace_seconds"`
	SimulateIntervalSeconds  int `yaml:"simulate_interval_seconds" json:"simulate_interval_seconds"`
	PingPeriodSeconds        int `yaml:"ping_period_seconds" json:"ping_period_seconds"`
	HandshakeTimeoutSeconds  int `yaml:"handshake_timeout_seconds" json:"handshake_timeout_seconds"`
}

type MTradingHoursConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Timezone    string `yaml:"timezone" json:"timezone"`
	Start       string `yaml:"start" json:"start"`
	End         string `yaml:"end" json:"end"`
	ExchangeMIC string `yaml:"exchange_mic" json:"exchange_mic,omitempty"`
}

type MWatchListConfig struct {
	Type        string   `yaml:"type" json:"type"`
	Symbols     []string `yaml:"symbols" json:"symbols,omitempty"`
	Reference   string   `yaml:"reference" json:"reference,omitempty"`
	FilterField string   `yaml:"filter_field" json:"filter_field,omitempty"`
	FilterValue string   `yaml:"filter_value" json:"filter_value,omitempty"`
	BaseURL     string   `yaml:"base_url" json:"base_url,omitempty"`
	AssetClass  string   `yaml:"asset_class" json:"asset_class,omitempty"`
}
