package common

import "github.com/spf13/viper"

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to the NATS fan-out bus
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Broadcast Related Config

// BroadcastConfig defines parameters of the availability broadcast subsystem
type BroadcastConfig struct {
	// ChannelPrefix is the bus subject prefix for availability channels.
	// One channel exists per topic: "<prefix>.<TOPIC>".
	ChannelPrefix string `mapstructure:"channel_prefix" json:"channel_prefix" validate:"required"`
	// PublishQueueDepth is the depth of the instant publisher outbound queue
	PublishQueueDepth int `mapstructure:"publish_queue_depth" json:"publish_queue_depth" validate:"gte=1"`
	// PublishTimeout is the max duration of one bus publish in seconds
	PublishTimeout int `mapstructure:"publish_timeout_sec" json:"publish_timeout_sec" validate:"gte=1"`
	// SendTimeout is the max duration of one client websocket send in seconds
	SendTimeout int `mapstructure:"send_timeout_sec" json:"send_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Availability Server Related Config

// WebsocketEndpointConfig defines websocket / REST endpoint config
type WebsocketEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the availability APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// ServerConfig defines configuration for the availability broadcast server
type ServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the availability server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the availability server
	Endpoints WebsocketEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
	// Broadcast defines availability broadcast parameters
	Broadcast BroadcastConfig `mapstructure:"broadcast" json:"broadcast" validate:"required,dive"`
}

// ===============================================================================
// Reconciler Related Config

// OperatorSourceConfig defines parameters for querying an external operator system
type OperatorSourceConfig struct {
	// BaseURL is the base URL of the operator availability API
	BaseURL string `mapstructure:"base_url" json:"base_url" validate:"required,uri"`
	// RequestTimeout is the max duration of one operator API call in seconds
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=1"`
}

// ReconcilerConfig defines configuration for the reconciliation poller
type ReconcilerConfig struct {
	// Broadcast defines availability broadcast parameters
	Broadcast BroadcastConfig `mapstructure:"broadcast" json:"broadcast" validate:"required,dive"`
	// Operator defines external operator source parameters
	Operator OperatorSourceConfig `mapstructure:"operator" json:"operator" validate:"required,dive"`
	// Topics is the list of monitored route topics
	Topics []string `mapstructure:"topics" json:"topics" validate:"omitempty,dive,required"`
	// PollInterval is the duration between reconciliation cycles in seconds
	PollInterval int `mapstructure:"poll_interval_sec" json:"poll_interval_sec" validate:"gte=1"`
	// CacheTTL is the time-to-live of reconciliation snapshot entries in seconds
	CacheTTL int `mapstructure:"cache_ttl_sec" json:"cache_ttl_sec" validate:"gte=1"`
	// MaxFetchAttempts is the per-cycle retry budget for one topic fetch
	MaxFetchAttempts int `mapstructure:"max_fetch_attempts" json:"max_fetch_attempts" validate:"gte=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config used by either server or reconciler
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Server are the availability broadcast server configs
	Server *ServerConfig `mapstructure:"server,omitempty" json:"server,omitempty" validate:"omitempty,dive"`
	// Reconciler are the reconciliation poller configs
	Reconciler *ReconcilerConfig `mapstructure:"reconciler,omitempty" json:"reconciler,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default availability server settings
	viper.SetDefault("server.endpoint_config.path_prefix", "/")
	viper.SetDefault("server.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("server.api_server.server_config.listen_port", 3000)
	viper.SetDefault("server.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("server.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("server.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"server.api_server.logging_config.request_id_header", "Medferry-Request-ID",
	)
	viper.SetDefault(
		"server.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("server.broadcast.channel_prefix", "availability")
	viper.SetDefault("server.broadcast.publish_queue_depth", 64)
	viper.SetDefault("server.broadcast.publish_timeout_sec", 5)
	viper.SetDefault("server.broadcast.send_timeout_sec", 10)

	// Default reconciler settings
	viper.SetDefault("reconciler.broadcast.channel_prefix", "availability")
	viper.SetDefault("reconciler.broadcast.publish_queue_depth", 64)
	viper.SetDefault("reconciler.broadcast.publish_timeout_sec", 5)
	viper.SetDefault("reconciler.broadcast.send_timeout_sec", 10)
	viper.SetDefault("reconciler.operator.base_url", "http://127.0.0.1:8081")
	viper.SetDefault("reconciler.operator.request_timeout_sec", 15)
	viper.SetDefault("reconciler.poll_interval_sec", 300)
	viper.SetDefault("reconciler.cache_ttl_sec", 3600)
	viper.SetDefault("reconciler.max_fetch_attempts", 3)
}
