package common

import "github.com/spf13/viper"

// ===============================================================================
// Backend Client Related Config

// ClientConfig defines parameters for reaching the suburb backend
type ClientConfig struct {
	// Host is the backend base URL, i.e. "http://127.0.0.1:8000"
	Host string `mapstructure:"host" json:"host" validate:"required,url"`
	// APIKey is sent as the Authorization header of every request
	APIKey string `mapstructure:"api_key" json:"-"`
	// RequestTimeout is the max duration of one HTTP call in seconds. Zero means no timeout.
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=0"`
	// HTTP2PriorKnowledge when set, speak HTTP/2 over cleartext (h2c) to the backend
	HTTP2PriorKnowledge bool `mapstructure:"http2_prior_knowledge" json:"http2_prior_knowledge"`
	// RequestIDHeader is the HTTP header carrying the client generated request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header" validate:"required"`
}

// SubscriptionConfig defines parameters of the pub/sub listener
type SubscriptionConfig struct {
	// ReconnectWait is the fixed delay between reconnect attempts in seconds
	ReconnectWait int `mapstructure:"reconnect_wait_sec" json:"reconnect_wait_sec" validate:"gte=1"`
	// HandshakeTimeout is the max duration of the streaming handshake in seconds
	HandshakeTimeout int `mapstructure:"handshake_timeout_sec" json:"handshake_timeout_sec" validate:"gte=1"`
	// EventBuffer is the depth of the subscription event channel
	EventBuffer int `mapstructure:"event_buffer" json:"event_buffer" validate:"gte=0"`
}

// LogForwardConfig defines parameters of the log forwarding handler
type LogForwardConfig struct {
	// Source is reported as the source of each forwarded record
	Source string `mapstructure:"source" json:"source"`
	// QueueDepth is the number of records buffered before forwarding blocks
	QueueDepth int `mapstructure:"queue_depth" json:"queue_depth" validate:"gte=1"`
}

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// RelayConfig defines the channel to NATS relay
type RelayConfig struct {
	// NATS are the NATS connection parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// SubjectPrefix is prepended to the channel name to form the NATS subject
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
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

// DevServerConfig defines the in-memory development backend
type DevServerConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// APIKeys are the accepted Authorization header values
	APIKeys []string `mapstructure:"api_keys" json:"-" validate:"required,min=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete config used by the CLI
type SystemConfig struct {
	// Client are the backend client parameters
	Client ClientConfig `mapstructure:"client" json:"client" validate:"required,dive"`
	// Subscription are the pub/sub listener parameters
	Subscription SubscriptionConfig `mapstructure:"subscription" json:"subscription" validate:"required,dive"`
	// LogForward are the log forwarding parameters
	LogForward LogForwardConfig `mapstructure:"log_forward" json:"log_forward" validate:"required,dive"`
	// Relay are the channel to NATS relay parameters
	Relay *RelayConfig `mapstructure:"relay,omitempty" json:"relay,omitempty" validate:"omitempty,dive"`
	// DevServer are the in-memory development backend parameters
	DevServer *DevServerConfig `mapstructure:"dev_server,omitempty" json:"dev_server,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default client settings
	viper.SetDefault("client.host", "http://127.0.0.1:8000")
	viper.SetDefault("client.request_timeout_sec", 30)
	viper.SetDefault("client.http2_prior_knowledge", false)
	viper.SetDefault("client.request_id_header", "Suburb-Request-ID")

	// Default subscription settings
	viper.SetDefault("subscription.reconnect_wait_sec", 5)
	viper.SetDefault("subscription.handshake_timeout_sec", 30)
	viper.SetDefault("subscription.event_buffer", 16)

	// Default log forwarding settings
	viper.SetDefault("log_forward.source", "")
	viper.SetDefault("log_forward.queue_depth", 256)

	// Default relay settings
	viper.SetDefault("relay.nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("relay.nats.connect_timeout_sec", 30)
	viper.SetDefault("relay.nats.reconnect.max_attempts", -1)
	viper.SetDefault("relay.nats.reconnect.wait_interval_sec", 15)
	viper.SetDefault("relay.subject_prefix", "suburb")

	// Default development server settings
	viper.SetDefault("dev_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("dev_server.server_config.listen_port", 8000)
	viper.SetDefault("dev_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("dev_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("dev_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault("dev_server.logging_config.request_id_header", "Suburb-Request-ID")
	viper.SetDefault(
		"dev_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("dev_server.api_keys", []string{"dev-key"})
}
