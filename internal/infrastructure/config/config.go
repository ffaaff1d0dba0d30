package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bridge refresh modes.
const (
	RefreshCallback = "callback"
	RefreshPolling  = "polling"
	RefreshNone     = "none"
)

// Callback port range accepted by the bridge.
const (
	minCallbackPort = 10000
	maxCallbackPort = 65535
)

// Config is the root configuration structure.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Bridges   []BridgeConfig  `yaml:"bridges"`
	BridgeAPI BridgeAPIConfig `yaml:"bridge_api"`
	Callback  CallbackConfig  `yaml:"callback"`
	WebAPI    WebAPIConfig    `yaml:"web_api"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BridgeConfig describes one local bridge.
type BridgeConfig struct {
	Name  string `yaml:"name"`
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`

	// ID is the vendor bridge ID. Optional; learned from /info when empty.
	ID string `yaml:"id"`

	// HashedToken sends ts/rnr/hash instead of the plain token.
	HashedToken bool `yaml:"hashed_token"`

	Disabled bool `yaml:"disabled"`
}

// BridgeAPIConfig controls how bridges are refreshed.
type BridgeAPIConfig struct {
	// RefreshType is "callback", "polling" or "none".
	RefreshType string `yaml:"refresh_type"`

	// RefreshInterval in seconds, used in polling mode.
	RefreshInterval int `yaml:"refresh_interval"`

	// RequestDelayMS is the minimum gap between two requests to one bridge.
	RequestDelayMS int `yaml:"request_delay_ms"`

	// RequestTimeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// CallbackConfig is the local endpoint bridges push state changes to.
type CallbackConfig struct {
	// Host is the address bridges use to reach the gateway.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WebAPIConfig contains the vendor cloud API settings.
type WebAPIConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// RefreshInterval in seconds. 0 disables the Web API; values below 5
	// are raised to 5.
	RefreshInterval int `yaml:"refresh_interval"`

	SyncConfig bool `yaml:"sync_config"`
	SyncUsers  bool `yaml:"sync_users"`
	SyncLogs   bool `yaml:"sync_logs"`

	// AdditionalCall polls the Web API AdditionalDelay seconds after each
	// bridge callback.
	AdditionalCall  bool `yaml:"additional_call"`
	AdditionalDelay int  `yaml:"additional_delay"`

	RequestTimeout int `yaml:"request_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains REST API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains state stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// KafkaConfig contains event export settings.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	BatchSize    int      `yaml:"batch_size"`
	BatchTimeout int      `yaml:"batch_timeout_ms"`
}

// ArchiveConfig contains object storage settings for activity log archives.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains REST API token settings. An empty secret leaves the
// API unauthenticated.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides (NUKIGW_SECTION_KEY), then validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyBridgeDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "nuki-gateway",
			Name: "Nuki Gateway",
		},
		BridgeAPI: BridgeAPIConfig{
			RefreshType:     RefreshCallback,
			RefreshInterval: 60,
			RequestDelayMS:  250,
			RequestTimeout:  10,
		},
		Callback: CallbackConfig{
			Port: 51989,
		},
		WebAPI: WebAPIConfig{
			URL:             "https://api.nuki.io",
			SyncLogs:        true,
			AdditionalDelay: 3,
			RequestTimeout:  30,
		},
		Database: DatabaseConfig{
			Path:        "./data/nukigateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "nuki",
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nuki-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Kafka: KafkaConfig{
			Topic:        "nuki.events",
			BatchSize:    100,
			BatchTimeout: 1000,
		},
		Archive: ArchiveConfig{
			Bucket: "nuki-logs",
			Prefix: "activity",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{AccessTokenTTL: 60},
		},
	}
}

// applyBridgeDefaults fills per-bridge defaults that YAML cannot express
// for list elements.
func applyBridgeDefaults(cfg *Config) {
	for i := range cfg.Bridges {
		if cfg.Bridges[i].Port == 0 {
			cfg.Bridges[i].Port = 8080
		}
		if cfg.Bridges[i].Name == "" {
			cfg.Bridges[i].Name = cfg.Bridges[i].Host
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NUKIGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("NUKIGW_CALLBACK_HOST"); v != "" {
		cfg.Callback.Host = v
	}
	if v := os.Getenv("NUKIGW_WEB_API_TOKEN"); v != "" {
		cfg.WebAPI.Token = v
	}

	if v := os.Getenv("NUKIGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NUKIGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NUKIGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("NUKIGW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NUKIGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("NUKIGW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NUKIGW_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("NUKIGW_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("NUKIGW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	for i, b := range c.Bridges {
		if b.Disabled {
			continue
		}
		if b.Host == "" {
			errs = append(errs, fmt.Sprintf("bridges[%d].host is required", i))
		}
		if b.Token == "" {
			errs = append(errs, fmt.Sprintf("bridges[%d].token is required", i))
		}
		if b.Port < 1 || b.Port > 65535 {
			errs = append(errs, fmt.Sprintf("bridges[%d].port must be between 1 and 65535", i))
		}
	}

	if len(c.ActiveBridges()) == 0 && !c.WebAPIEnabled() {
		errs = append(errs, "no active bridge configured and web_api disabled (set bridges or web_api.token with web_api.refresh_interval)")
	}

	switch c.BridgeAPI.RefreshType {
	case RefreshCallback:
		if len(c.ActiveBridges()) > 0 {
			if c.Callback.Host == "" {
				errs = append(errs, "callback.host is required when bridge_api.refresh_type is callback")
			}
			if c.Callback.Port < minCallbackPort || c.Callback.Port > maxCallbackPort {
				errs = append(errs, fmt.Sprintf("callback.port must be between %d and %d", minCallbackPort, maxCallbackPort))
			}
		}
	case RefreshPolling:
		if c.BridgeAPI.RefreshInterval < 1 {
			errs = append(errs, "bridge_api.refresh_interval must be positive in polling mode")
		}
	case RefreshNone:
	default:
		errs = append(errs, "bridge_api.refresh_type must be callback, polling or none")
	}
	if c.BridgeAPI.RequestDelayMS < 0 {
		errs = append(errs, "bridge_api.request_delay_ms must not be negative")
	}

	if c.WebAPI.RefreshInterval < 0 {
		errs = append(errs, "web_api.refresh_interval must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, "kafka.brokers and kafka.topic are required when enabled")
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, "archive.endpoint and archive.bucket are required when enabled")
	}

	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ActiveBridges returns the bridges that are not disabled.
func (c *Config) ActiveBridges() []BridgeConfig {
	var out []BridgeConfig
	for _, b := range c.Bridges {
		if !b.Disabled {
			out = append(out, b)
		}
	}
	return out
}

// WebAPIEnabled reports whether the Web API is polled.
func (c *Config) WebAPIEnabled() bool {
	return c.WebAPI.Token != "" && c.WebAPI.RefreshInterval > 0
}

// CallbackURL is the URL registered on bridges.
func (c *Config) CallbackURL() string {
	return fmt.Sprintf("http://%s:%d/nuki-api-bridge", c.Callback.Host, c.Callback.Port)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
