package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP server
	Server ServerConfig `mapstructure:"server"`

	// Record store backend
	Storage StorageConfig `mapstructure:"storage"`

	// Publish window sweep
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Image uploads
	Uploads UploadsConfig `mapstructure:"uploads"`

	// Change notification relay
	Notify NotifyConfig `mapstructure:"notify"`

	// JetStream change log
	ChangeLog ChangeLogConfig `mapstructure:"changelog"`

	// Redis backed rate limiting
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	InstanceID string `mapstructure:"instance_id"`
	BodyLimit  int    `mapstructure:"body_limit"`
}

// StorageConfig selects the record store.
//
// Driver values:
//   - "file": one JSON document per resource type under DataDir
//   - "sqlite": one row per resource type in the SQLite database at Path
//   - "postgres": one row per record, using the postgres section
type StorageConfig struct {
	Driver  string `mapstructure:"driver"`
	DataDir string `mapstructure:"data_dir"`
	Path    string `mapstructure:"path"`
	Backup  bool   `mapstructure:"backup"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Spec     string `mapstructure:"spec"`
	Timezone string `mapstructure:"timezone"`
}

type UploadsConfig struct {
	Driver  string   `mapstructure:"driver"`
	Dir     string   `mapstructure:"dir"`
	BaseURL string   `mapstructure:"base_url"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	CDNURL          string `mapstructure:"cdn_url"`
	BasePath        string `mapstructure:"base_path"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

type NotifyConfig struct {
	// Relay is one of "none", "redis" or "nats".
	Relay         string `mapstructure:"relay"`
	Channel       string `mapstructure:"channel"`
	BufferSize    int    `mapstructure:"buffer_size"`
	HeartbeatSecs int    `mapstructure:"heartbeat_seconds"`
}

type ChangeLogConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxRequests int  `mapstructure:"max_requests"`
	WindowSecs  int  `mapstructure:"window_seconds"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

// Enabled reports whether a Postgres server has been configured.
func (c PostgresConfig) Enabled() bool {
	return c.Host != "" || c.Database != ""
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis server has been configured.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type NATSConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

// Enabled reports whether a NATS server has been configured.
func (c NATSConfig) Enabled() bool {
	return c.Host != ""
}

type PrometheusConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations that cannot be served at startup.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "file", "sqlite":
	case "postgres":
		if !c.Postgres.Enabled() {
			return fmt.Errorf("config: storage.driver=postgres requires the postgres section")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Notify.Relay {
	case "", "none":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("config: notify.relay=redis requires the redis section")
		}
	case "nats":
		if !c.NATS.Enabled() {
			return fmt.Errorf("config: notify.relay=nats requires the nats section")
		}
	default:
		return fmt.Errorf("config: unknown notify.relay %q", c.Notify.Relay)
	}

	switch c.Uploads.Driver {
	case "local":
	case "s3":
		if c.Uploads.S3.Bucket == "" {
			return fmt.Errorf("config: uploads.driver=s3 requires uploads.s3.bucket")
		}
	default:
		return fmt.Errorf("config: unknown uploads.driver %q", c.Uploads.Driver)
	}

	if c.ChangeLog.Enabled && (!c.NATS.Enabled() || !c.Postgres.Enabled()) {
		return fmt.Errorf("config: changelog requires both nats and postgres")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3001")
	v.SetDefault("server.body_limit", 25*1024*1024)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.path", "data/content.db")
	v.SetDefault("storage.backup", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "@every 1m")

	v.SetDefault("uploads.driver", "local")
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.base_url", "/uploads")

	v.SetDefault("notify.relay", "none")
	v.SetDefault("notify.channel", "content:changes")
	v.SetDefault("notify.buffer_size", 64)
	v.SetDefault("notify.heartbeat_seconds", 25)

	v.SetDefault("ratelimit.max_requests", 100)
	v.SetDefault("ratelimit.window_seconds", 60)

	v.SetDefault("prometheus.port", 9090)
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.addr", "HTTP_ADDR")
	v.BindEnv("server.instance_id", "INSTANCE_ID")

	// Storage
	v.BindEnv("storage.driver", "STORE_DRIVER")
	v.BindEnv("storage.data_dir", "DATA_DIR")

	// Uploads
	v.BindEnv("uploads.dir", "UPLOAD_DIR")
	v.BindEnv("uploads.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("uploads.s3.region", "S3_REGION")
	v.BindEnv("uploads.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("uploads.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("uploads.s3.bucket", "S3_BUCKET")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
}
