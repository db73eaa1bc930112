package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxStorageMB = 1024
	DefaultDataDir      = "./data"
	DefaultDBFile       = "hvacdash.db"
)

// Retention intervals
const (
	RetentionCheckInterval = 1 * time.Hour
	RetentionRetryBase     = 30 * time.Second
	RetentionMaxRetries    = 3
	ManualCompactTimeout   = 5 * time.Minute
)

// Request timeouts and defaults
const (
	IngestTimeout       = 5 * time.Second
	QueryTimeout        = 10 * time.Second
	StatusTimeout       = 5 * time.Second
	DefaultLogPageSize  = 100
	MaxLogPageSize      = 1000
	DefaultDeviceWindow = 24 * time.Hour
	MaxDeviceWindow     = 90 * 24 * time.Hour
	MaxReadingsPerBatch = 1000
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 366 * 24 * time.Hour
)

// Device polling
const (
	DefaultPollInterval = 1 * time.Minute
	ControllerTimeout   = 10 * time.Second
	AQICacheAge         = 1 * time.Hour
	WeatherTimeout      = 15 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
	StatusBroadcast   = 5 * time.Second
)

// Config is the runtime configuration, read from hvacdash.yaml and HVACDASH_* variables.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	AirNow     AirNowConfig     `mapstructure:"airnow"`
	Weather    WeatherConfig    `mapstructure:"weather"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Controller ControllerConfig `mapstructure:"controller"`
}

type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	Port         string `mapstructure:"port"`
	DataDir      string `mapstructure:"data_dir"`
	MaxStorageMB int64  `mapstructure:"max_storage_mb"`
}

// ListenAddr joins Addr and Port.
func (s ServerConfig) ListenAddr() string {
	return s.Addr + ":" + s.Port
}

type DatabaseConfig struct {
	// Driver is sqlite, postgres or mysql
	Driver string `mapstructure:"driver"`

	// DSN defaults to <data_dir>/hvacdash.db for sqlite
	DSN string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type RetentionConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type AirNowConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Zipcode string `mapstructure:"zipcode"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// WeatherConfig locates the dashboard for the National Weather Service.
type WeatherConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Lat       float64 `mapstructure:"lat"`
	Lon       float64 `mapstructure:"lon"`
	BaseURL   string  `mapstructure:"base_url"`
	UserAgent string  `mapstructure:"user_agent"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
}

type ControllerConfig struct {
	// URL of the controller's websocket endpoint; empty disables polling and speed control
	URL          string        `mapstructure:"url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load reads configuration from an optional config file and the environment.
// path may be empty, in which case hvacdash.yaml is looked up in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hvacdash")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix("HVACDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = strings.TrimRight(cfg.Server.DataDir, "/") + "/" + DefaultDBFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key; AutomaticEnv only resolves keys viper knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.data_dir", DefaultDataDir)
	v.SetDefault("server.max_storage_mb", DefaultMaxStorageMB)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("retention.enabled", true)

	v.SetDefault("airnow.enabled", false)
	v.SetDefault("airnow.zipcode", "")
	v.SetDefault("airnow.api_key", "")
	v.SetDefault("airnow.base_url", "https://www.airnowapi.org")

	v.SetDefault("weather.enabled", false)
	v.SetDefault("weather.lat", 0.0)
	v.SetDefault("weather.lon", 0.0)
	v.SetDefault("weather.base_url", "https://api.weather.gov")
	v.SetDefault("weather.user_agent", "hvacdash")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic_prefix", "hvacdash")
	v.SetDefault("mqtt.client_id", "hvacdash")

	v.SetDefault("controller.url", "")
	v.SetDefault("controller.poll_interval", DefaultPollInterval)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required for %s", c.Database.Driver)
	}
	if c.Server.MaxStorageMB <= 0 {
		return fmt.Errorf("config: server.max_storage_mb must be positive, got %d", c.Server.MaxStorageMB)
	}
	if c.AirNow.Enabled && (c.AirNow.Zipcode == "" || c.AirNow.APIKey == "") {
		return errors.New("config: airnow.zipcode and airnow.api_key are required when airnow is enabled")
	}
	if c.Weather.Enabled {
		if c.Weather.Lat < -90 || c.Weather.Lat > 90 || c.Weather.Lon < -180 || c.Weather.Lon > 180 {
			return fmt.Errorf("config: weather location %v,%v is not a valid latitude,longitude", c.Weather.Lat, c.Weather.Lon)
		}
		if c.Weather.Lat == 0 && c.Weather.Lon == 0 {
			return errors.New("config: weather.lat and weather.lon are required when weather is enabled")
		}
	}
	if c.Controller.URL != "" && c.Controller.PollInterval < time.Second {
		return fmt.Errorf("config: controller.poll_interval %v is below one second", c.Controller.PollInterval)
	}
	return nil
}
