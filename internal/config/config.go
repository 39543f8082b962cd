package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("config: invalid configuration")

// EnvConfigFile names an optional YAML file read before the environment
const EnvConfigFile = "GATEWAY_CONFIG"

// Config is the runtime configuration of the gateway
type Config struct {
	APIKey          string        `mapstructure:"api_key"`
	Port            int           `mapstructure:"port"`
	APIVersion      string        `mapstructure:"api_version"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	ServiceName     string        `mapstructure:"service_name"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`

	Log      LogConfig      `mapstructure:"log"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RabbitMQConfig holds broker settings. URL wins over the individual
// parts when set.
type RabbitMQConfig struct {
	URL                  string        `mapstructure:"url"`
	User                 string        `mapstructure:"user"`
	Password             string        `mapstructure:"password"`
	Host                 string        `mapstructure:"host"`
	Port                 int           `mapstructure:"port"`
	VHost                string        `mapstructure:"vhost"`
	Exchange             string        `mapstructure:"exchange"`
	ConfirmDelivery      bool          `mapstructure:"confirm_delivery"`
	ConfirmTimeout       time.Duration `mapstructure:"confirm_timeout"`
	PersistentDelivery   bool          `mapstructure:"persistent_delivery"`
	DeclareQueues        bool          `mapstructure:"declare_queues"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	BreakerThreshold     int           `mapstructure:"breaker_threshold"`
	BreakerCooldown      time.Duration `mapstructure:"breaker_cooldown"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("port", 8000)
	v.SetDefault("api_version", "v1")
	v.SetDefault("api_prefix", "")
	v.SetDefault("service_name", "The communication microservice")
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("health_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.user", "")
	v.SetDefault("rabbitmq.password", "")
	v.SetDefault("rabbitmq.host", "rabbitmq")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "")
	v.SetDefault("rabbitmq.exchange", "communication_exchange")
	v.SetDefault("rabbitmq.confirm_delivery", false)
	v.SetDefault("rabbitmq.confirm_timeout", "5s")
	v.SetDefault("rabbitmq.persistent_delivery", false)
	v.SetDefault("rabbitmq.declare_queues", false)
	v.SetDefault("rabbitmq.reconnect_delay", "5s")
	v.SetDefault("rabbitmq.max_reconnect_attempts", -1)
	v.SetDefault("rabbitmq.breaker_threshold", 5)
	v.SetDefault("rabbitmq.breaker_cooldown", "30s")
}

// Load reads dotenv files (".env" when none is given; missing files are
// ignored), then an optional YAML file named by GATEWAY_CONFIG, then the
// environment. Environment variables use the upper-case key with dots
// replaced by underscores, e.g. RABBITMQ_URL.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate checks required values and ranges
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, fmt.Errorf("%w: API_KEY is required", ErrInvalidConfig))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: PORT %d out of range", ErrInvalidConfig, c.Port))
	}
	if strings.Trim(c.APIVersion, "/") == "" {
		errs = append(errs, fmt.Errorf("%w: API_VERSION is required", ErrInvalidConfig))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("%w: MAX_BODY_BYTES must be positive", ErrInvalidConfig))
	}
	if c.RabbitMQ.Exchange == "" {
		errs = append(errs, fmt.Errorf("%w: RABBITMQ_EXCHANGE is required", ErrInvalidConfig))
	}
	if c.RabbitMQ.URL == "" && c.RabbitMQ.Host == "" {
		errs = append(errs, fmt.Errorf("%w: RABBITMQ_URL or RABBITMQ_HOST is required", ErrInvalidConfig))
	}
	if c.RabbitMQ.BreakerThreshold < 0 {
		errs = append(errs, fmt.Errorf("%w: RABBITMQ_BREAKER_THRESHOLD must not be negative", ErrInvalidConfig))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalidConfig, err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("%w: LOG_FORMAT must be json or text, got %q", ErrInvalidConfig, c.Log.Format))
	}

	return errors.Join(errs...)
}

// Addr is the listen address of the HTTP server
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// SlogLevel parses Log.Level
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Log.Level))
	return level, err
}

// AMQPURL returns RabbitMQ.URL, or builds one from the individual parts
func (c *RabbitMQConfig) AMQPURL() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	if c.VHost != "" {
		u.Path = "/" + c.VHost
		u.RawPath = "/" + url.PathEscape(c.VHost)
	}
	return u.String()
}
