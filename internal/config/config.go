package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every validation failure returned from Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Supported relational drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config is the root configuration for World Queries.
type Config struct {
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Launch     LaunchConfig     `mapstructure:"launch"`
	Wait       WaitConfig       `mapstructure:"wait"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Gates      GatesConfig      `mapstructure:"gates"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// DeploymentConfig holds the database connection parameters. It is built once
// by Load and never mutated afterwards.
type DeploymentConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// Addr returns host:port.
func (d DeploymentConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

type LaunchConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Descriptors []string `mapstructure:"descriptors"`
	Primary     []string `mapstructure:"primary"`
	Fallback    []string `mapstructure:"fallback"`
}

type WaitConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Interval       time.Duration `mapstructure:"interval"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type VerifyConfig struct {
	Table   string `mapstructure:"table"`
	MaxRows int    `mapstructure:"max_rows"`
}

// GatesConfig lists optional extra dependencies that must accept connections
// before the database wait starts. Empty values disable a gate.
type GatesConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	NATSURL   string `mapstructure:"nats_url"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

// legacyEnv maps deployment keys to the unprefixed variable names the stack's
// compose file and CI already export.
var legacyEnv = map[string]string{
	"deployment.host":     "DB_HOST",
	"deployment.port":     "DB_PORT",
	"deployment.name":     "DB_NAME",
	"deployment.user":     "DB_USER",
	"deployment.password": "DB_PASS",
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the WQ_ prefix (e.g. WQ_WAIT_MAX_ATTEMPTS) and the
// legacy DB_* names. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only need part of the
// configuration.
func Read(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("WQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := "WQ_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Unmarshal splits env strings on commas; commands are whitespace separated.
	cfg.Launch.Primary = v.GetStringSlice("launch.primary")
	cfg.Launch.Fallback = v.GetStringSlice("launch.fallback")

	return &cfg, nil
}

// Validate reports the first problem that would make the pipeline unusable.
func (c *Config) Validate() error {
	d := c.Deployment
	switch d.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, d.Driver)
	}
	if d.Host == "" {
		return fmt.Errorf("%w: deployment host is empty", ErrInvalidConfig)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%w: deployment port %d out of range", ErrInvalidConfig, d.Port)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidConfig)
	}
	// No credentials are shipped; both must come from the environment or file.
	if d.User == "" || d.Password == "" {
		return fmt.Errorf("%w: DB_USER and DB_PASS must be set", ErrInvalidConfig)
	}

	if c.Launch.Enabled {
		if len(c.Launch.Descriptors) == 0 {
			return fmt.Errorf("%w: no compose descriptor names", ErrInvalidConfig)
		}
		if len(c.Launch.Primary) == 0 || len(c.Launch.Fallback) == 0 {
			return fmt.Errorf("%w: launch commands must not be empty", ErrInvalidConfig)
		}
	}

	if c.Wait.MaxAttempts < 1 {
		return fmt.Errorf("%w: wait.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Wait.Interval < 0 || c.Wait.AttemptTimeout < 0 {
		return fmt.Errorf("%w: wait durations must not be negative", ErrInvalidConfig)
	}

	if c.Verify.Table == "" {
		return fmt.Errorf("%w: verify.table is empty", ErrInvalidConfig)
	}
	if c.Verify.MaxRows < 0 {
		return fmt.Errorf("%w: verify.max_rows must not be negative", ErrInvalidConfig)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.driver", DriverMySQL)
	v.SetDefault("deployment.host", "localhost")
	v.SetDefault("deployment.port", 3306)
	v.SetDefault("deployment.name", "SET08103")
	v.SetDefault("deployment.user", "")
	v.SetDefault("deployment.password", "")

	v.SetDefault("launch.enabled", true)
	v.SetDefault("launch.descriptors", []string{"docker-compose.yml", "docker-compose.yaml"})
	v.SetDefault("launch.primary", []string{"docker", "compose", "up", "-d"})
	v.SetDefault("launch.fallback", []string{"docker-compose", "up", "-d"})

	v.SetDefault("wait.max_attempts", 30)
	v.SetDefault("wait.interval", 2*time.Second)
	v.SetDefault("wait.attempt_timeout", 5*time.Second)

	v.SetDefault("verify.table", "country")
	v.SetDefault("verify.max_rows", 0)

	v.SetDefault("gates.redis_addr", "")
	v.SetDefault("gates.nats_url", "")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "world-queries")
	v.SetDefault("telemetry.log_level", "info")
}
