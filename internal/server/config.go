package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/elskow/ditzler/internal/config"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"

	envPrefix = "DITZLER"
)

var defaultConfigPaths = []string{"./config/server", "."}

func LoadConfig() (*config.AppConfig, error) {
	return LoadConfigFrom(defaultConfigPaths...)
}

// LoadConfigFrom reads config.toml from the first path that has one. Values
// missing from the file fall back to defaults and every key can be overridden
// with a DITZLER_ prefixed environment variable.
func LoadConfigFrom(paths ...string) (*config.AppConfig, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvDevelopment
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)
	v.Set("env", env)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Load environment-specific server settings
	if envSettings := v.GetStringMap(fmt.Sprintf("server.%s", env)); len(envSettings) > 0 {
		if err := v.UnmarshalKey(fmt.Sprintf("server.%s", env), &cfg.Server); err != nil {
			return nil, fmt.Errorf("error unmarshaling env config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults also registers every key that has no sensible default so that
// AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	for _, key := range []string{
		"auth.jwt_secret", "auth.cookie.domain",
		"database.password", "database.migrations_dir",
		"redis.username", "redis.password",
		"anomaly.endpoint",
		"mail.host", "mail.username", "mail.password",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.cookie.secure", false)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.driver", config.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ditzler")
	v.SetDefault("database.name", "ditzler")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "ditzler.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.timeout", 2*time.Second)
	v.SetDefault("redis.key_prefix", "ditzler")

	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.login_path", "/login")
	v.SetDefault("auth.home_path", "/dashboard")
	v.SetDefault("auth.cookie.name", "auth_token")
	v.SetDefault("auth.lockout.enabled", true)
	v.SetDefault("auth.lockout.threshold", 5)
	v.SetDefault("auth.lockout.window", 15*time.Minute)
	v.SetDefault("auth.location_header", "X-Geo-Location")

	v.SetDefault("anomaly.timeout", 3*time.Second)
	v.SetDefault("anomaly.fail_open", true)

	v.SetDefault("reset.token_ttl", time.Hour)
	v.SetDefault("reset.min_response_time", 400*time.Millisecond)
	v.SetDefault("reset.link_base_url", "http://localhost:8080/reset-password")

	v.SetDefault("mail.driver", config.MailDriverLog)
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@ditzler.local")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.max_clients", 10000)
	v.SetDefault("rate_limit.client_ttl", 10*time.Minute)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", "127.0.0.1:9091")

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", "@every 1h")

	v.SetDefault("dashboard.overdue_after", 30*24*time.Hour)
}
