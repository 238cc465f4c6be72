package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	MailDriverLog  = "log"
	MailDriverSMTP = "smtp"

	minSecretLength = 32

	// DevelopmentSecret is the signing key shipped in the sample config. It is
	// refused in production.
	DevelopmentSecret = "development-only-secret-change-me-please"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate reports the first setting that would make the application unsafe or
// unable to start.
func (c *AppConfig) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	switch c.Mail.Driver {
	case MailDriverLog, MailDriverSMTP:
	default:
		return fmt.Errorf("%w: unknown mail driver %q", ErrInvalidConfig, c.Mail.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwt_secret is required", ErrInvalidConfig)
	}
	if c.Env == "production" && len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("%w: auth.jwt_secret must be at least %d characters in production",
			ErrInvalidConfig, minSecretLength)
	}
	if c.Env == "production" && c.Auth.JWTSecret == DevelopmentSecret {
		return fmt.Errorf("%w: auth.jwt_secret still holds the development default", ErrInvalidConfig)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("%w: auth.session_ttl must be positive", ErrInvalidConfig)
	}

	if c.Auth.Lockout.Enabled {
		if c.Auth.Lockout.Threshold <= 0 {
			return fmt.Errorf("%w: auth.lockout.threshold must be positive", ErrInvalidConfig)
		}
		if c.Auth.Lockout.Window <= 0 {
			return fmt.Errorf("%w: auth.lockout.window must be positive", ErrInvalidConfig)
		}
	}

	if _, err := ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required when metrics are enabled", ErrInvalidConfig)
	}

	if c.Reset.TokenTTL <= 0 {
		return fmt.Errorf("%w: reset.token_ttl must be positive", ErrInvalidConfig)
	}

	return nil
}

// ParseTrustedProxies accepts CIDR ranges and bare addresses; a bare address
// is a single-host prefix.
func ParseTrustedProxies(list []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("server.trusted_proxies: %q: %w", raw, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
