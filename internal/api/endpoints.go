package api

import "strings"

// Authentication endpoints
const (
	AuthLogin          = "/api/auth/login"
	AuthRegister       = "/api/auth/register"
	AuthForgotPassword = "/api/auth/forgot-password"
	AuthResetPassword  = "/api/auth/reset-password"
	AuthLogout         = "/api/auth/logout"
	AuthMe             = "/api/auth/me"
)

// Dashboard endpoints
const (
	DashboardSummary = "/api/dashboard/summary"
	Totes            = "/api/totes"
	Clients          = "/api/clients"
	Users            = "/api/users"
)

const (
	Health = "/healthz"
	// Metrics is served on the metrics listener only.
	Metrics = "/metrics"
)

// PublicEndpoints defines endpoints that don't require a session. Logout is
// public so that it works with a stale or missing cookie.
var PublicEndpoints = map[string]bool{
	AuthLogin:          true,
	AuthRegister:       true,
	AuthForgotPassword: true,
	AuthResetPassword:  true,
	AuthLogout:         true,
	Health:             true,
}

// IsProtected reports whether path needs a verified session. Trailing
// slashes are ignored.
func IsProtected(path string) bool {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return !PublicEndpoints[path]
}
