package server

import (
	"net/http"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/elskow/ditzler/internal/api"
	"github.com/elskow/ditzler/internal/config"
	"github.com/elskow/ditzler/internal/metrics"
)

const msgTooManyRequests = "Too many requests. Please slow down."

// clientLimiter keeps one token bucket per client address. Idle buckets
// expire after ClientTTL and the table never holds more than MaxClients.
type clientLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func newClientLimiter(cfg *config.RateLimitConfig, m *metrics.Metrics, log *zap.Logger) *clientLimiter {
	return &clientLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](cfg.MaxClients, nil, cfg.ClientTTL),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		metrics:  m,
		log:      log,
	}
}

func (l *clientLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(key, limiter)
	return limiter
}

func (l *clientLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *clientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := api.ClientIP(r)
		if !l.Allow(ip) {
			l.metrics.RateLimitedRequests.Inc()
			l.log.Warn("request rate limited",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "1")
			api.JSON(w, r, http.StatusTooManyRequests, api.Error(msgTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
