package packages_api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const rateLimitWindow = 70 * time.Second

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// WithRateLimiter limits POST requests to perMinute per client address.
// perMinute <= 0 disables the limit.
func (a *PackagesAPI) WithRateLimiter(rl RateLimiter, perMinute int64) *PackagesAPI {
	a.rl = rl
	a.rateLimitPerMinute = perMinute
	return a
}

func (a *PackagesAPI) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rl == nil || a.rateLimitPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("rl:http:%s:%s", clientIP(r), a.now().UTC().Format("200601021504"))
		allowed, n, err := a.rl.Allow(r.Context(), key, a.rateLimitPerMinute, rateLimitWindow)
		if err != nil {
			// redis недоступен: пропускаем запрос
			a.logger.Warn("rate limiter", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			a.metrics.RateLimited()
			a.logger.Debug("rate limited", zap.String("client", clientIP(r)), zap.Int64("count", n))
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP берёт адрес TCP-соединения; заголовки прокси клиент может подделать.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
