package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client-IP token bucket. Idle buckets are swept until ctx is done.
func RateLimiter(ctx context.Context, logger *zap.Logger, requestsPerSecond float64, burst int) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	// A zero burst would refuse every request.
	if burst < 1 {
		burst = 1
	}
	var mutex sync.Mutex
	limiters := make(map[string]*clientLimiter)

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mutex.Lock()
				for clientIP, entry := range limiters {
					if time.Since(entry.lastSeen) > limiterIdleTTL {
						delete(limiters, clientIP)
					}
				}
				mutex.Unlock()
			}
		}
	}()

	return func(contextGin *gin.Context) {
		clientIP := contextGin.ClientIP()

		mutex.Lock()
		entry, ok := limiters[clientIP]
		if !ok {
			entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
			limiters[clientIP] = entry
		}
		entry.lastSeen = time.Now()
		mutex.Unlock()

		if !entry.limiter.Allow() {
			logger.Warn("rate limit exceeded",
				zap.String("code", "http.rate_limited"),
				zap.String("client_ip", clientIP))
			contextGin.Header("Retry-After", "1")
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		contextGin.Next()
	}
}
