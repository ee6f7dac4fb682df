// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file bridges the ratelimit.Governor into the request path: it derives
// a caller identifier, asks the governor for an admission decision, stamps
// the budget headers, and turns denials into 429 responses.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/companion-labs/go-companion-backend/internal/ratelimit"
)

var rateLimitDenials = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_denials_total",
		Help: "Total number of requests denied by the rate limiter, by window.",
	},
	[]string{"window"},
)

func init() {
	prometheus.MustRegister(rateLimitDenials)
}

// exemptPaths are never rate limited: probes and scrape endpoints must stay
// reachable when a caller has exhausted its budget.
var exemptPaths = map[string]struct{}{
	"/":        {},
	"/health":  {},
	"/status":  {},
	"/metrics": {},
}

// ClientIdentifier derives the governor key for a request. Behind the proxy
// the leftmost X-Forwarded-For entry is the real client; without the header
// the caller is bucketed as unknown, which collapses direct (non-proxied)
// traffic into one shared budget rather than trusting a spoofable address.
func ClientIdentifier(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); first != "" {
			return "ip:" + first
		}
	}
	return "ip:unknown"
}

// RateLimit enforces the dual-window budget on every non-exempt route.
//
// Allowed requests carry the remaining budget:
//
//	X-RateLimit-Limit-Minute / X-RateLimit-Remaining-Minute
//	X-RateLimit-Limit-Hour   / X-RateLimit-Remaining-Hour
//
// Denials carry no budget headers; they return 429 with Retry-After and a
// body naming the exhausted window:
//
//	{
//	  "error":       "rate_limit_exceeded",
//	  "message":     "Rate limit exceeded. Try again in 12 seconds.",
//	  "retry_after": 12,
//	  "limit_type":  "per_minute",
//	  "limit":       60
//	}
func RateLimit(g *ratelimit.Governor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exempt := exemptPaths[c.Request.URL.Path]; exempt {
			c.Next()
			return
		}

		d := g.Admit(ClientIdentifier(c))
		h := c.Writer.Header()

		if d.Allowed {
			h.Set("X-RateLimit-Limit-Minute", strconv.Itoa(g.PerMinute()))
			h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(g.PerHour()))
			h.Set("X-RateLimit-Remaining-Minute", strconv.Itoa(d.RemainingMinute))
			h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(d.RemainingHour))
			c.Next()
			return
		}

		rateLimitDenials.WithLabelValues(d.Window).Inc()
		retry := strconv.Itoa(d.RetryAfter)
		h.Set("Retry-After", retry)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limit_exceeded",
			"message":     "Rate limit exceeded. Try again in " + retry + " seconds.",
			"retry_after": d.RetryAfter,
			"limit_type":  d.Window,
			"limit":       d.Limit,
		})
	}
}
