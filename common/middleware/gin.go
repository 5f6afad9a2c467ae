package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"wuyrush.io/wave/common/metrics"
	se "wuyrush.io/wave/errors"
)

// GinRateLimiter is RateLimiter for gin routes
func GinRateLimiter(burst int, rps float64) gin.HandlerFunc {
	l := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !l.Allow() {
			err := se.NewTooManyRequests("rate limit exceeded")
			c.AbortWithStatusJSON(err.StatusCode(), err.Body())
			return
		}
		c.Next()
	}
}

// GinInstrument is Instrument for gin routes, labelling requests with their route pattern
func GinInstrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.InFlight.Inc()
		defer m.InFlight.Dec()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
