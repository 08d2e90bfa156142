package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/ratelimit"
	"github.com/secure-share-hub/internal/response"
)

// RateLimit admits max requests per window for each client IP under name.
// If the limiter itself fails the request is let through.
func RateLimit(limiter ratelimit.Limiter, name string, max int, window time.Duration, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), name+":"+c.ClientIP(), max, window)
		if err != nil {
			logger.WithError(err).WithField("limiter", name).Warn("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			retry := int(math.Ceil(time.Until(res.ResetAt).Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			response.Error(c, http.StatusTooManyRequests, response.CodeRateLimited,
				"Too many requests, please try again later", gin.H{"retryAfter": retry})
			return
		}
		c.Next()
	}
}
