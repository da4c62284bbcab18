package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/looplj/m365gateway/internal/log"
)

// AccessLog logs method, path, status, and latency for every request that
// errors or returns a non-2xx/3xx status; quiet requests are not logged.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		if status < 400 && len(c.Errors) == 0 {
			return
		}

		ctx := c.Request.Context()

		fields := []log.Field{
			log.Int("status", status),
			log.String("method", c.Request.Method),
			log.String("path", c.Request.URL.Path),
			log.Duration("latency", time.Since(start)),
			log.String("client_ip", c.ClientIP()),
		}

		if errs := c.Errors.Errors(); len(errs) > 0 {
			fields = append(fields, log.Strings("errors", errs))
		}

		log.Error(ctx, "[ACCESS]", fields...)
	}
}
