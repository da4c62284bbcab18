package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/looplj/m365gateway/internal/log"
)

// Recovery turns a panic in a downstream handler into a JSON 500 instead of
// an aborted connection, logging the recovered value.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(c.Request.Context(), "panic recovered", log.Any("panic", r))

				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error": gin.H{
							"message": "internal server error",
							"type":    "invalid_request_error",
							"param":   nil,
							"code":    "internal_error",
						},
					})
				}
			}
		}()

		c.Next()
	}
}
