package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestWithTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("binds a deadline to the request context", func(t *testing.T) {
		router := gin.New()
		router.Use(WithTimeout(50 * time.Millisecond))

		var hasDeadline bool

		router.GET("/slow", func(c *gin.Context) {
			_, hasDeadline = c.Request.Context().Deadline()
			c.String(200, "ok")
		})

		req := httptest.NewRequest(http.MethodGet, "/slow", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if !hasDeadline {
			t.Error("expected request context to carry a deadline")
		}
	})

	t.Run("context is done once the timeout elapses", func(t *testing.T) {
		router := gin.New()
		router.Use(WithTimeout(10 * time.Millisecond))

		var ctxErr error

		router.GET("/slow", func(c *gin.Context) {
			<-c.Request.Context().Done()
			ctxErr = c.Request.Context().Err()
			c.String(200, "ok")
		})

		req := httptest.NewRequest(http.MethodGet, "/slow", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if ctxErr != context.DeadlineExceeded {
			t.Errorf("expected context.DeadlineExceeded, got %v", ctxErr)
		}
	})

	t.Run("zero duration is a no-op", func(t *testing.T) {
		router := gin.New()
		router.Use(WithTimeout(0))

		var hasDeadline bool

		router.GET("/fast", func(c *gin.Context) {
			_, hasDeadline = c.Request.Context().Deadline()
			c.String(200, "ok")
		})

		req := httptest.NewRequest(http.MethodGet, "/fast", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if hasDeadline {
			t.Error("expected no deadline when duration is zero")
		}
	})
}
