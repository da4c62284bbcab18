package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAccessLog(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("does not panic on a successful request", func(t *testing.T) {
		router := gin.New()
		router.Use(AccessLog())

		router.GET("/ok", func(c *gin.Context) {
			c.String(200, "OK")
		})

		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != 200 {
			t.Errorf("expected status 200, got %d", w.Code)
		}
	})

	t.Run("does not panic on an error response", func(t *testing.T) {
		router := gin.New()
		router.Use(AccessLog())

		router.GET("/boom", func(c *gin.Context) {
			_ = c.Error(errTest)
			c.String(http.StatusInternalServerError, "boom")
		})

		req := httptest.NewRequest(http.MethodGet, "/boom", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", w.Code)
		}
	})
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")
