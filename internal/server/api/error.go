package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/looplj/m365gateway/internal/m365"
)

// writeError renders err as the OpenAI error envelope, using the status and
// code carried by a *m365.Error when present, else a generic 500.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var merr *m365.Error
	if errors.As(err, &merr) {
		c.Data(merr.StatusCode, "application/json", merr.Body())

		return
	}

	fallback := m365.NewError("internal_error", http.StatusInternalServerError, err.Error())
	c.Data(http.StatusInternalServerError, "application/json", fallback.Body())
}
