package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quietriver/chatrelay/internal/common"
	"github.com/quietriver/chatrelay/internal/logger"
)

// Recovery converts panics into the uniform Fail envelope. Nothing in
// the request path is allowed to crash the process.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", "panic", r, "path", c.FullPath())
				common.Fail(c, http.StatusInternalServerError, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
