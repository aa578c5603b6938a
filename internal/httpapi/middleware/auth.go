package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quietriver/chatrelay/internal/auth"
	"github.com/quietriver/chatrelay/internal/common"
)

const UserIDKey = "user_id"

// AuthRequired resolves the bearer token to a user id. The relay only
// ever sees the id; token issuance and verification live here.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			common.Fail(c, http.StatusUnauthorized, common.ErrAuth.Error())
			c.Abort()
			return
		}
		uid, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, common.ErrAuth.Error())
			c.Abort()
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}
