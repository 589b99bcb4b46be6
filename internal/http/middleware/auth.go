package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-fluency-battle/internal/auth"
)

// userIDKey is the Gin context key holding the verified caller.
const userIDKey = "userID"

// UserID returns the caller identity set by Authenticate.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// Authenticate verifies the Authorization bearer credential and stores the
// subject under the "userID" key. The request-scoped logger gains a user_id
// field. Missing or invalid credentials abort with 401; any other verifier
// failure (for example an unreachable identity provider) aborts with 503.
func Authenticate(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := v.Verify(c.Request.Context(), auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			status, msg := http.StatusUnauthorized, "missing or invalid credentials"
			if !errors.Is(err, auth.ErrMissingCredential) && !errors.Is(err, auth.ErrInvalidCredential) {
				status, msg = http.StatusServiceUnavailable, "identity verification unavailable"
			}
			LoggerFrom(c).Warn().Err(err).Int("status", status).Msg("authentication failed")
			c.AbortWithStatusJSON(status, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       codeFor(status),
				"message":    msg,
			})
			return
		}

		c.Set(userIDKey, uid)
		setLogger(c, LoggerFrom(c).With().Str("user_id", uid).Logger())
		c.Next()
	}
}

func codeFor(status int) string {
	if status == http.StatusUnauthorized {
		return "unauthorized"
	}
	return "unavailable"
}
