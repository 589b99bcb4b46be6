package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client key of a send_message command.
// A retried send with the same key is stored once and answered with the
// original message; the room store enforces that, this file only validates
// and forwards the key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	defaultIdemMaxLn = 200
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// ClientKey resolves the dedup key of a command: the validated header wins
// over the key sent in the body, which is only trimmed.
func ClientKey(c *gin.Context, fromBody string) string {
	if k, ok := GetIdempotencyKey(c); ok {
		return k
	}
	return strings.TrimSpace(fromBody)
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	MaxLen  int            // <= 0 means 200, the longest key a room message stores
	Pattern *regexp.Regexp // nil means ^[A-Za-z0-9._~\-:]+$
}

// IdempotencyValidator checks an Idempotency-Key header when one is sent and
// rejects malformed keys with 400 bad_idempotency_key. Requests without the
// header pass untouched.
func IdempotencyValidator(opts IdempotencyOptions) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLn
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		switch {
		case key == "":
		case len(key) > maxLen || !pat.MatchString(key):
			LoggerFrom(c).Warn().Int("key_len", len(key)).Msg("rejected idempotency key")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		default:
			c.Set(ctxKeyIdemKey, key)
		}
		c.Next()
	}
}
