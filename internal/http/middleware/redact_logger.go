package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const redacted = "[REDACTED]"

// Patterns are applied in order; ids go before phones so the loose phone
// pattern never eats the digit groups of a UUID.
var scrubPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are masked in addition to Authorization, Cookie and
	// Set-Cookie. Case-insensitive.
	MaskHeaders []string
	// QuietPaths are logged at debug level when they succeed. Health checks and
	// scrapes would otherwise drown the RPC traffic.
	QuietPaths []string
}

type scrubber struct {
	masked map[string]struct{}
}

func newScrubber(extra []string) scrubber {
	s := scrubber{masked: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.masked[h] = struct{}{}
		}
	}
	return s
}

func (scrubber) value(v string) string {
	for _, p := range scrubPatterns {
		if v == "" {
			break
		}
		v = p.re.ReplaceAllString(v, p.repl)
	}
	return v
}

func (s scrubber) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := s.masked[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = s.value(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger writes one access line per request and installs the
// request-scoped logger (request_id, method, path) used by handlers and, via
// the request context, by services. Bodies are never logged; the query string
// and headers are scrubbed of ids, emails and phone numbers, and credential
// headers are masked entirely. RPC requests also carry the command type and
// its result code, as recorded by TagRPC and MarkRPCFailure.
//
// Level: error for 5xx or recorded gin errors, warn for 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	scrub := newScrubber(opts.MaskHeaders)
	quiet := make(map[string]struct{}, len(opts.QuietPaths))
	for _, p := range opts.QuietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}
		setLogger(c, log.Logger.With().
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger())

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		var ev *zerolog.Event
		switch _, isQuiet := quiet[path]; {
		case len(c.Errors) > 0:
			ev = lg.Error().Str("errors", c.Errors.String())
		case status >= http.StatusInternalServerError:
			ev = lg.Error()
		case status >= http.StatusBadRequest:
			ev = lg.Warn()
		case isQuiet:
			ev = lg.Debug()
		default:
			ev = lg.Info()
		}
		if typ := c.GetString(rpcTypeKey); typ != "" {
			ev = ev.Str("rpc_type", typ)
			if code := c.GetString(rpcResultKey); code != "" {
				ev = ev.Str("rpc_code", code)
			}
		}

		ev.Str("query", truncate(scrub.value(c.Request.URL.RawQuery), maxQueryLogLength)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", scrub.headers(c.Request.Header)).
			Msg("http_request")
	}
}
