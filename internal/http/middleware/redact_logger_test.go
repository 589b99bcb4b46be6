package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev, prevLvl := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() { log.Logger = prev; zerolog.SetGlobalLevel(prevLvl) })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(ln), &m); err != nil {
			t.Fatalf("bad log line %q: %v", ln, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRedactingLogger_ScrubsQueryAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-resp"); c.Next() })
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"Idempotency-Key"}}))
	r.GET("/rooms/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	q := "email=a.b+tag@example.com&phone=+1-555-123-4567&id=123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet, "/rooms/abc?"+q, nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("Idempotency-Key", "send-1")
	req.Header.Set("X-Player", "mail a@b.com id=123e4567-e89b-12d3-a456-426614174000 tel 555-123-4567")
	req.Header.Set(requestIDHeader, "rid-req")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("want one access line, got %d", len(lines))
	}
	ln := lines[0]
	if ln["level"] != "info" || ln["path"] != "/rooms/:id" || ln["request_id"] != "rid-resp" {
		t.Fatalf("unexpected access fields: %v", ln)
	}
	query, _ := ln["query"].(string)
	for _, tag := range []string{"[REDACTED:email]", "[REDACTED:phone]", "[REDACTED:id]"} {
		if !strings.Contains(query, tag) {
			t.Errorf("query %q lacks %s", query, tag)
		}
	}
	headers, _ := ln["headers"].(map[string]any)
	for _, h := range []string{"Authorization", "Cookie", "Idempotency-Key"} {
		if headers[h] != redacted {
			t.Errorf("%s = %v; want masked", h, headers[h])
		}
	}
	if got := headers["X-Player"]; got != "mail [REDACTED:email] id=[REDACTED:id] tel [REDACTED:phone]" {
		t.Errorf("X-Player = %v", got)
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{QuietPaths: []string{"/health"}}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/error", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, p := range []string{"/health", "/warn", "/error"} {
		req := httptest.NewRequest(http.MethodGet, p, nil)
		req.Header.Set(requestIDHeader, "rid"+p)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	want := map[string]string{"/health": "debug", "/warn": "warn", "/error": "error"}
	for _, ln := range logLines(t, buf) {
		p, _ := ln["path"].(string)
		if ln["level"] != want[p] || ln["request_id"] != "rid"+p {
			t.Errorf("%s: level=%v rid=%v", p, ln["level"], ln["request_id"])
		}
	}
}

func TestRedactingLogger_RPCFieldsAndRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r.POST("/rpc", func(c *gin.Context) {
		TagRPC(c, "join_private_room")
		MarkRPCFailure(c, "room_not_found")
		zerolog.Ctx(c.Request.Context()).Warn().Str("room_code", "RND1234").Msg("join rejected")
		c.Status(http.StatusOK)
	})
	r.POST("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("store unreachable"))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set(requestIDHeader, "rid-ctx")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/boom", nil))

	lines := logLines(t, buf)
	if len(lines) != 3 {
		t.Fatalf("want service line + two access lines, got %d", len(lines))
	}
	if lines[0]["message"] != "join rejected" || lines[0]["request_id"] != "rid-ctx" || lines[0]["path"] != "/rpc" {
		t.Fatalf("service line missing request fields: %v", lines[0])
	}
	if lines[1]["rpc_type"] != "join_private_room" || lines[1]["rpc_code"] != "room_not_found" || lines[1]["level"] != "info" {
		t.Fatalf("rpc access line: %v", lines[1])
	}
	if lines[2]["level"] != "error" || !strings.Contains(lines[2]["errors"].(string), "store unreachable") {
		t.Fatalf("gin errors should raise the access line to error: %v", lines[2])
	}
	if _, ok := lines[2]["rpc_type"]; ok {
		t.Fatalf("untagged request has rpc_type: %v", lines[2])
	}
}

func Test_scrubber_value(t *testing.T) {
	s := newScrubber(nil)
	cases := []struct{ in, want string }{
		{"", ""},
		{"room=RND1234", "room=RND1234"},
		{"bob@example.org", "[REDACTED:email]"},
		{"0190a5c8-7b1e-7c3d-8a2b-1234567890ab", "[REDACTED:id]"},
	}
	for _, tc := range cases {
		if got := s.value(tc.in); got != tc.want {
			t.Errorf("value(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}
