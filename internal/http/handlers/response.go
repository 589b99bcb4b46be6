// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response utilities used across all endpoints:
//
//   - ErrorResponse + fail() for transport errors (4xx/5xx), logged at error
//     level when >= 500.
//   - Failure + failed() for errors raised inside the battle core. They are
//     written with status 200 and success=false.
//   - ok() for success bodies.
//
// Example transport error:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "unknown_type",
//	  "message": "unknown request type \"chat\""
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-fluency-battle/internal/http/middleware"
)

// ErrorResponse is the standard error envelope for transport failures.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"bad_request"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"malformed JSON body"`
}

// Failure is the envelope for errors raised by the battle core.
type Failure struct {
	Success   bool   `json:"success" example:"false"`
	Error     string `json:"error" example:"room taken or gone"`
	Code      string `json:"code" example:"room_taken"`
	RequestID string `json:"request_id,omitempty"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failed answers a core error with 200 and a Failure body. Errors without a
// domain code are recorded on the gin context so the access log shows them.
func failed(c *gin.Context, op string, err error) {
	code, msg, known := classify(err)
	middleware.MarkRPCFailure(c, code)
	if !known {
		_ = c.Error(err)
		middleware.LoggerFrom(c).Error().Err(err).Str("op", op).Msg("rpc failed")
	}
	c.JSON(http.StatusOK, Failure{
		Success:   false,
		Error:     msg,
		Code:      code,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	})
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
