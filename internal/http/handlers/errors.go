// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Transport
// failures (malformed body, unknown command, missing identity) use an HTTP
// error status with an ErrorResponse. Failures inside the battle core are
// answered with 200 and a Failure envelope carrying one of the domain codes
// below, so the client can degrade gracefully.
//
// Example core failure:
//
//	{ "success": false, "error": "room taken or gone", "code": "room_taken" }
package handlers

import (
	"context"
	"errors"

	"github.com/tbourn/go-fluency-battle/internal/services"
)

// Transport codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnknownType      = "unknown_type"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
)

// Domain codes.
const (
	ErrCodeRoomNotFound      = "room_not_found"
	ErrCodeOwnRoom           = "own_room"
	ErrCodeRoomTaken         = "room_taken"
	ErrCodeRoomNotMatched    = "room_not_matched"
	ErrCodeRoomEnded         = "room_ended"
	ErrCodeNotHost           = "not_host"
	ErrCodeNotParticipant    = "not_participant"
	ErrCodeSelfInvite        = "self_invite"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeEmptyMessage      = "empty_message"
	ErrCodeMessageTooLong    = "message_too_long"
	ErrCodeTimeout           = "timeout"
)

var domainCodes = []struct {
	err  error
	code string
}{
	{services.ErrRoomNotFound, ErrCodeRoomNotFound},
	{services.ErrOwnRoom, ErrCodeOwnRoom},
	{services.ErrRoomTaken, ErrCodeRoomTaken},
	{services.ErrRoomNotMatched, ErrCodeRoomNotMatched},
	{services.ErrRoomEnded, ErrCodeRoomEnded},
	{services.ErrNotHost, ErrCodeNotHost},
	{services.ErrNotParticipant, ErrCodeNotParticipant},
	{services.ErrSelfInvite, ErrCodeSelfInvite},
	{services.ErrInvalidTransition, ErrCodeInvalidTransition},
	{services.ErrEmptyMessage, ErrCodeEmptyMessage},
	{services.ErrMessageTooLong, ErrCodeMessageTooLong},
	{context.DeadlineExceeded, ErrCodeTimeout},
}

// classify maps a service error to its response code and client message.
// Unknown errors get a generic message; known is false for them so the
// caller logs the underlying error.
func classify(err error) (code, msg string, known bool) {
	for _, dc := range domainCodes {
		if errors.Is(err, dc.err) {
			return dc.code, dc.err.Error(), true
		}
	}
	return ErrCodeInternal, "internal error", false
}
