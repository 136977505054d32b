package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies handler failures for the client-facing error event.
type Kind string

const (
	KindRateLimited Kind = "RATE_LIMITED"
	KindNotFound    Kind = "NOT_FOUND"
	KindForbidden   Kind = "FORBIDDEN"
	KindTooOld      Kind = "TOO_OLD"
	KindNotInRoom   Kind = "NOT_IN_ROOM"
	KindValidation  Kind = "VALIDATION_FAILED"
	KindInternal    Kind = "INTERNAL"
)

// Error is a handler failure that gets reported back to the acting
// connection only, never broadcast.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func RateLimited(scope string) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded for " + scope}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func TooOld(msg string) *Error {
	return &Error{Kind: KindTooOld, Message: msg}
}

func NotInRoom(roomID string) *Error {
	return &Error{Kind: KindNotInRoom, Message: "not a member of room " + roomID}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Classify maps any error onto the client taxonomy; unrecognized errors
// become INTERNAL with a generic message so internals never leak.
func Classify(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Kind: KindInternal, Message: "internal error"}
}
