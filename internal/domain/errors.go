package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so transports can map them to status codes.
type ErrorKind string

const (
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindForbidden       ErrorKind = "forbidden"
	KindNotFound        ErrorKind = "not_found"
	KindInternal        ErrorKind = "internal"
	KindStale           ErrorKind = "stale"
	KindUnauthenticated ErrorKind = "unauthenticated"
)

// Error is the typed error returned by the service layer.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind and message, so wrapped sentinels
// still compare equal with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func InvalidArgument(msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

func Stale(msg string, err error) *Error {
	return &Error{Kind: KindStale, Message: msg, Err: err}
}

// KindOf reports the kind of err. Untyped errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

var (
	ErrEmptyBody            = InvalidArgument("message body is empty")
	ErrBodyTooLong          = InvalidArgument("message body is too long")
	ErrSelfMessage          = InvalidArgument("cannot send a message to yourself")
	ErrReceiverMismatch     = InvalidArgument("receiver is not the other participant of the conversation")
	ErrNotParticipant       = Forbidden("not a participant of this conversation")
	ErrNotSender            = Forbidden("only the sender can delete a message")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrMessageNotFound      = NotFound("message not found")
	ErrUserNotFound         = NotFound("user not found")
	ErrInvalidToken         = Unauthenticated("invalid or expired token")
)
