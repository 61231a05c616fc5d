// Package apperr defines the error taxonomy shared by every layer of the
// service and the registry that maps error codes onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	Unauthorized        Code = "auth/unauthorized"
	Forbidden           Code = "auth/forbidden"
	InvalidCredentials  Code = "auth/invalid-credentials"
	EmailAlreadyInUse   Code = "auth/email-already-in-use"
	AlreadyVerified     Code = "auth/already-verified"
	TokenNotFound       Code = "token/not-found"
	TokenAlreadyUsed    Code = "token/already-used"
	TokenDeprecated     Code = "token/deprecated"
	TokenExpired        Code = "token/expired"
	TokenTypeMismatch   Code = "token/type-mismatch"
	InvalidRefreshToken Code = "refresh-token/invalid"
	RefreshTokenExpired Code = "refresh-token/expired"
	RefreshTokenRevoked Code = "refresh-token/revoked"
	MissingRefreshToken Code = "refresh-token/missing"
	CaptchaInvalidToken Code = "captcha/invalid-token"
	CaptchaFailed       Code = "captcha/validation-failed"
	ValidationError     Code = "validation/error"
	BadRequest          Code = "request/bad"
	RequestTooLarge     Code = "request/too-large"
	RateLimited         Code = "request/rate-limited"
	NotFound            Code = "resource/not-found"
	InternalError       Code = "system/internal-error"
)

// Error is a coded failure. Message is safe to show to clients; Err carries
// the underlying cause for logs only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = Lookup(e.Code).Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so errors.Is(err, apperr.New(code, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Internal wraps an unexpected failure. The cause never reaches the client.
func Internal(err error) *Error {
	return &Error{Code: InternalError, Err: err}
}

// CodeOf returns the code of the first *Error in the chain, or InternalError.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// PublicMessage is the client-facing message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != InternalError && e.Message != "" {
		return e.Message
	}
	return Lookup(CodeOf(err)).Message
}
