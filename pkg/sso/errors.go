package sso

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a terminal sign-on failure
type Kind string

const (
	KindMissingAttributes    Kind = "missing_attributes"
	KindInvalidLoginFormat   Kind = "invalid_login_format"
	KindEmailMismatch        Kind = "email_mismatch"
	KindRegistrationDisabled Kind = "registration_disabled"
	KindRegistrationFailed   Kind = "registration_failed"
	KindAutoloadMissing      Kind = "autoload_missing"
)

var kindMessages = map[Kind]string{
	KindMissingAttributes:    "The user attributes are missing.",
	KindInvalidLoginFormat:   "The supplied identifier is not suitable as a username.",
	KindEmailMismatch:        "The single sign-on user data is not consistent with the user data of this website.",
	KindRegistrationDisabled: "User registration is currently not allowed.",
	KindRegistrationFailed:   "User registration failed.",
	KindAutoloadMissing:      "The identity provider client could not be loaded.",
}

// Message returns the user-facing explanation for the kind
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return "Sign-on failed."
}

// HTTPStatus returns the status code the failure is rendered with
func (k Kind) HTTPStatus() int {
	switch k {
	case KindRegistrationFailed, KindAutoloadMissing:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

// Error is a terminal sign-on failure. None of them are retried.
type Error struct {
	Kind Kind
	Err  error
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrMissingAttributes    = &Error{Kind: KindMissingAttributes}
	ErrInvalidLoginFormat   = &Error{Kind: KindInvalidLoginFormat}
	ErrEmailMismatch        = &Error{Kind: KindEmailMismatch}
	ErrRegistrationDisabled = &Error{Kind: KindRegistrationDisabled}
	ErrRegistrationFailed   = &Error{Kind: KindRegistrationFailed}
	ErrAutoloadMissing      = &Error{Kind: KindAutoloadMissing}
)

// ErrChallengeIssued is returned after the adapter redirected the client to
// the identity provider. The response has been written.
var ErrChallengeIssued = errors.New("federated login challenge issued")

// Adapter capability errors
var (
	ErrNoCallback = errors.New("adapter does not handle callbacks")
	ErrNoMetadata = errors.New("adapter does not publish metadata")
)

// KindOf returns the kind of a sign-on error, or "" for other errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
