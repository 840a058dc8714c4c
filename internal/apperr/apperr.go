package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindAuthenticationFailed
	KindInvalidPassphrase
	KindDuplicateIdentity
	KindConflict
	KindNotFound
	KindDecryptionFailed
	KindStorageFailure
	KindBroadcastDeliveryFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindAuthenticationFailed:
		return "authentication failed"
	case KindInvalidPassphrase:
		return "invalid passphrase"
	case KindDuplicateIdentity:
		return "identity already exists"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindDecryptionFailed:
		return "decryption failed"
	case KindStorageFailure:
		return "internal server error"
	case KindBroadcastDeliveryFailure:
		return "broadcast delivery failed"
	}
	return "internal server error"
}

// Sentinels for errors.Is. Every *Error of a given kind matches its sentinel.
var (
	ErrInvalidInput             = &Error{Kind: KindInvalidInput}
	ErrAuthenticationFailed     = &Error{Kind: KindAuthenticationFailed}
	ErrInvalidPassphrase        = &Error{Kind: KindInvalidPassphrase}
	ErrDuplicateIdentity        = &Error{Kind: KindDuplicateIdentity}
	ErrConflict                 = &Error{Kind: KindConflict}
	ErrNotFound                 = &Error{Kind: KindNotFound}
	ErrDecryptionFailed         = &Error{Kind: KindDecryptionFailed}
	ErrStorageFailure           = &Error{Kind: KindStorageFailure}
	ErrBroadcastDeliveryFailure = &Error{Kind: KindBroadcastDeliveryFailure}
)

// Error carries a taxonomy kind, a message safe to show a client and an
// optional internal cause that is only ever logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func E(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func InvalidInput(message string) error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Storage wraps an unclassified persistence error. Already classified errors
// pass through untouched.
func Storage(cause error) error {
	if cause == nil {
		return nil
	}
	var ae *Error
	if errors.As(cause, &ae) {
		return cause
	}
	return &Error{Kind: KindStorageFailure, Err: cause}
}

func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindAuthenticationFailed, KindInvalidPassphrase:
		return http.StatusUnauthorized
	case KindDuplicateIdentity, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindDecryptionFailed:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// PublicMessage is the only text of err that may reach a response body.
// Authentication kinds never say which factor was wrong.
func PublicMessage(err error) string {
	var ae *Error
	if !errors.As(err, &ae) {
		return KindStorageFailure.String()
	}
	switch ae.Kind {
	case KindAuthenticationFailed, KindInvalidPassphrase:
		return "invalid credentials"
	case KindStorageFailure, KindUnknown, KindBroadcastDeliveryFailure:
		return KindStorageFailure.String()
	}
	if ae.Message != "" {
		return ae.Message
	}
	return ae.Kind.String()
}
