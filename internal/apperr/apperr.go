// Package apperr defines the error taxonomy shared by the provisioning client,
// the reconciliation engine, and the event adapters. The HTTP layer maps
// each Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an error.
type Kind int

const (
	// KindUnknown is the default when an error is not an *Error.
	KindUnknown Kind = iota
	// KindConfig is a missing or invalid configuration value, such as the API key.
	KindConfig
	// KindProvisioning is a business error returned by the provisioning API.
	KindProvisioning
	// KindTransport is a network failure or timeout; callers retry later.
	KindTransport
	// KindSiteDeleted is a 404-class answer for a site expected to exist.
	KindSiteDeleted
	// KindNotFound is a missing local record.
	KindNotFound
	// KindValidation is invalid caller input.
	KindValidation
	// KindConflict is a state conflict, such as a concurrent claim.
	KindConflict
	// KindInternal is an unexpected local failure.
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindConfig:       "config",
	KindProvisioning: "provisioning",
	KindTransport:    "transport",
	KindSiteDeleted:  "site_deleted",
	KindNotFound:     "not_found",
	KindValidation:   "validation",
	KindConflict:     "conflict",
	KindInternal:     "internal",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Error is a typed error with an optional operation, site and cause.
type Error struct {
	Kind    Kind
	Message string
	Op      string // operation that failed (optional)
	SiteID  string // site the operation targeted (optional)
	Payload []byte // raw remote payload, if any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.SiteID != "" {
		msg = fmt.Sprintf("%s (site %s)", msg, e.SiteID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindSiteDeleted:
		return http.StatusGone
	case KindProvisioning:
		return http.StatusUnprocessableEntity
	case KindTransport:
		return http.StatusBadGateway
	case KindConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithOp sets the operation name and returns e.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithSite sets the site id and returns e.
func (e *Error) WithSite(siteID string) *Error {
	e.SiteID = siteID
	return e
}

// WithPayload attaches the raw remote payload and returns e.
func (e *Error) WithPayload(p []byte) *Error {
	e.Payload = p
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ConfigError reports missing or invalid configuration.
func ConfigError(message string) *Error {
	return New(KindConfig, message)
}

// ProvisioningError reports a business error from the remote API.
func ProvisioningError(message string, err error) *Error {
	return Wrap(KindProvisioning, message, err)
}

// TransportError reports a network failure or timeout.
func TransportError(message string, err error) *Error {
	return Wrap(KindTransport, message, err)
}

// SiteDeletedError reports that the remote site no longer exists.
func SiteDeletedError(siteID string) *Error {
	return New(KindSiteDeleted, "site no longer exists on remote").WithSite(siteID)
}

// NotFound reports a missing local record.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Validation reports invalid input.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Conflict reports a state conflict.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// GetKind returns the kind of the first *Error in err's chain.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && GetKind(err) == kind
}

// IsRetryable reports whether the failure is transient.
func IsRetryable(err error) bool {
	return Is(err, KindTransport)
}

// PayloadOf returns the remote payload attached to err, if any.
func PayloadOf(err error) []byte {
	var e *Error
	if errors.As(err, &e) {
		return e.Payload
	}
	return nil
}

// SiteIDOf returns the site id attached to err, if any.
func SiteIDOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.SiteID
	}
	return ""
}
