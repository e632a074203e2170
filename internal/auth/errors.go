package auth

import (
	"errors"
	"strings"
)

// Provider error codes.
const (
	CodeUnauthorizedDomain     = "auth/unauthorized-domain"
	CodePopupClosedByUser      = "auth/popup-closed-by-user"
	CodePopupBlocked           = "auth/popup-blocked"
	CodeCancelledPopupRequest  = "auth/cancelled-popup-request"
	CodeOperationNotSupported  = "auth/operation-not-supported-in-this-environment"
	CodeNetworkRequestFailed   = "auth/network-request-failed"
	CodeInvalidCredential      = "auth/invalid-credential"
	CodeInvalidPersistenceType = "auth/invalid-persistence-type"
	CodeUserCancelled          = "auth/user-cancelled"
	CodeInternalError          = "auth/internal-error"
)

var (
	// ErrNoVisitor is returned when a request carries no usable visitor.
	ErrNoVisitor = errors.New("no visitor session")
	// ErrUnknownFlow is returned for callbacks that match no pending sign-in.
	ErrUnknownFlow = errors.New("unknown or expired sign-in flow")
)

// Error is a provider failure tagged with a code.
type Error struct {
	Code string
	Err  error
}

// NewError tags err with code. err may be nil.
func NewError(code string, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the provider code carried anywhere in err's chain, or "".
func CodeOf(err error) string {
	var authErr *Error
	if errors.As(err, &authErr) {
		return strings.TrimSpace(authErr.Code)
	}
	return ""
}

// fallsBackToRedirect reports whether a popup failure should be retried as a
// full-page redirect.
func fallsBackToRedirect(code string) bool {
	switch code {
	case CodePopupBlocked, CodeCancelledPopupRequest, CodeOperationNotSupported:
		return true
	}
	return false
}
