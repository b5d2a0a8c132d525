// Package errs is the error taxonomy shared by the registry, the tenancy layer and the
// session authority. Handlers translate codes into HTTP statuses with HTTPStatus.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error codes.
const (
	EInternal             = "internal error"
	ENotFound             = "not found"
	EConflict             = "conflict"
	EInvalid              = "invalid"
	EUnauthorized         = "unauthorized"
	EVerificationRequired = "verification required"
	EForbidden            = "forbidden"
	EUnavailable          = "unavailable"
	ETooManyRequests      = "too many requests"
)

// Principal identifies the holder of an active session in a session-conflict error.
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Error carries a machine-readable Code, a human-readable Msg, the operation
// that failed and an optional wrapped cause.
//
// To report a validation failure:
//
//	&errs.Error{Code: errs.EInvalid, Op: "registry.Register", Msg: "slug is too short"}
//
// To wrap a store failure:
//
//	&errs.Error{Code: errs.EInternal, Op: "registry.Resolve", Err: err}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error

	// ActivePrincipal is set when a login is rejected because another
	// principal holds the shared-device session.
	ActivePrincipal *Principal
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		fmt.Fprintf(&b, "%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		fmt.Fprintf(&b, "<%s>", e.Code)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error with the given code, operation and formatted message.
func New(code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as an internal error unless it already carries a code.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: EInternal, Op: op, Err: err}
}

// ErrorCode returns the code of the first *Error in err's chain. Errors that
// carry no code are internal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return EInternal
}

// ErrorMessage returns the client-safe message for err. Internal errors never
// expose their cause.
func ErrorMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Code == EInternal || e.Code == "" {
		return "An internal error has occurred"
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Code
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return ErrorCode(err) == code
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return Is(err, EUnavailable) || Is(err, ETooManyRequests)
}

// ActivePrincipal returns the session holder named by a session-conflict error.
func ActivePrincipal(err error) (*Principal, bool) {
	var e *Error
	if errors.As(err, &e) && e.ActivePrincipal != nil {
		return e.ActivePrincipal, true
	}
	return nil, false
}

var statusByCode = map[string]int{
	ENotFound:             http.StatusNotFound,
	EInvalid:              http.StatusBadRequest,
	EConflict:             http.StatusConflict,
	EUnauthorized:         http.StatusUnauthorized,
	EVerificationRequired: http.StatusForbidden,
	EForbidden:            http.StatusForbidden,
	EUnavailable:          http.StatusServiceUnavailable,
	ETooManyRequests:      http.StatusTooManyRequests,
	EInternal:             http.StatusInternalServerError,
}

// HTTPStatus maps err to a response status. A session conflict is reported as
// 403 so clients can tell it apart from a duplicate-resource 409.
func HTTPStatus(err error) int {
	if _, ok := ActivePrincipal(err); ok {
		return http.StatusForbidden
	}
	if s, ok := statusByCode[ErrorCode(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// postgres (SQLSTATE 23505) or a gorm-translated duplicate key.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
