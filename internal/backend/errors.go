package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// PostgREST and Postgres codes the kiosk needs to tell apart.
const (
	CodeNoRows          = "PGRST116"
	CodeUniqueViolation = "23505"
	CodeRaiseException  = "P0001"
	CodeNoDataFound     = "P0002"
)

// Error is a structured {code, message} failure returned by the backend.
type Error struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is the backend's "no row found" signal.
func IsNotFound(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == CodeNoRows
}

// IsUniqueViolation reports a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == CodeUniqueViolation
}

// IsRaisedException reports an exception raised by a stored procedure.
func IsRaisedException(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == CodeRaiseException
}

// HasCode reports whether err is a backend Error carrying code.
func HasCode(err error, code string) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == code
}

// IsUnauthorized reports rejected credentials or tokens.
func IsUnauthorized(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	switch be.Code {
	case "invalid_grant", "invalid_credentials", "bad_jwt", "session_not_found":
		return true
	}
	return be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden
}

// isRetryable reports transport failures and server-side errors.
func isRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Status >= http.StatusInternalServerError
	}
	return true
}

// parseError decodes PostgREST ({code,message,details,hint}) and auth
// ({error,error_description} or {code,error_code,msg}) error bodies.
func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		e.Message = http.StatusText(status)
		if len(body) > 0 {
			e.Message = string(body)
		}
		return e
	}

	e.Code = stringField(raw, "error_code", "code", "error")
	e.Message = stringField(raw, "message", "msg", "error_description", "error")
	e.Details = stringField(raw, "details")
	e.Hint = stringField(raw, "hint")
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
