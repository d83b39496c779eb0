package lifecycle

import (
	"net/http"
	"strings"
)

// TransportErrorMapping defines the protocol-level mapping for a core error.
type TransportErrorMapping struct {
	Code       string
	HTTPStatus int
	Retryable  bool
}

// ErrorEnvelope is the wire shape for error responses.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MapError maps core errors to their transport mapping by stable text code.
func MapError(err error) TransportErrorMapping {
	code := strings.TrimSpace(ErrorCode(err))

	switch code {
	case ErrCodeUnknownEvent, ErrCodeNotFound:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusNotFound}
	case ErrCodeMissingJustification:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusUnprocessableEntity}
	case ErrCodeBusy, ErrCodeVersionConflict:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusConflict, Retryable: true}
	case ErrCodeInvalidTransition:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusConflict}
	case ErrCodeForbidden:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusForbidden}
	case ErrCodeBadRequest, ErrCodeBadConfig:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusBadRequest}
	default:
		// StorageFailed, AuditWriteFailed, Inconsistent, and anything unknown.
		if code == "" {
			code = ErrCodeStorageFailed
		}
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusInternalServerError}
	}
}

// HTTPStatusForError returns the mapped HTTP status code for a core error.
func HTTPStatusForError(err error) int {
	return MapError(err).HTTPStatus
}

// ErrorEnvelopeFor returns the canonical wire envelope for a core error.
func ErrorEnvelopeFor(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	return &ErrorEnvelope{
		Code:    MapError(err).Code,
		Message: err.Error(),
	}
}
