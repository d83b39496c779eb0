package lifecycle

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeUnknownEvent         = "LIFECYCLE_UNKNOWN_EVENT"
	ErrCodeMissingJustification = "LIFECYCLE_MISSING_JUSTIFICATION"
	ErrCodeBusy                 = "LIFECYCLE_BUSY"
	ErrCodeVersionConflict      = "LIFECYCLE_VERSION_CONFLICT"
	ErrCodeInvalidTransition    = "LIFECYCLE_INVALID_TRANSITION"
	ErrCodeForbidden            = "LIFECYCLE_FORBIDDEN"
	ErrCodeNotFound             = "LIFECYCLE_NOT_FOUND"
	ErrCodeStorageFailed        = "LIFECYCLE_STORAGE_FAILED"
	ErrCodeAuditWriteFailed     = "LIFECYCLE_AUDIT_WRITE_FAILED"
	ErrCodeInconsistent         = "LIFECYCLE_INCONSISTENT"
	ErrCodeBadConfig            = "LIFECYCLE_BAD_CONFIG"
	ErrCodeBadRequest           = "LIFECYCLE_BAD_REQUEST"
)

var (
	// ErrUnknownEvent indicates the event is not defined for the entity kind.
	ErrUnknownEvent = apperrors.New("event not defined for kind", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeUnknownEvent)
	// ErrMissingJustification indicates a required justification was absent or blank.
	ErrMissingJustification = apperrors.New("justification required", apperrors.CategoryValidation).
				WithTextCode(ErrCodeMissingJustification)
	// ErrBusy indicates a concurrent mutation holds the entity lock. Retryable.
	ErrBusy = apperrors.New("entity is busy", apperrors.CategoryConflict).
		WithTextCode(ErrCodeBusy)
	// ErrVersionConflict indicates the caller acted on a stale version. Retryable after refresh.
	ErrVersionConflict = apperrors.New("version conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
	// ErrInvalidTransition indicates the current state does not admit the event.
	ErrInvalidTransition = apperrors.New("invalid transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)
	// ErrForbidden indicates a guard or role check rejected the request.
	ErrForbidden = apperrors.New("not permitted", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeForbidden)
	// ErrNotFound indicates the entity does not exist.
	ErrNotFound = apperrors.New("entity not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeNotFound)
	// ErrStorageFailed indicates the storage collaborator rejected a write or read.
	ErrStorageFailed = apperrors.New("storage operation failed", apperrors.CategoryExternal).
				WithTextCode(ErrCodeStorageFailed)
	// ErrAuditWriteFailed indicates the audit append failed after the state write.
	ErrAuditWriteFailed = apperrors.New("audit append failed", apperrors.CategoryExternal).
				WithTextCode(ErrCodeAuditWriteFailed)
	// ErrInconsistent indicates a compensating rollback failed. Requires operator attention.
	ErrInconsistent = apperrors.New("state and audit log diverged", apperrors.CategoryExternal).
			WithTextCode(ErrCodeInconsistent)
	// ErrBadConfig indicates an invalid lifecycle configuration. Fatal at startup.
	ErrBadConfig = apperrors.New("invalid lifecycle configuration", apperrors.CategoryValidation).
			WithTextCode(ErrCodeBadConfig)
	// ErrBadRequest indicates a malformed request envelope.
	ErrBadRequest = apperrors.New("bad request", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeBadRequest)
)

// CloneError derives a request-scoped error from one of the base errors,
// optionally overriding the message and attaching a source and metadata.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrBadRequest
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode extracts the stable text code from an error, or "" when absent.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsRetryable reports whether the caller may retry the operation, possibly
// after re-reading the entity. Only lock contention and stale-version
// conflicts qualify.
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeBusy, ErrCodeVersionConflict:
		return true
	default:
		return false
	}
}
