package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the seven error kinds the write pipeline can surface.
var (
	// ErrValidation covers a missing key, a null value on a required field, or an
	// unknown property name presented to a registered table descriptor.
	ErrValidation = fmt.Errorf("validation failed")
	// ErrCodec covers a corrupt or truncated varint delta stream.
	ErrCodec = fmt.Errorf("codec error")
	// ErrDimMismatch covers an embedding vector whose dimensionality does not match
	// the index namespace it is being inserted into.
	ErrDimMismatch = fmt.Errorf("vector dimension mismatch")
	// ErrIntegrity covers a recomputed hash chain that does not match the stored hash.
	ErrIntegrity = fmt.Errorf("integrity chain mismatch")
	// ErrStorage covers an underlying relational store failure, surfaced with context.
	ErrStorage = fmt.Errorf("storage error")
	// ErrCancelled covers a context cancellation observed before a write committed.
	ErrCancelled = fmt.Errorf("operation cancelled")

	// Embedding / vector errors.
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")
	ErrVectorSearch    = fmt.Errorf("vector search failed")

	// Write pipeline errors.
	ErrNotRegistered = fmt.Errorf("table not registered")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Engine.Insert")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "timeseries", "vectorindex"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
// Use this with category sentinels (ErrNotFound, ErrTimeout, etc.) so that ErrorCodeOf
// can map the combination of sentinel + subsystem to a specific ErrorCode.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
// Storage and provider failures are treated as retryable; validation, codec, integrity,
// dimension-mismatch, and cancellation are not — retrying them cannot change the outcome.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrProviderError) || errors.Is(err, ErrStorage)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeDuplicate       ErrorCode = "DUPLICATE"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeProviderError   ErrorCode = "PROVIDER_ERROR"
	CodeValidation      ErrorCode = "VALIDATION"
	CodeCodec           ErrorCode = "CODEC"
	CodeDimMismatch     ErrorCode = "DIM_MISMATCH"
	CodeIntegrity       ErrorCode = "INTEGRITY"
	CodeStorage         ErrorCode = "STORAGE"
	CodeCancelled       ErrorCode = "CANCELLED"
	CodeEmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
	CodeVectorSearch    ErrorCode = "VECTOR_SEARCH"
	CodeNotRegistered   ErrorCode = "NOT_REGISTERED"

	// Subsystem-specific codes used by subSystemCodeMap for ambiguous category sentinels.
	CodeTimeseriesNotFound ErrorCode = "TIMESERIES_NOT_FOUND"
	CodeChangelogNotFound  ErrorCode = "CHANGELOG_NOT_FOUND"
	CodeEntityNotFound     ErrorCode = "ENTITY_NOT_FOUND"
	CodeStorageTimeout     ErrorCode = "STORAGE_TIMEOUT"
	CodeEmbeddingTimeout   ErrorCode = "EMBEDDING_TIMEOUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrValidation:      CodeValidation,
	ErrCodec:           CodeCodec,
	ErrDimMismatch:     CodeDimMismatch,
	ErrIntegrity:       CodeIntegrity,
	ErrStorage:         CodeStorage,
	ErrCancelled:       CodeCancelled,
	ErrEmbeddingFailed: CodeEmbeddingFailed,
	ErrVectorSearch:    CodeVectorSearch,
	ErrNotRegistered:   CodeNotRegistered,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
// This enables NewSubSystemError-based errors to resolve to a more specific code
// than the bare category sentinel would — e.g. ErrNotFound raised by the timeseries
// reader vs. the change log reader.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"timeseries": CodeTimeseriesNotFound,
		"changelog":  CodeChangelogNotFound,
		"entity":     CodeEntityNotFound,
	},
	ErrTimeout: {
		"store":     CodeStorageTimeout,
		"embedding": CodeEmbeddingTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// For DomainErrors with a SubSystem, it also checks the subSystemCodeMap
// to resolve category sentinels to specific codes.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	// Unwrap DomainError to check its inner sentinel and subsystem.
	var de *DomainError
	if errors.As(err, &de) {
		if de.SubSystem != "" {
			if subsysMap, ok := subSystemCodeMap[de.Err]; ok {
				if code, ok := subsysMap[de.SubSystem]; ok {
					return code
				}
			}
		}
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
