package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Engine.Insert", ErrValidation, "missing required field \"price\"")
	want := `Engine.Insert: missing required field "price": validation failed`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Engine.Insert", ErrValidation, "")
	want := "Engine.Insert: validation failed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Engine.Insert", ErrValidation, "bad field")
	if !errors.Is(err, ErrValidation) {
		t.Error("expected errors.Is to match ErrValidation through Unwrap")
	}
}

func TestDomainErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("wrapped: %w", NewDomainError("Engine.Update", ErrNotFound, "id 42"))
	var de *DomainError
	if !errors.As(wrapped, &de) {
		t.Fatal("expected errors.As to find DomainError")
	}
	if de.Op != "Engine.Update" {
		t.Errorf("Op = %q, want %q", de.Op, "Engine.Update")
	}
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	if got := ErrorCodeOf(ErrValidation); got != CodeValidation {
		t.Errorf("ErrorCodeOf(ErrValidation) = %q, want %q", got, CodeValidation)
	}
	if got := ErrorCodeOf(ErrCodec); got != CodeCodec {
		t.Errorf("ErrorCodeOf(ErrCodec) = %q, want %q", got, CodeCodec)
	}
	if got := ErrorCodeOf(ErrDimMismatch); got != CodeDimMismatch {
		t.Errorf("ErrorCodeOf(ErrDimMismatch) = %q, want %q", got, CodeDimMismatch)
	}
	if got := ErrorCodeOf(ErrIntegrity); got != CodeIntegrity {
		t.Errorf("ErrorCodeOf(ErrIntegrity) = %q, want %q", got, CodeIntegrity)
	}
	if got := ErrorCodeOf(ErrStorage); got != CodeStorage {
		t.Errorf("ErrorCodeOf(ErrStorage) = %q, want %q", got, CodeStorage)
	}
	if got := ErrorCodeOf(ErrCancelled); got != CodeCancelled {
		t.Errorf("ErrorCodeOf(ErrCancelled) = %q, want %q", got, CodeCancelled)
	}
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("VectorIndex.Search", ErrDimMismatch, "want 384 got 256")
	if got := ErrorCodeOf(err); got != CodeDimMismatch {
		t.Errorf("ErrorCodeOf(DomainError) = %q, want %q", got, CodeDimMismatch)
	}
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("pipeline failed: %w", NewDomainError("Engine.Insert", ErrStorage, "write failed"))
	if got := ErrorCodeOf(err); got != CodeStorage {
		t.Errorf("ErrorCodeOf(wrapped) = %q, want %q", got, CodeStorage)
	}
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	err := fmt.Errorf("some unrelated failure")
	if got := ErrorCodeOf(err); got != CodeUnknown {
		t.Errorf("ErrorCodeOf(unknown) = %q, want %q", got, CodeUnknown)
	}
}

func TestErrorCodeOf_Nil(t *testing.T) {
	if got := ErrorCodeOf(nil); got != CodeUnknown {
		t.Errorf("ErrorCodeOf(nil) = %q, want %q", got, CodeUnknown)
	}
}

func TestDomainError_Code(t *testing.T) {
	err := NewDomainError("Engine.Insert", ErrValidation, "")
	if got := err.Code(); got != CodeValidation {
		t.Errorf("Code() = %q, want %q", got, CodeValidation)
	}
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Engine.Insert", fmt.Errorf("some other sentinel"), "")
	if got := err.Code(); got != CodeUnknown {
		t.Errorf("Code() = %q, want %q", got, CodeUnknown)
	}
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	for sentinel, code := range errorCodeMap {
		if code == "" || code == CodeUnknown {
			t.Errorf("sentinel %v maps to empty/unknown code", sentinel)
		}
	}
}

func TestNewSubSystemError_Format(t *testing.T) {
	err := NewSubSystemError("timeseries", "Engine.GetInterpolated", ErrNotFound, "series \"temp\" has no points before t")
	want := `Engine.GetInterpolated: series "temp" has no points before t: not found`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNewSubSystemError_SubSystemField(t *testing.T) {
	err := NewSubSystemError("changelog", "Engine.Delete", ErrNotFound, "")
	if err.SubSystem != "changelog" {
		t.Errorf("SubSystem = %q, want %q", err.SubSystem, "changelog")
	}
}

func TestNewSubSystemError_Unwrap(t *testing.T) {
	err := NewSubSystemError("entity", "Engine.Update", ErrNotFound, "")
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to match ErrNotFound through Unwrap")
	}
}

func TestNewSubSystemError_BackwardCompatible(t *testing.T) {
	// NewSubSystemError with an empty subsystem should behave exactly like NewDomainError.
	withSubsystem := NewSubSystemError("", "Engine.Insert", ErrValidation, "bad field")
	plain := NewDomainError("Engine.Insert", ErrValidation, "bad field")
	if withSubsystem.Error() != plain.Error() {
		t.Errorf("NewSubSystemError with empty subsystem = %q, want %q", withSubsystem.Error(), plain.Error())
	}
}

func TestErrorCodeOf_SubSystemNotFound(t *testing.T) {
	tsErr := NewSubSystemError("timeseries", "Engine.GetInterpolated", ErrNotFound, "")
	if got := ErrorCodeOf(tsErr); got != CodeTimeseriesNotFound {
		t.Errorf("ErrorCodeOf(timeseries not found) = %q, want %q", got, CodeTimeseriesNotFound)
	}

	clErr := NewSubSystemError("changelog", "Engine.History", ErrNotFound, "")
	if got := ErrorCodeOf(clErr); got != CodeChangelogNotFound {
		t.Errorf("ErrorCodeOf(changelog not found) = %q, want %q", got, CodeChangelogNotFound)
	}
}

func TestErrorCodeOf_SubSystemTimeout(t *testing.T) {
	err := NewSubSystemError("store", "Engine.Insert", ErrTimeout, "context deadline exceeded")
	if got := ErrorCodeOf(err); got != CodeStorageTimeout {
		t.Errorf("ErrorCodeOf(store timeout) = %q, want %q", got, CodeStorageTimeout)
	}
}

func TestErrorCodeOf_SubSystemFallback(t *testing.T) {
	// A subsystem with no entry in subSystemCodeMap falls back to the category code.
	err := NewSubSystemError("unregistered-subsystem", "Engine.Insert", ErrNotFound, "")
	if got := ErrorCodeOf(err); got != CodeNotFound {
		t.Errorf("ErrorCodeOf(unmapped subsystem) = %q, want %q", got, CodeNotFound)
	}
}

func TestErrorCodeOf_CategorySentinelDirect(t *testing.T) {
	if got := ErrorCodeOf(ErrNotFound); got != CodeNotFound {
		t.Errorf("ErrorCodeOf(ErrNotFound) = %q, want %q", got, CodeNotFound)
	}
	if got := ErrorCodeOf(ErrDuplicate); got != CodeDuplicate {
		t.Errorf("ErrorCodeOf(ErrDuplicate) = %q, want %q", got, CodeDuplicate)
	}
}

func TestWrapOp_Nil(t *testing.T) {
	if got := WrapOp("Engine.Insert", nil); got != nil {
		t.Errorf("WrapOp(nil) = %v, want nil", got)
	}
}

func TestWrapOp_Format(t *testing.T) {
	got := WrapOp("Engine.Insert", ErrStorage)
	want := "Engine.Insert: storage error"
	if got.Error() != want {
		t.Errorf("WrapOp() = %q, want %q", got.Error(), want)
	}
}

func TestWrapOp_PreservesSentinel(t *testing.T) {
	got := WrapOp("Engine.Insert", ErrStorage)
	if !errors.Is(got, ErrStorage) {
		t.Error("expected errors.Is to match ErrStorage through WrapOp chain")
	}
}

func TestWrapOp_Chain(t *testing.T) {
	inner := WrapOp("SQLStore.Exec", ErrStorage)
	outer := WrapOp("Engine.Insert", inner)
	want := "Engine.Insert: SQLStore.Exec: storage error"
	if outer.Error() != want {
		t.Errorf("WrapOp chain = %q, want %q", outer.Error(), want)
	}
	if !errors.Is(outer, ErrStorage) {
		t.Error("expected errors.Is to match ErrStorage through nested WrapOp chain")
	}
}

func TestIsRetryableError_Timeout(t *testing.T) {
	if !IsRetryableError(ErrTimeout) {
		t.Error("expected ErrTimeout to be retryable")
	}
}

func TestIsRetryableError_ProviderError(t *testing.T) {
	if !IsRetryableError(ErrProviderError) {
		t.Error("expected ErrProviderError to be retryable")
	}
}

func TestIsRetryableError_Storage(t *testing.T) {
	if !IsRetryableError(ErrStorage) {
		t.Error("expected ErrStorage to be retryable")
	}
}

func TestIsRetryableError_Validation(t *testing.T) {
	if IsRetryableError(ErrValidation) {
		t.Error("expected ErrValidation to not be retryable")
	}
}

func TestIsRetryableError_Integrity(t *testing.T) {
	if IsRetryableError(ErrIntegrity) {
		t.Error("expected ErrIntegrity to not be retryable")
	}
}

func TestIsRetryableError_WrappedStorage(t *testing.T) {
	err := NewDomainError("SQLStore.Exec", ErrStorage, "connection reset")
	if !IsRetryableError(err) {
		t.Error("expected wrapped ErrStorage to be retryable")
	}
}
