package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestIsComparesCodes(t *testing.T) {
	sentinel := New(CodeNotFound, "swarm not found")
	wrapped := fmt.Errorf("lookup: %w", New(CodeNotFound, "shaft not found"))

	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatalf("expected errors with the same code to match")
	}
	if stdErrors.Is(wrapped, New(CodeConflict, "")) {
		t.Fatalf("expected different codes not to match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := Wrap(CodePersistenceFailure, cause, "写入快照失败", WithMetadata("driver", "file"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if CodeOf(err) != CodePersistenceFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !err.Retryable() || !ShouldAlert(err) {
		t.Fatalf("persistence failures should be retryable and alerting")
	}
	if err.Metadata()["driver"] != "file" {
		t.Fatalf("metadata not preserved: %+v", err.Metadata())
	}
}

func TestDefaultsForUnknownCode(t *testing.T) {
	err := New(Code("SOMETHING_ELSE"), "")
	if err.Message() != "unknown error" {
		t.Fatalf("expected fallback message, got %q", err.Message())
	}
	if SeverityOf(stdErrors.New("plain")) != SeverityCritical {
		t.Fatalf("plain errors should be treated as unknown")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatalf("nil error should map to unknown")
	}
}
