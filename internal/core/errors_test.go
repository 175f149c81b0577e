package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := InvalidArgument("bad chunk_count: %d", 0)
	if e.Kind != KindInvalidArgument {
		t.Fatalf("got kind %s, want %s", e.Kind, KindInvalidArgument)
	}
	if e.Error() == "" {
		t.Fatal("Error() returned empty string")
	}
}

func TestInternalWrapsUnderlyingError(t *testing.T) {
	underlying := errors.New("connection refused")
	e := Internal(underlying, "persist blob %s", "blob_1")
	if !errors.Is(e, underlying) {
		t.Fatal("Internal error does not unwrap to the underlying error")
	}
	if e.Kind != KindInternal {
		t.Fatalf("got kind %s, want %s", e.Kind, KindInternal)
	}
}

func TestAsExtractsCoreError(t *testing.T) {
	var err error = NotFound("blob %s not found", "blob_9")
	ce, ok := As(err)
	if !ok {
		t.Fatal("As() failed to extract a *Error")
	}
	if ce.Kind != KindNotFound {
		t.Fatalf("got kind %s, want %s", ce.Kind, KindNotFound)
	}
}

func TestAsRejectsPlainError(t *testing.T) {
	_, ok := As(errors.New("not a core error"))
	if ok {
		t.Fatal("As() should not extract from a plain error")
	}
}

func TestErrorWrappedThroughFmtErrorf(t *testing.T) {
	ce := Conflict("idempotency key already used with a different payload")
	wrapped := fmt.Errorf("create memory: %w", ce)
	got, ok := As(wrapped)
	if !ok {
		t.Fatal("As() failed to see through fmt.Errorf(\"%w\")")
	}
	if got.Kind != KindConflict {
		t.Fatalf("got kind %s, want %s", got.Kind, KindConflict)
	}
}
