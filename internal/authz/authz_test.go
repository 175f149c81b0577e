package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestAllowAll(t *testing.T) {
	if !AllowAll(context.Background(), "alice", uuid.New()) {
		t.Fatal("AllowAll must always return true")
	}
}

func TestNewWithNilPredicateDefaultsToAllowAll(t *testing.T) {
	h := New(nil)
	if !h.MayWrite(context.Background(), "alice", uuid.New()) {
		t.Fatal("Hook with nil predicate should default to AllowAll")
	}
}

func TestHookDelegatesToPredicate(t *testing.T) {
	capsuleID := uuid.New()
	var gotCaller string
	var gotCapsule uuid.UUID
	h := New(func(_ context.Context, caller string, id uuid.UUID) bool {
		gotCaller = caller
		gotCapsule = id
		return false
	})
	if h.MayWrite(context.Background(), "bob", capsuleID) {
		t.Fatal("expected MayWrite to return false from the predicate")
	}
	if gotCaller != "bob" || gotCapsule != capsuleID {
		t.Fatalf("predicate received wrong args: caller=%q capsule=%v", gotCaller, gotCapsule)
	}
}
