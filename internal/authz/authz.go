// Package authz provides the pluggable authorization hook the engine calls
// at the entry of every mutating operation. Principal derivation (who the
// caller is) happens ambiently in the HTTP layer; this package only answers
// "may this already-identified caller write to this capsule".
package authz

import (
	"context"

	"github.com/google/uuid"
)

// Predicate decides whether caller may perform a mutating operation against
// capsuleID. Implementations may call out to the external capsule/ACL
// object; the core never interprets the decision, only the bool.
type Predicate func(ctx context.Context, caller string, capsuleID uuid.UUID) bool

// Hook wraps a Predicate with the fixed entry points every mutating
// operation invokes, mirroring the teacher's JWTAuth.RequireAuth gate but
// generalized to an injectable decision instead of a parsed token.
type Hook struct {
	allow Predicate
}

// New wraps a caller-supplied predicate.
func New(allow Predicate) *Hook {
	if allow == nil {
		allow = AllowAll
	}
	return &Hook{allow: allow}
}

// AllowAll is the default predicate used when no authorization hook is
// configured (development, or when the capsule ACL object is expected to
// have already gated the request upstream).
func AllowAll(context.Context, string, uuid.UUID) bool { return true }

// MayWrite reports whether caller may mutate capsuleID's state.
func (h *Hook) MayWrite(ctx context.Context, caller string, capsuleID uuid.UUID) bool {
	return h.allow(ctx, caller, capsuleID)
}
