// Package capsule is the minimal stand-in for the external capsule/ACL
// object the core treats as an opaque scope id. It only persists the
// capsule's existence; access control is the authz package's concern.
package capsule

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/552020/futura-alpha-icp-sub003/internal/core"
)

// Registry creates and checks for the existence of capsules.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Create allocates a fresh capsule id, optionally honoring a caller-supplied
// seed id (used by tests and by clients migrating external scope ids).
func (r *Registry) Create(ctx context.Context, seed *uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	if seed != nil {
		id = *seed
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO capsules (capsule_id) VALUES ($1)`, id)
	if err != nil {
		return uuid.Nil, core.Internal(err, "create capsule")
	}
	return id, nil
}

// Exists reports whether capsuleID was created through this registry.
func (r *Registry) Exists(ctx context.Context, capsuleID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM capsules WHERE capsule_id = $1)`, capsuleID).Scan(&exists)
	if err != nil {
		return false, core.Internal(err, "check capsule %s", capsuleID)
	}
	return exists, nil
}
