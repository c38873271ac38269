package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ForbiddenError indicates the actor lacks a required role or identity.
type ForbiddenError struct {
	Requirement string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s required", e.Requirement)
}

// Identity is a caller resolved at request time: a user id plus the roles the
// authorization layer attached to it. Roles are never cached on the case.
type Identity struct {
	ActorID string
	Roles   []string
}

// HasRole checks the roles carried on the identity itself.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Service resolves role membership against SQL role tables.
type Service struct {
	DB *sql.DB
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return s.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// Satisfies reports whether the identity holds role, either via resolved
// claims or via a granted role row.
func (s Service) Satisfies(ctx context.Context, id Identity, role string) (bool, error) {
	if role == "" {
		return false, nil
	}
	if id.HasRole(role) {
		return true, nil
	}
	return s.ActorHasRole(ctx, id.ActorID, role)
}

func (s Service) ActorHasRole(ctx context.Context, actorID, role string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM actor_roles WHERE actor_id=? AND role_id=? LIMIT 1`, actorID, role)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s Service) GrantRole(ctx context.Context, actorID, role string) error {
	if actorID == "" || role == "" {
		return errors.New("actor_id and role required")
	}
	if err := s.EnsureActor(ctx, nil, actorID); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, role)
	return err
}

func (s Service) RevokeRole(ctx context.Context, actorID, role string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, role)
	return err
}
