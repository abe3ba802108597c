package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AdminRole is the role that unlocks overrides and reminder management for
// records the actor does not own.
const AdminRole = "admin"

// ForbiddenError indicates the actor may not perform an action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Actor is the authenticated identity a request runs as. Roles are the claims
// carried by the credential; persisted assignments are checked separately.
type Actor struct {
	ID    string
	Roles []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Service provides role lookups backed by SQL.
type Service struct {
	DB *sql.DB
}

// IsAdmin checks the actor's claimed roles first and falls back to the
// persisted role assignments.
func (s Service) IsAdmin(ctx context.Context, actor Actor) (bool, error) {
	if actor.HasRole(AdminRole) {
		return true, nil
	}
	return s.ActorHasRole(ctx, actor.ID, AdminRole)
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

func (s Service) ActorHasRole(ctx context.Context, actorID, roleID string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM actor_roles WHERE actor_id=? AND role_id=? LIMIT 1`, actorID, roleID)
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

func (s Service) GrantRole(ctx context.Context, actorID, roleID string) error {
	if actorID == "" || roleID == "" {
		return errors.New("actor_id and role_id required")
	}
	if err := s.EnsureActor(ctx, nil, actorID); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, roleID)
	return err
}

func (s Service) RevokeRole(ctx context.Context, actorID, roleID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	return err
}
