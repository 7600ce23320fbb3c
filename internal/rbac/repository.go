package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grantkeeper/grantkeeper/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore provides PostgreSQL backed persistence for grants and the catalog.
type PGStore struct {
	queries
	pool *pgxpool.Pool
}

// NewRepository constructs a store backed by pool.
func NewRepository(pool *pgxpool.Pool) *PGStore {
	return &PGStore{queries: queries{q: pool}, pool: pool}
}

// WithTx wraps fn in a repeatable-read transaction.
func (s *PGStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, queries{q: tx})
	})
}

// SeedCatalog inserts every action and the given module names. Existing rows
// are left untouched.
func (s *PGStore) SeedCatalog(ctx context.Context, modules []string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, a := range AllActions() {
			if _, err := tx.Exec(ctx, `INSERT INTO permissions (action) VALUES ($1) ON CONFLICT (action) DO NOTHING`, a.String()); err != nil {
				return fmt.Errorf("rbac: seed permission %s: %w", a, err)
			}
		}
		for _, name := range modules {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, err := tx.Exec(ctx, `INSERT INTO modules (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
				return fmt.Errorf("rbac: seed module %s: %w", name, err)
			}
		}
		return nil
	})
}

type queries struct {
	q querier
}

func (r queries) GetSubject(ctx context.Context, id int64) (*Subject, error) {
	var (
		s    Subject
		role string
	)
	err := r.q.QueryRow(ctx, `SELECT id, email, role, created_by FROM users WHERE id = $1`, id).
		Scan(&s.ID, &s.Email, &role, &s.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if s.Role, err = ParseRole(role); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r queries) GetModule(ctx context.Context, id int64) (*Module, error) {
	var m Module
	err := r.q.QueryRow(ctx, `SELECT id, name FROM modules WHERE id = $1`, id).Scan(&m.ID, &m.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r queries) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name FROM modules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (r queries) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.scanPermissions(ctx, `SELECT id, action FROM permissions ORDER BY id`)
}

func (r queries) PermissionsByAction(ctx context.Context, actions []Action) ([]Permission, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.String())
	}
	return r.scanPermissions(ctx, `SELECT id, action FROM permissions WHERE action = ANY($1::text[]) ORDER BY id`, names)
}

func (r queries) scanPermissions(ctx context.Context, sql string, args ...any) ([]Permission, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var (
			p      Permission
			action string
		)
		if err := rows.Scan(&p.ID, &action); err != nil {
			return nil, err
		}
		if p.Action, err = ParseAction(action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r queries) ListGrantActions(ctx context.Context, subjectID, moduleID int64) ([]Action, error) {
	rows, err := r.q.Query(ctx, `
		SELECT p.action
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 AND up.module_id = $2
		ORDER BY up.id`, subjectID, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []Action
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		a, err := ParseAction(name)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (r queries) HasModuleGrant(ctx context.Context, subjectID, moduleID int64) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_permissions WHERE user_id = $1 AND module_id = $2)`,
		subjectID, moduleID).Scan(&ok)
	return ok, err
}

func (r queries) InsertGrants(ctx context.Context, subjectID, moduleID, grantorID int64, permissionIDs []int64) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO user_permissions (user_id, module_id, permission_id, assigned_by)
		SELECT $1, $2, pid, $4 FROM unnest($3::bigint[]) AS pid`,
		subjectID, moduleID, permissionIDs, grantorID)
	return err
}

func (r queries) DeleteGrants(ctx context.Context, subjectID, moduleID int64, permissionIDs []int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM user_permissions
		WHERE user_id = $1 AND module_id = $2 AND permission_id = ANY($3::bigint[])`,
		subjectID, moduleID, permissionIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r queries) DeleteModuleGrants(ctx context.Context, subjectID, moduleID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND module_id = $2`, subjectID, moduleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r queries) NullGrantor(ctx context.Context, grantorID int64) error {
	_, err := r.q.Exec(ctx, `UPDATE user_permissions SET assigned_by = NULL WHERE assigned_by = $1`, grantorID)
	return err
}

func (r queries) DeleteSubject(ctx context.Context, id int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r queries) ResolvePermissions(ctx context.Context, scope Scope) ([]ResolveRow, error) {
	rows, err := r.q.Query(ctx, `
		SELECT u.id, u.email, u.role, u.created_by, m.name, p.action
		FROM users u
		LEFT JOIN user_permissions up ON up.user_id = u.id
		LEFT JOIN modules m ON m.id = up.module_id
		LEFT JOIN permissions p ON p.id = up.permission_id
		WHERE ($1::boolean OR u.id = ANY($2::bigint[]) OR u.created_by = $3)
		ORDER BY u.id, up.id`, scope.All, scope.SubjectIDs, scope.CreatedBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResolveRow
	for rows.Next() {
		var (
			row    ResolveRow
			role   string
			action *string
		)
		if err := rows.Scan(&row.SubjectID, &row.Email, &role, &row.CreatedBy, &row.Module, &action); err != nil {
			return nil, err
		}
		if row.Role, err = ParseRole(role); err != nil {
			return nil, err
		}
		if action != nil {
			a, err := ParseAction(*action)
			if err != nil {
				return nil, err
			}
			row.Action = &a
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ Repository = (*PGStore)(nil)
