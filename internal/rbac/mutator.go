package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Apply writes the delta of an allowed decision through tx and returns the
// number of grants inserted or removed. It must run inside the transaction
// that produced the decision's inputs.
func Apply(ctx context.Context, tx TxRepository, d Decision) (int, error) {
	ids := d.PermissionIDs()
	switch d.Op {
	case OpAssign:
		if err := insertGrants(ctx, tx, d, ids); err != nil {
			return 0, err
		}
		return len(ids), nil
	case OpReplace:
		if _, err := tx.DeleteModuleGrants(ctx, d.SubjectID, d.ModuleID); err != nil {
			return 0, fmt.Errorf("rbac: clear module grants: %w", err)
		}
		if err := insertGrants(ctx, tx, d, ids); err != nil {
			return 0, err
		}
		return len(ids), nil
	case OpRemove:
		n, err := tx.DeleteGrants(ctx, d.SubjectID, d.ModuleID, ids)
		if err != nil {
			return 0, fmt.Errorf("rbac: delete grants: %w", err)
		}
		if n == 0 {
			return 0, newPolicyError(ErrNotFoundState, "no matching grants to remove")
		}
		return int(n), nil
	}
	return 0, newPolicyError(ErrValidationFailed, "unsupported operation")
}

func insertGrants(ctx context.Context, tx TxRepository, d Decision, ids []int64) error {
	err := tx.InsertGrants(ctx, d.SubjectID, d.ModuleID, d.GrantorID, ids)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		pe := newPolicyError(ErrConflictDuplicate, "permissions already granted")
		pe.cause = fmt.Errorf("%w: %w", errConsistency, err)
		return pe
	}
	return fmt.Errorf("rbac: insert grants: %w", err)
}

// RemoveSubject deletes a subject after clearing it as grantor on the grants
// it issued. The subject's own grants go with it by cascade.
func RemoveSubject(ctx context.Context, tx TxRepository, id int64) error {
	if err := tx.NullGrantor(ctx, id); err != nil {
		return fmt.Errorf("rbac: null grantor: %w", err)
	}
	n, err := tx.DeleteSubject(ctx, id)
	if err != nil {
		return fmt.Errorf("rbac: delete subject: %w", err)
	}
	if n == 0 {
		return newPolicyError(ErrNotFoundState, "subject not found")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
