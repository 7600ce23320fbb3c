package rbac

import "context"

// Catalog exposes the read-only module and permission catalog.
type Catalog interface {
	ListModules(ctx context.Context) ([]Module, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// TxRepository exposes grant store operations bound to one transaction.
type TxRepository interface {
	GetSubject(ctx context.Context, id int64) (*Subject, error)
	GetModule(ctx context.Context, id int64) (*Module, error)
	PermissionsByAction(ctx context.Context, actions []Action) ([]Permission, error)
	ListGrantActions(ctx context.Context, subjectID, moduleID int64) ([]Action, error)
	HasModuleGrant(ctx context.Context, subjectID, moduleID int64) (bool, error)
	InsertGrants(ctx context.Context, subjectID, moduleID, grantorID int64, permissionIDs []int64) error
	DeleteGrants(ctx context.Context, subjectID, moduleID int64, permissionIDs []int64) (int64, error)
	DeleteModuleGrants(ctx context.Context, subjectID, moduleID int64) (int64, error)
	NullGrantor(ctx context.Context, grantorID int64) error
	DeleteSubject(ctx context.Context, id int64) (int64, error)
	ResolvePermissions(ctx context.Context, scope Scope) ([]ResolveRow, error)
}

// Repository is the grant store. Calls outside WithTx run on the pool.
type Repository interface {
	TxRepository
	Catalog
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}
