package rbac

import (
	"context"
	"fmt"
	"strings"
)

// Role is one of the three fixed subject roles.
type Role uint8

const (
	// RoleUnknown is the zero value and never valid.
	RoleUnknown Role = iota
	// RoleUser holds grants but manages nothing.
	RoleUser
	// RoleAdmin manages user grants within modules it holds.
	RoleAdmin
	// RoleSuperadmin manages admin and user grants everywhere.
	RoleSuperadmin
)

var roleNames = map[Role]string{
	RoleUser:       "user",
	RoleAdmin:      "admin",
	RoleSuperadmin: "superadmin",
}

// ParseRole converts a stored or requested role name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	case "superadmin":
		return RoleSuperadmin, nil
	}
	return RoleUnknown, fmt.Errorf("rbac: unknown role %q", s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the three roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("rbac: cannot marshal role %d", r)
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Action is a permission verb from the closed catalog.
type Action uint8

const (
	// ActionUnknown is the zero value and never valid.
	ActionUnknown Action = iota
	ActionAdd
	ActionEdit
	ActionDelete
	ActionView
)

var actionNames = map[Action]string{
	ActionAdd:    "add",
	ActionEdit:   "edit",
	ActionDelete: "delete",
	ActionView:   "view",
}

// AllActions lists the catalog actions in seed order.
func AllActions() []Action {
	return []Action{ActionAdd, ActionEdit, ActionDelete, ActionView}
}

// ParseAction converts an action name. Matching ignores case and surrounding space.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add":
		return ActionAdd, nil
	case "edit":
		return ActionEdit, nil
	case "delete":
		return ActionDelete, nil
	case "view":
		return ActionView, nil
	}
	return ActionUnknown, fmt.Errorf("rbac: unknown action %q", s)
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether a belongs to the catalog enumeration.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("rbac: cannot marshal action %d", a)
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Subject is a user account as seen by the authorization core.
// CreatedBy is a weak reference to the creating subject.
type Subject struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	CreatedBy *int64 `json:"created_by,omitempty"`
}

// Module is a named area that permissions are scoped to.
type Module struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Permission is a catalog row for one action, shared by all modules.
type Permission struct {
	ID     int64  `json:"id"`
	Action Action `json:"action"`
}

// Grant is a persisted (subject, module, permission, grantor) fact.
// AssignedBy is nil once the grantor subject has been deleted.
type Grant struct {
	ID           int64
	SubjectID    int64
	ModuleID     int64
	PermissionID int64
	AssignedBy   *int64
}

// Actor is the authenticated caller.
type Actor struct {
	ID   int64
	Role Role
}

// Operation selects the merge strategy applied to a mutation request.
type Operation uint8

const (
	// OpAssign adds new grants and rejects any overlap with held ones.
	OpAssign Operation = iota + 1
	// OpReplace swaps the held set for the requested one.
	OpReplace
	// OpRemove deletes grants and rejects any that are not held.
	OpRemove
)

func (o Operation) String() string {
	switch o {
	case OpAssign:
		return "assign"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// MutationRequest is an already shape-validated request to change the
// permissions a subject holds on one module.
type MutationRequest struct {
	SubjectID   int64
	ModuleID    int64
	Permissions []string
}

// ModulePermissions lists the actions held on one module.
type ModulePermissions struct {
	Module  string   `json:"module_name"`
	Actions []Action `json:"permissions"`
}

// SubjectPermissions is the resolved view of one subject's grants.
//
// Modules follow first-seen order of the underlying join. Callers must not
// rely on it being sorted.
type SubjectPermissions struct {
	SubjectID int64               `json:"id"`
	Email     string              `json:"email"`
	Role      Role                `json:"role"`
	CreatedBy *int64              `json:"created_by,omitempty"`
	Modules   []ModulePermissions `json:"modules"`
}

// Actions returns the actions held on the named module, or nil.
func (sp SubjectPermissions) Actions(module string) []Action {
	for _, m := range sp.Modules {
		if m.Module == module {
			return m.Actions
		}
	}
	return nil
}

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor in ctx.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the authenticated actor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
