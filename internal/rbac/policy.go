package rbac

import (
	"strings"
)

// DecisionInput is everything the policy needs, already read from the store
// inside the mutation's transaction.
type DecisionInput struct {
	Op     Operation
	Actor  Actor
	Target *Subject
	Module *Module
	// ActorHoldsModule reports whether the actor holds any grant on Module.
	ActorHoldsModule bool
	// Requested holds the raw action names from the request.
	Requested []string
	// Catalog holds the permission rows found for the requested actions.
	Catalog []Permission
	// Held lists the actions the target already holds on Module.
	Held []Action
}

// Decision is an allowed mutation and the delta it produces.
type Decision struct {
	Op        Operation
	SubjectID int64
	ModuleID  int64
	GrantorID int64
	// Permissions are in request order after de-duplication.
	Permissions []Permission
}

// Actions returns the actions covered by the decision.
func (d Decision) Actions() []Action {
	out := make([]Action, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		out = append(out, p.Action)
	}
	return out
}

// PermissionIDs returns the catalog ids covered by the decision.
func (d Decision) PermissionIDs() []int64 {
	out := make([]int64, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		out = append(out, p.ID)
	}
	return out
}

// Decide evaluates a mutation request. The first failing rule determines the
// returned *PolicyError; nothing is applied on failure.
func Decide(in DecisionInput) (Decision, error) {
	if in.Target == nil {
		return Decision{}, newPolicyError(ErrNotFoundState, "target subject not found")
	}
	if err := checkRoleGate(in.Actor.Role, in.Target.Role); err != nil {
		return Decision{}, err
	}
	if in.Actor.Role == RoleAdmin && in.Target.Role == RoleUser && !in.ActorHoldsModule {
		return Decision{}, newPolicyError(ErrAuthorizationDenied, "no access to this module")
	}
	if in.Module == nil {
		return Decision{}, newPolicyError(ErrValidationFailed, "module not found")
	}

	byAction := make(map[Action]Permission, len(in.Catalog))
	for _, p := range in.Catalog {
		byAction[p.Action] = p
	}
	requested := dedupe(in.Requested)
	var invalid []string
	perms := make([]Permission, 0, len(requested))
	for _, name := range requested {
		action, err := ParseAction(name)
		if err != nil {
			invalid = append(invalid, name)
			continue
		}
		p, ok := byAction[action]
		if !ok {
			invalid = append(invalid, name)
			continue
		}
		perms = append(perms, p)
	}
	if len(invalid) > 0 {
		return Decision{}, newPolicyError(ErrValidationFailed, "invalid permissions", invalid...)
	}
	if len(perms) == 0 {
		return Decision{}, newPolicyError(ErrValidationFailed, "permission set is empty")
	}

	held := make(map[Action]struct{}, len(in.Held))
	for _, a := range in.Held {
		held[a] = struct{}{}
	}
	switch in.Op {
	case OpAssign:
		var overlap []string
		for _, p := range perms {
			if _, ok := held[p.Action]; ok {
				overlap = append(overlap, p.Action.String())
			}
		}
		if len(overlap) > 0 {
			return Decision{}, newPolicyError(ErrConflictDuplicate, "permissions already granted", overlap...)
		}
	case OpReplace:
	case OpRemove:
		var missing []string
		for _, p := range perms {
			if _, ok := held[p.Action]; !ok {
				missing = append(missing, p.Action.String())
			}
		}
		if len(missing) > 0 {
			return Decision{}, newPolicyError(ErrNotFoundState, "permissions not granted", missing...)
		}
	default:
		return Decision{}, newPolicyError(ErrValidationFailed, "unsupported operation")
	}

	return Decision{
		Op:          in.Op,
		SubjectID:   in.Target.ID,
		ModuleID:    in.Module.ID,
		GrantorID:   in.Actor.ID,
		Permissions: perms,
	}, nil
}

func checkRoleGate(actor, target Role) error {
	switch target {
	case RoleSuperadmin:
		return newPolicyError(ErrAuthorizationDenied, "permissions of a superadmin cannot be managed")
	case RoleAdmin:
		if actor != RoleSuperadmin {
			return newPolicyError(ErrAuthorizationDenied, "only a superadmin can manage admin permissions")
		}
		return nil
	case RoleUser:
		if actor != RoleAdmin && actor != RoleSuperadmin {
			return newPolicyError(ErrAuthorizationDenied, "only admins or a superadmin can manage user permissions")
		}
		return nil
	}
	return newPolicyError(ErrAuthorizationDenied, "invalid target role")
}

// DecideSubjectCreation checks whether actor may create a subject with role.
func DecideSubjectCreation(actor Actor, role Role) error {
	switch role {
	case RoleSuperadmin:
		return newPolicyError(ErrAuthorizationDenied, "a superadmin cannot be created")
	case RoleAdmin:
		if actor.Role != RoleSuperadmin {
			return newPolicyError(ErrAuthorizationDenied, "only a superadmin can create admins")
		}
		return nil
	case RoleUser:
		if actor.Role != RoleAdmin && actor.Role != RoleSuperadmin {
			return newPolicyError(ErrAuthorizationDenied, "only admins or a superadmin can create users")
		}
		return nil
	}
	return newPolicyError(ErrValidationFailed, "invalid role")
}

// DecideSubjectDeletion checks whether actor may delete target. A superadmin
// deletes admins and users; an admin deletes only users it created.
func DecideSubjectDeletion(actor Actor, target *Subject) error {
	if target == nil {
		return newPolicyError(ErrNotFoundState, "subject not found")
	}
	switch target.Role {
	case RoleSuperadmin:
		return newPolicyError(ErrAuthorizationDenied, "the superadmin cannot be deleted")
	case RoleAdmin:
		if actor.Role != RoleSuperadmin {
			return newPolicyError(ErrAuthorizationDenied, "only a superadmin can delete admins")
		}
		return nil
	case RoleUser:
		switch actor.Role {
		case RoleSuperadmin:
			return nil
		case RoleAdmin:
			if target.CreatedBy == nil || *target.CreatedBy != actor.ID {
				return newPolicyError(ErrAuthorizationDenied, "admins can only delete users they created")
			}
			return nil
		}
		return newPolicyError(ErrAuthorizationDenied, "only admins or a superadmin can delete users")
	}
	return newPolicyError(ErrAuthorizationDenied, "invalid target role")
}

// dedupe drops repeated names keeping the first occurrence. Names are
// compared after trimming and lower-casing.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
