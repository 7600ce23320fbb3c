package rbac

// Scope selects which subjects a resolution covers. All wins over the other
// fields; otherwise a subject matches when its id is listed in SubjectIDs or
// it was created by CreatedBy.
type Scope struct {
	All        bool
	SubjectIDs []int64
	CreatedBy  *int64
}

// ScopeSubject returns a scope covering exactly one subject.
func ScopeSubject(id int64) Scope {
	return Scope{SubjectIDs: []int64{id}}
}

// ScopeFor returns the subjects visible to actor: a superadmin sees everyone,
// an admin sees itself and the subjects it created, a user sees itself.
func ScopeFor(actor Actor) Scope {
	switch actor.Role {
	case RoleSuperadmin:
		return Scope{All: true}
	case RoleAdmin:
		id := actor.ID
		return Scope{SubjectIDs: []int64{actor.ID}, CreatedBy: &id}
	default:
		return ScopeSubject(actor.ID)
	}
}

// Covers reports whether s includes subject.
func (s Scope) Covers(subject Subject) bool {
	if s.All {
		return true
	}
	for _, id := range s.SubjectIDs {
		if id == subject.ID {
			return true
		}
	}
	return s.CreatedBy != nil && subject.CreatedBy != nil && *s.CreatedBy == *subject.CreatedBy
}

// ResolveRow is one row of the subject × grant outer join. Module and Action
// are nil for subjects without grants.
type ResolveRow struct {
	SubjectID int64
	Email     string
	Role      Role
	CreatedBy *int64
	Module    *string
	Action    *Action
}

// groupRows folds join rows, ordered by subject then grant, into per-subject
// listings. Module order follows the first time each module is seen.
func groupRows(rows []ResolveRow) []SubjectPermissions {
	out := make([]SubjectPermissions, 0)
	index := make(map[int64]int)
	for _, row := range rows {
		i, ok := index[row.SubjectID]
		if !ok {
			out = append(out, SubjectPermissions{
				SubjectID: row.SubjectID,
				Email:     row.Email,
				Role:      row.Role,
				CreatedBy: row.CreatedBy,
				Modules:   []ModulePermissions{},
			})
			i = len(out) - 1
			index[row.SubjectID] = i
		}
		if row.Module == nil || row.Action == nil {
			continue
		}
		sp := &out[i]
		m := -1
		for j := range sp.Modules {
			if sp.Modules[j].Module == *row.Module {
				m = j
				break
			}
		}
		if m < 0 {
			sp.Modules = append(sp.Modules, ModulePermissions{Module: *row.Module})
			m = len(sp.Modules) - 1
		}
		sp.Modules[m].Actions = append(sp.Modules[m].Actions, *row.Action)
	}
	return out
}
