package rbac

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

var errInjected = errors.New("connection reset by peer")

type memData struct {
	subjects    map[int64]Subject
	modules     map[int64]Module
	permissions []Permission
	grants      []Grant
	nextGrantID int64
	failOn      string
}

func (d *memData) clone() *memData {
	c := &memData{
		subjects:    make(map[int64]Subject, len(d.subjects)),
		modules:     make(map[int64]Module, len(d.modules)),
		permissions: append([]Permission(nil), d.permissions...),
		grants:      append([]Grant(nil), d.grants...),
		nextGrantID: d.nextGrantID,
		failOn:      d.failOn,
	}
	for k, v := range d.subjects {
		c.subjects[k] = v
	}
	for k, v := range d.modules {
		c.modules[k] = v
	}
	return c
}

func (d *memData) fail(op string) error {
	if d.failOn == op {
		return errInjected
	}
	return nil
}

// memStore is an in-memory Repository. Transactions are serialized and roll
// back to a snapshot on error.
type memStore struct {
	mu   sync.Mutex
	data *memData
	// forceUnique makes every insert fail with a unique violation, as if a
	// concurrent writer had committed the same triple first.
	forceUnique bool
}

func newMemStore() *memStore {
	s := &memStore{data: &memData{
		subjects:    map[int64]Subject{},
		modules:     map[int64]Module{},
		nextGrantID: 1,
	}}
	for i, a := range AllActions() {
		s.data.permissions = append(s.data.permissions, Permission{ID: int64(i + 1), Action: a})
	}
	return s
}

func (s *memStore) addSubject(id int64, email string, role Role, createdBy *int64) {
	s.data.subjects[id] = Subject{ID: id, Email: email, Role: role, CreatedBy: createdBy}
}

func (s *memStore) addModule(id int64, name string) {
	s.data.modules[id] = Module{ID: id, Name: name}
}

func (s *memStore) grant(subjectID, moduleID int64, grantor *int64, actions ...Action) {
	for _, a := range actions {
		s.data.grants = append(s.data.grants, Grant{
			ID: s.data.nextGrantID, SubjectID: subjectID, ModuleID: moduleID,
			PermissionID: int64(a), AssignedBy: grantor,
		})
		s.data.nextGrantID++
	}
}

func (s *memStore) grantsOf(subjectID, moduleID int64) []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Grant
	for _, g := range s.data.grants {
		if g.SubjectID == subjectID && g.ModuleID == moduleID {
			out = append(out, g)
		}
	}
	return out
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.data.fail("begin"); err != nil {
		return err
	}
	snapshot := s.data.clone()
	if err := fn(ctx, memTx{d: s.data, forceUnique: s.forceUnique}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *memStore) locked() (memTx, func()) {
	s.mu.Lock()
	return memTx{d: s.data}, s.mu.Unlock
}

func (s *memStore) GetSubject(ctx context.Context, id int64) (*Subject, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.GetSubject(ctx, id)
}

func (s *memStore) GetModule(ctx context.Context, id int64) (*Module, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.GetModule(ctx, id)
}

func (s *memStore) PermissionsByAction(ctx context.Context, actions []Action) ([]Permission, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.PermissionsByAction(ctx, actions)
}

func (s *memStore) ListGrantActions(ctx context.Context, subjectID, moduleID int64) ([]Action, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.ListGrantActions(ctx, subjectID, moduleID)
}

func (s *memStore) HasModuleGrant(ctx context.Context, subjectID, moduleID int64) (bool, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.HasModuleGrant(ctx, subjectID, moduleID)
}

func (s *memStore) InsertGrants(ctx context.Context, subjectID, moduleID, grantorID int64, ids []int64) error {
	tx, unlock := s.locked()
	defer unlock()
	return tx.InsertGrants(ctx, subjectID, moduleID, grantorID, ids)
}

func (s *memStore) DeleteGrants(ctx context.Context, subjectID, moduleID int64, ids []int64) (int64, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.DeleteGrants(ctx, subjectID, moduleID, ids)
}

func (s *memStore) DeleteModuleGrants(ctx context.Context, subjectID, moduleID int64) (int64, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.DeleteModuleGrants(ctx, subjectID, moduleID)
}

func (s *memStore) NullGrantor(ctx context.Context, grantorID int64) error {
	tx, unlock := s.locked()
	defer unlock()
	return tx.NullGrantor(ctx, grantorID)
}

func (s *memStore) DeleteSubject(ctx context.Context, id int64) (int64, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.DeleteSubject(ctx, id)
}

func (s *memStore) ResolvePermissions(ctx context.Context, scope Scope) ([]ResolveRow, error) {
	tx, unlock := s.locked()
	defer unlock()
	return tx.ResolvePermissions(ctx, scope)
}

func (s *memStore) ListModules(ctx context.Context) ([]Module, error) {
	tx, unlock := s.locked()
	defer unlock()
	var out []Module
	for id := int64(1); len(out) < len(tx.d.modules); id++ {
		if m, ok := tx.d.modules[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	tx, unlock := s.locked()
	defer unlock()
	return append([]Permission(nil), tx.d.permissions...), nil
}

type memTx struct {
	d           *memData
	forceUnique bool
}

func (t memTx) GetSubject(_ context.Context, id int64) (*Subject, error) {
	if err := t.d.fail("GetSubject"); err != nil {
		return nil, err
	}
	s, ok := t.d.subjects[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &s, nil
}

func (t memTx) GetModule(_ context.Context, id int64) (*Module, error) {
	m, ok := t.d.modules[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &m, nil
}

func (t memTx) PermissionsByAction(_ context.Context, actions []Action) ([]Permission, error) {
	var out []Permission
	for _, p := range t.d.permissions {
		for _, a := range actions {
			if p.Action == a {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (t memTx) action(permissionID int64) Action {
	for _, p := range t.d.permissions {
		if p.ID == permissionID {
			return p.Action
		}
	}
	return ActionUnknown
}

func (t memTx) ListGrantActions(_ context.Context, subjectID, moduleID int64) ([]Action, error) {
	var out []Action
	for _, g := range t.d.grants {
		if g.SubjectID == subjectID && g.ModuleID == moduleID {
			out = append(out, t.action(g.PermissionID))
		}
	}
	return out, nil
}

func (t memTx) HasModuleGrant(_ context.Context, subjectID, moduleID int64) (bool, error) {
	for _, g := range t.d.grants {
		if g.SubjectID == subjectID && g.ModuleID == moduleID {
			return true, nil
		}
	}
	return false, nil
}

func (t memTx) InsertGrants(_ context.Context, subjectID, moduleID, grantorID int64, ids []int64) error {
	if err := t.d.fail("InsertGrants"); err != nil {
		return err
	}
	if t.forceUnique {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	for _, id := range ids {
		for _, g := range t.d.grants {
			if g.SubjectID == subjectID && g.ModuleID == moduleID && g.PermissionID == id {
				return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
			}
		}
		grantor := grantorID
		t.d.grants = append(t.d.grants, Grant{
			ID: t.d.nextGrantID, SubjectID: subjectID, ModuleID: moduleID,
			PermissionID: id, AssignedBy: &grantor,
		})
		t.d.nextGrantID++
	}
	return nil
}

func (t memTx) DeleteGrants(_ context.Context, subjectID, moduleID int64, ids []int64) (int64, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return t.deleteWhere(func(g Grant) bool {
		return g.SubjectID == subjectID && g.ModuleID == moduleID && want[g.PermissionID]
	}), nil
}

func (t memTx) DeleteModuleGrants(_ context.Context, subjectID, moduleID int64) (int64, error) {
	if err := t.d.fail("DeleteModuleGrants"); err != nil {
		return 0, err
	}
	return t.deleteWhere(func(g Grant) bool {
		return g.SubjectID == subjectID && g.ModuleID == moduleID
	}), nil
}

func (t memTx) deleteWhere(match func(Grant) bool) int64 {
	kept := t.d.grants[:0:0]
	var n int64
	for _, g := range t.d.grants {
		if match(g) {
			n++
			continue
		}
		kept = append(kept, g)
	}
	t.d.grants = kept
	return n
}

func (t memTx) NullGrantor(_ context.Context, grantorID int64) error {
	for i, g := range t.d.grants {
		if g.AssignedBy != nil && *g.AssignedBy == grantorID {
			t.d.grants[i].AssignedBy = nil
		}
	}
	return nil
}

func (t memTx) DeleteSubject(_ context.Context, id int64) (int64, error) {
	if _, ok := t.d.subjects[id]; !ok {
		return 0, nil
	}
	for _, g := range t.d.grants {
		if g.AssignedBy != nil && *g.AssignedBy == id {
			return 0, errors.New("foreign key violation on assigned_by")
		}
	}
	delete(t.d.subjects, id)
	t.deleteWhere(func(g Grant) bool { return g.SubjectID == id })
	return 1, nil
}

func (t memTx) ResolvePermissions(_ context.Context, scope Scope) ([]ResolveRow, error) {
	if err := t.d.fail("ResolvePermissions"); err != nil {
		return nil, err
	}
	var out []ResolveRow
	maxID := int64(0)
	for id := range t.d.subjects {
		if id > maxID {
			maxID = id
		}
	}
	for id := int64(1); id <= maxID; id++ {
		s, ok := t.d.subjects[id]
		if !ok || !scope.Covers(s) {
			continue
		}
		base := ResolveRow{SubjectID: s.ID, Email: s.Email, Role: s.Role, CreatedBy: s.CreatedBy}
		found := false
		for _, g := range t.d.grants {
			if g.SubjectID != s.ID {
				continue
			}
			found = true
			row := base
			name := t.d.modules[g.ModuleID].Name
			action := t.action(g.PermissionID)
			row.Module, row.Action = &name, &action
			out = append(out, row)
		}
		if !found {
			out = append(out, base)
		}
	}
	return out, nil
}

var _ Repository = (*memStore)(nil)
