package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantkeeper/grantkeeper/internal/platform/httpx"
)

func catalogFor(actions ...Action) []Permission {
	out := make([]Permission, 0, len(actions))
	for _, a := range actions {
		out = append(out, Permission{ID: int64(a), Action: a})
	}
	return out
}

func TestDecideRules(t *testing.T) {
	superadmin := Actor{ID: 1, Role: RoleSuperadmin}
	admin := Actor{ID: 2, Role: RoleAdmin}
	user := Actor{ID: 3, Role: RoleUser}
	billing := &Module{ID: 10, Name: "billing"}
	adminTarget := &Subject{ID: 20, Email: "a@example.com", Role: RoleAdmin}
	userTarget := &Subject{ID: 30, Email: "u@example.com", Role: RoleUser}
	superTarget := &Subject{ID: 1, Email: "root@example.com", Role: RoleSuperadmin}

	tests := []struct {
		name   string
		in     DecisionInput
		class  error
		values []string
	}{
		{
			name:  "missing target",
			in:    DecisionInput{Op: OpAssign, Actor: superadmin, Module: billing, Requested: []string{"view"}},
			class: ErrNotFoundState,
		},
		{
			name:  "superadmin target is never managed",
			in:    DecisionInput{Op: OpAssign, Actor: superadmin, Target: superTarget, Module: billing, Requested: []string{"view"}},
			class: ErrAuthorizationDenied,
		},
		{
			name:  "admin cannot manage admin",
			in:    DecisionInput{Op: OpAssign, Actor: admin, Target: adminTarget, Module: billing, ActorHoldsModule: true, Requested: []string{"view"}},
			class: ErrAuthorizationDenied,
		},
		{
			name:  "user cannot manage user",
			in:    DecisionInput{Op: OpRemove, Actor: user, Target: userTarget, Module: billing, Requested: []string{"view"}},
			class: ErrAuthorizationDenied,
		},
		{
			name:  "admin without module grant",
			in:    DecisionInput{Op: OpAssign, Actor: admin, Target: userTarget, Module: billing, Requested: []string{"view"}, Catalog: catalogFor(ActionView)},
			class: ErrAuthorizationDenied,
		},
		{
			name:  "module scope checked before module existence",
			in:    DecisionInput{Op: OpAssign, Actor: admin, Target: userTarget, Requested: []string{"view"}},
			class: ErrAuthorizationDenied,
		},
		{
			name:  "unknown module",
			in:    DecisionInput{Op: OpAssign, Actor: superadmin, Target: userTarget, Requested: []string{"view"}},
			class: ErrValidationFailed,
		},
		{
			name:   "unknown actions listed",
			in:     DecisionInput{Op: OpAssign, Actor: superadmin, Target: userTarget, Module: billing, Requested: []string{"view", "publish", "approve"}, Catalog: catalogFor(ActionView)},
			class:  ErrValidationFailed,
			values: []string{"publish", "approve"},
		},
		{
			name:  "empty set",
			in:    DecisionInput{Op: OpReplace, Actor: superadmin, Target: userTarget, Module: billing},
			class: ErrValidationFailed,
		},
		{
			name:   "assign overlap",
			in:     DecisionInput{Op: OpAssign, Actor: superadmin, Target: adminTarget, Module: billing, Requested: []string{"add", "view"}, Catalog: catalogFor(ActionAdd, ActionView), Held: []Action{ActionView}},
			class:  ErrConflictDuplicate,
			values: []string{"view"},
		},
		{
			name:   "remove missing",
			in:     DecisionInput{Op: OpRemove, Actor: superadmin, Target: userTarget, Module: billing, Requested: []string{"delete", "view"}, Catalog: catalogFor(ActionDelete, ActionView), Held: []Action{ActionView}},
			class:  ErrNotFoundState,
			values: []string{"delete"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decide(tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.class)
			var pe *PolicyError
			require.True(t, errors.As(err, &pe))
			if tc.values != nil {
				assert.Equal(t, tc.values, pe.Values)
			}
		})
	}
}

func TestDecideAllows(t *testing.T) {
	billing := &Module{ID: 10, Name: "billing"}
	userTarget := &Subject{ID: 30, Role: RoleUser}

	t.Run("admin holding module assigns to user", func(t *testing.T) {
		dec, err := Decide(DecisionInput{
			Op: OpAssign, Actor: Actor{ID: 2, Role: RoleAdmin}, Target: userTarget, Module: billing,
			ActorHoldsModule: true, Requested: []string{"view"}, Catalog: catalogFor(ActionView),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), dec.GrantorID)
		assert.Equal(t, int64(30), dec.SubjectID)
		assert.Equal(t, []Action{ActionView}, dec.Actions())
	})

	t.Run("superadmin exempt from module scope", func(t *testing.T) {
		_, err := Decide(DecisionInput{
			Op: OpAssign, Actor: Actor{ID: 1, Role: RoleSuperadmin}, Target: userTarget, Module: billing,
			Requested: []string{"add"}, Catalog: catalogFor(ActionAdd),
		})
		require.NoError(t, err)
	})

	t.Run("dedupe keeps first occurrence order", func(t *testing.T) {
		dec, err := Decide(DecisionInput{
			Op: OpReplace, Actor: Actor{ID: 1, Role: RoleSuperadmin}, Target: userTarget, Module: billing,
			Requested: []string{"edit", "add", "EDIT", " add "},
			Catalog:   catalogFor(ActionAdd, ActionEdit),
			Held:      []Action{ActionEdit},
		})
		require.NoError(t, err)
		assert.Equal(t, []Action{ActionEdit, ActionAdd}, dec.Actions())
		assert.Equal(t, []int64{int64(ActionEdit), int64(ActionAdd)}, dec.PermissionIDs())
	})

	t.Run("replace ignores overlap", func(t *testing.T) {
		_, err := Decide(DecisionInput{
			Op: OpReplace, Actor: Actor{ID: 1, Role: RoleSuperadmin}, Target: userTarget, Module: billing,
			Requested: []string{"view"}, Catalog: catalogFor(ActionView), Held: []Action{ActionView},
		})
		require.NoError(t, err)
	})
}

func TestPolicyErrorMapsToHTTPClasses(t *testing.T) {
	err := newPolicyError(ErrConflictDuplicate, "permissions already granted", "view")
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
	assert.Equal(t, "permissions already granted: view", err.Error())
	assert.Equal(t, []string{"view"}, err.Details())
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(ErrStorageFailure))
}

func TestDecideSubjectCreation(t *testing.T) {
	super := Actor{ID: 1, Role: RoleSuperadmin}
	admin := Actor{ID: 2, Role: RoleAdmin}
	user := Actor{ID: 3, Role: RoleUser}

	assert.NoError(t, DecideSubjectCreation(super, RoleAdmin))
	assert.NoError(t, DecideSubjectCreation(super, RoleUser))
	assert.NoError(t, DecideSubjectCreation(admin, RoleUser))
	assert.ErrorIs(t, DecideSubjectCreation(admin, RoleAdmin), ErrAuthorizationDenied)
	assert.ErrorIs(t, DecideSubjectCreation(user, RoleUser), ErrAuthorizationDenied)
	assert.ErrorIs(t, DecideSubjectCreation(super, RoleSuperadmin), ErrAuthorizationDenied)
	assert.ErrorIs(t, DecideSubjectCreation(super, RoleUnknown), ErrValidationFailed)
}

func TestDecideSubjectDeletion(t *testing.T) {
	super := Actor{ID: 1, Role: RoleSuperadmin}
	admin := Actor{ID: 2, Role: RoleAdmin}
	creator := int64(2)
	other := int64(9)

	assert.ErrorIs(t, DecideSubjectDeletion(super, nil), ErrNotFoundState)
	assert.ErrorIs(t, DecideSubjectDeletion(super, &Subject{ID: 1, Role: RoleSuperadmin}), ErrAuthorizationDenied)
	assert.NoError(t, DecideSubjectDeletion(super, &Subject{ID: 2, Role: RoleAdmin}))
	assert.ErrorIs(t, DecideSubjectDeletion(admin, &Subject{ID: 5, Role: RoleAdmin}), ErrAuthorizationDenied)
	assert.NoError(t, DecideSubjectDeletion(admin, &Subject{ID: 6, Role: RoleUser, CreatedBy: &creator}))
	assert.ErrorIs(t, DecideSubjectDeletion(admin, &Subject{ID: 7, Role: RoleUser, CreatedBy: &other}), ErrAuthorizationDenied)
	assert.ErrorIs(t, DecideSubjectDeletion(admin, &Subject{ID: 8, Role: RoleUser}), ErrAuthorizationDenied)
}
