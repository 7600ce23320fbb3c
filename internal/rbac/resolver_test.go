package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func actionPtr(a Action) *Action { return &a }

func TestGroupRowsKeepsFirstSeenModuleOrder(t *testing.T) {
	rows := []ResolveRow{
		{SubjectID: 1, Email: "a@example.com", Role: RoleAdmin, Module: strPtr("payroll"), Action: actionPtr(ActionView)},
		{SubjectID: 1, Email: "a@example.com", Role: RoleAdmin, Module: strPtr("billing"), Action: actionPtr(ActionAdd)},
		{SubjectID: 1, Email: "a@example.com", Role: RoleAdmin, Module: strPtr("payroll"), Action: actionPtr(ActionEdit)},
		{SubjectID: 2, Email: "u@example.com", Role: RoleUser},
	}

	got := groupRows(rows)
	require.Len(t, got, 2)
	assert.Equal(t, []ModulePermissions{
		{Module: "payroll", Actions: []Action{ActionView, ActionEdit}},
		{Module: "billing", Actions: []Action{ActionAdd}},
	}, got[0].Modules)
	assert.Equal(t, int64(2), got[1].SubjectID)
	assert.NotNil(t, got[1].Modules)
	assert.Empty(t, got[1].Modules)
}

func TestScopeFor(t *testing.T) {
	creator := int64(5)
	other := int64(6)

	assert.True(t, ScopeFor(Actor{ID: 1, Role: RoleSuperadmin}).Covers(Subject{ID: 42}))

	admin := ScopeFor(Actor{ID: 5, Role: RoleAdmin})
	assert.True(t, admin.Covers(Subject{ID: 5}))
	assert.True(t, admin.Covers(Subject{ID: 7, CreatedBy: &creator}))
	assert.False(t, admin.Covers(Subject{ID: 8, CreatedBy: &other}))
	assert.False(t, admin.Covers(Subject{ID: 9}))

	user := ScopeFor(Actor{ID: 9, Role: RoleUser})
	assert.True(t, user.Covers(Subject{ID: 9}))
	assert.False(t, user.Covers(Subject{ID: 10, CreatedBy: &other}))
}
