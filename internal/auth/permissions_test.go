package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermEntityRead, true},
		{RoleViewer, PermSceneRead, true},
		{RoleViewer, PermEntityOperate, false},
		{RoleViewer, PermSceneExecute, false},
		{RoleOperator, PermEntityOperate, true},
		{RoleOperator, PermSceneExecute, true},
		{RoleOperator, PermEntityPing, false},
		{RoleAdmin, PermEntityPing, true},
		{RoleOperator, PermAuditRead, false},
		{RoleAdmin, PermAuditRead, true},
		{Role("root"), PermEntityRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleViewer)
	perms[0] = PermEntityPing

	if HasPermission(RoleViewer, PermEntityPing) {
		t.Error("mutating the result changed the permission table")
	}
	if PermissionsForRole(Role("root")) != nil {
		t.Error("unknown role should have no permissions")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%s) = false", r)
		}
	}
	if IsValidRole("") || IsValidRole("owner") {
		t.Error("unexpected valid role")
	}
}
