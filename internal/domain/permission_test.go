package domain

import "testing"

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role       Role
		capability Capability
		want       bool
	}{
		{RoleOwner, CapManageTenant, true},
		{RoleOwner, CapDeleteAgents, true},
		{RoleAdmin, CapManageTenant, false},
		{RoleAdmin, CapManageUsers, true},
		{RoleAdmin, CapViewAuditLogs, true},
		{RoleDeveloper, CapCreateTasks, true},
		{RoleDeveloper, CapDeleteAgents, false},
		{RoleDeveloper, CapInviteUsers, false},
		{RoleDeveloper, CapViewAuditLogs, false},
		{RoleViewer, CapViewAgents, true},
		{RoleViewer, CapViewTasks, true},
		{RoleViewer, CapCreateTasks, false},
		{RoleViewer, CapCancelTasks, false},
	}

	for _, tc := range cases {
		if got := tc.role.Can(tc.capability); got != tc.want {
			t.Errorf("%s.Can(%s) = %v, want %v", tc.role, tc.capability, got, tc.want)
		}
	}
}

func TestUnknownRoleHasNoCapabilities(t *testing.T) {
	role := Role("superuser")
	if role.Valid() {
		t.Error("unknown role reported valid")
	}
	if role.Can(CapViewAgents) {
		t.Error("unknown role granted a capability")
	}
	if caps := role.Capabilities(); len(caps) != 0 {
		t.Errorf("unknown role has %d capabilities", len(caps))
	}
}

func TestCapabilitiesAreSorted(t *testing.T) {
	caps := RoleOwner.Capabilities()
	if len(caps) != 12 {
		t.Fatalf("owner has %d capabilities, want 12", len(caps))
	}
	for i := 1; i < len(caps); i++ {
		if caps[i-1] >= caps[i] {
			t.Fatalf("capabilities not sorted: %s before %s", caps[i-1], caps[i])
		}
	}
}
