package rbac

import (
	"testing"

	"taskhive/api/internal/store"
)

func TestRoleOf(t *testing.T) {
	members := []store.ProjectMember{
		{UserID: "usr_1", Role: "Team Leader"},
		{UserID: "usr_2", Role: "Developer"},
		{UserID: "usr_3", Role: "Client"},
	}

	role, ok := RoleOf(members, "usr_2")
	if !ok || role != RoleDeveloper {
		t.Fatalf("RoleOf(usr_2) = %q, %v", role, ok)
	}
	if _, ok := RoleOf(members, "usr_9"); ok {
		t.Fatal("expected RoleOf to miss for non-member")
	}
}

func TestIsLeader(t *testing.T) {
	members := []store.ProjectMember{
		{UserID: "usr_1", Role: "Team Leader"},
		{UserID: "usr_2", Role: "Developer"},
	}

	if !IsLeader(members, "usr_1") {
		t.Fatal("expected usr_1 to be leader")
	}
	if IsLeader(members, "usr_2") {
		t.Fatal("developer must not pass the leader check")
	}
	if IsLeader(members, "usr_9") {
		t.Fatal("non-member must not pass the leader check")
	}
}

func TestValid(t *testing.T) {
	for _, role := range []string{"Team Leader", "Developer", "Client"} {
		if !Valid(role) {
			t.Fatalf("expected %q to be valid", role)
		}
	}
	for _, role := range []string{"", "Admin", "team leader"} {
		if Valid(role) {
			t.Fatalf("expected %q to be invalid", role)
		}
	}
}
