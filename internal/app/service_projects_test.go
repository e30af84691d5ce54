package app

import (
	"context"
	"errors"
	"testing"

	"taskhive/api/internal/rbac"
)

func TestCreateProjectCreatorIsLeader(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	user := seedUser(ms, "usr_1", "Robin", "Hale", "RH000001")

	items, err := svc.CreateProject(ctx, sessionFor(user), CreateProjectInput{Title: "Example"})
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 project, got %d", len(items))
	}
	if items[0].Role != string(rbac.RoleTeamLeader) {
		t.Fatalf("creator role = %q, want Team Leader", items[0].Role)
	}

	project := items[0].Project
	if len(project.Users) != 1 || project.Users[0].UserID != user.ID {
		t.Fatalf("unexpected member list %+v", project.Users)
	}
	if got := ms.users[user.ID].Projects; len(got) != 1 || got[0].ProjectID != project.ID {
		t.Fatalf("project ref not appended to creator: %+v", got)
	}
}

func TestCreateProjectRequiresTitle(t *testing.T) {
	svc, ms := newTestService()
	user := seedUser(ms, "usr_1", "Robin", "Hale", "RH000001")

	_, err := svc.CreateProject(context.Background(), sessionFor(user), CreateProjectInput{Title: "  "})
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestDeleteProjectRequiresLeader(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	dev := seedUser(ms, "usr_dev", "Jesse", "Ortiz", "JO000002")
	project := seedProject(ms, "prj_1", "Example", leader(owner), developer(dev))

	err := svc.DeleteProject(ctx, sessionFor(dev), project.ID)
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestDeleteProjectStripsRefsFromAllMembers(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	dev := seedUser(ms, "usr_dev", "Jesse", "Ortiz", "JO000002")
	project := seedProject(ms, "prj_1", "Example", leader(owner), developer(dev))

	if err := svc.DeleteProject(ctx, sessionFor(owner), project.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}

	if _, ok := ms.projects[project.ID]; ok {
		t.Fatal("project was not deleted")
	}
	for _, userID := range []string{owner.ID, dev.ID} {
		if refs := ms.users[userID].Projects; len(refs) != 0 {
			t.Fatalf("refs of %s not stripped: %+v", userID, refs)
		}
	}
}

func TestChangeMemberRole(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	dev := seedUser(ms, "usr_dev", "Jesse", "Ortiz", "JO000002")
	project := seedProject(ms, "prj_1", "Example", leader(owner), developer(dev))

	if err := svc.ChangeMemberRole(ctx, sessionFor(owner), project.ID, dev.ID, "Client"); err != nil {
		t.Fatalf("ChangeMemberRole failed: %v", err)
	}
	role, _ := rbac.RoleOf(ms.projects[project.ID].Users, dev.ID)
	if role != rbac.RoleClient {
		t.Fatalf("role = %q, want Client", role)
	}

	err := svc.ChangeMemberRole(ctx, sessionFor(owner), project.ID, dev.ID, "Admin")
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400 for invalid role, got %d", status)
	}

	err = svc.ChangeMemberRole(ctx, sessionFor(owner), project.ID, "usr_ghost", "Developer")
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("expected 404 for non-member, got %d", status)
	}
}

func TestRemoveMemberTwoSidedPull(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	dev := seedUser(ms, "usr_dev", "Jesse", "Ortiz", "JO000002")
	project := seedProject(ms, "prj_1", "Example", leader(owner), developer(dev))

	if err := svc.RemoveMember(ctx, sessionFor(owner), project.ID, dev.ID); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	if members := ms.projects[project.ID].Users; len(members) != 1 {
		t.Fatalf("member not removed: %+v", members)
	}
	if refs := ms.users[dev.ID].Projects; len(refs) != 0 {
		t.Fatalf("ref not removed from user: %+v", refs)
	}
}

func TestRemoveMemberSelfRejected(t *testing.T) {
	svc, ms := newTestService()
	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	project := seedProject(ms, "prj_1", "Example", leader(owner))

	err := svc.RemoveMember(context.Background(), sessionFor(owner), project.ID, owner.ID)
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestLeaveProjectLastMemberRejected(t *testing.T) {
	svc, ms := newTestService()
	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	project := seedProject(ms, "prj_1", "Example", leader(owner))

	err := svc.LeaveProject(context.Background(), sessionFor(owner), project.ID)
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestAddInvitationRules(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	dev := seedUser(ms, "usr_dev", "Jesse", "Ortiz", "JO000002")
	outsider := seedUser(ms, "usr_out", "Casey", "Lund", "CL000003")
	project := seedProject(ms, "prj_1", "Example", leader(owner), developer(dev))

	// Non-leader cannot invite.
	_, err := svc.AddInvitation(ctx, sessionFor(dev), project.ID, outsider.Username, "Developer")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}

	// Unknown invitee.
	_, err = svc.AddInvitation(ctx, sessionFor(owner), project.ID, "ZZ999999", "Developer")
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}

	// Existing member.
	_, err = svc.AddInvitation(ctx, sessionFor(owner), project.ID, dev.Username, "Developer")
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400 for existing member, got %d", status)
	}

	// First invitation succeeds, duplicate pending invitation is rejected.
	invitation, err := svc.AddInvitation(ctx, sessionFor(owner), project.ID, outsider.Username, "Client")
	if err != nil {
		t.Fatalf("AddInvitation failed: %v", err)
	}
	if invitation.Invitee.UserID != outsider.ID || invitation.Role != "Client" {
		t.Fatalf("unexpected invitation %+v", invitation)
	}
	_, err = svc.AddInvitation(ctx, sessionFor(owner), project.ID, outsider.Username, "Client")
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400 for duplicate pending invite, got %d", status)
	}
}

func TestAcceptInvitation(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	invitee := seedUser(ms, "usr_new", "Casey", "Lund", "CL000003")
	project := seedProject(ms, "prj_1", "Example", leader(owner))

	invitation, err := svc.AddInvitation(ctx, sessionFor(owner), project.ID, invitee.Username, "Developer")
	if err != nil {
		t.Fatalf("AddInvitation failed: %v", err)
	}

	joined, err := svc.AcceptInvitation(ctx, sessionFor(invitee), invitation.ID)
	if err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
	role, ok := rbac.RoleOf(joined.Users, invitee.ID)
	if !ok || role != rbac.RoleDeveloper {
		t.Fatalf("invitee role = %q (member=%v), want Developer", role, ok)
	}
	if refs := ms.users[invitee.ID].Projects; len(refs) != 1 || refs[0].ProjectID != project.ID {
		t.Fatalf("ref not appended: %+v", refs)
	}
	if len(ms.invitations) != 0 {
		t.Fatal("invitation was not deleted")
	}

	// Replay of a consumed invitation id.
	_, err = svc.AcceptInvitation(ctx, sessionFor(invitee), invitation.ID)
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("expected 404 on replay, got %d", status)
	}
}

func TestAcceptInvitationWrongInvitee(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	invitee := seedUser(ms, "usr_new", "Casey", "Lund", "CL000003")
	interloper := seedUser(ms, "usr_bad", "Sam", "Reed", "SR000004")
	project := seedProject(ms, "prj_1", "Example", leader(owner))

	invitation, err := svc.AddInvitation(ctx, sessionFor(owner), project.ID, invitee.Username, "Developer")
	if err != nil {
		t.Fatalf("AddInvitation failed: %v", err)
	}

	_, err = svc.AcceptInvitation(ctx, sessionFor(interloper), invitation.ID)
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestAcceptInvitationCompensatesOnPartialFailure(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	invitee := seedUser(ms, "usr_new", "Casey", "Lund", "CL000003")
	project := seedProject(ms, "prj_1", "Example", leader(owner))

	invitation, err := svc.AddInvitation(ctx, sessionFor(owner), project.ID, invitee.Username, "Developer")
	if err != nil {
		t.Fatalf("AddInvitation failed: %v", err)
	}

	ms.setProjectUsersErr = errors.New("write failed")
	_, err = svc.AcceptInvitation(ctx, sessionFor(invitee), invitation.ID)
	if status := domainStatus(t, err); status != 500 {
		t.Fatalf("expected 500, got %d", status)
	}
	// The first write (the user's project ref) must have been rolled back.
	if refs := ms.users[invitee.ID].Projects; len(refs) != 0 {
		t.Fatalf("ref not compensated: %+v", refs)
	}
	if _, ok := ms.invitations[invitation.ID]; !ok {
		t.Fatal("invitation should survive a failed accept")
	}
}

func TestGetProjectMemberGated(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	outsider := seedUser(ms, "usr_out", "Casey", "Lund", "CL000003")
	project := seedProject(ms, "prj_1", "Example", leader(owner))

	if _, err := svc.GetProjectForUser(ctx, sessionFor(owner), project.ID); err != nil {
		t.Fatalf("member read failed: %v", err)
	}
	_, err := svc.GetProjectForUser(ctx, sessionFor(outsider), project.ID)
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}
