package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"taskhive/api/internal/rbac"
	"taskhive/api/internal/store"
	"taskhive/api/internal/util"
)

type CreateProjectInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	GithubURL   string `json:"githubURL"`
}

// CreateProject inserts a project with the creator as its sole Team Leader
// and appends the ref to the creator's project list. Returns the updated
// project list.
func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) ([]ProjectWithRole, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, badRequest("title is required")
	}

	project := store.Project{
		ID:          util.NewID("prj"),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		GithubURL:   strings.TrimSpace(input.GithubURL),
		Users: []store.ProjectMember{{
			UserID:   session.UserID,
			Name:     session.UserName,
			Username: session.Username,
			Role:     string(rbac.RoleTeamLeader),
		}},
		Tasks:        []store.Task{},
		Requirements: []store.Requirement{},
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	refs := append(user.Projects, store.ProjectRef{ProjectID: project.ID})
	if err := s.store.SetUserProjects(ctx, session.UserID, refs); err != nil {
		// Undo the insert so the project is not orphaned without any
		// member holding a ref to it.
		if derr := s.store.DeleteProject(ctx, project.ID); derr != nil {
			log.Printf("compensation failed: delete project %s: %v", project.ID, derr)
		}
		return nil, internalError("could not create the project")
	}

	return s.UserProjects(ctx, session)
}

// GetProjectForUser returns the project with the caller's role. Membership is
// required to read project content.
func (s *Service) GetProjectForUser(ctx context.Context, session Session, projectID string) (ProjectWithRole, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectWithRole{}, err
	}
	role, ok := rbac.RoleOf(project.Users, session.UserID)
	if !ok {
		return ProjectWithRole{}, forbidden("you are not a member of this project")
	}
	return ProjectWithRole{Project: project, Role: string(role)}, nil
}

func (s *Service) MemberRole(ctx context.Context, session Session, projectID string) (string, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	role, ok := rbac.RoleOf(project.Users, session.UserID)
	if !ok {
		return "", forbidden("you are not a member of this project")
	}
	return string(role), nil
}

// DeleteProject removes the project ref from every member, then deletes the
// project. Only a Team Leader may delete.
func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return forbidden("only a Team Leader can delete a project")
	}

	for _, member := range project.Users {
		user, err := s.store.GetUserByID(ctx, member.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		refs := refsWithout(user.Projects, projectID)
		if len(refs) == len(user.Projects) {
			continue
		}
		if err := s.store.SetUserProjects(ctx, member.UserID, refs); err != nil {
			return internalError("could not detach project from member " + member.UserID)
		}
	}

	return s.store.DeleteProject(ctx, projectID)
}

func (s *Service) ProjectInvitations(ctx context.Context, session Session, projectID string) ([]store.Invitation, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !rbac.IsMember(project.Users, session.UserID) {
		return nil, forbidden("you are not a member of this project")
	}
	return s.store.ListInvitationsForProject(ctx, projectID)
}

// RemoveMember pulls a member out of the project. Leader-gated; a leader may
// remove themselves only through LeaveProject.
func (s *Service) RemoveMember(ctx context.Context, session Session, projectID, userID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return forbidden("only a Team Leader can remove members")
	}
	if userID == session.UserID {
		return badRequest("use leave to remove yourself from a project")
	}
	return s.removeMembership(ctx, project, userID)
}

// LeaveProject is the member-initiated variant of RemoveMember.
func (s *Service) LeaveProject(ctx context.Context, session Session, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !rbac.IsMember(project.Users, session.UserID) {
		return forbidden("you are not a member of this project")
	}
	if len(project.Users) == 1 {
		return badRequest("the last member cannot leave; delete the project instead")
	}
	return s.removeMembership(ctx, project, session.UserID)
}

// removeMembership performs the two-sided pull: the project's member list and
// the user's project refs. A failed second write is compensated by restoring
// the member list; if compensation also fails the halves are inconsistent and
// the caller sees Internal.
func (s *Service) removeMembership(ctx context.Context, project store.Project, userID string) error {
	members := membersWithout(project.Users, userID)
	if len(members) == len(project.Users) {
		return notFound("user is not a member of this project")
	}
	if err := s.store.SetProjectUsers(ctx, project.ID, members); err != nil {
		return err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		// The account is gone; the member entry was stale and its
		// removal is the whole fix.
		return nil
	}
	if err == nil {
		refs := refsWithout(user.Projects, project.ID)
		if len(refs) == len(user.Projects) {
			return nil
		}
		err = s.store.SetUserProjects(ctx, userID, refs)
	}
	if err != nil {
		if cerr := s.store.SetProjectUsers(ctx, project.ID, project.Users); cerr != nil {
			log.Printf("compensation failed: restore members of project %s: %v", project.ID, cerr)
		}
		return internalError("could not remove the member")
	}
	return nil
}

// ChangeMemberRole rewrites the role of one member entry. Leader-gated.
func (s *Service) ChangeMemberRole(ctx context.Context, session Session, projectID, userID, role string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return forbidden("only a Team Leader can change member roles")
	}
	if !rbac.Valid(role) {
		return badRequest("role must be one of Team Leader, Developer, Client")
	}

	members := make([]store.ProjectMember, len(project.Users))
	copy(members, project.Users)
	found := false
	for i := range members {
		if members[i].UserID == userID {
			members[i].Role = role
			found = true
			break
		}
	}
	if !found {
		return notFound("user is not a member of this project")
	}
	return s.store.SetProjectUsers(ctx, projectID, members)
}

// AddInvitation invites a user (by username) to a project. Leader-gated; the
// invitee must exist, must not already be a member, and must not already hold
// a pending invitation to the same project.
func (s *Service) AddInvitation(ctx context.Context, session Session, projectID, username, role string) (store.Invitation, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Invitation{}, err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return store.Invitation{}, forbidden("only a Team Leader can send invitations")
	}
	if !rbac.Valid(role) {
		return store.Invitation{}, badRequest("role must be one of Team Leader, Developer, Client")
	}

	invitee, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Invitation{}, notFound("no user with that username")
	}
	if err != nil {
		return store.Invitation{}, err
	}
	if rbac.IsMember(project.Users, invitee.ID) {
		return store.Invitation{}, badRequest("that user is already a member of this project")
	}

	pending, err := s.store.ListInvitationsForUser(ctx, invitee.ID)
	if err != nil {
		return store.Invitation{}, err
	}
	for _, inv := range pending {
		if inv.Project.ProjectID == projectID {
			return store.Invitation{}, badRequest("that user already has a pending invitation to this project")
		}
	}

	invitation := store.Invitation{
		ID: util.NewID("inv"),
		Invitee: store.InviteeSnapshot{
			UserID:   invitee.ID,
			Name:     invitee.FullName(),
			Username: invitee.Username,
		},
		Inviter: store.InviterSnapshot{
			UserID: session.UserID,
			Name:   session.UserName,
		},
		Project: store.ProjectSnapshot{
			ProjectID: project.ID,
			Title:     project.Title,
		},
		Role: role,
	}
	if err := s.store.InsertInvitation(ctx, invitation); err != nil {
		return store.Invitation{}, err
	}

	s.sendInvitationEmail(invitee, session.UserName, project.Title, role)
	return invitation, nil
}

// AcceptInvitation turns a pending invitation into a membership: project ref
// on the user, member entry on the project, and the invitation deleted.
// Membership is re-checked at accept time; a replayed invitation id yields
// NotFound because the row is already gone.
func (s *Service) AcceptInvitation(ctx context.Context, session Session, invitationID string) (store.Project, error) {
	invitation, err := s.store.GetInvitation(ctx, invitationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, notFound("invitation not found")
	}
	if err != nil {
		return store.Project{}, err
	}
	if invitation.Invitee.UserID != session.UserID {
		return store.Project{}, forbidden("this invitation is addressed to another user")
	}

	project, err := s.store.GetProject(ctx, invitation.Project.ProjectID)
	if errors.Is(err, sql.ErrNoRows) {
		_, _ = s.store.DeleteInvitation(ctx, invitationID)
		return store.Project{}, notFound("the project no longer exists")
	}
	if err != nil {
		return store.Project{}, err
	}
	if rbac.IsMember(project.Users, session.UserID) {
		_, _ = s.store.DeleteInvitation(ctx, invitationID)
		return store.Project{}, badRequest("you are already a member of this project")
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.Project{}, err
	}
	refs := append(user.Projects, store.ProjectRef{ProjectID: project.ID})
	if err := s.store.SetUserProjects(ctx, session.UserID, refs); err != nil {
		return store.Project{}, err
	}

	members := append(project.Users, store.ProjectMember{
		UserID:   session.UserID,
		Name:     user.FullName(),
		Username: user.Username,
		Role:     invitation.Role,
	})
	if err := s.store.SetProjectUsers(ctx, project.ID, members); err != nil {
		if cerr := s.store.SetUserProjects(ctx, session.UserID, user.Projects); cerr != nil {
			log.Printf("compensation failed: restore projects of user %s: %v", session.UserID, cerr)
		}
		return store.Project{}, internalError("could not accept the invitation")
	}

	if _, err := s.store.DeleteInvitation(ctx, invitationID); err != nil {
		log.Printf("delete accepted invitation %s: %v", invitationID, err)
	}

	project.Users = members
	return project, nil
}

// DeleteInvitation declines (invitee) or cancels (inviter) an invitation.
func (s *Service) DeleteInvitation(ctx context.Context, session Session, invitationID string) error {
	invitation, err := s.store.GetInvitation(ctx, invitationID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("invitation not found")
	}
	if err != nil {
		return err
	}
	if invitation.Invitee.UserID != session.UserID && invitation.Inviter.UserID != session.UserID {
		return forbidden("only the invitee or the inviter can delete an invitation")
	}

	deleted, err := s.store.DeleteInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("invitation not found")
	}
	return nil
}

func refsWithout(refs []store.ProjectRef, projectID string) []store.ProjectRef {
	kept := make([]store.ProjectRef, 0, len(refs))
	for _, ref := range refs {
		if ref.ProjectID == projectID {
			continue
		}
		kept = append(kept, ref)
	}
	return kept
}
