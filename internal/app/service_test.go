package app

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"taskhive/api/internal/authpw"
	"taskhive/api/internal/config"
	"taskhive/api/internal/rbac"
	"taskhive/api/internal/store"
)

// memStore is an in-memory dataStore. Error fields inject failures into the
// matching write so compensation paths can be exercised.
type memStore struct {
	users       map[string]store.User
	projects    map[string]store.Project
	invitations map[string]store.Invitation
	revokedJTIs map[string]bool

	setUserProjectsErr error
	setProjectUsersErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]store.User{},
		projects:    map[string]store.Project{},
		invitations: map[string]store.Invitation{},
		revokedJTIs: map[string]bool{},
	}
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range m.users {
		if user.Email == strings.ToLower(email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) DeleteUser(_ context.Context, userID string) error {
	delete(m.users, userID)
	return nil
}

func (m *memStore) SetUserProjects(_ context.Context, userID string, refs []store.ProjectRef) error {
	if m.setUserProjectsErr != nil {
		return m.setUserProjectsErr
	}
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Projects = refs
	m.users[userID] = user
	return nil
}

func (m *memStore) SetUserFollowedTasks(_ context.Context, userID string, followed []store.FollowedTask) error {
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.FollowedTasks = followed
	m.users[userID] = user
	return nil
}

func (m *memStore) InsertProject(_ context.Context, project store.Project) error {
	m.projects[project.ID] = project
	return nil
}

func (m *memStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	project, ok := m.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memStore) DeleteProject(_ context.Context, projectID string) error {
	delete(m.projects, projectID)
	return nil
}

func (m *memStore) SetProjectUsers(_ context.Context, projectID string, members []store.ProjectMember) error {
	if m.setProjectUsersErr != nil {
		return m.setProjectUsersErr
	}
	project, ok := m.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	project.Users = members
	m.projects[projectID] = project
	return nil
}

func (m *memStore) SetProjectTasks(_ context.Context, projectID string, tasks []store.Task) error {
	project, ok := m.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	project.Tasks = tasks
	m.projects[projectID] = project
	return nil
}

func (m *memStore) SetProjectRequirements(_ context.Context, projectID string, requirements []store.Requirement) error {
	project, ok := m.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	project.Requirements = requirements
	m.projects[projectID] = project
	return nil
}

func (m *memStore) InsertInvitation(_ context.Context, inv store.Invitation) error {
	m.invitations[inv.ID] = inv
	return nil
}

func (m *memStore) GetInvitation(_ context.Context, invitationID string) (store.Invitation, error) {
	inv, ok := m.invitations[invitationID]
	if !ok {
		return store.Invitation{}, sql.ErrNoRows
	}
	return inv, nil
}

func (m *memStore) DeleteInvitation(_ context.Context, invitationID string) (bool, error) {
	if _, ok := m.invitations[invitationID]; !ok {
		return false, nil
	}
	delete(m.invitations, invitationID)
	return true, nil
}

func (m *memStore) ListInvitationsForUser(_ context.Context, inviteeUserID string) ([]store.Invitation, error) {
	items := []store.Invitation{}
	for _, inv := range m.invitations {
		if inv.Invitee.UserID == inviteeUserID {
			items = append(items, inv)
		}
	}
	return items, nil
}

func (m *memStore) ListInvitationsForProject(_ context.Context, projectID string) ([]store.Invitation, error) {
	items := []store.Invitation{}
	for _, inv := range m.invitations {
		if inv.Project.ProjectID == projectID {
			items = append(items, inv)
		}
	}
	return items, nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.revokedJTIs[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return m.revokedJTIs[jti], nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// memSessions is an in-memory refreshStore.
type memSessions struct {
	tokens map[string]string
}

func newMemSessions() *memSessions {
	return &memSessions{tokens: map[string]string{}}
}

func (m *memSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.tokens[tokenHash] = userID
	return nil
}

func (m *memSessions) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	userID, ok := m.tokens[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(m.tokens, tokenHash)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
	}
}

func newTestService() (*Service, *memStore) {
	ms := newMemStore()
	return newService(testConfig(), ms, newMemSessions(), nil, nil), ms
}

func seedUser(ms *memStore, id, firstName, lastName, username string) store.User {
	user := store.User{
		ID:            id,
		FirstName:     firstName,
		LastName:      lastName,
		Email:         strings.ToLower(firstName + "." + lastName + "@example.com"),
		Username:      username,
		Projects:      []store.ProjectRef{},
		FollowedTasks: []store.FollowedTask{},
	}
	ms.users[id] = user
	return user
}

func seedProject(ms *memStore, id, title string, members ...store.ProjectMember) store.Project {
	project := store.Project{
		ID:           id,
		Title:        title,
		Users:        members,
		Tasks:        []store.Task{},
		Requirements: []store.Requirement{},
	}
	ms.projects[id] = project
	for _, member := range members {
		if user, ok := ms.users[member.UserID]; ok {
			user.Projects = append(user.Projects, store.ProjectRef{ProjectID: id})
			ms.users[member.UserID] = user
		}
	}
	return project
}

func sessionFor(user store.User) Session {
	return Session{
		UserID:   user.ID,
		UserName: user.FullName(),
		Username: user.Username,
	}
}

func leader(user store.User) store.ProjectMember {
	return store.ProjectMember{UserID: user.ID, Name: user.FullName(), Username: user.Username, Role: string(rbac.RoleTeamLeader)}
}

func developer(user store.User) store.ProjectMember {
	return store.ProjectMember{UserID: user.ID, Name: user.FullName(), Username: user.Username, Role: string(rbac.RoleDeveloper)}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	session, user, err := svc.Register(ctx, authpw.RegisterRequest{
		FirstName: "Robin",
		LastName:  "Hale",
		Email:     "robin@example.com",
		Password:  "secret1",
		VPassword: "secret1",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected token pair")
	}
	if okUsername := regexp.MustCompile(`^RH\d{1,6}$`).MatchString(user.Username); !okUsername {
		t.Fatalf("unexpected username %q", user.Username)
	}

	if _, _, err := svc.Login(ctx, "ROBIN@example.com", "secret1"); err != nil {
		t.Fatalf("Login with uppercase email failed: %v", err)
	}
	if _, _, err := svc.Login(ctx, "robin@example.com", "wrong"); !errors.Is(err, authpw.ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req := authpw.RegisterRequest{
		FirstName: "Robin",
		LastName:  "Hale",
		Email:     "robin@example.com",
		Password:  "secret1",
		VPassword: "secret1",
	}
	if _, _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	_, _, err := svc.Register(ctx, req)
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	session, _, err := svc.Register(ctx, authpw.RegisterRequest{
		FirstName: "Robin",
		LastName:  "Hale",
		Email:     "robin@example.com",
		Password:  "secret1",
		VPassword: "secret1",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	rotated, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatal("expected replayed refresh token to be rejected")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	session, _, err := svc.Register(ctx, authpw.RegisterRequest{
		FirstName: "Robin",
		LastName:  "Hale",
		Email:     "robin@example.com",
		Password:  "secret1",
		VPassword: "secret1",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := svc.SessionFromToken(ctx, session.Token); err != nil {
		t.Fatalf("SessionFromToken before logout failed: %v", err)
	}
	if err := svc.Logout(ctx, session, session.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, session.Token); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

func TestFollowTaskReturnsBaselineAndRejectsDuplicate(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	user := seedUser(ms, "usr_1", "Robin", "Hale", "RH000001")
	project := seedProject(ms, "prj_1", "Example", leader(user))
	task := store.Task{
		ID:      "tsk_1",
		TaskKey: "T1",
		Title:   "First",
		Comments: []store.Comment{
			{Content: "hello", DateAdded: "2026-08-01T10:00:00Z"},
			{Content: "latest", DateAdded: "2026-08-02T10:00:00Z"},
		},
	}
	_ = ms.SetProjectTasks(ctx, project.ID, []store.Task{task})

	baseline, err := svc.FollowTask(ctx, sessionFor(user), project.ID, task.ID)
	if err != nil {
		t.Fatalf("FollowTask failed: %v", err)
	}
	if baseline != "2026-08-02T10:00:00Z" {
		t.Fatalf("unexpected baseline %q", baseline)
	}

	_, err = svc.FollowTask(ctx, sessionFor(user), project.ID, task.ID)
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400 for duplicate follow, got %d", status)
	}
}

func TestUnfollowTaskNotFollowed(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	user := seedUser(ms, "usr_1", "Robin", "Hale", "RH000001")

	err := svc.UnfollowTask(ctx, sessionFor(user), "prj_1", "tsk_1")
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestLatestFollowedTaskComments(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	user := seedUser(ms, "usr_1", "Robin", "Hale", "RH000001")
	project := seedProject(ms, "prj_1", "Example", leader(user))
	tasks := []store.Task{
		{
			ID:      "tsk_fresh",
			TaskKey: "T1",
			Title:   "Fresh",
			Comments: []store.Comment{
				{Content: "old", DateAdded: "2026-08-01T10:00:00Z"},
				{Content: "new", DateAdded: "2026-08-03T10:00:00Z"},
			},
		},
		{
			ID:      "tsk_stale",
			TaskKey: "T2",
			Title:   "Stale",
			Comments: []store.Comment{
				{Content: "seen", DateAdded: "2026-08-01T10:00:00Z"},
			},
		},
	}
	_ = ms.SetProjectTasks(ctx, project.ID, tasks)

	updates, err := svc.LatestFollowedTaskComments(ctx, sessionFor(user), []FollowedTaskCheck{
		{ProjectID: project.ID, TaskID: "tsk_fresh", LatestCommentDate: "2026-08-01T10:00:00Z"},
		{ProjectID: project.ID, TaskID: "tsk_stale", LatestCommentDate: "2026-08-01T10:00:00Z"},
	})
	if err != nil {
		t.Fatalf("LatestFollowedTaskComments failed: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].TaskID != "tsk_fresh" {
		t.Fatalf("unexpected task %q", updates[0].TaskID)
	}
	if len(updates[0].NewComments) != 1 || updates[0].NewComments[0].Content != "new" {
		t.Fatalf("unexpected new comments %+v", updates[0].NewComments)
	}
}

func TestLatestFollowedTaskCommentsEmptyBaseline(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	user := seedUser(ms, "usr_1", "Robin", "Hale", "RH000001")
	project := seedProject(ms, "prj_1", "Example", leader(user))
	_ = ms.SetProjectTasks(ctx, project.ID, []store.Task{{
		ID:       "tsk_1",
		TaskKey:  "T1",
		Comments: []store.Comment{{Content: "first", DateAdded: "2026-08-01T10:00:00Z"}},
	}})

	updates, err := svc.LatestFollowedTaskComments(ctx, sessionFor(user), []FollowedTaskCheck{
		{ProjectID: project.ID, TaskID: "tsk_1", LatestCommentDate: ""},
	})
	if err != nil {
		t.Fatalf("LatestFollowedTaskComments failed: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected the empty baseline to be treated as stale, got %d updates", len(updates))
	}
}

func TestRemoveUserStripsMemberships(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()

	owner := seedUser(ms, "usr_owner", "Robin", "Hale", "RH000001")
	other := seedUser(ms, "usr_other", "Jesse", "Ortiz", "JO000002")
	project := seedProject(ms, "prj_1", "Example", leader(owner), developer(other))

	if err := svc.RemoveUser(ctx, sessionFor(other)); err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}

	if _, ok := ms.users[other.ID]; ok {
		t.Fatal("user was not deleted")
	}
	got := ms.projects[project.ID]
	if len(got.Users) != 1 || got.Users[0].UserID != owner.ID {
		t.Fatalf("membership not stripped: %+v", got.Users)
	}
}
