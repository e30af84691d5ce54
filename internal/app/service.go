package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"taskhive/api/internal/auth"
	"taskhive/api/internal/authpw"
	"taskhive/api/internal/config"
	"taskhive/api/internal/email"
	"taskhive/api/internal/rbac"
	"taskhive/api/internal/search"
	"taskhive/api/internal/store"
	"taskhive/api/internal/util"
)

// Session is the authenticated principal. Handlers receive it explicitly;
// there is no request-scoped global user.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	DeleteUser(context.Context, string) error
	SetUserProjects(context.Context, string, []store.ProjectRef) error
	SetUserFollowedTasks(context.Context, string, []store.FollowedTask) error

	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	DeleteProject(context.Context, string) error
	SetProjectUsers(context.Context, string, []store.ProjectMember) error
	SetProjectTasks(context.Context, string, []store.Task) error
	SetProjectRequirements(context.Context, string, []store.Requirement) error

	InsertInvitation(context.Context, store.Invitation) error
	GetInvitation(context.Context, string) (store.Invitation, error)
	DeleteInvitation(context.Context, string) (bool, error)
	ListInvitationsForUser(context.Context, string) ([]store.Invitation, error)
	ListInvitationsForProject(context.Context, string) ([]store.Invitation, error)

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// refreshStore holds hashed refresh tokens. Redis in production, the
// Postgres fallback when REDIS_URL is unset.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	creds    *authpw.Service
	search   *search.Service
	email    *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, searchSvc *search.Service, emailSvc *email.Service) *Service {
	return newService(cfg, dataStore, sessions, searchSvc, emailSvc)
}

func newService(cfg config.Config, ds dataStore, sessions refreshStore, searchSvc *search.Service, emailSvc *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    ds,
		sessions: sessions,
		creds:    authpw.NewService(ds),
		search:   searchSvc,
		email:    emailSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (Session, store.User, error) {
	user, err := s.creds.Register(ctx, req)
	if err != nil {
		if strings.HasPrefix(err.Error(), "create user:") || strings.HasPrefix(err.Error(), "hash password:") {
			return Session{}, store.User{}, err
		}
		if strings.Contains(err.Error(), "already registered") {
			return Session{}, store.User{}, domainError(400, "EMAIL_EXISTS", err.Error(), nil)
		}
		return Session{}, store.User{}, badRequest(err.Error())
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return session, user, nil
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, store.User, error) {
	user, err := s.creds.Login(ctx, emailAddr, password)
	if err != nil {
		return Session{}, store.User{}, err
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return session, user, nil
}

// Refresh rotates the refresh token: the presented token is revoked before a
// new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:      user.ID,
		Name:     user.FullName(),
		Username: user.Username,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.FullName(),
		Username:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.FullName(),
		Username:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ProjectWithRole pairs a project with the viewing user's role in it.
type ProjectWithRole struct {
	Project store.Project `json:"project"`
	Role    string        `json:"role"`
}

// UserProjects returns every project the user belongs to, each with the
// user's role. Refs pointing at deleted projects are skipped.
func (s *Service) UserProjects(ctx context.Context, session Session) ([]ProjectWithRole, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]ProjectWithRole, 0, len(user.Projects))
	for _, ref := range user.Projects {
		project, err := s.store.GetProject(ctx, ref.ProjectID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		role, _ := rbac.RoleOf(project.Users, session.UserID)
		items = append(items, ProjectWithRole{Project: project, Role: string(role)})
	}
	return items, nil
}

func (s *Service) UserInvitations(ctx context.Context, session Session) ([]store.Invitation, error) {
	return s.store.ListInvitationsForUser(ctx, session.UserID)
}

// AssignedTask is a task annotated with its parent project.
type AssignedTask struct {
	Task               store.Task `json:"task"`
	ParentProjectID    string     `json:"parentProjectId"`
	ParentProjectTitle string     `json:"parentProjectTitle"`
}

// UserTasks returns every task across the user's projects where the user is
// an assignee.
func (s *Service) UserTasks(ctx context.Context, session Session) ([]AssignedTask, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]AssignedTask, 0)
	for _, ref := range user.Projects {
		project, err := s.store.GetProject(ctx, ref.ProjectID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, task := range project.Tasks {
			for _, assignee := range task.Assignees {
				if assignee.UserID == session.UserID {
					items = append(items, AssignedTask{
						Task:               task,
						ParentProjectID:    project.ID,
						ParentProjectTitle: project.Title,
					})
					break
				}
			}
		}
	}
	return items, nil
}

func (s *Service) GetUser(ctx context.Context, session Session) (store.User, error) {
	return s.store.GetUserByID(ctx, session.UserID)
}

// RemoveUser deletes the account and strips the user from the member list of
// every project they belong to.
func (s *Service) RemoveUser(ctx context.Context, session Session) error {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}

	for _, ref := range user.Projects {
		project, err := s.store.GetProject(ctx, ref.ProjectID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		members := membersWithout(project.Users, session.UserID)
		if len(members) == len(project.Users) {
			continue
		}
		if err := s.store.SetProjectUsers(ctx, project.ID, members); err != nil {
			return internalError("could not remove the account from project " + project.ID)
		}
	}

	return s.store.DeleteUser(ctx, session.UserID)
}

// FollowTask adds a task to the user's followed list and returns the task's
// current latest comment date as the client's polling baseline.
func (s *Service) FollowTask(ctx context.Context, session Session, projectID, taskID string) (string, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if !rbac.IsMember(project.Users, session.UserID) {
		return "", forbidden("you are not a member of this project")
	}
	task, ok := findTask(project.Tasks, taskID)
	if !ok {
		return "", notFound("task not found")
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	for _, followed := range user.FollowedTasks {
		if followed.TaskID == taskID && followed.ProjectID == projectID {
			return "", badRequest("you are already following this task")
		}
	}

	followed := append(user.FollowedTasks, store.FollowedTask{TaskID: taskID, ProjectID: projectID})
	if err := s.store.SetUserFollowedTasks(ctx, session.UserID, followed); err != nil {
		return "", err
	}
	return task.LatestCommentDate(), nil
}

func (s *Service) UnfollowTask(ctx context.Context, session Session, projectID, taskID string) error {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}

	kept := make([]store.FollowedTask, 0, len(user.FollowedTasks))
	found := false
	for _, followed := range user.FollowedTasks {
		if followed.TaskID == taskID && followed.ProjectID == projectID {
			found = true
			continue
		}
		kept = append(kept, followed)
	}
	if !found {
		return badRequest("you are not following this task")
	}
	return s.store.SetUserFollowedTasks(ctx, session.UserID, kept)
}

// FollowedTaskCheck is one client-side baseline: the latest comment date the
// client has seen for a followed task.
type FollowedTaskCheck struct {
	ProjectID         string `json:"projectId"`
	TaskID            string `json:"taskId"`
	LatestCommentDate string `json:"latestCommentDate"`
}

// FollowedTaskUpdate reports a followed task whose comments moved past the
// client's baseline, with the comments newer than that baseline.
type FollowedTaskUpdate struct {
	ProjectID         string          `json:"projectId"`
	TaskID            string          `json:"taskId"`
	TaskTitle         string          `json:"taskTitle"`
	LatestCommentDate string          `json:"latestCommentDate"`
	NewComments       []store.Comment `json:"newComments"`
}

// LatestFollowedTaskComments is the pull side of task following. The client
// sends its baselines; the server returns only the tasks whose live latest
// comment date is strictly newer.
func (s *Service) LatestFollowedTaskComments(ctx context.Context, session Session, checks []FollowedTaskCheck) ([]FollowedTaskUpdate, error) {
	updates := make([]FollowedTaskUpdate, 0)
	for _, check := range checks {
		project, err := s.store.GetProject(ctx, check.ProjectID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !rbac.IsMember(project.Users, session.UserID) {
			continue
		}
		task, ok := findTask(project.Tasks, check.TaskID)
		if !ok {
			continue
		}
		live := task.LatestCommentDate()
		if !commentDateAfter(live, check.LatestCommentDate) {
			continue
		}
		updates = append(updates, FollowedTaskUpdate{
			ProjectID:         check.ProjectID,
			TaskID:            check.TaskID,
			TaskTitle:         task.Title,
			LatestCommentDate: live,
			NewComments:       commentsAfter(task.Comments, check.LatestCommentDate),
		})
	}
	return updates, nil
}

func findTask(tasks []store.Task, taskID string) (store.Task, bool) {
	for _, task := range tasks {
		if task.ID == taskID {
			return task, true
		}
	}
	return store.Task{}, false
}

func membersWithout(members []store.ProjectMember, userID string) []store.ProjectMember {
	kept := make([]store.ProjectMember, 0, len(members))
	for _, member := range members {
		if member.UserID == userID {
			continue
		}
		kept = append(kept, member)
	}
	return kept
}

// commentDateAfter reports whether live is strictly newer than baseline.
// An unparseable or empty baseline counts as older than any parseable live
// date; an unparseable live date never counts as newer.
func commentDateAfter(live, baseline string) bool {
	liveTime, ok := parseCommentDate(live)
	if !ok {
		return false
	}
	baseTime, ok := parseCommentDate(baseline)
	if !ok {
		return true
	}
	return liveTime.After(baseTime)
}

func commentsAfter(comments []store.Comment, baseline string) []store.Comment {
	fresh := make([]store.Comment, 0)
	for _, comment := range comments {
		if commentDateAfter(comment.DateAdded, baseline) {
			fresh = append(fresh, comment)
		}
	}
	return fresh
}

func parseCommentDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// sendInvitationEmail notifies the invitee in the background. Failures are
// logged, never surfaced to the inviter.
func (s *Service) sendInvitationEmail(invitee store.User, inviterName, projectTitle, role string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	go func() {
		if err := s.email.SendInvitationEmail(invitee.Email, invitee.FullName(), inviterName, projectTitle, role); err != nil {
			log.Printf("invitation email to %s failed: %v", invitee.Email, err)
		}
	}()
}
