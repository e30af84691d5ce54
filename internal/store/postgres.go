package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

const userColumns = `id, first_name, last_name, email, username, password_hash, projects, followed_tasks, created_at`

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	var projectsRaw, followedRaw []byte
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&projectsRaw,
		&followedRaw,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	user.Projects = make([]ProjectRef, 0)
	user.FollowedTasks = make([]FollowedTask, 0)
	_ = json.Unmarshal(projectsRaw, &user.Projects)
	_ = json.Unmarshal(followedRaw, &user.FollowedTasks)
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	projects, err := json.Marshal(emptyIfNilRefs(user.Projects))
	if err != nil {
		return fmt.Errorf("marshal projects: %w", err)
	}
	followed, err := json.Marshal(emptyIfNilFollowed(user.FollowedTasks))
	if err != nil {
		return fmt.Errorf("marshal followed tasks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, email, username, password_hash, projects, followed_tasks)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb)
	`, user.ID, user.FirstName, user.LastName, strings.ToLower(user.Email), user.Username, user.PasswordHash, projects, followed)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return s.scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, strings.ToLower(email))
	return s.scanUser(row)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
	return s.scanUser(row)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// SetUserProjects replaces the user's project reference list whole.
func (s *PostgresStore) SetUserProjects(ctx context.Context, userID string, refs []ProjectRef) error {
	encoded, err := json.Marshal(emptyIfNilRefs(refs))
	if err != nil {
		return fmt.Errorf("marshal project refs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET projects=$2::jsonb WHERE id=$1`, userID, encoded)
	if err != nil {
		return fmt.Errorf("set user projects: %w", err)
	}
	return nil
}

// SetUserFollowedTasks replaces the user's followed-task list whole.
func (s *PostgresStore) SetUserFollowedTasks(ctx context.Context, userID string, followed []FollowedTask) error {
	encoded, err := json.Marshal(emptyIfNilFollowed(followed))
	if err != nil {
		return fmt.Errorf("marshal followed tasks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET followed_tasks=$2::jsonb WHERE id=$1`, userID, encoded)
	if err != nil {
		return fmt.Errorf("set followed tasks: %w", err)
	}
	return nil
}

// ── Projects ──

const projectColumns = `id, title, description, github_url, users, tasks, requirements`

func (s *PostgresStore) scanProject(row *sql.Row) (Project, error) {
	var project Project
	var usersRaw, tasksRaw, requirementsRaw []byte
	err := row.Scan(
		&project.ID,
		&project.Title,
		&project.Description,
		&project.GithubURL,
		&usersRaw,
		&tasksRaw,
		&requirementsRaw,
	)
	if err != nil {
		return Project{}, err
	}
	project.Users = make([]ProjectMember, 0)
	project.Tasks = make([]Task, 0)
	project.Requirements = make([]Requirement, 0)
	_ = json.Unmarshal(usersRaw, &project.Users)
	_ = json.Unmarshal(tasksRaw, &project.Tasks)
	_ = json.Unmarshal(requirementsRaw, &project.Requirements)
	return project, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	users, err := json.Marshal(project.Users)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}
	tasks, err := json.Marshal(emptyIfNilTasks(project.Tasks))
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	requirements, err := json.Marshal(emptyIfNilRequirements(project.Requirements))
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, github_url, users, tasks, requirements)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb)
	`, project.ID, project.Title, project.Description, project.GithubURL, users, tasks, requirements)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID)
	return s.scanProject(row)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// SetProjectUsers replaces the project's member list whole. Callers rebuild
// the list in memory; this keeps the rewrite in one place.
func (s *PostgresStore) SetProjectUsers(ctx context.Context, projectID string, members []ProjectMember) error {
	encoded, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE projects SET users=$2::jsonb WHERE id=$1`, projectID, encoded)
	if err != nil {
		return fmt.Errorf("set project users: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetProjectTasks(ctx context.Context, projectID string, tasks []Task) error {
	encoded, err := json.Marshal(emptyIfNilTasks(tasks))
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE projects SET tasks=$2::jsonb WHERE id=$1`, projectID, encoded)
	if err != nil {
		return fmt.Errorf("set project tasks: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetProjectRequirements(ctx context.Context, projectID string, requirements []Requirement) error {
	encoded, err := json.Marshal(emptyIfNilRequirements(requirements))
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE projects SET requirements=$2::jsonb WHERE id=$1`, projectID, encoded)
	if err != nil {
		return fmt.Errorf("set project requirements: %w", err)
	}
	return nil
}

// ── Invitations ──

const invitationColumns = `id, invitee_user_id, invitee_name, invitee_username, inviter_user_id, inviter_name, project_id, project_title, role`

func scanInvitation(scan func(...any) error) (Invitation, error) {
	var inv Invitation
	err := scan(
		&inv.ID,
		&inv.Invitee.UserID,
		&inv.Invitee.Name,
		&inv.Invitee.Username,
		&inv.Inviter.UserID,
		&inv.Inviter.Name,
		&inv.Project.ProjectID,
		&inv.Project.Title,
		&inv.Role,
	)
	if err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

func (s *PostgresStore) InsertInvitation(ctx context.Context, inv Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, invitee_user_id, invitee_name, invitee_username, inviter_user_id, inviter_name, project_id, project_title, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inv.ID, inv.Invitee.UserID, inv.Invitee.Name, inv.Invitee.Username, inv.Inviter.UserID, inv.Inviter.Name, inv.Project.ProjectID, inv.Project.Title, inv.Role)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id=$1`, invitationID)
	return scanInvitation(row.Scan)
}

// DeleteInvitation removes the invitation and reports whether it existed.
func (s *PostgresStore) DeleteInvitation(ctx context.Context, invitationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invitations WHERE id=$1`, invitationID)
	if err != nil {
		return false, fmt.Errorf("delete invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete invitation rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListInvitationsForUser(ctx context.Context, inviteeUserID string) ([]Invitation, error) {
	return s.listInvitations(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE invitee_user_id=$1 ORDER BY created_at ASC`, inviteeUserID)
}

func (s *PostgresStore) ListInvitationsForProject(ctx context.Context, projectID string) ([]Invitation, error) {
	return s.listInvitations(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE project_id=$1 ORDER BY created_at ASC`, projectID)
}

func (s *PostgresStore) listInvitations(ctx context.Context, query string, arg any) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		item, err := scanInvitation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

// ── Refresh sessions (Postgres fallback when Redis is not configured) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a refresh token hash to the owning user id.
func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	const query = `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`
	var userID string
	if err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// JSONB columns hold [] rather than null so readers never see nil arrays.

func emptyIfNilRefs(refs []ProjectRef) []ProjectRef {
	if refs == nil {
		return []ProjectRef{}
	}
	return refs
}

func emptyIfNilFollowed(followed []FollowedTask) []FollowedTask {
	if followed == nil {
		return []FollowedTask{}
	}
	return followed
}

func emptyIfNilTasks(tasks []Task) []Task {
	if tasks == nil {
		return []Task{}
	}
	return tasks
}

func emptyIfNilRequirements(requirements []Requirement) []Requirement {
	if requirements == nil {
		return []Requirement{}
	}
	return requirements
}
