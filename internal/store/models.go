package store

import "time"

type User struct {
	ID            string         `json:"_id"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	Email         string         `json:"email"`
	Username      string         `json:"username"`
	PasswordHash  string         `json:"-"`
	Projects      []ProjectRef   `json:"projects"`
	FollowedTasks []FollowedTask `json:"followedTasks"`
	CreatedAt     time.Time      `json:"date"`
}

func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

type ProjectRef struct {
	ProjectID string `json:"projectId"`
}

type FollowedTask struct {
	TaskID    string `json:"taskId"`
	ProjectID string `json:"projectId"`
}

// ProjectMember is the denormalized membership entry held on the project
// document. Name and username are snapshots taken when the member joined.
type ProjectMember struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Project struct {
	ID           string          `json:"_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	GithubURL    string          `json:"githubURL"`
	Users        []ProjectMember `json:"users"`
	Tasks        []Task          `json:"tasks"`
	Requirements []Requirement   `json:"requirements"`
}

type Assignee struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type Comment struct {
	AuthorID    string   `json:"authorId"`
	AuthorName  string   `json:"authorName"`
	Content     string   `json:"content"`
	TaggedUsers []string `json:"taggedUsers"`
	DateAdded   string   `json:"dateAdded"`
}

type Subtasks struct {
	ToDo       []string `json:"toDo"`
	InProgress []string `json:"inProgress"`
	Complete   []string `json:"complete"`
}

type Task struct {
	ID          string    `json:"_id"`
	TaskKey     string    `json:"taskKey"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Assignees   []Assignee `json:"assignees"`
	Reporter    Assignee  `json:"reporter"`
	Status      string    `json:"status"`
	Resolution  string    `json:"resolution"`
	DateCreated string    `json:"dateCreated"`
	DateUpdated string    `json:"dateUpdated,omitempty"`
	DateDue     string    `json:"dateDue,omitempty"`
	Comments    []Comment `json:"comments"`
	Subtasks    Subtasks  `json:"subtasks"`
}

// LatestCommentDate returns the dateAdded of the newest comment, or "" when
// the task has no comments. Comments are append-ordered.
func (t Task) LatestCommentDate() string {
	if len(t.Comments) == 0 {
		return ""
	}
	return t.Comments[len(t.Comments)-1].DateAdded
}

type Requirement struct {
	Type            string   `json:"type"`
	Index           string   `json:"index"`
	SystemName      string   `json:"systemName"`
	Trigger         string   `json:"trigger,omitempty"`
	UnwantedTrigger string   `json:"unwantedTrigger,omitempty"`
	Preconditions   []string `json:"preconditions"`
	SystemResponses []string `json:"systemResponses"`
	FullText        string   `json:"fullText"`
	Feature         string   `json:"feature,omitempty"`
	Order           []string `json:"order,omitempty"`
}

// InviteeSnapshot and InviterSnapshot are display copies taken when the
// invitation is created; they do not track later renames.
type InviteeSnapshot struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type InviterSnapshot struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type ProjectSnapshot struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
}

type Invitation struct {
	ID      string          `json:"_id"`
	Invitee InviteeSnapshot `json:"invitee"`
	Inviter InviterSnapshot `json:"inviter"`
	Project ProjectSnapshot `json:"project"`
	Role    string          `json:"role"`
}
