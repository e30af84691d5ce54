package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"taskhive/api/internal/rbac"
	"taskhive/api/internal/search"
	"taskhive/api/internal/store"
	"taskhive/api/internal/util"
)

var allowedTaskStatuses = map[string]struct{}{
	"In Development": {},
	"Testing":        {},
	"In Review":      {},
	"Ready to Merge": {},
	"Resolved":       {},
}

const (
	resolutionResolved   = "Resolved"
	resolutionUnresolved = "Un-Resolved"
)

// resolutionFor derives the resolution field from a status. Only the
// "Resolved" status yields a resolved resolution.
func resolutionFor(status string) string {
	if status == "Resolved" {
		return resolutionResolved
	}
	return resolutionUnresolved
}

type AddTaskInput struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Assignees   []string       `json:"assignees"`
	Status      string         `json:"status"`
	DateDue     string         `json:"dateDue"`
	Subtasks    store.Subtasks `json:"subtasks"`
}

func (s *Service) GetTask(ctx context.Context, session Session, projectID, taskID string) (store.Task, error) {
	project, err := s.memberProject(ctx, session, projectID)
	if err != nil {
		return store.Task{}, err
	}
	task, ok := findTask(project.Tasks, taskID)
	if !ok {
		return store.Task{}, notFound("task not found")
	}
	return task, nil
}

// AddTask creates a task with a server-assigned key. Assignees are given as
// usernames and resolved to snapshots; every assignee must already be a
// project member.
func (s *Service) AddTask(ctx context.Context, session Session, projectID string, input AddTaskInput) (store.Task, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Task{}, err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return store.Task{}, forbidden("only a Team Leader can add tasks")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, badRequest("title is required")
	}
	status := input.Status
	if status == "" {
		status = "In Development"
	}
	if _, ok := allowedTaskStatuses[status]; !ok {
		return store.Task{}, badRequest("invalid task status")
	}

	assignees := make([]store.Assignee, 0, len(input.Assignees))
	for _, username := range input.Assignees {
		assignee, err := s.store.GetUserByUsername(ctx, username)
		if err != nil {
			return store.Task{}, badRequest("assignee " + username + " does not exist")
		}
		if !rbac.IsMember(project.Users, assignee.ID) {
			return store.Task{}, badRequest("assignee " + username + " is not a member of this project")
		}
		assignees = append(assignees, store.Assignee{UserID: assignee.ID, Name: assignee.FullName()})
	}

	now := time.Now().UTC().Format(time.RFC3339)
	task := store.Task{
		ID:          util.NewID("tsk"),
		TaskKey:     nextKey("T", project.Tasks),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Type:        strings.TrimSpace(input.Type),
		Assignees:   assignees,
		Reporter:    store.Assignee{UserID: session.UserID, Name: session.UserName},
		Status:      status,
		Resolution:  resolutionFor(status),
		DateCreated: now,
		DateDue:     strings.TrimSpace(input.DateDue),
		Comments:    []store.Comment{},
		Subtasks:    normalizeSubtasks(input.Subtasks),
	}

	tasks := append(project.Tasks, task)
	if err := s.store.SetProjectTasks(ctx, projectID, tasks); err != nil {
		return store.Task{}, err
	}

	s.indexTasks(projectID, []store.Task{task})
	return task, nil
}

// RemoveTask deletes a task and renumbers every remaining key whose numeric
// suffix is greater than the removed one, keeping keys contiguous. Keys with
// no digit run are left untouched.
func (s *Service) RemoveTask(ctx context.Context, session Session, projectID, taskID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return forbidden("only a Team Leader can remove tasks")
	}

	removed, ok := findTask(project.Tasks, taskID)
	if !ok {
		return notFound("task not found")
	}
	removedSuffix := keySuffix(removed.TaskKey)

	kept := make([]store.Task, 0, len(project.Tasks)-1)
	for _, task := range project.Tasks {
		if task.ID == taskID {
			continue
		}
		if suffix := keySuffix(task.TaskKey); removedSuffix >= 0 && suffix > removedSuffix {
			task.TaskKey = replaceKeySuffix(task.TaskKey, suffix-1)
		}
		kept = append(kept, task)
	}
	if err := s.store.SetProjectTasks(ctx, projectID, kept); err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	// Renumbered keys must be re-indexed.
	s.indexTasks(projectID, kept)
	return nil
}

func (s *Service) GetSubtasks(ctx context.Context, session Session, projectID, taskID string) (store.Subtasks, error) {
	task, err := s.GetTask(ctx, session, projectID, taskID)
	if err != nil {
		return store.Subtasks{}, err
	}
	return task.Subtasks, nil
}

// UpdateSubtasks replaces all three subtask buckets at once.
func (s *Service) UpdateSubtasks(ctx context.Context, session Session, projectID, taskID string, subtasks store.Subtasks) (store.Subtasks, error) {
	project, err := s.memberProject(ctx, session, projectID)
	if err != nil {
		return store.Subtasks{}, err
	}

	updated, err := s.rewriteTask(ctx, project, taskID, func(task *store.Task) {
		task.Subtasks = normalizeSubtasks(subtasks)
	})
	if err != nil {
		return store.Subtasks{}, err
	}
	return updated.Subtasks, nil
}

func (s *Service) GetComments(ctx context.Context, session Session, projectID, taskID string) ([]store.Comment, error) {
	task, err := s.GetTask(ctx, session, projectID, taskID)
	if err != nil {
		return nil, err
	}
	return task.Comments, nil
}

// UpdateComments replaces the full comment list. Add, edit and delete are all
// expressed as a whole-list rewrite by the client.
func (s *Service) UpdateComments(ctx context.Context, session Session, projectID, taskID string, comments []store.Comment) ([]store.Comment, error) {
	project, err := s.memberProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []store.Comment{}
	}

	updated, err := s.rewriteTask(ctx, project, taskID, func(task *store.Task) {
		task.Comments = comments
	})
	if err != nil {
		return nil, err
	}
	return updated.Comments, nil
}

// UpdateStatus validates the new status, derives the resolution from it and
// returns the updated task.
func (s *Service) UpdateStatus(ctx context.Context, session Session, projectID, taskID, status string) (store.Task, error) {
	project, err := s.memberProject(ctx, session, projectID)
	if err != nil {
		return store.Task{}, err
	}
	if _, ok := allowedTaskStatuses[status]; !ok {
		return store.Task{}, badRequest("invalid task status")
	}

	updated, err := s.rewriteTask(ctx, project, taskID, func(task *store.Task) {
		task.Status = status
		task.Resolution = resolutionFor(status)
	})
	if err != nil {
		return store.Task{}, err
	}

	s.indexTasks(projectID, []store.Task{updated})
	return updated, nil
}

// SearchTasks runs a member-gated task search scoped to one project.
func (s *Service) SearchTasks(ctx context.Context, session Session, projectID, query string, limit int) (search.Response, error) {
	if _, err := s.memberProject(ctx, session, projectID); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.TaskRecord{}, Query: query}, nil
	}
	return s.search.Search(search.Query{ProjectID: projectID, Text: query, Limit: limit}), nil
}

// memberProject loads a project and requires the caller to be a member.
func (s *Service) memberProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if !rbac.IsMember(project.Users, session.UserID) {
		return store.Project{}, forbidden("you are not a member of this project")
	}
	return project, nil
}

// rewriteTask applies mutate to one task in the project's list, stamps
// dateUpdated, writes the list back and returns the updated task.
func (s *Service) rewriteTask(ctx context.Context, project store.Project, taskID string, mutate func(*store.Task)) (store.Task, error) {
	tasks := make([]store.Task, len(project.Tasks))
	copy(tasks, project.Tasks)

	index := -1
	for i := range tasks {
		if tasks[i].ID == taskID {
			index = i
			break
		}
	}
	if index < 0 {
		return store.Task{}, notFound("task not found")
	}

	mutate(&tasks[index])
	tasks[index].DateUpdated = time.Now().UTC().Format(time.RFC3339)

	if err := s.store.SetProjectTasks(ctx, project.ID, tasks); err != nil {
		return store.Task{}, err
	}
	return tasks[index], nil
}

func (s *Service) indexTasks(projectID string, tasks []store.Task) {
	if s.search == nil || len(tasks) == 0 {
		return
	}
	records := make([]search.TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, search.TaskRecord{
			ID:          task.ID,
			ProjectID:   projectID,
			TaskKey:     task.TaskKey,
			Title:       task.Title,
			Description: task.Description,
			Type:        task.Type,
			Status:      task.Status,
		})
	}
	s.search.IndexTasks(records)
}

func normalizeSubtasks(subtasks store.Subtasks) store.Subtasks {
	if subtasks.ToDo == nil {
		subtasks.ToDo = []string{}
	}
	if subtasks.InProgress == nil {
		subtasks.InProgress = []string{}
	}
	if subtasks.Complete == nil {
		subtasks.Complete = []string{}
	}
	return subtasks
}

// keySuffix extracts the trailing digit run of a key: "T12" yields 12,
// "REQ-3" yields 3. Keys without a digit run yield -1 and are skipped by
// renumbering.
func keySuffix(key string) int {
	end := len(key)
	start := end
	for start > 0 && key[start-1] >= '0' && key[start-1] <= '9' {
		start--
	}
	if start == end {
		return -1
	}
	n, err := strconv.Atoi(key[start:end])
	if err != nil {
		return -1
	}
	return n
}

func replaceKeySuffix(key string, n int) string {
	end := len(key)
	start := end
	for start > 0 && key[start-1] >= '0' && key[start-1] <= '9' {
		start--
	}
	return key[:start] + strconv.Itoa(n)
}

// nextKey assigns the next key for a prefix: one past the highest numeric
// suffix currently present, starting at 1.
func nextKey(prefix string, tasks []store.Task) string {
	max := 0
	for _, task := range tasks {
		if n := keySuffix(task.TaskKey); n > max {
			max = n
		}
	}
	return prefix + strconv.Itoa(max+1)
}
