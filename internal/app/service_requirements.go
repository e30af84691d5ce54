package app

import (
	"context"
	"strconv"
	"strings"

	"taskhive/api/internal/rbac"
	"taskhive/api/internal/store"
)

type RequirementInput struct {
	Type            string   `json:"type"`
	SystemName      string   `json:"systemName"`
	Trigger         string   `json:"trigger"`
	UnwantedTrigger string   `json:"unwantedTrigger"`
	Preconditions   []string `json:"preconditions"`
	SystemResponses []string `json:"systemResponses"`
	FullText        string   `json:"fullText"`
	Feature         string   `json:"feature"`
	Order           []string `json:"order"`
}

func (input RequirementInput) validate() error {
	if strings.TrimSpace(input.Type) == "" {
		return badRequest("type is required")
	}
	if strings.TrimSpace(input.SystemName) == "" {
		return badRequest("systemName is required")
	}
	if strings.TrimSpace(input.FullText) == "" {
		return badRequest("fullText is required")
	}
	return nil
}

func requirementFromInput(index string, input RequirementInput) store.Requirement {
	return store.Requirement{
		Type:            strings.TrimSpace(input.Type),
		Index:           index,
		SystemName:      strings.TrimSpace(input.SystemName),
		Trigger:         strings.TrimSpace(input.Trigger),
		UnwantedTrigger: strings.TrimSpace(input.UnwantedTrigger),
		Preconditions:   emptyIfNilStrings(input.Preconditions),
		SystemResponses: emptyIfNilStrings(input.SystemResponses),
		FullText:        input.FullText,
		Feature:         strings.TrimSpace(input.Feature),
		Order:           emptyIfNilStrings(input.Order),
	}
}

func (s *Service) ProjectRequirements(ctx context.Context, session Session, projectID string) ([]store.Requirement, error) {
	project, err := s.memberProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return project.Requirements, nil
}

// AddRequirement appends a requirement with a server-assigned contiguous
// index "REQ-<n>". Leader-gated.
func (s *Service) AddRequirement(ctx context.Context, session Session, projectID string, input RequirementInput) (store.Requirement, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Requirement{}, err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return store.Requirement{}, forbidden("only a Team Leader can add requirements")
	}
	if err := input.validate(); err != nil {
		return store.Requirement{}, err
	}

	requirement := requirementFromInput(nextRequirementIndex(project.Requirements), input)
	requirements := append(project.Requirements, requirement)
	if err := s.store.SetProjectRequirements(ctx, projectID, requirements); err != nil {
		return store.Requirement{}, err
	}
	return requirement, nil
}

// UpdateRequirement replaces the requirement at the given index, keeping the
// index itself. Leader-gated.
func (s *Service) UpdateRequirement(ctx context.Context, session Session, projectID, index string, input RequirementInput) (store.Requirement, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Requirement{}, err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return store.Requirement{}, forbidden("only a Team Leader can update requirements")
	}
	if err := input.validate(); err != nil {
		return store.Requirement{}, err
	}

	requirements := make([]store.Requirement, len(project.Requirements))
	copy(requirements, project.Requirements)
	position := -1
	for i := range requirements {
		if requirements[i].Index == index {
			position = i
			break
		}
	}
	if position < 0 {
		return store.Requirement{}, notFound("requirement not found")
	}

	requirements[position] = requirementFromInput(index, input)
	if err := s.store.SetProjectRequirements(ctx, projectID, requirements); err != nil {
		return store.Requirement{}, err
	}
	return requirements[position], nil
}

// RemoveRequirement deletes the requirement at the given index and decrements
// the numeric suffix of every later index, keeping indices contiguous.
func (s *Service) RemoveRequirement(ctx context.Context, session Session, projectID, index string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !rbac.IsLeader(project.Users, session.UserID) {
		return forbidden("only a Team Leader can remove requirements")
	}

	removedSuffix := -1
	found := false
	for _, requirement := range project.Requirements {
		if requirement.Index == index {
			removedSuffix = keySuffix(requirement.Index)
			found = true
			break
		}
	}
	if !found {
		return notFound("requirement not found")
	}

	kept := make([]store.Requirement, 0, len(project.Requirements)-1)
	for _, requirement := range project.Requirements {
		if requirement.Index == index {
			continue
		}
		if suffix := keySuffix(requirement.Index); removedSuffix >= 0 && suffix > removedSuffix {
			requirement.Index = replaceKeySuffix(requirement.Index, suffix-1)
		}
		kept = append(kept, requirement)
	}
	return s.store.SetProjectRequirements(ctx, projectID, kept)
}

func nextRequirementIndex(requirements []store.Requirement) string {
	max := 0
	for _, requirement := range requirements {
		if n := keySuffix(requirement.Index); n > max {
			max = n
		}
	}
	return "REQ-" + strconv.Itoa(max+1)
}

func emptyIfNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
