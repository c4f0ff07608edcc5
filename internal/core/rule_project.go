package core

import (
	"context"
	"fmt"
	"time"

	"healthcore/pkg/domain"
)

// Project stage names.
const (
	StageProjectDates    = "ProjectDates"
	StageProjectType     = "ProjectType"
	StageProjectParent   = "ProjectParent"
	StageProjectBoundary = "ProjectBoundary"
)

const minProjectSpan = 24 * time.Hour

// ProjectDatesValidator requires startDate before endDate with at least one
// day between them. Projects without an end date are not checked.
type ProjectDatesValidator struct{}

// Name returns the stage name.
func (ProjectDatesValidator) Name() string { return StageProjectDates }

// Validate needs no lookup.
func (ProjectDatesValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.Project]) domain.ErrorMap[*domain.Project] {
	out := domain.NewErrorMap[*domain.Project]()
	valid := batch.Valid()
	for _, p := range valid {
		if p.EndDate == 0 {
			continue
		}
		switch {
		case p.StartDate > p.EndDate:
			out.Add(p, domain.NewError(domain.CodeInvalidDate, "Start date should be less than end date"))
		case p.EndDate < p.StartDate+minProjectSpan.Milliseconds():
			out.Add(p, domain.NewError(domain.CodeInvalidDate, "Start date and end date difference should at least be 1 day."))
		}
	}
	logValidated(ctx, StageProjectDates, len(valid), out.Len())
	return out
}

// ProjectTypeValidator checks projectType against the MDMS project type
// master.
type ProjectTypeValidator struct {
	mdms MDMSClient
}

// NewProjectTypeValidator constructs the stage over mdms.
func NewProjectTypeValidator(mdms MDMSClient) *ProjectTypeValidator {
	return &ProjectTypeValidator{mdms: mdms}
}

// Name returns the stage name.
func (v *ProjectTypeValidator) Name() string { return StageProjectType }

// Validate reads the tenant's project types once.
func (v *ProjectTypeValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.Project]) domain.ErrorMap[*domain.Project] {
	out := domain.NewErrorMap[*domain.Project]()
	var checked []*domain.Project
	for _, p := range batch.Valid() {
		if p.ProjectType != "" {
			checked = append(checked, p)
		}
	}
	if len(checked) == 0 {
		return out
	}
	types, err := v.mdms.ProjectTypes(ctx, batch.TenantID())
	if err != nil {
		logLookupFailure(ctx, StageProjectType, err)
		out.AddAll(checked, domain.NetworkError(err))
		return out
	}
	known := make(map[string]struct{}, len(types))
	for _, t := range types {
		known[t] = struct{}{}
	}
	for _, p := range checked {
		if _, ok := known[p.ProjectType]; !ok {
			out.Add(p, domain.NewError(domain.CodeNonExistentRelatedEntity,
				fmt.Sprintf("Project type %s is not configured", p.ProjectType)))
		}
	}
	logValidated(ctx, StageProjectType, len(checked), out.Len())
	return out
}

// NewProjectParentValidator checks the parent project id against the
// project repository.
func NewProjectParentValidator(projects domain.Repository[*domain.Project]) domain.Validator[*domain.Project] {
	return NewRelatedEntityValidator(StageProjectParent, func(p *domain.Project) []string {
		return []string{p.ParentID}
	}, RepositoryResolver(projects, domain.FieldID))
}

// NewProjectBoundaryValidator checks boundaryCode against the boundary
// service.
func NewProjectBoundaryValidator(boundaries BoundaryClient) domain.Validator[*domain.Project] {
	return NewRelatedEntityValidator(StageProjectBoundary, func(p *domain.Project) []string {
		return []string{p.BoundaryCode}
	}, boundaries.ExistingBoundaries)
}
