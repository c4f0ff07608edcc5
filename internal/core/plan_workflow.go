package core

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"healthcore/pkg/domain"
)

// Workflow error codes.
const (
	CodeWorkflowIntegration        = "WORKFLOW_INTEGRATION_ERROR"
	CodeJurisdictionNotFound       = "JURISDICTION_NOT_FOUND"
	CodeEmployeeAssignmentNotFound = "PLAN_EMPLOYEE_ASSIGNMENT_FOR_BOUNDARY_NOT_FOUND"
)

// ProcessSettings names the workflow business service plans move through.
type ProcessSettings struct {
	BusinessService string
	ModuleName      string
}

// NewProcessInstance builds the transition request for plan. Workflow
// assignees become the instance assignee list.
func NewProcessInstance(plan *domain.Plan, settings ProcessSettings) domain.ProcessInstance {
	wf := plan.Workflow
	if wf == nil {
		wf = &domain.Workflow{}
	}
	users := make([]domain.User, 0, len(wf.Assignees))
	for _, a := range wf.Assignees {
		users = append(users, domain.User{UUID: a})
	}
	return domain.ProcessInstance{
		BusinessID:      plan.ID,
		TenantID:        plan.TenantID,
		BusinessService: settings.BusinessService,
		ModuleName:      settings.ModuleName,
		Action:          wf.Action,
		Comment:         wf.Comments,
		Documents:       wf.Documents,
		Assignes:        users,
	}
}

// assignmentsFor fetches the approver assignments on the hierarchy of plan.
// Only initiate and intermediate actions need them.
func (s *PlanService) assignmentsFor(ctx context.Context, plan *domain.Plan) ([]domain.PlanEmployeeAssignment, error) {
	switch s.actions.Classify(plan.Workflow.Action) {
	case ActionInitiate, ActionIntermediate:
	default:
		return nil, nil
	}
	hierarchy := BoundaryHierarchy(plan.BoundaryAncestralPath)
	if len(hierarchy) == 0 {
		return nil, nil
	}
	found, err := s.assignments.SearchAssignments(ctx, domain.AssignmentSearch{
		TenantID:            plan.TenantID,
		PlanConfigurationID: plan.PlanConfigurationID,
		Jurisdictions:       hierarchy,
		Roles:               s.actions.ApproverRoles,
	})
	if err != nil {
		return nil, errors.Wrap(err, "search plan employee assignments")
	}
	return found, nil
}

// transition resolves assignees and advances every plan through the
// workflow in one call. The assignee is resolved once from the first plan;
// send-back actions resolve per plan.
func (s *PlanService) transition(ctx context.Context, info domain.RequestInfo, plans []*domain.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	first := plans[0]
	assignments, err := s.assignmentsFor(ctx, first)
	if err != nil {
		return err
	}
	shared := ResolveAssignee(first, first.Workflow.Action, assignments, s.actions)

	instances := make([]domain.ProcessInstance, 0, len(plans))
	for _, plan := range plans {
		assignee := shared
		if s.actions.Classify(plan.Workflow.Action) == ActionSendBack {
			assignee = ResolveAssignee(plan, plan.Workflow.Action, nil, s.actions)
		}
		if len(assignee) > 0 {
			plan.Workflow.Assignees = assignee
		}
		plan.Assignee = assignee
		instances = append(instances, NewProcessInstance(plan, s.process))
	}

	resp, err := s.workflow.Transition(ctx, info, instances)
	if err != nil {
		logWithFields(ctx, logrus.ErrorLevel, "workflow transition failed", logrus.Fields{
			"business_service": s.process.BusinessService,
			"plans":            len(plans),
			"error":            err.Error(),
		})
		return domain.NewCustomError(CodeWorkflowIntegration, "Exception occured while integrating with workflow : "+err.Error())
	}
	for i, plan := range plans {
		inst := pickInstance(resp, i)
		if inst != nil && inst.State != nil {
			plan.Status = inst.State.State
		}
	}
	logWithFields(ctx, logrus.DebugLevel, "workflow transitioned", logrus.Fields{
		"plans":    len(plans),
		"assignee": shared,
	})
	return nil
}

func pickInstance(resp []domain.ProcessInstance, i int) *domain.ProcessInstance {
	switch {
	case i < len(resp):
		return &resp[i]
	case len(resp) > 0:
		return &resp[0]
	default:
		return nil
	}
}

// checkJurisdiction requires the acting employee to hold an approver
// assignment on the plan configuration whose jurisdiction intersects each
// plan's boundary path. The employee's jurisdiction is recorded on each
// plan as its current assignee jurisdiction.
func (s *PlanService) checkJurisdiction(ctx context.Context, info domain.RequestInfo, plans []*domain.Plan) error {
	first := plans[0]
	found, err := s.assignments.SearchAssignments(ctx, domain.AssignmentSearch{
		TenantID:            first.TenantID,
		PlanConfigurationID: first.PlanConfigurationID,
		EmployeeID:          info.UserID(),
		Roles:               s.actions.ApproverRoles,
	})
	if err != nil {
		return errors.Wrap(err, "search acting employee assignment")
	}
	if len(found) == 0 {
		return domain.NewCustomError(CodeEmployeeAssignmentNotFound,
			"No plan-employee assignment found for the provided boundary - "+first.Locality)
	}
	jurisdiction := found[0].Jurisdiction
	for _, plan := range plans {
		path := splitPath(plan.BoundaryAncestralPath)
		if !intersects(path, jurisdiction) {
			return domain.NewCustomError(CodeJurisdictionNotFound,
				"Employee doesn't have the jurisdiction to take action for the provided locality.")
		}
		plan.AssigneeJurisdiction = append([]string(nil), jurisdiction...)
	}
	return nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "|")
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
