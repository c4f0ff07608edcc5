package core

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"healthcore/pkg/domain"
)

// ActionClass groups workflow actions by how their assignee is chosen.
type ActionClass int

// Action classes.
const (
	ActionTerminal ActionClass = iota
	ActionInitiate
	ActionIntermediate
	ActionSendBack
)

// WorkflowActions classifies workflow actions for auto-assignment. Actions
// listed nowhere are terminal and leave the workflow unassigned.
type WorkflowActions struct {
	Initiate      []string
	Intermediate  []string
	SendBack      []string
	ApproverRoles []string
}

// Classify returns the class of action.
func (w WorkflowActions) Classify(action string) ActionClass {
	switch {
	case contains(w.SendBack, action):
		return ActionSendBack
	case contains(w.Initiate, action):
		return ActionInitiate
	case contains(w.Intermediate, action):
		return ActionIntermediate
	default:
		return ActionTerminal
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// BoundaryHierarchy splits a pipe-delimited, root-first ancestral path and
// drops the leaf. The result is the set of levels an approver may sit at.
func BoundaryHierarchy(ancestralPath string) []string {
	if ancestralPath == "" {
		return nil
	}
	codes := strings.Split(ancestralPath, "|")
	return codes[:len(codes)-1]
}

// jurisdictionIndex maps each hierarchy level to the employees assigned
// there, keeping only approver roles and levels present in hierarchy.
func jurisdictionIndex(hierarchy []string, assignments []domain.PlanEmployeeAssignment, roles []string) map[string][]string {
	levels := mapset.NewThreadUnsafeSet(hierarchy...)
	approver := mapset.NewThreadUnsafeSet(roles...)
	index := make(map[string][]string)
	for _, a := range assignments {
		if approver.Cardinality() > 0 && !approver.Contains(a.Role) {
			continue
		}
		for _, j := range a.Jurisdiction {
			if levels.Contains(j) {
				index[j] = append(index[j], a.EmployeeID)
			}
		}
	}
	return index
}

// ResolveAssignee picks the employees a plan is routed to for action.
//
// Initiate actions take the employees of the lowest hierarchy level that
// has any. Intermediate actions find the lowest level within the plan's
// current assignee jurisdiction and take the nearest strictly higher level
// with employees. Send-back actions return the plan's last modifier. A nil
// result leaves the workflow unassigned.
func ResolveAssignee(plan *domain.Plan, action string, assignments []domain.PlanEmployeeAssignment, actions WorkflowActions) []string {
	class := actions.Classify(action)
	if class == ActionSendBack {
		if plan.AuditDetails == nil || plan.AuditDetails.LastModifiedBy == "" {
			return nil
		}
		return []string{plan.AuditDetails.LastModifiedBy}
	}
	if class == ActionTerminal {
		return nil
	}

	hierarchy := BoundaryHierarchy(plan.BoundaryAncestralPath)
	index := jurisdictionIndex(hierarchy, assignments, actions.ApproverRoles)

	switch class {
	case ActionInitiate:
		for i := len(hierarchy) - 1; i >= 0; i-- {
			if ids, ok := index[hierarchy[i]]; ok {
				return ids
			}
		}
	case ActionIntermediate:
		current := mapset.NewThreadUnsafeSet(plan.AssigneeJurisdiction...)
		for i := len(hierarchy) - 1; i >= 0; i-- {
			if !current.Contains(hierarchy[i]) {
				continue
			}
			for j := i - 1; j >= 0; j-- {
				if ids, ok := index[hierarchy[j]]; ok {
					return ids
				}
			}
			return nil
		}
	}
	return nil
}
