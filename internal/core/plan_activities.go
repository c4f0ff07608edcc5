package core

import (
	mapset "github.com/deckarep/golang-set/v2"

	"healthcore/pkg/domain"
)

// Plan validation error codes.
const (
	CodeCyclicActivityDependency  = "CYCLIC_ACTIVITY_DEPENDENCY"
	CodeInvalidActivityDependency = "INVALID_ACTIVITY_DEPENDENCY"
	CodeActivitiesCannotBeNull    = "ACTIVITIES_CANNOT_BE_NULL"
	CodeDuplicateActivityCodes    = "DUPLICATE_ACTIVITY_CODES"
	CodePlanActivitiesMandatory   = "PLAN_ACTIVITIES_MANDATORY"
	CodePlanActivitiesNotAllowed  = "PLAN_ACTIVITIES_NOT_ALLOWED"
	CodeInvalidActivityDates      = "INVALID_ACTIVITY_DATES"
	CodeInvalidResourceLinkage    = "INVALID_RESOURCE_ACTIVITY_LINKAGE"
	CodeInvalidTargetLinkage      = "INVALID_TARGET_ACTIVITY_LINKAGE"
	CodeDuplicateActivityUUIDs    = "DUPLICATE_ACTIVITY_UUIDS"
	CodeDuplicateResourceUUIDs    = "DUPLICATE_RESOURCE_UUIDS"
	CodeDuplicateTargetUUIDs      = "DUPLICATE_TARGET_UUIDS"
)

// CheckActivityDependencies rejects dependencies on undeclared activity codes
// and pairs of activities that depend on each other directly. Only one-hop
// cycles are detected: A->B->C->A passes.
func CheckActivityDependencies(activities []domain.Activity) error {
	deps := make(map[string][]string, len(activities))
	for _, a := range activities {
		if a.Dependencies == nil {
			deps[a.Code] = []string{}
			continue
		}
		deps[a.Code] = a.Dependencies
	}

	for _, a := range activities {
		for _, d := range a.Dependencies {
			if _, ok := deps[d]; !ok {
				return domain.NewCustomError(CodeInvalidActivityDependency, "Activity dependency is invalid")
			}
		}
	}

	for code, list := range deps {
		for _, d := range list {
			for _, back := range deps[d] {
				if back == code {
					return domain.NewCustomError(CodeCyclicActivityDependency, "Cyclic activity dependency found")
				}
			}
		}
	}
	return nil
}

func activityCodes(activities []domain.Activity) mapset.Set[string] {
	codes := mapset.NewThreadUnsafeSet[string]()
	for _, a := range activities {
		codes.Add(a.Code)
	}
	return codes
}

// ValidateActivities checks presence, code uniqueness and planned dates.
// Activities are required when the plan has no campaign and forbidden when
// it has one.
func ValidateActivities(plan *domain.Plan) error {
	if plan.Activities == nil {
		return domain.NewCustomError(CodeActivitiesCannotBeNull, "Activities list in Plan cannot be null")
	}
	if activityCodes(plan.Activities).Cardinality() != len(plan.Activities) {
		return domain.NewCustomError(CodeDuplicateActivityCodes, "Activity codes within the plan should be unique")
	}
	if plan.CampaignID == "" && len(plan.Activities) == 0 {
		return domain.NewCustomError(CodePlanActivitiesMandatory, "Activities are mandatory if execution plan id is not provided")
	}
	if plan.CampaignID != "" && len(plan.Activities) > 0 {
		return domain.NewCustomError(CodePlanActivitiesNotAllowed, "Activities are not allowed if execution plan id is provided")
	}
	for _, a := range plan.Activities {
		if a.PlannedEndDate < a.PlannedStartDate {
			return domain.NewCustomError(CodeInvalidActivityDates, "Planned end date cannot be before planned start date")
		}
	}
	return nil
}

func distinctIDs[T any](items []T, id func(T) string) bool {
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, it := range items {
		ids.Add(id(it))
	}
	return ids.Cardinality() == len(items)
}

// ValidateActivityUUIDs requires distinct activity ids on update.
func ValidateActivityUUIDs(activities []domain.Activity) error {
	if !distinctIDs(activities, func(a domain.Activity) string { return a.ID }) {
		return domain.NewCustomError(CodeDuplicateActivityUUIDs, "Activity UUIDs should be unique")
	}
	return nil
}

// ValidateResourceUUIDs requires distinct resource ids on update. Two
// resources without an id count as duplicates.
func ValidateResourceUUIDs(resources []domain.Resource) error {
	if !distinctIDs(resources, func(r domain.Resource) string { return r.ID }) {
		return domain.NewCustomError(CodeDuplicateResourceUUIDs, "Resource UUIDs should be unique")
	}
	return nil
}

// ValidateTargetUUIDs requires distinct target ids on update.
func ValidateTargetUUIDs(targets []domain.Target) error {
	if !distinctIDs(targets, func(t domain.Target) string { return t.ID }) {
		return domain.NewCustomError(CodeDuplicateTargetUUIDs, "Target UUIDs should be unique")
	}
	return nil
}

// ValidateActivityLinkage requires resources and targets to reference
// declared activities. Plans without activities are not checked.
func ValidateActivityLinkage(plan *domain.Plan) error {
	if len(plan.Activities) == 0 {
		return nil
	}
	codes := activityCodes(plan.Activities)
	for _, r := range plan.Resources {
		if !codes.Contains(r.ActivityCode) {
			return domain.NewCustomError(CodeInvalidResourceLinkage, "Resource-Activity linkage is invalid")
		}
	}
	for _, t := range plan.Targets {
		if !codes.Contains(t.ActivityCode) {
			return domain.NewCustomError(CodeInvalidTargetLinkage, "Target-Activity linkage is invalid")
		}
	}
	return nil
}

// ValidatePlanActivities runs every activity check of a plan request in
// order and returns the first failure.
func ValidatePlanActivities(plan *domain.Plan, update bool) error {
	if err := ValidateActivities(plan); err != nil {
		return err
	}
	if update {
		if err := ValidateActivityUUIDs(plan.Activities); err != nil {
			return err
		}
		if err := ValidateResourceUUIDs(plan.Resources); err != nil {
			return err
		}
		if err := ValidateTargetUUIDs(plan.Targets); err != nil {
			return err
		}
	}
	if err := ValidateActivityLinkage(plan); err != nil {
		return err
	}
	return CheckActivityDependencies(plan.Activities)
}
