package core

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"healthcore/pkg/domain"
)

// Plan service error codes.
const (
	CodeInvalidPlanID     = "INVALID_PLAN_ID"
	CodeInvalidPlanConfig = "INVALID_PLAN_CONFIG_ID"
	CodeBulkUpdate        = "BULK_UPDATE_ERROR"
	CodeBoundaryNotFound  = "NO_BOUNDARY_DATA_FOUND_FOR_GIVEN_BOUNDARY_CODE"
)

// PlanRequest carries one plan.
type PlanRequest struct {
	RequestInfo domain.RequestInfo `json:"RequestInfo"`
	Plan        domain.Plan        `json:"Plan"`
}

// BulkPlanRequest carries several plans moving through the workflow together.
type BulkPlanRequest struct {
	RequestInfo domain.RequestInfo `json:"RequestInfo"`
	Plans       []domain.Plan      `json:"Plans" validate:"required,min=1,dive"`
}

// PlanTopics names the plan topics.
type PlanTopics struct {
	Create string
	Update string
}

// PlanService creates plans and moves them through the estimation workflow.
type PlanService struct {
	plans       domain.PlanStore
	assignments domain.PlanEmployeeAssignmentStore
	boundaries  BoundaryClient
	configs     PlanConfigurationClient
	workflow    WorkflowClient
	actions     WorkflowActions
	process     ProcessSettings
	topics      PlanTopics
	validate    *validator.Validate
	tracer      Tracer
	now         func() time.Time
	newID       func() string
}

// PlanServiceConfig holds the non-store settings of a PlanService. Tracer
// receives one span per Create, Update and BulkUpdate call; nil disables
// tracing.
type PlanServiceConfig struct {
	Actions WorkflowActions
	Process ProcessSettings
	Topics  PlanTopics
	Tracer  Tracer
}

// NewPlanService wires a plan service over stores and clients.
func NewPlanService(stores Stores, clients Clients, cfg PlanServiceConfig) *PlanService {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noopTracer{}
	}
	return &PlanService{
		plans:       stores.Plans,
		assignments: stores.Assignments,
		boundaries:  clients.Boundary,
		configs:     clients.PlanConfig,
		workflow:    clients.Workflow,
		actions:     cfg.Actions,
		process:     cfg.Process,
		topics:      cfg.Topics,
		validate:    validator.New(),
		tracer:      tracer,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (s *PlanService) shape(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domain.NewCustomError(CodeInvalidRequest, verrs.Error())
		}
		return errors.Wrap(err, "validate plan request")
	}
	return nil
}

// Create validates and stores a new plan, starting its workflow when the
// request carries one.
func (s *PlanService) Create(ctx context.Context, req *PlanRequest) (plan domain.Plan, err error) {
	ctx, span := s.tracer.Start(ctx, "plan.create")
	defer func() { span.End(err) }()
	return s.create(ctx, req)
}

func (s *PlanService) create(ctx context.Context, req *PlanRequest) (domain.Plan, error) {
	if err := s.shape(req); err != nil {
		return domain.Plan{}, err
	}
	plan := &req.Plan
	if err := ValidatePlanActivities(plan, false); err != nil {
		return domain.Plan{}, err
	}
	if err := s.checkPlanConfiguration(ctx, plan.TenantID, plan.PlanConfigurationID); err != nil {
		return domain.Plan{}, err
	}
	if err := s.enrichAncestralPath(ctx, plan); err != nil {
		return domain.Plan{}, err
	}
	s.enrichCreate(plan, req.RequestInfo.UserID())

	if plan.Workflow != nil {
		if err := s.transition(ctx, req.RequestInfo, []*domain.Plan{plan}); err != nil {
			return domain.Plan{}, err
		}
	}
	if err := s.plans.SavePlans(ctx, []domain.Plan{*plan}, s.topics.Create); err != nil {
		return domain.Plan{}, errors.Wrap(err, "save plan")
	}
	logWithFields(ctx, logrus.InfoLevel, "plan created", logrus.Fields{
		"plan":   plan.ID,
		"tenant": plan.TenantID,
		"status": plan.Status,
	})
	return *plan, nil
}

// Update validates an existing plan, checks the acting employee's
// jurisdiction and advances the workflow.
func (s *PlanService) Update(ctx context.Context, req *PlanRequest) (plan domain.Plan, err error) {
	ctx, span := s.tracer.Start(ctx, "plan.update")
	defer func() { span.End(err) }()
	return s.update(ctx, req)
}

func (s *PlanService) update(ctx context.Context, req *PlanRequest) (domain.Plan, error) {
	if err := s.shape(req); err != nil {
		return domain.Plan{}, err
	}
	plan := &req.Plan
	if err := s.loadStored(ctx, plan); err != nil {
		return domain.Plan{}, err
	}
	if err := ValidatePlanActivities(plan, true); err != nil {
		return domain.Plan{}, err
	}
	if err := s.checkPlanConfiguration(ctx, plan.TenantID, plan.PlanConfigurationID); err != nil {
		return domain.Plan{}, err
	}
	if err := s.checkJurisdiction(ctx, req.RequestInfo, []*domain.Plan{plan}); err != nil {
		return domain.Plan{}, err
	}
	if plan.Workflow != nil {
		if err := s.transition(ctx, req.RequestInfo, []*domain.Plan{plan}); err != nil {
			return domain.Plan{}, err
		}
	}
	s.enrichUpdate(plan, req.RequestInfo.UserID())
	if err := s.plans.SavePlans(ctx, []domain.Plan{*plan}, s.topics.Update); err != nil {
		return domain.Plan{}, errors.Wrap(err, "save plan")
	}
	return *plan, nil
}

// BulkUpdate transitions several plans of one tenant and plan configuration
// in a single workflow call.
func (s *PlanService) BulkUpdate(ctx context.Context, req *BulkPlanRequest) (plans []domain.Plan, err error) {
	ctx, span := s.tracer.Start(ctx, "plan.bulk_update")
	defer func() { span.End(err) }()
	return s.bulkUpdate(ctx, req)
}

func (s *PlanService) bulkUpdate(ctx context.Context, req *BulkPlanRequest) ([]domain.Plan, error) {
	if err := s.shape(req); err != nil {
		return nil, err
	}
	if err := checkBulkPlans(req.Plans); err != nil {
		return nil, err
	}
	first := req.Plans[0]
	if err := s.checkPlanConfiguration(ctx, first.TenantID, first.PlanConfigurationID); err != nil {
		return nil, err
	}
	plans := make([]*domain.Plan, 0, len(req.Plans))
	for i := range req.Plans {
		plan := &req.Plans[i]
		if err := s.loadStored(ctx, plan); err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := s.checkJurisdiction(ctx, req.RequestInfo, plans); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, req.RequestInfo, plans); err != nil {
		return nil, err
	}
	out := make([]domain.Plan, 0, len(plans))
	for _, plan := range plans {
		s.enrichUpdate(plan, req.RequestInfo.UserID())
		out = append(out, *plan)
	}
	if err := s.plans.SavePlans(ctx, out, s.topics.Update); err != nil {
		return nil, errors.Wrap(err, "save plans")
	}
	return out, nil
}

func checkBulkPlans(plans []domain.Plan) error {
	ids := make(map[string]struct{}, len(plans))
	first := plans[0]
	for _, p := range plans {
		if _, dup := ids[p.ID]; dup {
			return domain.NewCustomError(CodeBulkUpdate, "Plans provided in the bulk update request are not unique.")
		}
		ids[p.ID] = struct{}{}
		if p.TenantID != first.TenantID || p.PlanConfigurationID != first.PlanConfigurationID {
			return domain.NewCustomError(CodeBulkUpdate, "Tenant id and plan configuration ids should be same across all entries for bulk update.")
		}
		if p.Workflow == nil || p.Workflow.Action == "" {
			return domain.NewCustomError(CodeBulkUpdate, "Workflow information is mandatory for each entry for bulk update.")
		}
	}
	return nil
}

// loadStored copies server-owned fields of the stored plan onto plan. The
// stored audit details are kept so send-back actions route to the previous
// modifier.
func (s *PlanService) loadStored(ctx context.Context, plan *domain.Plan) error {
	stored, ok, err := s.plans.GetPlan(ctx, plan.TenantID, plan.ID).Get()
	if err != nil {
		return errors.Wrapf(err, "load plan %s", plan.ID)
	}
	if !ok {
		return domain.NewCustomError(CodeInvalidPlanID, "Plan id provided is invalid")
	}
	plan.BoundaryAncestralPath = stored.BoundaryAncestralPath
	if stored.AuditDetails != nil {
		audit := *stored.AuditDetails
		plan.AuditDetails = &audit
	}
	return nil
}

func (s *PlanService) checkPlanConfiguration(ctx context.Context, tenantID, id string) error {
	_, ok, err := s.configs.PlanConfiguration(ctx, tenantID, id).Get()
	if err != nil {
		return errors.Wrapf(err, "fetch plan configuration %s", id)
	}
	if !ok {
		return domain.NewCustomError(CodeInvalidPlanConfig, "Plan config id provided is invalid")
	}
	return nil
}

func (s *PlanService) enrichAncestralPath(ctx context.Context, plan *domain.Plan) error {
	if plan.Locality == "" {
		return nil
	}
	path, ok, err := s.boundaries.AncestralPath(ctx, plan.TenantID, plan.Locality).Get()
	if err != nil {
		return errors.Wrapf(err, "fetch boundary %s", plan.Locality)
	}
	if !ok {
		return domain.NewCustomError(CodeBoundaryNotFound, "Invalid or incorrect boundaryCode. No boundary data found.")
	}
	plan.BoundaryAncestralPath = path
	return nil
}

func (s *PlanService) enrichCreate(plan *domain.Plan, user string) {
	now := s.now().UnixMilli()
	plan.ID = s.newID()
	for i := range plan.Activities {
		plan.Activities[i].ID = s.newID()
	}
	for i := range plan.Resources {
		plan.Resources[i].ID = s.newID()
	}
	for i := range plan.Targets {
		plan.Targets[i].ID = s.newID()
	}
	plan.AuditDetails = &domain.AuditDetails{
		CreatedBy:        user,
		CreatedTime:      now,
		LastModifiedBy:   user,
		LastModifiedTime: now,
	}
}

func (s *PlanService) enrichUpdate(plan *domain.Plan, user string) {
	for i := range plan.Activities {
		if plan.Activities[i].ID == "" {
			plan.Activities[i].ID = s.newID()
		}
	}
	for i := range plan.Resources {
		if plan.Resources[i].ID == "" {
			plan.Resources[i].ID = s.newID()
		}
	}
	for i := range plan.Targets {
		if plan.Targets[i].ID == "" {
			plan.Targets[i].ID = s.newID()
		}
	}
	if plan.AuditDetails == nil {
		plan.AuditDetails = &domain.AuditDetails{}
	}
	plan.AuditDetails.LastModifiedBy = user
	plan.AuditDetails.LastModifiedTime = s.now().UnixMilli()
}
