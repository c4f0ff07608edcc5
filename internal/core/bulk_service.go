package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"healthcore/pkg/domain"
)

// Request-shape error codes.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeMultipleTenants = "MULTIPLE_TENANTS"
)

// Topics names the topic used for each bulk operation of one entity type.
type Topics struct {
	Create string
	Update string
	Delete string
}

func (t Topics) forOperation(op domain.APIOperation) string {
	switch op {
	case domain.OperationCreate:
		return t.Create
	case domain.OperationDelete:
		return t.Delete
	default:
		return t.Update
	}
}

// Enricher fills entity specific server-owned fields after validation. The
// returned func, when not nil, reverts those fields.
type Enricher[E domain.Entity] func(op domain.APIOperation, entity E, newID func() string) (undo func())

// BulkDefinition wires one entity type into a BulkService.
type BulkDefinition[E domain.Entity] struct {
	Entity   domain.EntityType
	Repo     domain.Repository[E]
	Pipeline *domain.Pipeline[E]
	// Stages lists the stage names applicable to each operation.
	Stages map[domain.APIOperation][]string
	Topics Topics
	Enrich Enricher[E]
}

type bulkOptions struct {
	metrics MetricsRecorder
	tracer  Tracer
	now     func() time.Time
	newID   func() string
}

// BulkOption customizes a BulkService.
type BulkOption func(*bulkOptions)

// WithMetrics sets the recorder notified after every bulk call.
func WithMetrics(m MetricsRecorder) BulkOption {
	return func(o *bulkOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer wraps every bulk call in a span.
func WithTracer(t Tracer) BulkOption {
	return func(o *bulkOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock overrides the audit clock.
func WithClock(now func() time.Time) BulkOption {
	return func(o *bulkOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides id generation for created entities.
func WithIDGenerator(gen func() string) BulkOption {
	return func(o *bulkOptions) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// BulkService validates, enriches and persists bulk requests for one entity
// type. Valid entities are saved even when others in the batch fail.
type BulkService[E domain.Entity] struct {
	def        BulkDefinition[E]
	applicable map[domain.APIOperation]domain.Applicable
	validate   *validator.Validate
	opts       bulkOptions
}

// NewBulkService constructs a service from def.
func NewBulkService[E domain.Entity](def BulkDefinition[E], opts ...BulkOption) *BulkService[E] {
	o := bulkOptions{
		metrics: noopRecorder{},
		tracer:  noopTracer{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	applicable := make(map[domain.APIOperation]domain.Applicable, len(def.Stages))
	for op, names := range def.Stages {
		applicable[op] = domain.Only(names...)
	}
	return &BulkService[E]{
		def:        def,
		applicable: applicable,
		validate:   validator.New(),
		opts:       o,
	}
}

// Entity returns the entity type served.
func (s *BulkService[E]) Entity() domain.EntityType { return s.def.Entity }

// Repository returns the backing repository for search.
func (s *BulkService[E]) Repository() domain.Repository[E] { return s.def.Repo }

// Create validates and stores new entities.
func (s *BulkService[E]) Create(ctx context.Context, req *domain.BulkRequest[E]) (domain.BulkResult[E], error) {
	return s.run(ctx, domain.OperationCreate, req)
}

// Update validates and stores changed entities. A request whose apiOperation
// is DELETE soft-deletes the entities through the update path.
func (s *BulkService[E]) Update(ctx context.Context, req *domain.BulkRequest[E]) (domain.BulkResult[E], error) {
	return s.run(ctx, domain.OperationUpdate, req)
}

// Delete soft-deletes entities.
func (s *BulkService[E]) Delete(ctx context.Context, req *domain.BulkRequest[E]) (domain.BulkResult[E], error) {
	return s.run(ctx, domain.OperationDelete, req)
}

// Search returns stored entities matching q.
func (s *BulkService[E]) Search(ctx context.Context, q domain.Query) ([]E, error) {
	if q.TenantID == "" {
		return nil, domain.NewCustomError(CodeInvalidRequest, "tenantId is mandatory for search")
	}
	out, err := s.def.Repo.Find(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "search %s", s.def.Entity)
	}
	return out, nil
}

func (s *BulkService[E]) run(ctx context.Context, op domain.APIOperation, req *domain.BulkRequest[E]) (result domain.BulkResult[E], err error) {
	ctx, span := s.opts.tracer.Start(ctx, string(s.def.Entity)+"."+strings.ToLower(string(op)))
	started := s.opts.now()
	obs := BulkObservation{Entity: s.def.Entity, Operation: op}
	defer func() {
		obs.Duration = s.opts.now().Sub(started)
		obs.Err = err
		s.opts.metrics.ObserveBulk(ctx, obs)
		span.End(err)
	}()

	if shapeErr := s.checkShape(req); shapeErr != nil {
		return domain.BulkResult[E]{}, shapeErr
	}
	for _, e := range req.Entities {
		e.Header().HasErrors = false
	}

	valid, errs := s.def.Pipeline.Run(ctx, req, s.applicable[op])
	restore := s.enrich(op, req, valid)

	result.Succeeded = valid
	if len(valid) > 0 {
		if saveErr := s.def.Repo.Save(ctx, valid, s.def.Topics.forOperation(op)); saveErr != nil {
			restore()
			logWithFields(ctx, logrus.ErrorLevel, "bulk save failed", logrus.Fields{
				"entity":    s.def.Entity,
				"operation": op,
				"count":     len(valid),
				"error":     saveErr.Error(),
			})
			errs.AddAll(valid, domain.InternalServerError(saveErr))
			result.Succeeded = nil
		}
	}
	for _, e := range errs.Entities() {
		e.Header().HasErrors = true
		obs.Codes = append(obs.Codes, errs.Codes(e)...)
	}
	result.Errors = errs.Details()
	obs.Succeeded = len(result.Succeeded)
	obs.Failed = errs.Len()

	logWithFields(ctx, logrus.InfoLevel, "bulk request processed", logrus.Fields{
		"entity":    s.def.Entity,
		"operation": op,
		"tenant":    req.TenantID(),
		"persisted": obs.Succeeded,
		"failed":    obs.Failed,
	})
	return result, nil
}

func (s *BulkService[E]) checkShape(req *domain.BulkRequest[E]) error {
	if req == nil {
		return domain.NewCustomError(CodeInvalidRequest, "request body is mandatory")
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return domain.NewCustomError(CodeInvalidRequest, strings.Join(fields, "; "))
		}
		return errors.Wrap(err, "validate request shape")
	}
	tenant := req.TenantID()
	for _, e := range req.Entities {
		if e.Header().TenantID != tenant {
			return domain.NewCustomError(CodeMultipleTenants, "all entities of a bulk request must belong to one tenant")
		}
	}
	return nil
}

// enrich sets server-owned fields on valid and returns a func that puts every
// entity back the way the caller sent it.
func (s *BulkService[E]) enrich(op domain.APIOperation, req *domain.BulkRequest[E], valid []E) (restore func()) {
	now := s.opts.now().UnixMilli()
	user := req.RequestInfo.UserID()
	undo := make([]func(), 0, len(valid))
	for _, e := range valid {
		h := e.Header()
		undo = append(undo, snapshotBase(h))
		switch op {
		case domain.OperationCreate:
			h.ID = s.opts.newID()
			h.RowVersion = 1
			h.IsDeleted = false
			h.AuditDetails = &domain.AuditDetails{
				CreatedBy:        user,
				CreatedTime:      now,
				LastModifiedBy:   user,
				LastModifiedTime: now,
			}
		default:
			h.RowVersion++
			if op == domain.OperationDelete || req.APIOperation == domain.OperationDelete {
				h.IsDeleted = true
			}
			if h.AuditDetails == nil {
				h.AuditDetails = &domain.AuditDetails{}
			}
			h.AuditDetails.LastModifiedBy = user
			h.AuditDetails.LastModifiedTime = now
		}
		if s.def.Enrich != nil {
			if u := s.def.Enrich(op, e, s.opts.newID); u != nil {
				undo = append(undo, u)
			}
		}
	}
	return func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
}

func snapshotBase(h *domain.Base) func() {
	saved := *h
	if h.AuditDetails != nil {
		audit := *h.AuditDetails
		saved.AuditDetails = &audit
	}
	return func() { *h = saved }
}
