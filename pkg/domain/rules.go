package domain

import (
	"context"
	"sort"
)

// Validator is one stage of a bulk validation pipeline. Implementations
// filter the batch through Batch.Valid themselves, issue at most one batched
// lookup, and encode every per-entity problem in the returned map. Lookup
// failures become NETWORK_ERROR entries rather than returned errors.
type Validator[E Entity] interface {
	Name() string
	Validate(ctx context.Context, batch *Batch[E]) ErrorMap[E]
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc[E Entity] struct {
	ValidatorName string
	Fn            func(ctx context.Context, batch *Batch[E]) ErrorMap[E]
}

// Name returns the stage name.
func (f ValidatorFunc[E]) Name() string { return f.ValidatorName }

// Validate runs the wrapped function.
func (f ValidatorFunc[E]) Validate(ctx context.Context, batch *Batch[E]) ErrorMap[E] {
	return f.Fn(ctx, batch)
}

// Batch is the view of a bulk request handed to each stage. It carries the
// errors accumulated by earlier stages of the current run.
type Batch[E Entity] struct {
	Request *BulkRequest[E]
	errs    *ErrorMap[E]
}

// NewBatch wraps a request with an empty error state.
func NewBatch[E Entity](req *BulkRequest[E]) *Batch[E] {
	m := NewErrorMap[E]()
	return &Batch[E]{Request: req, errs: &m}
}

// Entities returns every entity of the request in request order.
func (b *Batch[E]) Entities() []E { return b.Request.Entities }

// Valid returns, in request order, the entities with no error so far.
func (b *Batch[E]) Valid() []E {
	out := make([]E, 0, len(b.Request.Entities))
	for _, e := range b.Request.Entities {
		if b.HasErrors(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// HasErrors reports whether e failed an earlier stage or arrived flagged.
func (b *Batch[E]) HasErrors(e E) bool {
	if e.Header().HasErrors {
		return true
	}
	return b.errs != nil && b.errs.Has(e)
}

// TenantID returns the request tenant.
func (b *Batch[E]) TenantID() string { return b.Request.TenantID() }

// Operation returns the request operation.
func (b *Batch[E]) Operation() APIOperation { return b.Request.APIOperation }

type stage[E Entity] struct {
	order     int
	seq       int
	validator Validator[E]
}

// Pipeline runs an ordered list of validators over a bulk request.
type Pipeline[E Entity] struct {
	stages []stage[E]
}

// NewPipeline constructs an empty pipeline.
func NewPipeline[E Entity]() *Pipeline[E] {
	return &Pipeline[E]{}
}

// Register adds a validator at the given order. Stages with equal order keep
// registration order.
func (p *Pipeline[E]) Register(order int, v Validator[E]) *Pipeline[E] {
	p.stages = append(p.stages, stage[E]{order: order, seq: len(p.stages), validator: v})
	sort.SliceStable(p.stages, func(i, j int) bool {
		if p.stages[i].order != p.stages[j].order {
			return p.stages[i].order < p.stages[j].order
		}
		return p.stages[i].seq < p.stages[j].seq
	})
	return p
}

// Names lists the registered validators in run order.
func (p *Pipeline[E]) Names() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.validator.Name())
	}
	return names
}

// Applicable selects the stages that run for an operation.
type Applicable func(name string) bool

// Only returns an Applicable accepting exactly the given names.
func Only(names ...string) Applicable {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[name]
		return ok
	}
}

// Run visits every applicable stage exactly once and returns the entities
// that passed all of them, in request order, plus the aggregated errors. A
// nil Applicable runs every stage. Each run starts from an empty error map,
// so running twice over an unchanged request yields the same result.
func (p *Pipeline[E]) Run(ctx context.Context, req *BulkRequest[E], applicable Applicable) ([]E, ErrorMap[E]) {
	batch := NewBatch(req)
	for _, s := range p.stages {
		if applicable != nil && !applicable(s.validator.Name()) {
			continue
		}
		res := s.validator.Validate(ctx, batch)
		batch.errs.Merge(res)
	}
	return batch.Valid(), *batch.errs
}
