package core

import (
	"context"
	"errors"
	"sync"

	"healthcore/internal/infra/persistence/memory"
	"healthcore/pkg/domain"
)

const tenant = "mz"

var errUnavailable = errors.New("service unavailable")

// fakeClients answers every collaborator interface from in-memory sets.
type fakeClients struct {
	mu sync.Mutex

	boundaries  map[string]bool
	paths       map[string]string
	facilities  map[string]bool
	variants    map[string]bool
	users       map[string]bool
	individuals map[string]bool
	mappings    map[string][]string
	types       []string
	configs     map[string]string
	err         error

	transitions [][]domain.ProcessInstance
	workflowErr error
	nextState   string
}

func newFakeClients() *fakeClients {
	return &fakeClients{
		boundaries:  map[string]bool{"B1": true, "VILLAGE": true},
		paths:       map[string]string{"VILLAGE": "ROOT|DISTRICT|BLOCK|VILLAGE"},
		facilities:  map[string]bool{"W1": true, "W2": true},
		variants:    map[string]bool{"pv1": true},
		users:       map[string]bool{"staff-1": true},
		individuals: map[string]bool{"ind-1": true, "ind-2": true, "ind-3": true, "ind-4": true},
		mappings:    map[string][]string{"proj-1": {"W1"}},
		types:       []string{"MR-DN"},
		configs:     map[string]string{"cfg-1": "Malaria 2026"},
		nextState:   "PENDING_APPROVAL",
	}
}

func (f *fakeClients) clients() Clients {
	return Clients{
		Boundary:        f,
		Facility:        f,
		Product:         f,
		User:            f,
		Individual:      f,
		ProjectFacility: f,
		MDMS:            f,
		PlanConfig:      f,
		Workflow:        f,
	}
}

func (f *fakeClients) existing(known map[string]bool, ids []string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeClients) ExistingBoundaries(_ context.Context, _ string, codes []string) ([]string, error) {
	return f.existing(f.boundaries, codes)
}

func (f *fakeClients) AncestralPath(_ context.Context, _ string, code string) domain.Lookup[string] {
	if f.err != nil {
		return domain.Failed[string](f.err)
	}
	path, ok := f.paths[code]
	if !ok {
		return domain.Missing[string]()
	}
	return domain.Found(path)
}

func (f *fakeClients) ExistingFacilities(_ context.Context, _ string, ids []string) ([]string, error) {
	return f.existing(f.facilities, ids)
}

func (f *fakeClients) ExistingProductVariants(_ context.Context, _ string, ids []string) ([]string, error) {
	return f.existing(f.variants, ids)
}

func (f *fakeClients) ExistingUsers(_ context.Context, _ string, ids []string) ([]string, error) {
	return f.existing(f.users, ids)
}

func (f *fakeClients) ExistingIndividuals(_ context.Context, _ string, ids []string) ([]string, error) {
	return f.existing(f.individuals, ids)
}

func (f *fakeClients) ProjectFacilities(_ context.Context, _ string, projectIDs []string) (map[string][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]string, len(projectIDs))
	for _, id := range projectIDs {
		if m, ok := f.mappings[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeClients) ProjectTypes(context.Context, string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.types, nil
}

func (f *fakeClients) PlanConfiguration(_ context.Context, _ string, id string) domain.Lookup[string] {
	if f.err != nil {
		return domain.Failed[string](f.err)
	}
	name, ok := f.configs[id]
	if !ok {
		return domain.Missing[string]()
	}
	return domain.Found(name)
}

func (f *fakeClients) Transition(_ context.Context, _ domain.RequestInfo, instances []domain.ProcessInstance) ([]domain.ProcessInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, instances)
	if f.workflowErr != nil {
		return nil, f.workflowErr
	}
	out := make([]domain.ProcessInstance, len(instances))
	for i, inst := range instances {
		inst.State = &domain.State{State: f.nextState}
		out[i] = inst
	}
	return out, nil
}

// failingRepo wraps a repository and fails selected operations.
type failingRepo[E domain.Entity] struct {
	domain.Repository[E]
	findErr error
	saveErr error
	reads   int
}

func (r *failingRepo[E]) FindByID(ctx context.Context, ids []string, field domain.Field, includeDeleted bool) ([]E, error) {
	r.reads++
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.Repository.FindByID(ctx, ids, field, includeDeleted)
}

func (r *failingRepo[E]) Save(ctx context.Context, entities []E, topic string) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.Repository.Save(ctx, entities, topic)
}

func newStores() (*memory.Store, Stores) {
	m := memory.NewStore()
	return m, MemoryStores(m)
}

func requestInfo() domain.RequestInfo {
	return domain.RequestInfo{UserInfo: &domain.UserInfo{UUID: "user-1"}}
}

func bulk[E domain.Entity](entities ...E) *domain.BulkRequest[E] {
	return &domain.BulkRequest[E]{RequestInfo: requestInfo(), Entities: entities}
}

func base(id, crid string) domain.Base {
	return domain.Base{ID: id, ClientReferenceID: crid, TenantID: tenant}
}

// codesOf flattens the error codes of a bulk result keyed by client
// reference id.
func codesOf[E domain.Entity](res domain.BulkResult[E]) map[string][]string {
	out := map[string][]string{}
	for _, d := range res.Errors {
		key := d.Entity.Header().ClientReferenceID
		for _, e := range d.Errors {
			out[key] = append(out[key], e.Code)
		}
	}
	return out
}

var testTopics = Topics{Create: "save-topic", Update: "update-topic", Delete: "delete-topic"}
