// Package memory provides an in-memory implementation of the healthcore
// persistence contracts used for tests and ephemeral environments.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"healthcore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.Repository[*domain.Stock]           = (*Table[*domain.Stock])(nil)
	_ domain.Repository[*domain.HouseholdMember] = (*Table[*domain.HouseholdMember])(nil)
	_ domain.StockLedger                         = (*Store)(nil)
	_ domain.HouseholdMemberIndex                = (*Store)(nil)
	_ domain.PlanStore                           = (*Store)(nil)
	_ domain.PlanEmployeeAssignmentStore         = (*Store)(nil)
)

// Message is a payload published on a topic after a successful save.
type Message struct {
	Topic   string
	Key     string
	Payload json.RawMessage
}

type outbox struct {
	mu       sync.Mutex
	messages []Message
}

func (o *outbox) publish(msgs []Message) {
	o.mu.Lock()
	o.messages = append(o.messages, msgs...)
	o.mu.Unlock()
}

func (o *outbox) snapshot() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Table stores one entity type keyed by id. Entities are deep-copied on the
// way in and out so callers never share pointers with the table.
type Table[E domain.Entity] struct {
	mu     sync.RWMutex
	rows   map[string]E
	outbox *outbox
}

func newTable[E domain.Entity](o *outbox) *Table[E] {
	return &Table[E]{rows: make(map[string]E), outbox: o}
}

func clone[E any](v E) (E, []byte, error) {
	var out E
	raw, err := json.Marshal(v)
	if err != nil {
		return out, nil, errors.Wrap(err, "marshal")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, nil, errors.Wrap(err, "unmarshal")
	}
	return out, raw, nil
}

// FindByID returns stored entities whose id or client reference id is in ids.
func (t *Table[E]) FindByID(_ context.Context, ids []string, field domain.Field, includeDeleted bool) ([]E, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []E
	for _, row := range t.sorted() {
		h := row.Header()
		key := h.ID
		if field == domain.FieldClientReferenceID {
			key = h.ClientReferenceID
		}
		if _, ok := want[key]; !ok {
			continue
		}
		if h.IsDeleted && !includeDeleted {
			continue
		}
		c, _, err := clone(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Find returns stored entities matching q ordered by id.
func (t *Table[E]) Find(_ context.Context, q domain.Query) ([]E, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var matched []E
	for _, row := range t.sorted() {
		if q.Matches(row.Header()) {
			matched = append(matched, row)
		}
	}
	matched = domain.Page(matched, q)
	out := make([]E, 0, len(matched))
	for _, row := range matched {
		c, _, err := clone(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Save upserts entities by id and publishes each on topic. Entities without
// an id are rejected.
func (t *Table[E]) Save(_ context.Context, entities []E, topic string) error {
	copies := make([]E, 0, len(entities))
	msgs := make([]Message, 0, len(entities))
	for _, e := range entities {
		if e.Header().ID == "" {
			return errors.New("save: entity without id")
		}
		c, raw, err := clone(e)
		if err != nil {
			return err
		}
		copies = append(copies, c)
		msgs = append(msgs, Message{Topic: topic, Key: c.Header().ID, Payload: raw})
	}
	t.mu.Lock()
	for _, c := range copies {
		t.rows[c.Header().ID] = c
	}
	t.mu.Unlock()
	if topic != "" {
		t.outbox.publish(msgs)
	}
	return nil
}

// sorted must be called with the lock held.
func (t *Table[E]) sorted() []E {
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]E, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.rows[k])
	}
	return out
}

func (t *Table[E]) each(fn func(E)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, row := range t.sorted() {
		fn(row)
	}
}

// Store aggregates the tables of every healthcore entity.
type Store struct {
	Stocks           *Table[*domain.Stock]
	Households       *Table[*domain.Household]
	HouseholdMembers *Table[*domain.HouseholdMember]
	Projects         *Table[*domain.Project]

	mu          sync.RWMutex
	plans       map[string]domain.Plan
	assignments map[string]domain.PlanEmployeeAssignment
	outbox      *outbox
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	o := &outbox{}
	return &Store{
		Stocks:           newTable[*domain.Stock](o),
		Households:       newTable[*domain.Household](o),
		HouseholdMembers: newTable[*domain.HouseholdMember](o),
		Projects:         newTable[*domain.Project](o),
		plans:            make(map[string]domain.Plan),
		assignments:      make(map[string]domain.PlanEmployeeAssignment),
		outbox:           o,
	}
}

// Published returns every message published so far in order.
func (s *Store) Published() []Message { return s.outbox.snapshot() }

// Balances sums active stock movements for parties. Receipts count towards
// the receiver and dispatches towards the sender.
func (s *Store) Balances(_ context.Context, tenantID string, parties []string) (domain.StockBalance, error) {
	want := make(map[string]struct{}, len(parties))
	for _, p := range parties {
		want[p] = struct{}{}
	}
	bal := domain.StockBalance{Received: domain.StockTotals{}, Dispatched: domain.StockTotals{}}
	s.Stocks.each(func(st *domain.Stock) {
		if st.TenantID != tenantID || st.IsDeleted {
			return
		}
		switch st.TransactionType {
		case domain.TransactionReceived:
			if _, ok := want[st.ReceiverID]; ok {
				bal.Received.Add(domain.StockKey{PartyID: st.ReceiverID, ProductVariantID: st.ProductVariantID}, st.Quantity)
			}
		case domain.TransactionDispatched:
			if _, ok := want[st.SenderID]; ok {
				bal.Dispatched.Add(domain.StockKey{PartyID: st.SenderID, ProductVariantID: st.ProductVariantID}, st.Quantity)
			}
		}
	})
	return bal, nil
}

// HeadsOf returns the active heads of the given households.
func (s *Store) HeadsOf(_ context.Context, tenantID string, households []string) ([]*domain.HouseholdMember, error) {
	want := make(map[string]struct{}, len(households))
	for _, h := range households {
		want[h] = struct{}{}
	}
	var out []*domain.HouseholdMember
	var err error
	s.HouseholdMembers.each(func(m *domain.HouseholdMember) {
		if err != nil || m.TenantID != tenantID || m.IsDeleted || !m.IsHeadOfHousehold {
			return
		}
		_, byID := want[m.HouseholdID]
		_, byRef := want[m.HouseholdClientReferenceID]
		if !byID && !byRef {
			return
		}
		var c *domain.HouseholdMember
		c, _, err = clone(m)
		out = append(out, c)
	})
	return out, err
}

// ByIndividual returns active memberships of the given individuals matched by
// individual id or individual client reference id.
func (s *Store) ByIndividual(_ context.Context, tenantID string, individualIDs []string) ([]*domain.HouseholdMember, error) {
	want := make(map[string]struct{}, len(individualIDs))
	for _, id := range individualIDs {
		want[id] = struct{}{}
	}
	var out []*domain.HouseholdMember
	var err error
	s.HouseholdMembers.each(func(m *domain.HouseholdMember) {
		if err != nil || m.TenantID != tenantID || m.IsDeleted {
			return
		}
		_, byID := want[m.IndividualID]
		_, byRef := want[m.IndividualClientReferenceID]
		if !byID && !byRef {
			return
		}
		var c *domain.HouseholdMember
		c, _, err = clone(m)
		out = append(out, c)
	})
	return out, err
}

// GetPlan returns the stored plan with id.
func (s *Store) GetPlan(_ context.Context, tenantID, id string) domain.Lookup[domain.Plan] {
	s.mu.RLock()
	p, ok := s.plans[id]
	s.mu.RUnlock()
	if !ok || p.TenantID != tenantID {
		return domain.Missing[domain.Plan]()
	}
	c, _, err := clone(p)
	if err != nil {
		return domain.Failed[domain.Plan](err)
	}
	return domain.Found(c)
}

// SavePlans upserts plans and publishes them on topic.
func (s *Store) SavePlans(_ context.Context, plans []domain.Plan, topic string) error {
	copies := make([]domain.Plan, 0, len(plans))
	msgs := make([]Message, 0, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return errors.New("save plan: missing id")
		}
		c, raw, err := clone(p)
		if err != nil {
			return err
		}
		copies = append(copies, c)
		msgs = append(msgs, Message{Topic: topic, Key: p.ID, Payload: raw})
	}
	s.mu.Lock()
	for _, c := range copies {
		s.plans[c.ID] = c
	}
	s.mu.Unlock()
	if topic != "" {
		s.outbox.publish(msgs)
	}
	return nil
}

// PutAssignments stores plan employee assignments, replacing any with the
// same id.
func (s *Store) PutAssignments(_ context.Context, assignments ...domain.PlanEmployeeAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range assignments {
		if a.ID == "" {
			return errors.New("put assignment: missing id")
		}
		a.Jurisdiction = append([]string(nil), a.Jurisdiction...)
		s.assignments[a.ID] = a
	}
	return nil
}

// SearchAssignments returns active assignments matching q ordered by id.
func (s *Store) SearchAssignments(_ context.Context, q domain.AssignmentSearch) ([]domain.PlanEmployeeAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.assignments))
	for id := range s.assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []domain.PlanEmployeeAssignment
	for _, id := range ids {
		a := s.assignments[id]
		if q.Matches(a) {
			a.Jurisdiction = append([]string(nil), a.Jurisdiction...)
			out = append(out, a)
		}
	}
	return out, nil
}
