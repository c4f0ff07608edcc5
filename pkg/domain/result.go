package domain

// ErrorMap associates entities with the errors collected for them during one
// validation run. Entities are kept in first-insertion order and each error
// list keeps the order in which it was appended.
type ErrorMap[E Entity] struct {
	order []E
	errs  map[E][]Error
}

// NewErrorMap returns an empty map.
func NewErrorMap[E Entity]() ErrorMap[E] {
	return ErrorMap[E]{errs: make(map[E][]Error)}
}

// Add appends errs to the list held for entity.
func (m *ErrorMap[E]) Add(entity E, errs ...Error) {
	if len(errs) == 0 {
		return
	}
	if m.errs == nil {
		m.errs = make(map[E][]Error)
	}
	if _, ok := m.errs[entity]; !ok {
		m.order = append(m.order, entity)
	}
	m.errs[entity] = append(m.errs[entity], errs...)
}

// AddAll attaches err to every entity in entities.
func (m *ErrorMap[E]) AddAll(entities []E, err Error) {
	for _, entity := range entities {
		m.Add(entity, err)
	}
}

// Merge appends every entry of other, preserving other's ordering.
func (m *ErrorMap[E]) Merge(other ErrorMap[E]) {
	for _, entity := range other.order {
		m.Add(entity, other.errs[entity]...)
	}
}

// Has reports whether entity has at least one error.
func (m ErrorMap[E]) Has(entity E) bool {
	return len(m.errs[entity]) > 0
}

// Errors returns a copy of the errors collected for entity.
func (m ErrorMap[E]) Errors(entity E) []Error {
	list := m.errs[entity]
	if len(list) == 0 {
		return nil
	}
	out := make([]Error, len(list))
	copy(out, list)
	return out
}

// Entities returns the failing entities in first-insertion order.
func (m ErrorMap[E]) Entities() []E {
	out := make([]E, len(m.order))
	copy(out, m.order)
	return out
}

// Len reports the number of failing entities.
func (m ErrorMap[E]) Len() int { return len(m.order) }

// Codes returns the error codes collected for entity in append order.
func (m ErrorMap[E]) Codes(entity E) []string {
	list := m.errs[entity]
	codes := make([]string, 0, len(list))
	for _, e := range list {
		codes = append(codes, e.Code)
	}
	return codes
}

// ErrorDetails is the response shape for one failing entity.
type ErrorDetails[E Entity] struct {
	Entity E       `json:"payload"`
	Errors []Error `json:"errors"`
}

// Details renders the map as a response list in first-insertion order.
func (m ErrorMap[E]) Details() []ErrorDetails[E] {
	out := make([]ErrorDetails[E], 0, len(m.order))
	for _, entity := range m.order {
		out = append(out, ErrorDetails[E]{Entity: entity, Errors: m.Errors(entity)})
	}
	return out
}
