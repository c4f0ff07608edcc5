package core

import (
	"context"

	"github.com/sirupsen/logrus"

	"healthcore/pkg/domain"
)

// Names of the generic stages. Services build their per-operation
// applicability sets from these.
const (
	StageNullID         = "NullId"
	StageIsDeleted      = "IsDeleted"
	StageNonExistent    = "NonExistentEntity"
	StageUniqueEntity   = "UniqueEntity"
	StageRowVersion     = "RowVersion"
	StageExistentEntity = "ExistentEntity"
)

// Stage orders shared by every entity pipeline. Referential checks sit in the
// 10s and business rules in the 20s.
const (
	OrderNullID         = 1
	OrderIsDeleted      = 2
	OrderNonExistent    = 3
	OrderUniqueEntity   = 4
	OrderRowVersion     = 5
	OrderExistentEntity = 6
	OrderReferential    = 10
	OrderBusiness       = 20
)

// keyField is the lookup column of one entity: id when it carries one,
// otherwise clientReferenceId.
func keyField[E domain.Entity](e E) domain.Field {
	if e.Header().ID != "" {
		return domain.FieldID
	}
	return domain.FieldClientReferenceID
}

func keyOf[E domain.Entity](e E, field domain.Field) string {
	h := e.Header()
	if field == domain.FieldID {
		return h.ID
	}
	return h.ClientReferenceID
}

// keyed splits entities into those carrying a value for field and their keys.
func keyed[E domain.Entity](entities []E, field domain.Field) ([]E, []string) {
	withKey := make([]E, 0, len(entities))
	keys := make([]string, 0, len(entities))
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		k := keyOf(e, field)
		if k == "" {
			continue
		}
		withKey = append(withKey, e)
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return withKey, keys
}

func indexBy[E domain.Entity](entities []E, field domain.Field) map[string]E {
	out := make(map[string]E, len(entities))
	for _, e := range entities {
		if k := keyOf(e, field); k != "" {
			out[k] = e
		}
	}
	return out
}

// storedIndex holds stored records per lookup column.
type storedIndex[E domain.Entity] map[domain.Field]map[string]E

func (ix storedIndex[E]) match(e E) (E, bool) {
	field := keyField(e)
	m, ok := ix[field][keyOf(e, field)]
	return m, ok
}

// readStored loads the stored records of entities with one read per lookup
// column in use. Entities of a column whose read failed are flagged on out
// with a network error. checked lists, in request order, the keyed entities
// whose read succeeded.
func readStored[E domain.Entity](ctx context.Context, stage string, repo domain.Repository[E], entities []E, includeDeleted bool, out *domain.ErrorMap[E]) ([]E, storedIndex[E]) {
	ix := storedIndex[E]{}
	for _, field := range []domain.Field{domain.FieldID, domain.FieldClientReferenceID} {
		group := make([]E, 0, len(entities))
		for _, e := range entities {
			if keyField(e) == field {
				group = append(group, e)
			}
		}
		group, keys := keyed(group, field)
		if len(keys) == 0 {
			continue
		}
		stored, err := repo.FindByID(ctx, keys, field, includeDeleted)
		if err != nil {
			logLookupFailure(ctx, stage, err)
			out.AddAll(group, domain.NetworkError(err))
			continue
		}
		ix[field] = indexBy(stored, field)
	}
	checked := make([]E, 0, len(entities))
	for _, e := range entities {
		field := keyField(e)
		if _, read := ix[field]; read && keyOf(e, field) != "" {
			checked = append(checked, e)
		}
	}
	return checked, ix
}

func logValidated(ctx context.Context, stage string, checked int, errs int) {
	logWithFields(ctx, logrus.DebugLevel, "validation stage completed", logrus.Fields{
		"validator": stage,
		"checked":   checked,
		"errors":    errs,
	})
}

func logLookupFailure(ctx context.Context, stage string, err error) {
	logWithFields(ctx, logrus.ErrorLevel, "batched lookup failed", logrus.Fields{
		"validator": stage,
		"error":     err.Error(),
	})
}

// NullIDValidator rejects update and delete entities without an id.
type NullIDValidator[E domain.Entity] struct{}

// NewNullIDValidator constructs the stage.
func NewNullIDValidator[E domain.Entity]() NullIDValidator[E] { return NullIDValidator[E]{} }

// Name returns the stage name.
func (NullIDValidator[E]) Name() string { return StageNullID }

// Validate flags entities with an empty id.
func (NullIDValidator[E]) Validate(ctx context.Context, batch *domain.Batch[E]) domain.ErrorMap[E] {
	out := domain.NewErrorMap[E]()
	valid := batch.Valid()
	for _, e := range valid {
		if e.Header().ID == "" {
			out.Add(e, domain.NullIDError())
		}
	}
	logValidated(ctx, StageNullID, len(valid), out.Len())
	return out
}

// NonExistentValidator rejects entities whose key is not present in the
// store. Each entity is looked up by its id when it has one, otherwise by its
// client reference id. An entity carrying both must match a stored record on
// both.
type NonExistentValidator[E domain.Entity] struct {
	repo domain.Repository[E]
}

// NewNonExistentValidator constructs the stage over repo.
func NewNonExistentValidator[E domain.Entity](repo domain.Repository[E]) *NonExistentValidator[E] {
	return &NonExistentValidator[E]{repo: repo}
}

// Name returns the stage name.
func (v *NonExistentValidator[E]) Name() string { return StageNonExistent }

// Validate performs at most one batched lookup per key column and flags
// missing keys.
func (v *NonExistentValidator[E]) Validate(ctx context.Context, batch *domain.Batch[E]) domain.ErrorMap[E] {
	out := domain.NewErrorMap[E]()
	checked, stored := readStored(ctx, StageNonExistent, v.repo, batch.Valid(), false, &out)
	for _, e := range checked {
		field := keyField(e)
		key := keyOf(e, field)
		match, ok := stored.match(e)
		if !ok {
			out.Add(e, domain.NonExistentEntityError(key))
			continue
		}
		crid := e.Header().ClientReferenceID
		if field == domain.FieldID && crid != "" && match.Header().ClientReferenceID != "" && crid != match.Header().ClientReferenceID {
			out.Add(e, domain.NonExistentEntityError(key, crid))
		}
	}
	logValidated(ctx, StageNonExistent, len(checked), out.Len())
	return out
}

// UniqueEntityValidator rejects repeated ids or client reference ids within
// one batch. The first occurrence passes; every later one is flagged.
type UniqueEntityValidator[E domain.Entity] struct{}

// NewUniqueEntityValidator constructs the stage.
func NewUniqueEntityValidator[E domain.Entity]() UniqueEntityValidator[E] {
	return UniqueEntityValidator[E]{}
}

// Name returns the stage name.
func (UniqueEntityValidator[E]) Name() string { return StageUniqueEntity }

// Validate flags in-batch duplicates.
func (UniqueEntityValidator[E]) Validate(ctx context.Context, batch *domain.Batch[E]) domain.ErrorMap[E] {
	out := duplicatesInBatch(batch.Valid())
	logValidated(ctx, StageUniqueEntity, len(batch.Valid()), out.Len())
	return out
}

func duplicatesInBatch[E domain.Entity](entities []E) domain.ErrorMap[E] {
	out := domain.NewErrorMap[E]()
	ids := make(map[string]struct{}, len(entities))
	crids := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		h := e.Header()
		if h.ID != "" {
			if _, dup := ids[h.ID]; dup {
				out.Add(e, domain.UniqueEntityError(h.ID))
				continue
			}
			ids[h.ID] = struct{}{}
		}
		if h.ClientReferenceID != "" {
			if _, dup := crids[h.ClientReferenceID]; dup {
				out.Add(e, domain.UniqueEntityError(h.ClientReferenceID))
				continue
			}
			crids[h.ClientReferenceID] = struct{}{}
		}
	}
	return out
}

// ExistentEntityValidator guards create requests: a client reference id may
// appear once per batch and must not already be stored.
type ExistentEntityValidator[E domain.Entity] struct {
	repo domain.Repository[E]
}

// NewExistentEntityValidator constructs the stage over repo.
func NewExistentEntityValidator[E domain.Entity](repo domain.Repository[E]) *ExistentEntityValidator[E] {
	return &ExistentEntityValidator[E]{repo: repo}
}

// Name returns the stage name.
func (v *ExistentEntityValidator[E]) Name() string { return StageExistentEntity }

// Validate flags in-batch duplicates first, then stored client reference ids.
func (v *ExistentEntityValidator[E]) Validate(ctx context.Context, batch *domain.Batch[E]) domain.ErrorMap[E] {
	valid := batch.Valid()
	out := duplicatesInBatch(valid)
	remaining := make([]E, 0, len(valid))
	for _, e := range valid {
		if !out.Has(e) {
			remaining = append(remaining, e)
		}
	}
	checked, keys := keyed(remaining, domain.FieldClientReferenceID)
	if len(keys) == 0 {
		return out
	}
	stored, err := v.repo.FindByID(ctx, keys, domain.FieldClientReferenceID, true)
	if err != nil {
		logLookupFailure(ctx, StageExistentEntity, err)
		out.AddAll(checked, domain.NetworkError(err))
		return out
	}
	existing := indexBy(stored, domain.FieldClientReferenceID)
	for _, e := range checked {
		if _, ok := existing[e.Header().ClientReferenceID]; ok {
			out.Add(e, domain.UniqueEntityError(e.Header().ClientReferenceID))
		}
	}
	logValidated(ctx, StageExistentEntity, len(valid), out.Len())
	return out
}

// RowVersionValidator requires the supplied row version to equal the stored
// one exactly.
type RowVersionValidator[E domain.Entity] struct {
	repo domain.Repository[E]
}

// NewRowVersionValidator constructs the stage over repo. A read cache in
// front of repo is skipped so versions come from the backing store.
func NewRowVersionValidator[E domain.Entity](repo domain.Repository[E]) *RowVersionValidator[E] {
	return &RowVersionValidator[E]{repo: uncached(repo)}
}

func uncached[E domain.Entity](repo domain.Repository[E]) domain.Repository[E] {
	if c, ok := repo.(interface{ Uncached() domain.Repository[E] }); ok {
		return c.Uncached()
	}
	return repo
}

// Name returns the stage name.
func (v *RowVersionValidator[E]) Name() string { return StageRowVersion }

// Validate compares row versions against one batched read per key column.
func (v *RowVersionValidator[E]) Validate(ctx context.Context, batch *domain.Batch[E]) domain.ErrorMap[E] {
	out := domain.NewErrorMap[E]()
	checked, stored := readStored(ctx, StageRowVersion, v.repo, batch.Valid(), false, &out)
	for _, e := range checked {
		match, ok := stored.match(e)
		if !ok {
			continue
		}
		supplied, current := e.Header().RowVersion, match.Header().RowVersion
		if supplied != current {
			out.Add(e, domain.RowVersionMismatchError(supplied, current))
		}
	}
	logValidated(ctx, StageRowVersion, len(checked), out.Len())
	return out
}

// IsDeletedValidator rejects entities submitted as deleted through the update
// path and entities whose stored record is already soft-deleted.
type IsDeletedValidator[E domain.Entity] struct {
	repo domain.Repository[E]
}

// NewIsDeletedValidator constructs the stage over repo.
func NewIsDeletedValidator[E domain.Entity](repo domain.Repository[E]) *IsDeletedValidator[E] {
	return &IsDeletedValidator[E]{repo: repo}
}

// Name returns the stage name.
func (v *IsDeletedValidator[E]) Name() string { return StageIsDeleted }

// Validate checks the request flag and then the stored flag.
func (v *IsDeletedValidator[E]) Validate(ctx context.Context, batch *domain.Batch[E]) domain.ErrorMap[E] {
	out := domain.NewErrorMap[E]()
	valid := batch.Valid()
	rest := make([]E, 0, len(valid))
	for _, e := range valid {
		if e.Header().IsDeleted {
			out.Add(e, domain.IsDeletedError())
			continue
		}
		rest = append(rest, e)
	}
	if v.repo == nil {
		return out
	}
	checked, stored := readStored(ctx, StageIsDeleted, v.repo, rest, true, &out)
	for _, e := range checked {
		if match, ok := stored.match(e); ok && match.Header().IsDeleted {
			out.Add(e, domain.IsDeletedError())
		}
	}
	logValidated(ctx, StageIsDeleted, len(valid), out.Len())
	return out
}

// Resolver answers which of ids exist in a sibling domain. An error means the
// question could not be answered.
type Resolver func(ctx context.Context, tenantID string, ids []string) ([]string, error)

// RelatedEntityValidator checks references from each entity into another
// domain with a single batched resolve call.
type RelatedEntityValidator[E domain.Entity] struct {
	name    string
	keys    func(E) []string
	resolve Resolver
}

// NewRelatedEntityValidator constructs a referential stage named name. keys
// extracts the references of one entity; entities without references are
// not checked.
func NewRelatedEntityValidator[E domain.Entity](name string, keys func(E) []string, resolve Resolver) *RelatedEntityValidator[E] {
	return &RelatedEntityValidator[E]{name: name, keys: keys, resolve: resolve}
}

// Name returns the stage name.
func (v *RelatedEntityValidator[E]) Name() string { return v.name }

// Validate resolves every reference once and flags the unresolved ones.
func (v *RelatedEntityValidator[E]) Validate(ctx context.Context, batch *domain.Batch[E]) domain.ErrorMap[E] {
	out := domain.NewErrorMap[E]()
	valid := batch.Valid()
	checked := make([]E, 0, len(valid))
	var ids []string
	seen := map[string]struct{}{}
	for _, e := range valid {
		refs := nonEmpty(v.keys(e))
		if len(refs) == 0 {
			continue
		}
		checked = append(checked, e)
		for _, r := range refs {
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				ids = append(ids, r)
			}
		}
	}
	if len(ids) == 0 {
		return out
	}
	found, err := v.resolve(ctx, batch.TenantID(), ids)
	if err != nil {
		logLookupFailure(ctx, v.name, err)
		out.AddAll(checked, domain.NetworkError(err))
		return out
	}
	exists := make(map[string]struct{}, len(found))
	for _, id := range found {
		exists[id] = struct{}{}
	}
	for _, e := range checked {
		var missing []string
		for _, r := range nonEmpty(v.keys(e)) {
			if _, ok := exists[r]; !ok {
				missing = append(missing, r)
			}
		}
		if len(missing) > 0 {
			out.Add(e, domain.NonExistentRelatedEntityError(missing...))
		}
	}
	logValidated(ctx, v.name, len(checked), out.Len())
	return out
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
