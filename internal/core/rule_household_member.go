package core

import (
	"context"
	"fmt"

	"healthcore/pkg/domain"
)

// Household member stage names.
const (
	StageMemberHousehold       = "HmHouseholdReference"
	StageMemberIndividual      = "HmIndividual"
	StageMemberAlreadyAdded    = "HmIndividualAlreadyAdded"
	StageMemberHeadOfHousehold = "HmHeadOfHousehold"
	StageMemberRelatives       = "HmRelatives"
)

// HouseholdReferenceValidator resolves the household each member points at.
// The first member with a reference decides whether the batch is keyed by
// household id or client reference id.
type HouseholdReferenceValidator struct {
	households domain.Repository[*domain.Household]
}

// NewHouseholdReferenceValidator constructs the stage over the household
// repository.
func NewHouseholdReferenceValidator(households domain.Repository[*domain.Household]) *HouseholdReferenceValidator {
	return &HouseholdReferenceValidator{households: households}
}

// Name returns the stage name.
func (v *HouseholdReferenceValidator) Name() string { return StageMemberHousehold }

// Validate flags members without a usable household reference and members
// whose household is missing or deleted.
func (v *HouseholdReferenceValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.HouseholdMember]) domain.ErrorMap[*domain.HouseholdMember] {
	out := domain.NewErrorMap[*domain.HouseholdMember]()
	valid := batch.Valid()
	field := domain.FieldClientReferenceID
	for _, m := range valid {
		if key, isID := m.HouseholdKey(); key != "" {
			if isID {
				field = domain.FieldID
			}
			break
		}
	}
	reference := func(m *domain.HouseholdMember) string {
		if field == domain.FieldID {
			return m.HouseholdID
		}
		return m.HouseholdClientReferenceID
	}

	var checked []*domain.HouseholdMember
	var keys []string
	seen := map[string]struct{}{}
	for _, m := range valid {
		key := reference(m)
		if key == "" {
			out.Add(m, domain.InvalidRelatedEntityIDError())
			continue
		}
		checked = append(checked, m)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return out
	}
	found, err := v.households.FindByID(ctx, keys, field, false)
	if err != nil {
		logLookupFailure(ctx, StageMemberHousehold, err)
		out.AddAll(checked, domain.NetworkError(err))
		return out
	}
	existing := indexBy(found, field)
	for _, m := range checked {
		if _, ok := existing[reference(m)]; !ok {
			out.Add(m, domain.NonExistentRelatedEntityError(reference(m)))
		}
	}
	logValidated(ctx, StageMemberHousehold, len(valid), out.Len())
	return out
}

func individualKey(m *domain.HouseholdMember) string {
	if m.IndividualID != "" {
		return m.IndividualID
	}
	return m.IndividualClientReferenceID
}

// NewMemberIndividualValidator checks that each member's individual is
// registered.
func NewMemberIndividualValidator(individuals IndividualClient) domain.Validator[*domain.HouseholdMember] {
	return NewRelatedEntityValidator(StageMemberIndividual, func(m *domain.HouseholdMember) []string {
		return []string{individualKey(m)}
	}, individuals.ExistingIndividuals)
}

// IndividualMembershipValidator rejects individuals that already belong to
// a household, or that appear twice in the batch.
type IndividualMembershipValidator struct {
	index domain.HouseholdMemberIndex
}

// NewIndividualMembershipValidator constructs the stage over index.
func NewIndividualMembershipValidator(index domain.HouseholdMemberIndex) *IndividualMembershipValidator {
	return &IndividualMembershipValidator{index: index}
}

// Name returns the stage name.
func (v *IndividualMembershipValidator) Name() string { return StageMemberAlreadyAdded }

// Validate checks the batch first and then the stored memberships.
func (v *IndividualMembershipValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.HouseholdMember]) domain.ErrorMap[*domain.HouseholdMember] {
	out := domain.NewErrorMap[*domain.HouseholdMember]()
	valid := batch.Valid()
	var checked []*domain.HouseholdMember
	var keys []string
	seen := map[string]struct{}{}
	for _, m := range valid {
		key := individualKey(m)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			out.Add(m, individualAlreadyAdded(key))
			continue
		}
		seen[key] = struct{}{}
		checked = append(checked, m)
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return out
	}
	stored, err := v.index.ByIndividual(ctx, batch.TenantID(), keys)
	if err != nil {
		logLookupFailure(ctx, StageMemberAlreadyAdded, err)
		out.AddAll(checked, domain.NetworkError(err))
		return out
	}
	members := make(map[string]struct{}, len(stored))
	for _, s := range stored {
		members[s.IndividualID] = struct{}{}
		members[s.IndividualClientReferenceID] = struct{}{}
	}
	for _, m := range checked {
		if _, ok := members[individualKey(m)]; ok {
			out.Add(m, individualAlreadyAdded(individualKey(m)))
		}
	}
	logValidated(ctx, StageMemberAlreadyAdded, len(valid), out.Len())
	return out
}

func individualAlreadyAdded(key string) domain.Error {
	return domain.NewError(domain.CodeIndividualAlreadyAdded,
		fmt.Sprintf("Individual %s is already a member of a household", key))
}

// HeadOfHouseholdValidator allows at most one head per household across the
// batch and the store. A stored head is not a conflict with itself.
type HeadOfHouseholdValidator struct {
	index domain.HouseholdMemberIndex
}

// NewHeadOfHouseholdValidator constructs the stage over index.
func NewHeadOfHouseholdValidator(index domain.HouseholdMemberIndex) *HeadOfHouseholdValidator {
	return &HeadOfHouseholdValidator{index: index}
}

// Name returns the stage name.
func (v *HeadOfHouseholdValidator) Name() string { return StageMemberHeadOfHousehold }

// Validate flags every head after the first per household and every head of
// a household that already has a different stored head.
func (v *HeadOfHouseholdValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.HouseholdMember]) domain.ErrorMap[*domain.HouseholdMember] {
	out := domain.NewErrorMap[*domain.HouseholdMember]()
	valid := batch.Valid()
	var heads []*domain.HouseholdMember
	var households []string
	claimed := map[string]struct{}{}
	for _, m := range valid {
		if !m.IsHeadOfHousehold {
			continue
		}
		key, _ := m.HouseholdKey()
		if key == "" {
			continue
		}
		if _, dup := claimed[key]; dup {
			out.Add(m, householdAlreadyHasHead(key))
			continue
		}
		claimed[key] = struct{}{}
		heads = append(heads, m)
		households = append(households, key)
	}
	if len(heads) == 0 {
		return out
	}
	stored, err := v.index.HeadsOf(ctx, batch.TenantID(), households)
	if err != nil {
		logLookupFailure(ctx, StageMemberHeadOfHousehold, err)
		out.AddAll(heads, domain.NetworkError(err))
		return out
	}
	for _, m := range heads {
		key, _ := m.HouseholdKey()
		for _, s := range stored {
			if s.HouseholdID != key && s.HouseholdClientReferenceID != key {
				continue
			}
			if sameMember(s, m) {
				continue
			}
			out.Add(m, householdAlreadyHasHead(key))
			break
		}
	}
	logValidated(ctx, StageMemberHeadOfHousehold, len(heads), out.Len())
	return out
}

func sameMember(a, b *domain.HouseholdMember) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.ClientReferenceID != "" && a.ClientReferenceID == b.ClientReferenceID
}

func householdAlreadyHasHead(key string) domain.Error {
	return domain.NewError(domain.CodeHouseholdAlreadyHasHead,
		fmt.Sprintf("Household %s already has a head of household", key))
}

// RelativesValidator checks memberRelationships. A relationship must name a
// relative other than the member itself; relatives must exist in the store
// or among the request's members still valid at this stage.
type RelativesValidator struct {
	members domain.Repository[*domain.HouseholdMember]
}

// NewRelativesValidator constructs the stage over the member repository.
func NewRelativesValidator(members domain.Repository[*domain.HouseholdMember]) *RelativesValidator {
	return &RelativesValidator{members: members}
}

// Name returns the stage name.
func (v *RelativesValidator) Name() string { return StageMemberRelatives }

// Validate resolves relatives keyed by id and by client reference id with
// at most one read per key kind.
func (v *RelativesValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.HouseholdMember]) domain.ErrorMap[*domain.HouseholdMember] {
	out := domain.NewErrorMap[*domain.HouseholdMember]()
	valid := batch.Valid()

	inBatch := map[string]struct{}{}
	for _, m := range valid {
		if m.ID != "" {
			inBatch[m.ID] = struct{}{}
		}
		if m.ClientReferenceID != "" {
			inBatch[m.ClientReferenceID] = struct{}{}
		}
	}

	var checked []*domain.HouseholdMember
	pending := map[domain.Field][]string{}
	queued := map[string]struct{}{}
	for _, m := range valid {
		if len(m.MemberRelationships) == 0 {
			continue
		}
		invalid := false
		for _, r := range m.MemberRelationships {
			key, field := relativeKey(r)
			if key == "" || key == m.ID || key == m.ClientReferenceID {
				invalid = true
				break
			}
			if _, ok := inBatch[key]; ok {
				continue
			}
			if _, ok := queued[key]; !ok {
				queued[key] = struct{}{}
				pending[field] = append(pending[field], key)
			}
		}
		if invalid {
			out.Add(m, domain.InvalidRelatedEntityIDError())
			continue
		}
		checked = append(checked, m)
	}
	if len(queued) == 0 {
		return out
	}

	exists := map[string]struct{}{}
	for _, field := range []domain.Field{domain.FieldID, domain.FieldClientReferenceID} {
		keys := pending[field]
		if len(keys) == 0 {
			continue
		}
		found, err := v.members.FindByID(ctx, keys, field, false)
		if err != nil {
			logLookupFailure(ctx, StageMemberRelatives, err)
			out.AddAll(checked, domain.NetworkError(err))
			return out
		}
		for _, f := range found {
			exists[keyOf(f, field)] = struct{}{}
		}
	}
	for _, m := range checked {
		var missing []string
		for _, r := range m.MemberRelationships {
			key, _ := relativeKey(r)
			if _, ok := inBatch[key]; ok {
				continue
			}
			if _, ok := exists[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			out.Add(m, domain.NonExistentRelatedEntityError(missing...))
		}
	}
	logValidated(ctx, StageMemberRelatives, len(checked), out.Len())
	return out
}

func relativeKey(r domain.Relationship) (string, domain.Field) {
	if r.RelativeID != "" {
		return r.RelativeID, domain.FieldID
	}
	return r.RelativeClientReferenceID, domain.FieldClientReferenceID
}
