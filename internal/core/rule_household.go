package core

import (
	"healthcore/pkg/domain"
)

// StageHouseholdBoundary checks the address locality of a household.
const StageHouseholdBoundary = "HouseholdBoundary"

// NewHouseholdBoundaryValidator checks address.localityCode against the
// boundary service. Households without an address locality are skipped.
func NewHouseholdBoundaryValidator(boundaries BoundaryClient) domain.Validator[*domain.Household] {
	return NewRelatedEntityValidator(StageHouseholdBoundary, func(h *domain.Household) []string {
		if h.Address == nil {
			return nil
		}
		return []string{h.Address.LocalityCode}
	}, boundaries.ExistingBoundaries)
}
