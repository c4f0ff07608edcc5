package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"healthcore/pkg/domain"
)

// Stock stage names.
const (
	StageStockProductVariant  = "StockProductVariantId"
	StageStockSenderReceiver  = "StockSenderReceiverEquals"
	StageStockWarehouseParty  = "StockWarehouseParties"
	StageStockStaffParty      = "StockStaffParties"
	StageStockReferenceID     = "StockReferenceId"
	StageStockDispatchReceipt = "StockDispatchReceipt"
)

// ReferenceTypeProject marks a stock movement recorded against a project.
const ReferenceTypeProject = "PROJECT"

// NewStockProductVariantValidator checks productVariantId against the product service.
func NewStockProductVariantValidator(products ProductClient) domain.Validator[*domain.Stock] {
	return NewRelatedEntityValidator(StageStockProductVariant, func(s *domain.Stock) []string {
		return []string{s.ProductVariantID}
	}, products.ExistingProductVariants)
}

// NewStockWarehousePartyValidator checks WAREHOUSE senders and receivers
// against the facility service.
func NewStockWarehousePartyValidator(facilities FacilityClient) domain.Validator[*domain.Stock] {
	return NewRelatedEntityValidator(StageStockWarehouseParty, func(s *domain.Stock) []string {
		return partiesOfType(s, domain.PartyWarehouse)
	}, facilities.ExistingFacilities)
}

// NewStockStaffPartyValidator checks STAFF senders and receivers against the
// user service.
func NewStockStaffPartyValidator(users UserClient) domain.Validator[*domain.Stock] {
	return NewRelatedEntityValidator(StageStockStaffParty, func(s *domain.Stock) []string {
		return partiesOfType(s, domain.PartyStaff)
	}, users.ExistingUsers)
}

func partiesOfType(s *domain.Stock, t domain.PartyType) []string {
	var out []string
	if s.SenderType == t && s.SenderID != "" {
		out = append(out, s.SenderID)
	}
	if s.ReceiverType == t && s.ReceiverID != "" {
		out = append(out, s.ReceiverID)
	}
	return out
}

// SenderReceiverValidator rejects movements whose sender and receiver are the
// same party.
type SenderReceiverValidator struct{}

// Name returns the stage name.
func (SenderReceiverValidator) Name() string { return StageStockSenderReceiver }

// Validate needs no lookup.
func (SenderReceiverValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.Stock]) domain.ErrorMap[*domain.Stock] {
	out := domain.NewErrorMap[*domain.Stock]()
	valid := batch.Valid()
	for _, s := range valid {
		if s.SenderID != "" && s.SenderID == s.ReceiverID {
			out.Add(s, domain.NewError(domain.CodeSenderReceiverIDEquals, "sender and receiver cannot be the same"))
		}
	}
	logValidated(ctx, StageStockSenderReceiver, len(valid), out.Len())
	return out
}

// ProjectFacilityValidator requires every warehouse on a project-referenced
// movement to be mapped to that project.
type ProjectFacilityValidator struct {
	mappings ProjectFacilityClient
}

// NewProjectFacilityValidator constructs the stage.
func NewProjectFacilityValidator(mappings ProjectFacilityClient) *ProjectFacilityValidator {
	return &ProjectFacilityValidator{mappings: mappings}
}

// Name returns the stage name.
func (v *ProjectFacilityValidator) Name() string { return StageStockReferenceID }

// Validate fetches the mappings of every referenced project at once.
func (v *ProjectFacilityValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.Stock]) domain.ErrorMap[*domain.Stock] {
	out := domain.NewErrorMap[*domain.Stock]()
	var checked []*domain.Stock
	var projects []string
	seen := map[string]struct{}{}
	for _, s := range batch.Valid() {
		if s.ReferenceIDType != ReferenceTypeProject || s.ReferenceID == "" {
			continue
		}
		if len(partiesOfType(s, domain.PartyWarehouse)) == 0 {
			continue
		}
		checked = append(checked, s)
		if _, ok := seen[s.ReferenceID]; !ok {
			seen[s.ReferenceID] = struct{}{}
			projects = append(projects, s.ReferenceID)
		}
	}
	if len(checked) == 0 {
		return out
	}
	mapped, err := v.mappings.ProjectFacilities(ctx, batch.TenantID(), projects)
	if err != nil {
		logLookupFailure(ctx, StageStockReferenceID, err)
		out.AddAll(checked, domain.NetworkError(err))
		return out
	}
	for _, s := range checked {
		allowed := make(map[string]struct{}, len(mapped[s.ReferenceID]))
		for _, f := range mapped[s.ReferenceID] {
			allowed[f] = struct{}{}
		}
		for _, facility := range partiesOfType(s, domain.PartyWarehouse) {
			if _, ok := allowed[facility]; !ok {
				out.Add(s, domain.NewError(domain.CodeNoProjectFacilityMapping,
					fmt.Sprintf("No mapping exists for project id: %s & facility id: %s", s.ReferenceID, facility)))
				break
			}
		}
	}
	logValidated(ctx, StageStockReferenceID, len(checked), out.Len())
	return out
}

// DispatchReceiptValidator keeps a sender from dispatching more of a product
// variant than it has received. Receipts are the stored RECEIVED movements
// whose receiverId equals the dispatching senderId; prior dispatches by the
// same sender and earlier dispatches in the batch count against them.
type DispatchReceiptValidator struct {
	ledger domain.StockLedger
}

// NewDispatchReceiptValidator constructs the stage over ledger.
func NewDispatchReceiptValidator(ledger domain.StockLedger) *DispatchReceiptValidator {
	return &DispatchReceiptValidator{ledger: ledger}
}

// Name returns the stage name.
func (v *DispatchReceiptValidator) Name() string { return StageStockDispatchReceipt }

// Validate reads every sender's balance in one call.
func (v *DispatchReceiptValidator) Validate(ctx context.Context, batch *domain.Batch[*domain.Stock]) domain.ErrorMap[*domain.Stock] {
	out := domain.NewErrorMap[*domain.Stock]()
	var dispatches []*domain.Stock
	var senders []string
	seen := map[string]struct{}{}
	for _, s := range batch.Valid() {
		if s.TransactionType != domain.TransactionDispatched || s.SenderID == "" {
			continue
		}
		dispatches = append(dispatches, s)
		if _, ok := seen[s.SenderID]; !ok {
			seen[s.SenderID] = struct{}{}
			senders = append(senders, s.SenderID)
		}
	}
	if len(dispatches) == 0 {
		return out
	}
	balance, err := v.ledger.Balances(ctx, batch.TenantID(), senders)
	if err != nil {
		logLookupFailure(ctx, StageStockDispatchReceipt, err)
		out.AddAll(dispatches, domain.NetworkError(err))
		return out
	}
	pending := make(domain.StockTotals, len(dispatches))
	for _, s := range dispatches {
		key := domain.StockKey{PartyID: s.SenderID, ProductVariantID: s.ProductVariantID}
		received := balance.Received[key]
		available := received - balance.Dispatched[key] - pending[key]
		if s.Quantity > available || available < 0 {
			total := decimal.NewFromInt(balance.Dispatched[key]).
				Add(decimal.NewFromInt(pending[key])).
				Add(decimal.NewFromInt(s.Quantity))
			out.Add(s, domain.NewError(domain.CodeStockDispatchExceedsReceipt,
				fmt.Sprintf("Dispatched quantity %s for sender %s exceeds received quantity %d", total, s.SenderID, received)))
			continue
		}
		pending[key] += s.Quantity
	}
	logValidated(ctx, StageStockDispatchReceipt, len(dispatches), out.Len())
	return out
}
