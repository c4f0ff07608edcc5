package domain

import (
	"context"
	"math"
)

// Field names a lookup column shared by every entity table.
type Field string

// Lookup fields understood by every repository.
const (
	FieldID                Field = "id"
	FieldClientReferenceID Field = "clientReferenceId"
)

// Query narrows a search over one entity table. Results are ordered by id.
type Query struct {
	TenantID           string
	IDs                []string
	ClientReferenceIDs []string
	LastChangedSince   int64
	IncludeDeleted     bool
	Limit              int
	Offset             int
}

// Repository is the persistence contract used by validators and bulk
// services. FindByID issues one batched read; Save persists the entities and
// publishes them on topic after the write succeeds.
type Repository[E Entity] interface {
	FindByID(ctx context.Context, ids []string, field Field, includeDeleted bool) ([]E, error)
	Find(ctx context.Context, q Query) ([]E, error)
	Save(ctx context.Context, entities []E, topic string) error
}

// StockTotals sums quantities per party and product variant.
type StockTotals map[StockKey]int64

// Add accumulates qty under key, saturating at math.MaxInt64.
func (t StockTotals) Add(key StockKey, qty int64) {
	cur := t[key]
	if qty > 0 && cur > math.MaxInt64-qty {
		t[key] = math.MaxInt64
		return
	}
	t[key] = cur + qty
}

// StockKey identifies a party holding a product variant.
type StockKey struct {
	PartyID          string
	ProductVariantID string
}

// StockBalance is what the ledger knows about a set of parties.
type StockBalance struct {
	// Received sums stored RECEIVED quantities keyed by receiver.
	Received StockTotals
	// Dispatched sums stored DISPATCHED quantities keyed by sender.
	Dispatched StockTotals
}

// StockLedger answers the aggregate question asked by the dispatch rule in
// one batched read.
type StockLedger interface {
	Balances(ctx context.Context, tenantID string, parties []string) (StockBalance, error)
}

// HouseholdMemberIndex answers household level questions about members.
type HouseholdMemberIndex interface {
	// HeadsOf returns the stored heads of the given households, matched by
	// household id or household client reference id.
	HeadsOf(ctx context.Context, tenantID string, households []string) ([]*HouseholdMember, error)
	// ByIndividual returns stored active memberships for the given individuals.
	ByIndividual(ctx context.Context, tenantID string, individualIDs []string) ([]*HouseholdMember, error)
}

// PlanStore persists plans.
type PlanStore interface {
	GetPlan(ctx context.Context, tenantID, id string) Lookup[Plan]
	SavePlans(ctx context.Context, plans []Plan, topic string) error
}

// AssignmentSearch filters plan employee assignments.
type AssignmentSearch struct {
	TenantID            string
	PlanConfigurationID string
	Jurisdictions       []string
	Roles               []string
	EmployeeID          string
}

// PlanEmployeeAssignmentStore looks up who may act on a plan boundary.
type PlanEmployeeAssignmentStore interface {
	SearchAssignments(ctx context.Context, q AssignmentSearch) ([]PlanEmployeeAssignment, error)
}

// Matches reports whether b satisfies every filter of q except paging.
func (q Query) Matches(b *Base) bool {
	if q.TenantID != "" && b.TenantID != q.TenantID {
		return false
	}
	if !q.IncludeDeleted && b.IsDeleted {
		return false
	}
	if len(q.IDs) > 0 && !containsString(q.IDs, b.ID) {
		return false
	}
	if len(q.ClientReferenceIDs) > 0 && !containsString(q.ClientReferenceIDs, b.ClientReferenceID) {
		return false
	}
	if q.LastChangedSince > 0 {
		if b.AuditDetails == nil || b.AuditDetails.LastModifiedTime < q.LastChangedSince {
			return false
		}
	}
	return true
}

// Page applies Offset and Limit to an already ordered slice.
func Page[E any](items []E, q Query) []E {
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return nil
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Matches reports whether a is an active assignment satisfying q. A
// jurisdiction filter matches when any assigned boundary is listed.
func (q AssignmentSearch) Matches(a PlanEmployeeAssignment) bool {
	if !a.Active {
		return false
	}
	if q.TenantID != "" && a.TenantID != q.TenantID {
		return false
	}
	if q.PlanConfigurationID != "" && a.PlanConfigurationID != q.PlanConfigurationID {
		return false
	}
	if q.EmployeeID != "" && a.EmployeeID != q.EmployeeID {
		return false
	}
	if len(q.Roles) > 0 && !containsString(q.Roles, a.Role) {
		return false
	}
	if len(q.Jurisdictions) > 0 {
		for _, j := range a.Jurisdiction {
			if containsString(q.Jurisdictions, j) {
				return true
			}
		}
		return false
	}
	return true
}
