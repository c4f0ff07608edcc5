// Package domain defines the bulk entities, error model, and validation
// primitives shared by the healthcore services.
package domain

import (
	"github.com/shopspring/decimal"
)

// EntityType identifies the kind of record handled by a bulk service.
type EntityType string

// Supported entity type identifiers used for tables, topics, and metrics labels.
const (
	EntityStock                  EntityType = "stock"
	EntityHousehold              EntityType = "household"
	EntityHouseholdMember        EntityType = "household_member"
	EntityProject                EntityType = "project"
	EntityPlan                   EntityType = "plan"
	EntityPlanEmployeeAssignment EntityType = "plan_employee_assignment"
)

// AuditDetails records who touched a record and when (epoch millis).
type AuditDetails struct {
	CreatedBy        string `json:"createdBy,omitempty"`
	CreatedTime      int64  `json:"createdTime,omitempty"`
	LastModifiedBy   string `json:"lastModifiedBy,omitempty"`
	LastModifiedTime int64  `json:"lastModifiedTime,omitempty"`
}

// Base carries the fields every bulk entity shares. Entities embed it so that
// a pointer to the entity satisfies Record.
type Base struct {
	ID                string        `json:"id,omitempty"`
	ClientReferenceID string        `json:"clientReferenceId,omitempty"`
	TenantID          string        `json:"tenantId" validate:"required"`
	RowVersion        int           `json:"rowVersion,omitempty"`
	IsDeleted         bool          `json:"isDeleted,omitempty"`
	HasErrors         bool          `json:"hasErrors,omitempty"`
	AuditDetails      *AuditDetails `json:"auditDetails,omitempty"`
}

// Header exposes the shared fields for generic code.
func (b *Base) Header() *Base { return b }

// Record is implemented by pointers to entities embedding Base.
type Record interface {
	Header() *Base
}

// Entity is the constraint used by generic validators and repositories.
// Entities are handled by pointer so identity is stable across stages.
type Entity interface {
	comparable
	Record
}

// TransactionType classifies a stock movement.
type TransactionType string

// Stock transaction types.
const (
	TransactionReceived   TransactionType = "RECEIVED"
	TransactionDispatched TransactionType = "DISPATCHED"
)

// PartyType identifies the kind of sender or receiver on a stock movement.
type PartyType string

// Stock party types.
const (
	PartyWarehouse PartyType = "WAREHOUSE"
	PartyStaff     PartyType = "STAFF"
)

// Stock is a single inventory movement between two parties.
type Stock struct {
	Base
	ProductVariantID  string          `json:"productVariantId" validate:"required"`
	Quantity          int64           `json:"quantity" validate:"gte=0"`
	ReferenceID       string          `json:"referenceId,omitempty"`
	ReferenceIDType   string          `json:"referenceIdType,omitempty"`
	TransactionType   TransactionType `json:"transactionType" validate:"required,oneof=RECEIVED DISPATCHED"`
	TransactionReason string          `json:"transactionReason,omitempty"`
	SenderID          string          `json:"senderId,omitempty"`
	SenderType        PartyType       `json:"senderType,omitempty"`
	ReceiverID        string          `json:"receiverId,omitempty"`
	ReceiverType      PartyType       `json:"receiverType,omitempty"`
	WayBillNumber     string          `json:"wayBillNumber,omitempty"`
	DateOfEntry       int64           `json:"dateOfEntry,omitempty"`
}

// Address is the location block attached to a household.
type Address struct {
	ID           string `json:"id,omitempty"`
	LocalityCode string `json:"localityCode,omitempty"`
	AddressLine1 string `json:"addressLine1,omitempty"`
	City         string `json:"city,omitempty"`
	Pincode      string `json:"pincode,omitempty"`
}

// Household groups members living at one address.
type Household struct {
	Base
	MemberCount int      `json:"memberCount" validate:"gte=0"`
	Address     *Address `json:"address,omitempty"`
}

// Relationship links a household member to a relative.
type Relationship struct {
	ID                        string `json:"id,omitempty"`
	SelfID                    string `json:"selfId,omitempty"`
	SelfClientReferenceID     string `json:"selfClientReferenceId,omitempty"`
	RelativeID                string `json:"relativeId,omitempty"`
	RelativeClientReferenceID string `json:"relativeClientReferenceId,omitempty"`
	RelationshipType          string `json:"relationshipType,omitempty"`
}

// HouseholdMember ties an individual to a household.
type HouseholdMember struct {
	Base
	HouseholdID                 string         `json:"householdId,omitempty"`
	HouseholdClientReferenceID  string         `json:"householdClientReferenceId,omitempty"`
	IndividualID                string         `json:"individualId,omitempty"`
	IndividualClientReferenceID string         `json:"individualClientReferenceId,omitempty"`
	IsHeadOfHousehold           bool           `json:"isHeadOfHousehold"`
	MemberRelationships         []Relationship `json:"memberRelationships,omitempty"`
}

// HouseholdKey returns the household reference and whether it is an id
// (true) or a client reference id (false).
func (m *HouseholdMember) HouseholdKey() (string, bool) {
	if m.HouseholdID != "" {
		return m.HouseholdID, true
	}
	return m.HouseholdClientReferenceID, false
}

// Project is a campaign delivery unit over a boundary.
type Project struct {
	Base
	ProjectNumber string `json:"projectNumber,omitempty"`
	Name          string `json:"name,omitempty"`
	ProjectType   string `json:"projectType,omitempty"`
	ProjectTypeID string `json:"projectTypeId,omitempty"`
	ParentID      string `json:"parent,omitempty"`
	BoundaryCode  string `json:"boundaryCode,omitempty"`
	StartDate     int64  `json:"startDate,omitempty"`
	EndDate       int64  `json:"endDate,omitempty"`
	IsTaskEnabled bool   `json:"isTaskEnabled,omitempty"`
}

// Activity is a campaign step inside a plan.
type Activity struct {
	ID               string   `json:"id,omitempty"`
	Code             string   `json:"code"`
	Description      string   `json:"description,omitempty"`
	PlannedStartDate int64    `json:"plannedStartDate,omitempty"`
	PlannedEndDate   int64    `json:"plannedEndDate,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
}

// Resource is a planned quantity of something an activity consumes.
type Resource struct {
	ID              string          `json:"id,omitempty"`
	ResourceType    string          `json:"resourceType"`
	EstimatedNumber decimal.Decimal `json:"estimatedNumber"`
	ActivityCode    string          `json:"activityCode,omitempty"`
}

// MetricDetail describes the threshold attached to a target.
type MetricDetail struct {
	Value      decimal.Decimal `json:"value"`
	Comparator string          `json:"comparator,omitempty"`
	Unit       string          `json:"unit,omitempty"`
}

// Target is a measurable goal attached to an activity.
type Target struct {
	ID           string       `json:"id,omitempty"`
	Metric       string       `json:"metric"`
	MetricDetail MetricDetail `json:"metricDetail"`
	ActivityCode string       `json:"activityCode,omitempty"`
}

// Plan is a resource estimation for one locality of a campaign.
type Plan struct {
	ID                    string        `json:"id,omitempty"`
	TenantID              string        `json:"tenantId" validate:"required"`
	Locality              string        `json:"locality,omitempty"`
	CampaignID            string        `json:"campaignId,omitempty"`
	PlanConfigurationID   string        `json:"planConfigurationId" validate:"required"`
	Status                string        `json:"status,omitempty"`
	Assignee              []string      `json:"assignee,omitempty"`
	BoundaryAncestralPath string        `json:"boundaryAncestralPath,omitempty"`
	AssigneeJurisdiction  []string      `json:"assigneeJurisdiction,omitempty"`
	Activities            []Activity    `json:"activities,omitempty"`
	Resources             []Resource    `json:"resources,omitempty"`
	Targets               []Target      `json:"targets,omitempty"`
	AuditDetails          *AuditDetails `json:"auditDetails,omitempty"`
	Workflow              *Workflow     `json:"workflow,omitempty"`
}

// PlanEmployeeAssignment grants an employee a role over a set of boundaries.
type PlanEmployeeAssignment struct {
	ID                  string   `json:"id,omitempty"`
	TenantID            string   `json:"tenantId"`
	PlanConfigurationID string   `json:"planConfigurationId"`
	EmployeeID          string   `json:"employeeId"`
	Role                string   `json:"role"`
	Jurisdiction        []string `json:"jurisdiction"`
	Active              bool     `json:"active"`
}
