package core

import (
	"healthcore/pkg/domain"
)

// Clients groups the external services consulted by validators.
type Clients struct {
	Boundary        BoundaryClient
	Facility        FacilityClient
	Product         ProductClient
	User            UserClient
	Individual      IndividualClient
	ProjectFacility ProjectFacilityClient
	MDMS            MDMSClient
	PlanConfig      PlanConfigurationClient
	Workflow        WorkflowClient
}

// Stores groups the repositories backing the bulk and plan services.
type Stores struct {
	Stocks           domain.Repository[*domain.Stock]
	Ledger           domain.StockLedger
	Households       domain.Repository[*domain.Household]
	HouseholdMembers domain.Repository[*domain.HouseholdMember]
	MemberIndex      domain.HouseholdMemberIndex
	Projects         domain.Repository[*domain.Project]
	Plans            domain.PlanStore
	Assignments      domain.PlanEmployeeAssignmentStore
}

func genericStages[E domain.Entity](p *domain.Pipeline[E], repo domain.Repository[E]) {
	p.Register(OrderNullID, NewNullIDValidator[E]()).
		Register(OrderIsDeleted, NewIsDeletedValidator(repo)).
		Register(OrderNonExistent, NewNonExistentValidator(repo)).
		Register(OrderUniqueEntity, NewUniqueEntityValidator[E]()).
		Register(OrderRowVersion, NewRowVersionValidator(repo)).
		Register(OrderExistentEntity, NewExistentEntityValidator(repo))
}

var deleteStages = []string{StageNullID, StageNonExistent, StageRowVersion}

// NewStockService builds the stock bulk service.
func NewStockService(stores Stores, clients Clients, topics Topics, opts ...BulkOption) *BulkService[*domain.Stock] {
	p := domain.NewPipeline[*domain.Stock]()
	genericStages(p, stores.Stocks)
	p.Register(OrderReferential, NewStockProductVariantValidator(clients.Product)).
		Register(OrderReferential+1, NewStockWarehousePartyValidator(clients.Facility)).
		Register(OrderReferential+2, NewStockStaffPartyValidator(clients.User)).
		Register(OrderReferential+3, NewProjectFacilityValidator(clients.ProjectFacility)).
		Register(OrderBusiness, SenderReceiverValidator{}).
		Register(OrderBusiness+1, NewDispatchReceiptValidator(stores.Ledger))

	return NewBulkService(BulkDefinition[*domain.Stock]{
		Entity:   domain.EntityStock,
		Repo:     stores.Stocks,
		Pipeline: p,
		Stages: map[domain.APIOperation][]string{
			domain.OperationCreate: {
				StageStockProductVariant, StageExistentEntity, StageStockSenderReceiver,
				StageStockWarehouseParty, StageStockStaffParty, StageStockReferenceID,
				StageStockDispatchReceipt,
			},
			domain.OperationUpdate: {
				StageStockProductVariant, StageIsDeleted, StageNonExistent, StageNullID,
				StageRowVersion, StageUniqueEntity, StageStockReferenceID,
				StageStockSenderReceiver, StageStockWarehouseParty, StageStockStaffParty,
			},
			domain.OperationDelete: deleteStages,
		},
		Topics: topics,
	}, opts...)
}

// NewHouseholdService builds the household bulk service.
func NewHouseholdService(stores Stores, clients Clients, topics Topics, opts ...BulkOption) *BulkService[*domain.Household] {
	p := domain.NewPipeline[*domain.Household]()
	genericStages(p, stores.Households)
	p.Register(OrderReferential, NewHouseholdBoundaryValidator(clients.Boundary))

	return NewBulkService(BulkDefinition[*domain.Household]{
		Entity:   domain.EntityHousehold,
		Repo:     stores.Households,
		Pipeline: p,
		Stages: map[domain.APIOperation][]string{
			domain.OperationCreate: {StageHouseholdBoundary, StageExistentEntity},
			domain.OperationUpdate: {
				StageNullID, StageHouseholdBoundary, StageIsDeleted, StageUniqueEntity,
				StageNonExistent, StageRowVersion,
			},
			domain.OperationDelete: deleteStages,
		},
		Topics: topics,
		Enrich: func(op domain.APIOperation, h *domain.Household, newID func() string) func() {
			if op != domain.OperationCreate || h.Address == nil || h.Address.ID != "" {
				return nil
			}
			addr := h.Address
			addr.ID = newID()
			return func() { addr.ID = "" }
		},
	}, opts...)
}

// NewHouseholdMemberService builds the household member bulk service.
func NewHouseholdMemberService(stores Stores, clients Clients, topics Topics, opts ...BulkOption) *BulkService[*domain.HouseholdMember] {
	p := domain.NewPipeline[*domain.HouseholdMember]()
	genericStages(p, stores.HouseholdMembers)
	p.Register(OrderReferential, NewHouseholdReferenceValidator(stores.Households)).
		Register(OrderReferential+1, NewMemberIndividualValidator(clients.Individual)).
		Register(OrderReferential+2, NewRelativesValidator(stores.HouseholdMembers)).
		Register(OrderBusiness, NewIndividualMembershipValidator(stores.MemberIndex)).
		Register(OrderBusiness+1, NewHeadOfHouseholdValidator(stores.MemberIndex))

	return NewBulkService(BulkDefinition[*domain.HouseholdMember]{
		Entity:   domain.EntityHouseholdMember,
		Repo:     stores.HouseholdMembers,
		Pipeline: p,
		Stages: map[domain.APIOperation][]string{
			domain.OperationCreate: {
				StageMemberHousehold, StageMemberIndividual, StageMemberAlreadyAdded,
				StageExistentEntity, StageMemberHeadOfHousehold, StageMemberRelatives,
			},
			domain.OperationUpdate: {
				StageNullID, StageIsDeleted, StageUniqueEntity, StageNonExistent,
				StageRowVersion, StageMemberHousehold, StageMemberHeadOfHousehold,
				StageMemberRelatives,
			},
			domain.OperationDelete: deleteStages,
		},
		Topics: topics,
		Enrich: enrichRelationships,
	}, opts...)
}

func enrichRelationships(_ domain.APIOperation, m *domain.HouseholdMember, newID func() string) func() {
	if len(m.MemberRelationships) == 0 {
		return nil
	}
	saved := append([]domain.Relationship(nil), m.MemberRelationships...)
	for i := range m.MemberRelationships {
		r := &m.MemberRelationships[i]
		if r.ID == "" {
			r.ID = newID()
		}
		r.SelfID = m.ID
		r.SelfClientReferenceID = m.ClientReferenceID
	}
	return func() { copy(m.MemberRelationships, saved) }
}

// NewProjectService builds the project bulk service.
func NewProjectService(stores Stores, clients Clients, topics Topics, opts ...BulkOption) *BulkService[*domain.Project] {
	p := domain.NewPipeline[*domain.Project]()
	genericStages(p, stores.Projects)
	p.Register(OrderReferential, NewProjectTypeValidator(clients.MDMS)).
		Register(OrderReferential+1, NewProjectParentValidator(stores.Projects)).
		Register(OrderReferential+2, NewProjectBoundaryValidator(clients.Boundary)).
		Register(OrderBusiness, ProjectDatesValidator{})

	return NewBulkService(BulkDefinition[*domain.Project]{
		Entity:   domain.EntityProject,
		Repo:     stores.Projects,
		Pipeline: p,
		Stages: map[domain.APIOperation][]string{
			domain.OperationCreate: {
				StageProjectDates, StageProjectType, StageProjectParent,
				StageProjectBoundary, StageExistentEntity,
			},
			domain.OperationUpdate: {
				StageNullID, StageIsDeleted, StageUniqueEntity, StageNonExistent,
				StageRowVersion, StageProjectDates, StageProjectType, StageProjectParent,
			},
			domain.OperationDelete: deleteStages,
		},
		Topics: topics,
	}, opts...)
}
