package core

import (
	"context"

	"healthcore/pkg/domain"
)

// The interfaces below describe the external services validators consult.
// Every batch method answers which of the supplied ids exist; an error means
// the service could not be asked.

// BoundaryClient resolves administrative boundaries.
type BoundaryClient interface {
	ExistingBoundaries(ctx context.Context, tenantID string, codes []string) ([]string, error)
	// AncestralPath returns the pipe-delimited root-to-leaf path of code.
	AncestralPath(ctx context.Context, tenantID, code string) domain.Lookup[string]
}

// FacilityClient resolves warehouses and other facilities.
type FacilityClient interface {
	ExistingFacilities(ctx context.Context, tenantID string, ids []string) ([]string, error)
}

// ProductClient resolves product variants.
type ProductClient interface {
	ExistingProductVariants(ctx context.Context, tenantID string, ids []string) ([]string, error)
}

// UserClient resolves staff user uuids.
type UserClient interface {
	ExistingUsers(ctx context.Context, tenantID string, ids []string) ([]string, error)
}

// IndividualClient resolves registered individuals.
type IndividualClient interface {
	ExistingIndividuals(ctx context.Context, tenantID string, ids []string) ([]string, error)
}

// ProjectFacilityClient lists the facilities mapped to each project.
type ProjectFacilityClient interface {
	ProjectFacilities(ctx context.Context, tenantID string, projectIDs []string) (map[string][]string, error)
}

// MDMSClient reads master data.
type MDMSClient interface {
	// ProjectTypes returns the configured project type codes for tenantID.
	ProjectTypes(ctx context.Context, tenantID string) ([]string, error)
}

// PlanConfigurationClient reads plan configurations.
type PlanConfigurationClient interface {
	// PlanConfiguration returns the name of configuration id.
	PlanConfiguration(ctx context.Context, tenantID, id string) domain.Lookup[string]
}

// WorkflowClient advances process instances.
type WorkflowClient interface {
	Transition(ctx context.Context, info domain.RequestInfo, instances []domain.ProcessInstance) ([]domain.ProcessInstance, error)
}

// RepositoryResolver resolves ids against a sibling repository.
func RepositoryResolver[E domain.Entity](repo domain.Repository[E], field domain.Field) Resolver {
	return func(ctx context.Context, _ string, ids []string) ([]string, error) {
		found, err := repo.FindByID(ctx, ids, field, false)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(found))
		for _, e := range found {
			out = append(out, keyOf(e, field))
		}
		return out, nil
	}
}
