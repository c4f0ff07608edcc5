package clients

import (
	"context"

	"github.com/go-faster/errors"

	"healthcore/internal/core"
)

var (
	_ core.FacilityClient        = (*Facilities)(nil)
	_ core.ProjectFacilityClient = (*ProjectFacilities)(nil)
	_ core.ProductClient         = (*Products)(nil)
	_ core.UserClient            = (*Users)(nil)
	_ core.IndividualClient      = (*Individuals)(nil)
)

type idRecord struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"clientReferenceId,omitempty"`
}

func idSet(records []idRecord) map[string]struct{} {
	out := make(map[string]struct{}, len(records)*2)
	for _, r := range records {
		if r.ID != "" {
			out[r.ID] = struct{}{}
		}
		if r.ClientReferenceID != "" {
			out[r.ClientReferenceID] = struct{}{}
		}
	}
	return out
}

// Facilities searches the facility registry.
type Facilities struct{ c *Client }

// NewFacilities wraps c.
func NewFacilities(c *Client) *Facilities { return &Facilities{c: c} }

// ExistingFacilities returns the ids of ids that are registered facilities.
func (f *Facilities) ExistingFacilities(ctx context.Context, tenantID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"RequestInfo": serviceRequestInfo(),
		"Facility":    map[string]any{"id": ids},
	}
	var out struct {
		Facilities []idRecord `json:"Facilities"`
	}
	if err := f.c.postJSON(ctx, "/facility/v1/_search", searchQuery(tenantID, len(ids)), body, &out); err != nil {
		return nil, errors.Wrap(err, "search facilities")
	}
	return intersect(ids, idSet(out.Facilities)), nil
}

// ProjectFacilities searches project to facility mappings.
type ProjectFacilities struct{ c *Client }

// NewProjectFacilities wraps c.
func NewProjectFacilities(c *Client) *ProjectFacilities { return &ProjectFacilities{c: c} }

// ProjectFacilities returns the facility ids mapped to each project.
func (p *ProjectFacilities) ProjectFacilities(ctx context.Context, tenantID string, projectIDs []string) (map[string][]string, error) {
	if len(projectIDs) == 0 {
		return map[string][]string{}, nil
	}
	body := map[string]any{
		"RequestInfo":     serviceRequestInfo(),
		"ProjectFacility": map[string]any{"projectId": projectIDs},
	}
	var out struct {
		ProjectFacilities []struct {
			ProjectID  string `json:"projectId"`
			FacilityID string `json:"facilityId"`
			IsDeleted  bool   `json:"isDeleted"`
		} `json:"ProjectFacilities"`
	}
	// Mappings outnumber projects; ask for a generous page.
	if err := p.c.postJSON(ctx, "/project/facility/v1/_search", searchQuery(tenantID, len(projectIDs)*100), body, &out); err != nil {
		return nil, errors.Wrap(err, "search project facilities")
	}
	mapped := make(map[string][]string, len(projectIDs))
	for _, m := range out.ProjectFacilities {
		if m.IsDeleted {
			continue
		}
		mapped[m.ProjectID] = append(mapped[m.ProjectID], m.FacilityID)
	}
	return mapped, nil
}

// Products searches product variants.
type Products struct{ c *Client }

// NewProducts wraps c.
func NewProducts(c *Client) *Products { return &Products{c: c} }

// ExistingProductVariants returns the ids of ids that are known variants.
func (p *Products) ExistingProductVariants(ctx context.Context, tenantID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"RequestInfo":    serviceRequestInfo(),
		"ProductVariant": map[string]any{"id": ids},
	}
	var out struct {
		ProductVariant []idRecord `json:"ProductVariant"`
	}
	if err := p.c.postJSON(ctx, "/product/variant/v1/_search", searchQuery(tenantID, len(ids)), body, &out); err != nil {
		return nil, errors.Wrap(err, "search product variants")
	}
	return intersect(ids, idSet(out.ProductVariant)), nil
}

// Users searches staff user accounts by uuid.
type Users struct{ c *Client }

// NewUsers wraps c.
func NewUsers(c *Client) *Users { return &Users{c: c} }

// ExistingUsers returns the uuids of ids that belong to active users.
func (u *Users) ExistingUsers(ctx context.Context, tenantID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"RequestInfo": serviceRequestInfo(),
		"tenantId":    tenantID,
		"uuid":        ids,
	}
	var out struct {
		User []struct {
			UUID   string `json:"uuid"`
			Active bool   `json:"active"`
		} `json:"user"`
	}
	if err := u.c.postJSON(ctx, "/user/_search", nil, body, &out); err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	found := make(map[string]struct{}, len(out.User))
	for _, usr := range out.User {
		if usr.Active {
			found[usr.UUID] = struct{}{}
		}
	}
	return intersect(ids, found), nil
}

// Individuals searches the individual registry by id or client reference id.
type Individuals struct{ c *Client }

// NewIndividuals wraps c.
func NewIndividuals(c *Client) *Individuals { return &Individuals{c: c} }

// ExistingIndividuals returns the keys of ids matching an individual's id
// or client reference id.
func (i *Individuals) ExistingIndividuals(ctx context.Context, tenantID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"RequestInfo": serviceRequestInfo(),
		"Individual": map[string]any{
			"id":                ids,
			"clientReferenceId": ids,
		},
	}
	var out struct {
		Individual []idRecord `json:"Individual"`
	}
	q := searchQuery(tenantID, len(ids))
	q.Set("includeDeleted", "false")
	if err := i.c.postJSON(ctx, "/individual/v1/_search", q, body, &out); err != nil {
		return nil, errors.Wrap(err, "search individuals")
	}
	return intersect(ids, idSet(out.Individual)), nil
}
