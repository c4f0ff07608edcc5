package clients

import (
	"context"

	"github.com/go-faster/errors"

	"healthcore/internal/core"
	"healthcore/pkg/domain"
)

var _ core.PlanConfigurationClient = (*PlanConfigurations)(nil)

// PlanConfigurations searches the plan configuration service.
type PlanConfigurations struct{ c *Client }

// NewPlanConfigurations wraps c.
func NewPlanConfigurations(c *Client) *PlanConfigurations { return &PlanConfigurations{c: c} }

// PlanConfiguration looks id up for tenantID. An empty search result is
// reported as missing.
func (p *PlanConfigurations) PlanConfiguration(ctx context.Context, tenantID, id string) domain.Lookup[string] {
	body := map[string]any{
		"RequestInfo": serviceRequestInfo(),
		"PlanConfigurationSearchCriteria": map[string]any{
			"tenantId": tenantID,
			"id":       id,
			"limit":    1,
			"offset":   0,
		},
	}
	var out struct {
		PlanConfiguration []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"PlanConfiguration"`
	}
	if err := p.c.postJSON(ctx, "/plan-service/config/_search", nil, body, &out); err != nil {
		return domain.Failed[string](errors.Wrap(err, "search plan configurations"))
	}
	for _, cfg := range out.PlanConfiguration {
		if cfg.ID == id {
			return domain.Found(cfg.Name)
		}
	}
	return domain.Missing[string]()
}
