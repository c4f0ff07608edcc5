package clients

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-faster/errors"

	"healthcore/internal/core"
	"healthcore/pkg/domain"
)

var _ core.BoundaryClient = (*Boundaries)(nil)

// Boundaries searches the boundary service.
type Boundaries struct {
	c         *Client
	hierarchy string
}

// NewBoundaries wraps c. hierarchy names the hierarchy type used when
// reading relationships; empty means the tenant default.
func NewBoundaries(c *Client, hierarchy string) *Boundaries {
	return &Boundaries{c: c, hierarchy: hierarchy}
}

// ExistingBoundaries returns the codes of codes the boundary service knows.
func (b *Boundaries) ExistingBoundaries(ctx context.Context, tenantID string, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("tenantId", tenantID)
	q.Set("codes", strings.Join(codes, ","))
	q.Set("limit", "1000")
	q.Set("offset", "0")
	body := map[string]any{"RequestInfo": serviceRequestInfo()}
	var out struct {
		Boundary []struct {
			Code string `json:"code"`
		} `json:"Boundary"`
	}
	if err := b.c.postJSON(ctx, "/boundary-service/boundary/_search", q, body, &out); err != nil {
		return nil, errors.Wrap(err, "search boundaries")
	}
	found := make(map[string]struct{}, len(out.Boundary))
	for _, bd := range out.Boundary {
		found[bd.Code] = struct{}{}
	}
	return intersect(codes, found), nil
}

type boundaryNode struct {
	Code     string         `json:"code"`
	Children []boundaryNode `json:"children"`
}

// AncestralPath asks for the relationship tree of code with its parents
// included and flattens the branch that leads to code.
func (b *Boundaries) AncestralPath(ctx context.Context, tenantID, code string) domain.Lookup[string] {
	q := url.Values{}
	q.Set("tenantId", tenantID)
	q.Set("codes", code)
	q.Set("includeParents", "true")
	if b.hierarchy != "" {
		q.Set("hierarchyType", b.hierarchy)
	}
	body := map[string]any{"RequestInfo": serviceRequestInfo()}
	var out struct {
		TenantBoundary []struct {
			Boundary []boundaryNode `json:"boundary"`
		} `json:"TenantBoundary"`
	}
	if err := b.c.postJSON(ctx, "/boundary-service/boundary-relationships/_search", q, body, &out); err != nil {
		return domain.Failed[string](errors.Wrap(err, "search boundary relationships"))
	}
	for _, tb := range out.TenantBoundary {
		for _, root := range tb.Boundary {
			if path, ok := branchTo(root, code, nil); ok {
				return domain.Found(strings.Join(path, "|"))
			}
		}
	}
	return domain.Missing[string]()
}

func branchTo(n boundaryNode, code string, prefix []string) ([]string, bool) {
	path := append(append([]string(nil), prefix...), n.Code)
	if n.Code == code {
		return path, true
	}
	for _, child := range n.Children {
		if p, ok := branchTo(child, code, path); ok {
			return p, true
		}
	}
	return nil, false
}
