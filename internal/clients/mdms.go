package clients

import (
	"context"
	"os"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"

	"healthcore/internal/core"
)

const (
	projectTypesModule = "HCM-PROJECT-TYPES"
	projectTypesMaster = "projectTypes"
)

var (
	_ core.MDMSClient = (*MDMS)(nil)
	_ core.MDMSClient = (*StaticMDMS)(nil)
)

// MDMS reads master data over HTTP.
type MDMS struct{ c *Client }

// NewMDMS wraps c.
func NewMDMS(c *Client) *MDMS { return &MDMS{c: c} }

// ProjectTypes returns the project type codes configured for tenantID.
func (m *MDMS) ProjectTypes(ctx context.Context, tenantID string) ([]string, error) {
	body := map[string]any{
		"RequestInfo": serviceRequestInfo(),
		"MdmsCriteria": map[string]any{
			"tenantId": tenantID,
			"moduleDetails": []map[string]any{{
				"moduleName":    projectTypesModule,
				"masterDetails": []map[string]string{{"name": projectTypesMaster}},
			}},
		},
	}
	var out struct {
		MdmsRes map[string]map[string][]struct {
			Code string `json:"code"`
		} `json:"MdmsRes"`
	}
	if err := m.c.postJSON(ctx, "/mdms-v2/v1/_search", nil, body, &out); err != nil {
		return nil, errors.Wrap(err, "search mdms")
	}
	records := out.MdmsRes[projectTypesModule][projectTypesMaster]
	codes := make([]string, 0, len(records))
	for _, r := range records {
		codes = append(codes, r.Code)
	}
	return codes, nil
}

// StaticMDMS serves master data from a seed file, for deployments without
// an MDMS host and for local runs.
//
// The file maps tenant ids to their masters:
//
//	mz:
//	  projectTypes: [MR-DN, LLIN-MZ]
type StaticMDMS struct {
	tenants map[string]staticTenant
}

type staticTenant struct {
	ProjectTypes []string `yaml:"projectTypes"`
}

// LoadStaticMDMS reads the seed file at path.
func LoadStaticMDMS(path string) (*StaticMDMS, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read mdms seed")
	}
	return ParseStaticMDMS(raw)
}

// ParseStaticMDMS decodes a seed document.
func ParseStaticMDMS(raw []byte) (*StaticMDMS, error) {
	tenants := map[string]staticTenant{}
	if err := yaml.Unmarshal(raw, &tenants); err != nil {
		return nil, errors.Wrap(err, "decode mdms seed")
	}
	return &StaticMDMS{tenants: tenants}, nil
}

// ProjectTypes returns the seeded codes; an unknown tenant has none.
func (s *StaticMDMS) ProjectTypes(_ context.Context, tenantID string) ([]string, error) {
	return append([]string(nil), s.tenants[tenantID].ProjectTypes...), nil
}
