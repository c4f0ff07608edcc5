package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcore/internal/config"
	"healthcore/pkg/domain"
)

type recorded struct {
	path  string
	query map[string]string
	body  map[string]any
}

func serve(t *testing.T, status int, response string) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		rec.query = map[string]string{}
		for k := range r.URL.Query() {
			rec.query[k] = r.URL.Query().Get(k)
		}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	log := logrus.New()
	log.SetOutput(os.Stderr)
	c, err := New(srv.URL, time.Second, logrus.NewEntry(log))
	require.NoError(t, err)
	return c, rec
}

func TestNewRejectsBadHost(t *testing.T) {
	for _, host := range []string{"", "localhost:8080", "://x"} {
		_, err := New(host, 0, nil)
		assert.Error(t, err, host)
	}
}

func TestExistingFacilities(t *testing.T) {
	c, rec := serve(t, http.StatusOK, `{"Facilities":[{"id":"W2"},{"id":"W1"}]}`)
	got, err := NewFacilities(c).ExistingFacilities(context.Background(), "mz", []string{"W1", "W2", "W3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2"}, got)
	assert.Equal(t, "/facility/v1/_search", rec.path)
	assert.Equal(t, "mz", rec.query["tenantId"])
	assert.Equal(t, "3", rec.query["limit"])
	assert.Contains(t, rec.body, "RequestInfo")
}

func TestExistingIndividualsMatchesEitherKey(t *testing.T) {
	c, _ := serve(t, http.StatusOK, `{"Individual":[{"id":"ind-1","clientReferenceId":"c-1"}]}`)
	got, err := NewIndividuals(c).ExistingIndividuals(context.Background(), "mz", []string{"c-1", "ind-1", "ind-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1", "ind-1"}, got)
}

func TestExistingUsersSkipsInactive(t *testing.T) {
	c, rec := serve(t, http.StatusOK, `{"user":[{"uuid":"u-1","active":true},{"uuid":"u-2","active":false}]}`)
	got, err := NewUsers(c).ExistingUsers(context.Background(), "mz", []string{"u-1", "u-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1"}, got)
	assert.Equal(t, "/user/_search", rec.path)
	assert.Equal(t, "mz", rec.body["tenantId"])
}

func TestEmptyBatchSkipsCall(t *testing.T) {
	c, rec := serve(t, http.StatusOK, `{}`)
	got, err := NewProducts(c).ExistingProductVariants(context.Background(), "mz", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, rec.path)
}

func TestStatusErrorSurfaces(t *testing.T) {
	c, _ := serve(t, http.StatusBadGateway, `upstream down`)
	_, err := NewProducts(c).ExistingProductVariants(context.Background(), "mz", []string{"pv1"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Equal(t, "upstream down", se.Body)
}

func TestProjectFacilitiesGroupsByProject(t *testing.T) {
	c, _ := serve(t, http.StatusOK, `{"ProjectFacilities":[
		{"projectId":"p-1","facilityId":"W1"},
		{"projectId":"p-1","facilityId":"W2","isDeleted":true},
		{"projectId":"p-2","facilityId":"W3"}]}`)
	got, err := NewProjectFacilities(c).ProjectFacilities(context.Background(), "mz", []string{"p-1", "p-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"p-1": {"W1"}, "p-2": {"W3"}}, got)
}

func TestAncestralPath(t *testing.T) {
	tree := `{"TenantBoundary":[{"boundary":[{"code":"ROOT","children":[
		{"code":"D1","children":[{"code":"V1"}]},
		{"code":"D2","children":[{"code":"V2","children":[]}]}]}]}]}`
	c, rec := serve(t, http.StatusOK, tree)
	b := NewBoundaries(c, "ADMIN")

	got := b.AncestralPath(context.Background(), "mz", "V2")
	assert.Equal(t, domain.LookupOK, got.Status)
	assert.Equal(t, "ROOT|D2|V2", got.Value)
	assert.Equal(t, "true", rec.query["includeParents"])
	assert.Equal(t, "ADMIN", rec.query["hierarchyType"])

	assert.Equal(t, domain.LookupNotFound, b.AncestralPath(context.Background(), "mz", "V9").Status)
}

func TestAncestralPathTransportError(t *testing.T) {
	c, _ := serve(t, http.StatusInternalServerError, `{}`)
	got := NewBoundaries(c, "").AncestralPath(context.Background(), "mz", "V1")
	assert.Equal(t, domain.LookupTransportError, got.Status)
	assert.Error(t, got.Err)
}

func TestPlanConfiguration(t *testing.T) {
	c, rec := serve(t, http.StatusOK, `{"PlanConfiguration":[{"id":"cfg-1","name":"Malaria 2026"}]}`)
	pc := NewPlanConfigurations(c)

	got := pc.PlanConfiguration(context.Background(), "mz", "cfg-1")
	assert.Equal(t, domain.LookupOK, got.Status)
	assert.Equal(t, "Malaria 2026", got.Value)
	assert.Equal(t, "/plan-service/config/_search", rec.path)
	criteria, ok := rec.body["PlanConfigurationSearchCriteria"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cfg-1", criteria["id"])
	assert.Equal(t, "mz", criteria["tenantId"])

	assert.Equal(t, domain.LookupNotFound, pc.PlanConfiguration(context.Background(), "mz", "cfg-9").Status)
}

func TestPlanConfigurationTransportError(t *testing.T) {
	c, _ := serve(t, http.StatusBadGateway, `{}`)
	got := NewPlanConfigurations(c).PlanConfiguration(context.Background(), "mz", "cfg-1")
	assert.Equal(t, domain.LookupTransportError, got.Status)
	var se *StatusError
	require.ErrorAs(t, got.Err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestExistingBoundaries(t *testing.T) {
	c, rec := serve(t, http.StatusOK, `{"Boundary":[{"code":"B1"}]}`)
	got, err := NewBoundaries(c, "").ExistingBoundaries(context.Background(), "mz", []string{"B1", "B2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B1"}, got)
	assert.Equal(t, "B1,B2", rec.query["codes"])
}

func TestWorkflowTransition(t *testing.T) {
	c, rec := serve(t, http.StatusOK, `{"ProcessInstances":[{"businessId":"p-1","state":{"state":"PENDING"}}]}`)
	info := domain.RequestInfo{UserInfo: &domain.UserInfo{UUID: "user-1"}}
	out, err := NewWorkflow(c).Transition(context.Background(), info, []domain.ProcessInstance{{BusinessID: "p-1", Action: "INITIATE"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "PENDING", out[0].State.State)
	assert.Contains(t, rec.body, "ProcessInstances")
}

func TestWorkflowCountMismatch(t *testing.T) {
	c, _ := serve(t, http.StatusOK, `{"ProcessInstances":[]}`)
	_, err := NewWorkflow(c).Transition(context.Background(), domain.RequestInfo{}, []domain.ProcessInstance{{BusinessID: "p-1"}})
	assert.Error(t, err)
}

func TestMDMSProjectTypes(t *testing.T) {
	c, _ := serve(t, http.StatusOK, `{"MdmsRes":{"HCM-PROJECT-TYPES":{"projectTypes":[{"code":"MR-DN"},{"code":"LLIN"}]}}}`)
	got, err := NewMDMS(c).ProjectTypes(context.Background(), "mz")
	require.NoError(t, err)
	assert.Equal(t, []string{"MR-DN", "LLIN"}, got)
}

func TestStaticMDMS(t *testing.T) {
	s, err := ParseStaticMDMS([]byte("mz:\n  projectTypes: [MR-DN, LLIN]\n"))
	require.NoError(t, err)
	got, err := s.ProjectTypes(context.Background(), "mz")
	require.NoError(t, err)
	assert.Equal(t, []string{"MR-DN", "LLIN"}, got)
	none, err := s.ProjectTypes(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = ParseStaticMDMS([]byte("mz: [unterminated"))
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "mdms.yaml")
	require.NoError(t, os.WriteFile(seed, []byte("mz:\n  projectTypes: [MR-DN]\n"), 0o600))

	cfg := &config.Config{
		Hosts: config.ServiceHosts{
			Boundary:     "http://b",
			Facility:     "http://f",
			Product:      "http://p",
			Individual:   "http://i",
			User:         "http://u",
			Project:      "http://pr",
			Plan:         "http://pl",
			MDMSSeedFile: seed,
		},
		Workflow: config.WorkflowOptions{Host: "http://wf"},
	}
	cl, err := FromConfig(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	assert.IsType(t, &StaticMDMS{}, cl.MDMS)
	assert.NotNil(t, cl.Workflow)
	assert.IsType(t, &PlanConfigurations{}, cl.PlanConfig)

	cfg.Hosts.MDMSSeedFile = ""
	cfg.Hosts.MDMS = "not a url"
	_, err = FromConfig(cfg, logrus.NewEntry(logrus.New()))
	assert.Error(t, err)
}
