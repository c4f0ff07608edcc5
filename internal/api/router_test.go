package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"healthcore/docs/schema/openapi"
	"healthcore/internal/blob/object"
	"healthcore/internal/core"
	"healthcore/internal/ingest"
	"healthcore/pkg/domain"
)

type fakeBulk struct {
	err   error
	op    string
	query domain.Query
}

func (f *fakeBulk) result(op string, req *domain.BulkRequest[*domain.Household]) (domain.BulkResult[*domain.Household], error) {
	f.op = op
	if f.err != nil {
		return domain.BulkResult[*domain.Household]{}, f.err
	}
	var res domain.BulkResult[*domain.Household]
	for _, h := range req.Entities {
		if h.ClientReferenceID == "bad" {
			res.Errors = append(res.Errors, domain.ErrorDetails[*domain.Household]{
				Entity: h,
				Errors: []domain.Error{{Code: domain.CodeNonExistentRelatedEntity}},
			})
			continue
		}
		res.Succeeded = append(res.Succeeded, h)
	}
	return res, nil
}

func (f *fakeBulk) Create(_ context.Context, req *domain.BulkRequest[*domain.Household]) (domain.BulkResult[*domain.Household], error) {
	return f.result("create", req)
}

func (f *fakeBulk) Update(_ context.Context, req *domain.BulkRequest[*domain.Household]) (domain.BulkResult[*domain.Household], error) {
	return f.result("update", req)
}

func (f *fakeBulk) Delete(_ context.Context, req *domain.BulkRequest[*domain.Household]) (domain.BulkResult[*domain.Household], error) {
	return f.result("delete", req)
}

func (f *fakeBulk) Search(_ context.Context, q domain.Query) ([]*domain.Household, error) {
	f.query = q
	return []*domain.Household{{Base: domain.Base{ID: "h-1", TenantID: q.TenantID}}}, nil
}

type fakePlans struct{ err error }

func (f *fakePlans) Create(_ context.Context, req *core.PlanRequest) (domain.Plan, error) {
	if f.err != nil {
		return domain.Plan{}, f.err
	}
	p := req.Plan
	p.ID = "p-1"
	return p, nil
}

func (f *fakePlans) Update(_ context.Context, req *core.PlanRequest) (domain.Plan, error) {
	return req.Plan, f.err
}

func (f *fakePlans) BulkUpdate(_ context.Context, req *core.BulkPlanRequest) ([]domain.Plan, error) {
	return req.Plans, f.err
}

type fakeIngest struct {
	uploaded string
	job      ingest.Job
}

func (f *fakeIngest) Upload(_ context.Context, tenantID, name string, r io.Reader) (object.Info, error) {
	b, _ := io.ReadAll(r)
	f.uploaded = string(b)
	return object.Info{Key: "uploads/" + tenantID + "/" + name}, nil
}

func (f *fakeIngest) Run(_ context.Context, job ingest.Job) (ingest.Report, error) {
	f.job = job
	return ingest.Report{JobID: "job-1", SourceKey: job.Key, ResultKey: "results/mz/job-1.xlsx"}, nil
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const householdBody = `{"RequestInfo":{"msgId":"m-1","userInfo":{"uuid":"u-1"}},
	"entities":[{"clientReferenceId":"ok","tenantId":"mz"},{"clientReferenceId":"bad","tenantId":"mz"}]}`

func TestBulkRoutes(t *testing.T) {
	bulk := &fakeBulk{}
	r := NewRouter(Services{Households: bulk}, quietLog())

	for _, op := range []string{"create", "update", "delete"} {
		rec := do(t, r, http.MethodPost, "/household/v1/bulk/_"+op, householdBody)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Equal(t, op, bulk.op)

		var got struct {
			ResponseInfo ResponseInfo `json:"ResponseInfo"`
			Succeeded    []domain.Household
			Errors       []struct {
				Payload domain.Household `json:"payload"`
				Errors  []domain.Error   `json:"errors"`
			} `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "m-1", got.ResponseInfo.MsgID)
		require.Len(t, got.Succeeded, 1)
		assert.Equal(t, "ok", got.Succeeded[0].ClientReferenceID)
		require.Len(t, got.Errors, 1)
		assert.Equal(t, "bad", got.Errors[0].Payload.ClientReferenceID)
		assert.Equal(t, domain.CodeNonExistentRelatedEntity, got.Errors[0].Errors[0].Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		code int
		want string
	}{
		{"custom error", domain.NewCustomError(core.CodeMultipleTenants, "one tenant per request"), householdBody, http.StatusBadRequest, core.CodeMultipleTenants},
		{"internal", errors.New("db down"), householdBody, http.StatusInternalServerError, domain.CodeInternalServerError},
		{"bad json", nil, "{", http.StatusBadRequest, core.CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(Services{Households: &fakeBulk{err: tc.err}}, quietLog())
			rec := do(t, r, http.MethodPost, "/household/v1/bulk/_create", tc.body)
			require.Equal(t, tc.code, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.want, body.Errors[0].Code)
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestSearchRoute(t *testing.T) {
	bulk := &fakeBulk{}
	r := NewRouter(Services{Households: bulk}, quietLog())

	rec := do(t, r, http.MethodPost, "/household/v1/_search?tenantId=mz&limit=5&offset=10&includeDeleted=true&lastChangedSince=99",
		`{"id":["h-1"],"clientReferenceId":["c-1"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.Query{
		TenantID:           "mz",
		IDs:                []string{"h-1"},
		ClientReferenceIDs: []string{"c-1"},
		Limit:              5,
		Offset:             10,
		IncludeDeleted:     true,
		LastChangedSince:   99,
	}, bulk.query)
	assert.Contains(t, rec.Body.String(), `"h-1"`)

	rec = do(t, r, http.MethodPost, "/household/v1/_search?tenantId=mz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, bad := range []string{"limit=-1", "offset=x", "includeDeleted=maybe", "lastChangedSince=yesterday"} {
		rec := do(t, r, http.MethodPost, "/household/v1/_search?tenantId=mz&"+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestPlanRoutes(t *testing.T) {
	r := NewRouter(Services{Plans: &fakePlans{}}, quietLog())
	rec := do(t, r, http.MethodPost, "/plan-service/plan/_create", `{"RequestInfo":{"userInfo":{"uuid":"u"}},"Plan":{"tenantId":"mz"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var got planResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Plan, 1)
	assert.Equal(t, "p-1", got.Plan[0].ID)

	rec = do(t, r, http.MethodPost, "/plan-service/plan/bulk/_update", `{"Plans":[{"id":"a"},{"id":"b"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Plan, 2)

	failing := NewRouter(Services{Plans: &fakePlans{err: domain.NewCustomError(core.CodeInvalidPlanID, "Plan id provided is invalid")}}, quietLog())
	rec = do(t, failing, http.MethodPost, "/plan-service/plan/_update", `{"Plan":{"id":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), core.CodeInvalidPlanID)
}

func TestIngestRoute(t *testing.T) {
	ing := &fakeIngest{}
	r := NewRouter(Services{Ingest: ing}, quietLog())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("RequestInfo", `{"userInfo":{"uuid":"u-1"}}`))
	fw, err := mw.CreateFormFile("file", "book.xlsx")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("workbook"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest/v1/_run?tenantId=mz", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "workbook", ing.uploaded)
	assert.Equal(t, "uploads/mz/book.xlsx", ing.job.Key)
	assert.Equal(t, "u-1", ing.job.RequestInfo.UserID())
	assert.Contains(t, rec.Body.String(), "results/mz/job-1.xlsx")

	rec = do(t, r, http.MethodPost, "/ingest/v1/_run", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthMetricsAndUnmounted(t *testing.T) {
	r := NewRouter(Services{}, quietLog())
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/stock/v1/bulk/_create", "{}").Code)
}

func TestEveryRouteIsDocumented(t *testing.T) {
	var doc struct {
		Paths map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(openapi.Spec(), &doc))

	r := NewRouter(Services{
		Households: &fakeBulk{},
		Plans:      &fakePlans{},
		Ingest:     &fakeIngest{},
	}, quietLog())
	walked := 0
	err := chi.Walk(r, func(_ string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		walked++
		assert.Contains(t, doc.Paths, route, "route %s missing from openapi document", route)
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, walked, 10)

	res := do(t, r, http.MethodGet, "/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/yaml", res.Header().Get("Content-Type"))
}
