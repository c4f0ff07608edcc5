package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"healthcore/internal/blob/object"
	"healthcore/internal/core"
	"healthcore/internal/ingest"
	"healthcore/pkg/domain"
)

// ResponseInfo echoes the request header on every success response.
type ResponseInfo struct {
	APIID  string `json:"apiId,omitempty"`
	MsgID  string `json:"msgId,omitempty"`
	Status string `json:"status"`
}

func responseInfo(info domain.RequestInfo) ResponseInfo {
	return ResponseInfo{APIID: info.APIID, MsgID: info.MsgID, Status: "successful"}
}

type bulkResponse[E domain.Entity] struct {
	ResponseInfo ResponseInfo `json:"ResponseInfo"`
	domain.BulkResult[E]
}

func bulkHandler[E domain.Entity](op func(context.Context, *domain.BulkRequest[E]) (domain.BulkResult[E], error), log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.BulkRequest[E]
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid request body: "+err.Error())
			return
		}
		res, err := op(r.Context(), &req)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusAccepted, bulkResponse[E]{ResponseInfo: responseInfo(req.RequestInfo), BulkResult: res})
	}
}

type searchRequest struct {
	RequestInfo        domain.RequestInfo `json:"RequestInfo"`
	IDs                []string           `json:"id,omitempty"`
	ClientReferenceIDs []string           `json:"clientReferenceId,omitempty"`
}

type searchResponse[E domain.Entity] struct {
	ResponseInfo ResponseInfo `json:"ResponseInfo"`
	Entities     []E          `json:"entities"`
}

// searchQuery reads tenantId, limit, offset, includeDeleted and
// lastChangedSince from the query string.
func searchQuery(r *http.Request, body searchRequest) (domain.Query, error) {
	v := r.URL.Query()
	q := domain.Query{
		TenantID:           v.Get("tenantId"),
		IDs:                body.IDs,
		ClientReferenceIDs: body.ClientReferenceIDs,
	}
	ints := []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}}
	for _, p := range ints {
		if s := v.Get(p.name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return q, errors.Errorf("%s must be a non-negative integer", p.name)
			}
			*p.dst = n
		}
	}
	if s := v.Get("lastChangedSince"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, errors.New("lastChangedSince must be epoch millis")
		}
		q.LastChangedSince = n
	}
	if s := v.Get("includeDeleted"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, errors.New("includeDeleted must be a boolean")
		}
		q.IncludeDeleted = b
	}
	return q, nil
}

func searchHandler[E domain.Entity](svc BulkAPI[E], log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body searchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid request body: "+err.Error())
			return
		}
		q, err := searchQuery(r, body)
		if err != nil {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, err.Error())
			return
		}
		found, err := svc.Search(r.Context(), q)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		if found == nil {
			found = []E{}
		}
		writeJSON(w, http.StatusOK, searchResponse[E]{ResponseInfo: responseInfo(body.RequestInfo), Entities: found})
	}
}

type planResponse struct {
	ResponseInfo ResponseInfo  `json:"ResponseInfo"`
	Plan         []domain.Plan `json:"Plan"`
}

func planHandler(op func(context.Context, *core.PlanRequest) (domain.Plan, error), log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req core.PlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid request body: "+err.Error())
			return
		}
		plan, err := op(r.Context(), &req)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusAccepted, planResponse{ResponseInfo: responseInfo(req.RequestInfo), Plan: []domain.Plan{plan}})
	}
}

func createPlanHandler(svc PlanAPI, log *logrus.Entry) http.HandlerFunc {
	return planHandler(svc.Create, log)
}

func updatePlanHandler(svc PlanAPI, log *logrus.Entry) http.HandlerFunc {
	return planHandler(svc.Update, log)
}

func bulkUpdatePlanHandler(svc PlanAPI, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req core.BulkPlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid request body: "+err.Error())
			return
		}
		plans, err := svc.BulkUpdate(r.Context(), &req)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusAccepted, planResponse{ResponseInfo: responseInfo(req.RequestInfo), Plan: plans})
	}
}

const maxUploadBytes = 32 << 20

type ingestResponse struct {
	ingest.Report
	ResultURL string `json:"resultUrl,omitempty"`
}

// ingestHandler accepts a multipart form with a "file" workbook and a
// "RequestInfo" JSON field, stores the upload and runs it.
func ingestHandler(svc Ingester, blobs object.Store, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenantId")
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "tenantId is required")
			return
		}
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid multipart form: "+err.Error())
			return
		}
		var info domain.RequestInfo
		if err := json.Unmarshal([]byte(r.FormValue("RequestInfo")), &info); err != nil || info.UserID() == "" {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "RequestInfo with userInfo is required")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "file is required")
			return
		}
		defer func() { _ = file.Close() }()

		uploaded, err := svc.Upload(r.Context(), tenantID, header.Filename, file)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		report, err := svc.Run(r.Context(), ingest.Job{Key: uploaded.Key, TenantID: tenantID, RequestInfo: info})
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		resp := ingestResponse{Report: report}
		if blobs != nil {
			u, err := blobs.PresignURL(r.Context(), report.ResultKey, object.SignedURLOptions{Expiry: time.Hour})
			if err == nil {
				resp.ResultURL = u
			} else if !errors.Is(err, object.ErrUnsupported) {
				log.WithError(err).Warn("presign result workbook")
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
