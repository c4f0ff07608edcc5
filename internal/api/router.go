// Package api exposes the bulk, plan and ingestion services over HTTP.
package api

import (
	"context"
	"expvar"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"healthcore/docs/schema/openapi"
	"healthcore/internal/blob/object"
	"healthcore/internal/core"
	"healthcore/internal/ingest"
	"healthcore/pkg/domain"
)

// BulkAPI is the surface of a bulk service the handlers use.
type BulkAPI[E domain.Entity] interface {
	Create(ctx context.Context, req *domain.BulkRequest[E]) (domain.BulkResult[E], error)
	Update(ctx context.Context, req *domain.BulkRequest[E]) (domain.BulkResult[E], error)
	Delete(ctx context.Context, req *domain.BulkRequest[E]) (domain.BulkResult[E], error)
	Search(ctx context.Context, q domain.Query) ([]E, error)
}

// PlanAPI is the surface of the plan service.
type PlanAPI interface {
	Create(ctx context.Context, req *core.PlanRequest) (domain.Plan, error)
	Update(ctx context.Context, req *core.PlanRequest) (domain.Plan, error)
	BulkUpdate(ctx context.Context, req *core.BulkPlanRequest) ([]domain.Plan, error)
}

// Ingester uploads and runs workbook ingestion.
type Ingester interface {
	Upload(ctx context.Context, tenantID, name string, r io.Reader) (object.Info, error)
	Run(ctx context.Context, job ingest.Job) (ingest.Report, error)
}

var (
	_ BulkAPI[*domain.Stock] = (*core.BulkService[*domain.Stock])(nil)
	_ PlanAPI                = (*core.PlanService)(nil)
	_ Ingester               = (*ingest.Importer)(nil)
)

// Services are the handlers' dependencies. Nil services leave their routes
// unmounted.
type Services struct {
	Stock            BulkAPI[*domain.Stock]
	Households       BulkAPI[*domain.Household]
	HouseholdMembers BulkAPI[*domain.HouseholdMember]
	Projects         BulkAPI[*domain.Project]
	Plans            PlanAPI
	Ingest           Ingester
	// Blobs presigns result workbook links; optional.
	Blobs object.Store
}

// NewRouter mounts every configured service plus the health, metrics,
// expvar and OpenAPI routes.
func NewRouter(svc Services, log *logrus.Entry) chi.Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/debug/vars", expvar.Handler())
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapi.Spec())
	})

	mountBulk(r, "/stock/v1", svc.Stock, log)
	mountBulk(r, "/household/v1", svc.Households, log)
	mountBulk(r, "/household/member/v1", svc.HouseholdMembers, log)
	mountBulk(r, "/project/v1", svc.Projects, log)

	if svc.Plans != nil {
		r.Route("/plan-service/plan", func(r chi.Router) {
			r.Post("/_create", createPlanHandler(svc.Plans, log))
			r.Post("/_update", updatePlanHandler(svc.Plans, log))
			r.Post("/bulk/_update", bulkUpdatePlanHandler(svc.Plans, log))
		})
	}
	if svc.Ingest != nil {
		r.Post("/ingest/v1/_run", ingestHandler(svc.Ingest, svc.Blobs, log))
	}
	return r
}

func mountBulk[E domain.Entity](r chi.Router, prefix string, svc BulkAPI[E], log *logrus.Entry) {
	if svc == nil {
		return
	}
	r.Route(prefix, func(r chi.Router) {
		r.Post("/bulk/_create", bulkHandler(svc.Create, log))
		r.Post("/bulk/_update", bulkHandler(svc.Update, log))
		r.Post("/bulk/_delete", bulkHandler(svc.Delete, log))
		r.Post("/_search", searchHandler(svc, log))
	})
}

func requestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(started).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
