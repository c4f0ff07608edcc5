package main

import (
	"context"
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"healthcore/internal/api"
	"healthcore/internal/blob"
	"healthcore/internal/blob/object"
	"healthcore/internal/clients"
	"healthcore/internal/config"
	"healthcore/internal/core"
	"healthcore/internal/ingest"
)

func loadConfig(opts *rootOptions) (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(opts.envFiles...)
	if err != nil {
		return nil, nil, withCode(exitConfig, err)
	}
	logger := cfg.Logger()
	core.SetDefaultLogger(logger)
	return cfg, logrus.NewEntry(logger).WithField("component", "healthcore"), nil
}

// application holds every wired service for one process.
type application struct {
	cfg      *config.Config
	log      *logrus.Entry
	stores   *core.OpenedStores
	blobs    object.Store
	importer *ingest.Importer
	services api.Services
	trace    io.Closer
}

func newApplication(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*application, error) {
	stores, err := core.OpenStores(ctx, cfg.Storage, cfg.Cache, log)
	if err != nil {
		return nil, withCode(exitStorage, errors.Wrap(err, "open stores"))
	}
	ext, err := clients.FromConfig(cfg, log)
	if err != nil {
		_ = stores.Close()
		return nil, withCode(exitConfig, errors.Wrap(err, "build clients"))
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = stores.Close()
		return nil, withCode(exitConfig, errors.Wrap(err, "open blob store"))
	}

	tracer, traceFile, err := openTracer(cfg.TraceFile)
	if err != nil {
		_ = stores.Close()
		return nil, withCode(exitConfig, err)
	}

	opts := []core.BulkOption{
		core.WithMetrics(core.MultiRecorder{
			core.NewPrometheusRecorder(),
			core.NewExpvarMetricsRecorder(""),
		}),
		core.WithTracer(tracer),
	}
	t := cfg.Topics
	stock := core.NewStockService(stores.Stores, ext,
		core.Topics{Create: t.StockCreate, Update: t.StockUpdate, Delete: t.StockDelete}, opts...)
	households := core.NewHouseholdService(stores.Stores, ext,
		core.Topics{Create: t.HouseholdCreate, Update: t.HouseholdUpdate, Delete: t.HouseholdDelete}, opts...)
	members := core.NewHouseholdMemberService(stores.Stores, ext,
		core.Topics{Create: t.HouseholdMemberCreate, Update: t.HouseholdMemberUpdate, Delete: t.HouseholdMemberDelete}, opts...)
	projects := core.NewProjectService(stores.Stores, ext,
		core.Topics{Create: t.ProjectCreate, Update: t.ProjectUpdate, Delete: t.ProjectDelete}, opts...)

	wf := cfg.Workflow
	plans := core.NewPlanService(stores.Stores, ext, core.PlanServiceConfig{
		Actions: core.WorkflowActions{
			Initiate:      wf.InitiateActions,
			Intermediate:  wf.IntermediateActions,
			SendBack:      wf.SendBackActions,
			ApproverRoles: wf.ApproverRoles,
		},
		Process: core.ProcessSettings{BusinessService: wf.BusinessService, ModuleName: wf.ModuleName},
		Topics:  core.PlanTopics{Create: t.PlanCreate, Update: t.PlanUpdate},
		Tracer:  tracer,
	})

	importer := ingest.New(blobs, households, stock, log.WithField("component", "ingest"))
	return &application{
		cfg:      cfg,
		log:      log,
		stores:   stores,
		blobs:    blobs,
		importer: importer,
		trace:    traceFile,
		services: api.Services{
			Stock:            stock,
			Households:       households,
			HouseholdMembers: members,
			Projects:         projects,
			Plans:            plans,
			Ingest:           importer,
			Blobs:            blobs,
		},
	}, nil
}

// openTracer appends spans to path. An empty path yields a nil tracer.
func openTracer(path string) (core.Tracer, io.Closer, error) {
	if path == "" {
		return nil, nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open trace file")
	}
	return core.NewJSONTracer(f), f, nil
}

func (a *application) Close() error {
	err := a.stores.Close()
	if a.trace != nil {
		if cerr := a.trace.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close trace file")
		}
	}
	return err
}
