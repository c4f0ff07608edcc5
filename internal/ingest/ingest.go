// Package ingest loads households and stock movements from Excel workbooks
// held in the blob store, submits them through the bulk services and writes
// a result workbook recording the outcome of every row.
package ingest

import (
	"bytes"
	"context"
	"io"
	"path"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"healthcore/internal/blob/object"
	"healthcore/pkg/domain"
)

// Sheet names read from an uploaded workbook.
const (
	SheetHouseholds = "Households"
	SheetStock      = "Stock"
)

const workbookContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Creator is the bulk create half of a bulk service.
type Creator[E domain.Entity] interface {
	Create(ctx context.Context, req *domain.BulkRequest[E]) (domain.BulkResult[E], error)
}

// Job names an uploaded workbook and the caller it is ingested for.
type Job struct {
	Key         string
	TenantID    string
	RequestInfo domain.RequestInfo
}

// Report summarises one ingestion run.
type Report struct {
	JobID     string        `json:"jobId"`
	SourceKey string        `json:"sourceKey"`
	ResultKey string        `json:"resultKey"`
	Sheets    []SheetReport `json:"sheets"`
}

// SheetReport counts row outcomes for one sheet.
type SheetReport struct {
	Name    string `json:"name"`
	Rows    int    `json:"rows"`
	Created int    `json:"created"`
	Failed  int    `json:"failed"`
	Invalid int    `json:"invalid"`
}

// Importer runs ingestion jobs.
type Importer struct {
	store      object.Store
	households Creator[*domain.Household]
	stock      Creator[*domain.Stock]
	log        *logrus.Entry
	newID      func() string
	now        func() time.Time
}

// New returns an importer writing results to store.
func New(store object.Store, households Creator[*domain.Household], stock Creator[*domain.Stock], log *logrus.Entry) *Importer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Importer{
		store:      store,
		households: households,
		stock:      stock,
		log:        log.WithField("component", "ingest"),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Upload stores a workbook under uploads/<tenant>/ and returns its info.
func (im *Importer) Upload(ctx context.Context, tenantID, name string, r io.Reader) (object.Info, error) {
	if tenantID == "" {
		return object.Info{}, errors.New("tenant id required")
	}
	key := path.Join("uploads", tenantID, im.newID()+"-"+path.Base(name))
	info, err := im.store.Put(ctx, key, r, object.PutOptions{
		ContentType: workbookContentType,
		Metadata:    map[string]string{"tenant": tenantID, "filename": path.Base(name)},
	})
	if err != nil {
		return object.Info{}, errors.Wrap(err, "store upload")
	}
	return info, nil
}

// Run ingests the workbook at job.Key. Row-level problems end up in the
// result workbook; an error means the job itself could not run.
func (im *Importer) Run(ctx context.Context, job Job) (Report, error) {
	if job.TenantID == "" {
		return Report{}, errors.New("tenant id required")
	}
	report := Report{JobID: im.newID(), SourceKey: job.Key}
	log := im.log.WithFields(logrus.Fields{"job": report.JobID, "source": job.Key, "tenant": job.TenantID})

	sheets, err := im.readSheets(ctx, job.Key)
	if err != nil {
		return Report{}, err
	}
	hhRows, hasHouseholds := sheets[SheetHouseholds]
	stRows, hasStock := sheets[SheetStock]
	if !hasHouseholds && !hasStock {
		return Report{}, errors.Errorf("workbook %s has neither %s nor %s sheet", job.Key, SheetHouseholds, SheetStock)
	}

	var hhOut, stOut *sheetOutcome
	g, gctx := errgroup.WithContext(ctx)
	if hasHouseholds {
		g.Go(func() (err error) {
			hhOut, err = processSheet(gctx, householdSheet, hhRows, im.households, job)
			return err
		})
	}
	if hasStock {
		g.Go(func() (err error) {
			stOut, err = processSheet(gctx, stockSheet, stRows, im.stock, job)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("ingest failed")
		return Report{}, err
	}

	var outcomes []*sheetOutcome
	for _, o := range []*sheetOutcome{hhOut, stOut} {
		if o != nil {
			outcomes = append(outcomes, o)
			report.Sheets = append(report.Sheets, o.report())
		}
	}

	buf, err := resultWorkbook(outcomes)
	if err != nil {
		return Report{}, err
	}
	report.ResultKey = path.Join("results", job.TenantID, report.JobID+".xlsx")
	if _, err := im.store.Put(ctx, report.ResultKey, bytes.NewReader(buf), object.PutOptions{
		ContentType: workbookContentType,
		Metadata: map[string]string{
			"source":     job.Key,
			"tenant":     job.TenantID,
			"ingestedAt": im.now().UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return Report{}, errors.Wrap(err, "store result workbook")
	}
	log.WithField("result", report.ResultKey).Info("ingest finished")
	return report, nil
}

// readSheets returns the rows of the recognised sheets present in the workbook.
func (im *Importer) readSheets(ctx context.Context, key string) (map[string][][]string, error) {
	_, rc, err := im.store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "fetch workbook")
	}
	defer func() { _ = rc.Close() }()

	f, err := excelize.OpenReader(rc)
	if err != nil {
		return nil, errors.Wrap(err, "open workbook")
	}
	defer func() { _ = f.Close() }()

	out := map[string][][]string{}
	for _, name := range []string{SheetHouseholds, SheetStock} {
		idx, err := f.GetSheetIndex(name)
		if err != nil {
			return nil, errors.Wrapf(err, "sheet %s", name)
		}
		if idx < 0 {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, errors.Wrapf(err, "read sheet %s", name)
		}
		out[name] = rows
	}
	return out, nil
}
