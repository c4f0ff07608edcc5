package ingest

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"healthcore/pkg/domain"
)

// Row statuses written to the result workbook.
const (
	StatusCreated = "CREATED"
	StatusFailed  = "FAILED"
	StatusInvalid = "INVALID"
)

type sheetSpec[E domain.Entity] struct {
	name     string
	required []string
	optional []string
	parse    func(tenantID string, row map[string]string) (E, error)
}

func (s sheetSpec[E]) checkHeader(header []string) error {
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		seen[h] = struct{}{}
	}
	for _, col := range s.required {
		if _, ok := seen[col]; !ok {
			return errors.Errorf("sheet %s: missing required column %s", s.name, col)
		}
	}
	allowed := make(map[string]struct{}, len(s.required)+len(s.optional))
	for _, col := range append(append([]string(nil), s.required...), s.optional...) {
		allowed[col] = struct{}{}
	}
	for _, h := range header {
		if _, ok := allowed[h]; !ok && h != "" {
			return errors.Errorf("sheet %s: unexpected column %s", s.name, h)
		}
	}
	return nil
}

type rowOutcome struct {
	line   int
	cells  []string
	status string
	errors []string
}

type sheetOutcome struct {
	name   string
	header []string
	rows   []rowOutcome
}

func (o *sheetOutcome) report() SheetReport {
	r := SheetReport{Name: o.name, Rows: len(o.rows)}
	for _, row := range o.rows {
		switch row.status {
		case StatusCreated:
			r.Created++
		case StatusFailed:
			r.Failed++
		case StatusInvalid:
			r.Invalid++
		}
	}
	return r
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// processSheet parses the data rows of one sheet, submits the parsable ones
// as a single bulk create and records each row's outcome.
func processSheet[E domain.Entity](ctx context.Context, spec sheetSpec[E], rows [][]string, creator Creator[E], job Job) (*sheetOutcome, error) {
	if len(rows) == 0 {
		return nil, errors.Errorf("sheet %s: missing header row", spec.name)
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	if err := spec.checkHeader(header); err != nil {
		return nil, err
	}

	out := &sheetOutcome{name: spec.name, header: header}
	var entities []E
	rowOf := map[E]int{}
	for i, cells := range rows[1:] {
		if blank(cells) {
			continue
		}
		values := make(map[string]string, len(header))
		for c, col := range header {
			if c < len(cells) && col != "" {
				values[col] = strings.TrimSpace(cells[c])
			}
		}
		ro := rowOutcome{line: i + 2, cells: cells}
		e, err := spec.parse(job.TenantID, values)
		if err != nil {
			ro.status = StatusInvalid
			ro.errors = []string{err.Error()}
		} else {
			rowOf[e] = len(out.rows)
			entities = append(entities, e)
		}
		out.rows = append(out.rows, ro)
	}
	if len(entities) == 0 {
		return out, nil
	}

	res, err := creator.Create(ctx, &domain.BulkRequest[E]{
		RequestInfo:  job.RequestInfo,
		Entities:     entities,
		APIOperation: domain.OperationCreate,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "sheet %s: bulk create", spec.name)
	}
	for _, e := range res.Succeeded {
		out.rows[rowOf[e]].status = StatusCreated
	}
	for _, d := range res.Errors {
		ro := &out.rows[rowOf[d.Entity]]
		ro.status = StatusFailed
		for _, ve := range d.Errors {
			ro.errors = append(ro.errors, ve.Code)
		}
	}
	return out, nil
}
