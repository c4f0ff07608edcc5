package ingest

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"
)

// resultWorkbook renders one sheet per outcome: the original header and
// cells followed by status and errors columns.
func resultWorkbook(outcomes []*sheetOutcome) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	first := f.GetSheetName(0)
	for i, o := range outcomes {
		if i == 0 {
			if err := f.SetSheetName(first, o.name); err != nil {
				return nil, errors.Wrap(err, "name result sheet")
			}
		} else if _, err := f.NewSheet(o.name); err != nil {
			return nil, errors.Wrap(err, "add result sheet")
		}
		if err := writeOutcome(f, o); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "render result workbook")
	}
	return buf.Bytes(), nil
}

func writeOutcome(f *excelize.File, o *sheetOutcome) error {
	width := len(o.header)
	header := make([]any, 0, width+2)
	for _, h := range o.header {
		header = append(header, h)
	}
	header = append(header, "status", "errors")
	if err := f.SetSheetRow(o.name, "A1", &header); err != nil {
		return errors.Wrapf(err, "write %s header", o.name)
	}
	for i, row := range o.rows {
		cells := make([]any, width+2)
		for c := 0; c < width && c < len(row.cells); c++ {
			cells[c] = row.cells[c]
		}
		cells[width] = row.status
		cells[width+1] = strings.Join(row.errors, "; ")
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		if err := f.SetSheetRow(o.name, cell, &cells); err != nil {
			return errors.Wrapf(err, "write %s row %d", o.name, row.line)
		}
	}
	return nil
}
