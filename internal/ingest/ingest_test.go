package ingest

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"healthcore/internal/blob"
	"healthcore/internal/blob/object"
	"healthcore/internal/config"
	"healthcore/pkg/domain"
)

// fakeCreator fails every entity whose client reference id starts with "bad".
type fakeCreator[E domain.Entity] struct {
	err  error
	seen []E
}

func (f *fakeCreator[E]) Create(_ context.Context, req *domain.BulkRequest[E]) (domain.BulkResult[E], error) {
	if f.err != nil {
		return domain.BulkResult[E]{}, f.err
	}
	f.seen = append(f.seen, req.Entities...)
	var res domain.BulkResult[E]
	for _, e := range req.Entities {
		if strings.HasPrefix(e.Header().ClientReferenceID, "bad") {
			res.Errors = append(res.Errors, domain.ErrorDetails[E]{
				Entity: e,
				Errors: []domain.Error{{Code: domain.CodeNonExistentRelatedEntity}},
			})
			continue
		}
		res.Succeeded = append(res.Succeeded, e)
	}
	return res, nil
}

func workbook(t *testing.T, sheets map[string][][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defaultSheet := f.GetSheetName(0)
	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	require.NoError(t, f.DeleteSheet(defaultSheet))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

type fixture struct {
	store      object.Store
	households *fakeCreator[*domain.Household]
	stock      *fakeCreator[*domain.Stock]
	importer   *Importer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := blob.Open(context.Background(), config.BlobOptions{Driver: "memory"})
	require.NoError(t, err)
	fx := &fixture{
		store:      store,
		households: &fakeCreator[*domain.Household]{},
		stock:      &fakeCreator[*domain.Stock]{},
	}
	fx.importer = New(store, fx.households, fx.stock, nil)
	ids := 0
	fx.importer.newID = func() string {
		ids++
		return "job-" + strconv.Itoa(ids)
	}
	fx.importer.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return fx
}

func job(key string) Job {
	return Job{Key: key, TenantID: "mz", RequestInfo: domain.RequestInfo{UserInfo: &domain.UserInfo{UUID: "user-1"}}}
}

func readResult(t *testing.T, store object.Store, key, sheet string) [][]string {
	t.Helper()
	_, rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	f, err := excelize.OpenReader(rc)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestRunIngestsBothSheets(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	book := workbook(t, map[string][][]any{
		SheetHouseholds: {
			{"clientReferenceId", "memberCount", "localityCode"},
			{"hh-1", 3, "B1"},
			{"bad-hh", 2, "B9"},
			{"", 1, ""},
			{},
			{"hh-2", "two", ""},
		},
		SheetStock: {
			{"clientReferenceId", "productVariantId", "quantity", "transactionType", "senderType", "dateOfEntry"},
			{"st-1", "pv1", "100", "received", "warehouse", "2026-02-01"},
			{"st-2", "pv1", "1.5", "DISPATCHED", "", ""},
		},
	})
	info, err := fx.importer.Upload(ctx, "mz", "drop/book.xlsx", book)
	require.NoError(t, err)
	assert.Equal(t, "uploads/mz/job-1-book.xlsx", info.Key)

	report, err := fx.importer.Run(ctx, job(info.Key))
	require.NoError(t, err)
	assert.Equal(t, "job-2", report.JobID)
	assert.Equal(t, "results/mz/job-2.xlsx", report.ResultKey)
	assert.Equal(t, []SheetReport{
		{Name: SheetHouseholds, Rows: 4, Created: 1, Failed: 1, Invalid: 2},
		{Name: SheetStock, Rows: 2, Created: 1, Invalid: 1},
	}, report.Sheets)

	require.Len(t, fx.households.seen, 2)
	hh := fx.households.seen[0]
	assert.Equal(t, "mz", hh.TenantID)
	assert.Equal(t, 3, hh.MemberCount)
	require.NotNil(t, hh.Address)
	assert.Equal(t, "B1", hh.Address.LocalityCode)

	require.Len(t, fx.stock.seen, 1)
	st := fx.stock.seen[0]
	assert.Equal(t, domain.TransactionReceived, st.TransactionType)
	assert.Equal(t, domain.PartyWarehouse, st.SenderType)
	assert.Equal(t, int64(100), st.Quantity)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), st.DateOfEntry)

	rows := readResult(t, fx.store, report.ResultKey, SheetHouseholds)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"clientReferenceId", "memberCount", "localityCode", "status", "errors"}, rows[0])
	assert.Equal(t, StatusCreated, rows[1][3])
	assert.Equal(t, []string{"bad-hh", "2", "B9", StatusFailed, domain.CodeNonExistentRelatedEntity}, rows[2])
	assert.Equal(t, StatusInvalid, rows[3][3])
	assert.Contains(t, rows[4][4], "memberCount")

	head, err := fx.store.Head(ctx, report.ResultKey)
	require.NoError(t, err)
	assert.Equal(t, info.Key, head.Metadata["source"])
}

func TestRunRejectsBadWorkbooks(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	put := func(name string, sheets map[string][][]any) string {
		info, err := fx.importer.Upload(ctx, "mz", name, workbook(t, sheets))
		require.NoError(t, err)
		return info.Key
	}
	cases := map[string]string{
		"no known sheet": put("a.xlsx", map[string][][]any{"Other": {{"x"}}}),
		"missing column": put("b.xlsx", map[string][][]any{SheetStock: {{"clientReferenceId", "quantity"}}}),
		"unknown column": put("c.xlsx", map[string][][]any{SheetHouseholds: {{"clientReferenceId", "colour"}}}),
		"missing blob":   "uploads/mz/nope.xlsx",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fx.importer.Run(ctx, job(key))
			assert.Error(t, err)
		})
	}

	_, err := fx.importer.Run(ctx, Job{Key: "k"})
	assert.Error(t, err, "tenant required")
}

func TestRunSurfacesBulkFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.households.err = &domain.CustomError{Code: "INVALID_REQUEST", Message: "boom"}
	info, err := fx.importer.Upload(ctx, "mz", "book.xlsx", workbook(t, map[string][][]any{
		SheetHouseholds: {{"clientReferenceId"}, {"hh-1"}},
	}))
	require.NoError(t, err)

	_, err = fx.importer.Run(ctx, job(info.Key))
	var ce *domain.CustomError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "INVALID_REQUEST", ce.Code)

	results, err := fx.store.List(ctx, "results/")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestWholeNumber(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"", 0, true},
		{"12", 12, true},
		{"12.0", 12, true},
		{"1.2E1", 12, true},
		{"1.5", 0, false},
		{"-3", 0, false},
		{"x", 0, false},
		{"9223372036854775807", 9223372036854775807, true},
		{"9223372036854775808", 0, false},
		{"18446744073709551716", 0, false},
	}
	for _, tc := range cases {
		got, err := wholeNumber("quantity", tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestOutOfRangeQuantityFailsOnlyItsRow(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	book := workbook(t, map[string][][]any{
		SheetStock: {
			{"clientReferenceId", "productVariantId", "quantity", "transactionType"},
			{"st-1", "pv1", "18446744073709551716", "RECEIVED"},
			{"st-2", "pv1", "9223372036854775808", "RECEIVED"},
			{"st-3", "pv1", "40", "RECEIVED"},
		},
	})
	info, err := fx.importer.Upload(ctx, "mz", "book.xlsx", book)
	require.NoError(t, err)

	report, err := fx.importer.Run(ctx, job(info.Key))
	require.NoError(t, err)
	assert.Equal(t, []SheetReport{{Name: SheetStock, Rows: 3, Created: 1, Invalid: 2}}, report.Sheets)
	require.Len(t, fx.stock.seen, 1)
	assert.Equal(t, int64(40), fx.stock.seen[0].Quantity)

	rows := readResult(t, fx.store, report.ResultKey, SheetStock)
	require.Len(t, rows, 4)
	assert.Equal(t, StatusInvalid, rows[1][4])
	assert.Contains(t, rows[1][5], "out of range")
	assert.Equal(t, StatusInvalid, rows[2][4])
}
