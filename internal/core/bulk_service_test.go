package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"healthcore/pkg/domain"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func householdService(stores Stores, opts ...BulkOption) *BulkService[*domain.Household] {
	opts = append([]BulkOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewHouseholdService(stores, newFakeClients().clients(), testTopics, opts...)
}

func seedHousehold(t *testing.T, stores Stores, id string, rowVersion int) {
	t.Helper()
	h := &domain.Household{Base: base(id, id+"-c")}
	h.RowVersion = rowVersion
	if err := stores.Households.Save(context.Background(), []*domain.Household{h}, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestBulkCreateEnrichesAndPublishes(t *testing.T) {
	m, stores := newStores()
	svc := householdService(stores, WithIDGenerator(func() string { return "h-1" }))

	h := &domain.Household{Base: base("", "c-1"), MemberCount: 2}
	h.HasErrors = true
	res, err := svc.Create(context.Background(), bulk(h))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Succeeded) != 1 || res.Partial() {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := domain.Base{
		ID:                "h-1",
		ClientReferenceID: "c-1",
		TenantID:          tenant,
		RowVersion:        1,
		AuditDetails: &domain.AuditDetails{
			CreatedBy:        "user-1",
			CreatedTime:      fixedNow.UnixMilli(),
			LastModifiedBy:   "user-1",
			LastModifiedTime: fixedNow.UnixMilli(),
		},
	}
	if diff := cmp.Diff(want, h.Base); diff != "" {
		t.Fatalf("unexpected header (-want +got):\n%s", diff)
	}
	published := m.Published()
	if len(published) != 1 || published[0].Topic != testTopics.Create || published[0].Key != "h-1" {
		t.Fatalf("unexpected publications: %+v", published)
	}
}

func TestBulkUpdateGenericStages(t *testing.T) {
	_, stores := newStores()
	seedHousehold(t, stores, "h-1", 1)
	seedHousehold(t, stores, "h-2", 1)
	svc := householdService(stores)

	stale := &domain.Household{Base: base("h-1", "h-1-c")}
	stale.RowVersion = 3
	deleted := &domain.Household{Base: base("h-2", "deleted")}
	deleted.IsDeleted = true
	first := &domain.Household{Base: base("h-2", "")}
	first.RowVersion = 1
	dup := &domain.Household{Base: base("h-2", "")}
	dup.RowVersion = 1
	missing := &domain.Household{Base: base("h-9", "missing")}
	noID := &domain.Household{Base: base("", "no-id")}

	res, err := svc.Update(context.Background(), bulk(stale, deleted, first, dup, missing, noID))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got := map[*domain.Household][]string{}
	for _, d := range res.Errors {
		for _, e := range d.Errors {
			got[d.Entity] = append(got[d.Entity], e.Code)
		}
	}
	want := map[*domain.Household][]string{
		stale:   {domain.CodeRowVersionMismatch},
		deleted: {domain.CodeIsDeleted},
		dup:     {domain.CodeUniqueEntity},
		missing: {domain.CodeNonExistentEntity},
		noID:    {domain.CodeNullID},
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected failures: %v", got)
	}
	for e, codes := range want {
		if diff := cmp.Diff(codes, got[e]); diff != "" {
			t.Fatalf("entity %s (-want +got):\n%s", e.ClientReferenceID, diff)
		}
	}
	if len(res.Succeeded) != 1 || res.Succeeded[0] != first || first.RowVersion != 2 {
		t.Fatalf("expected only the first h-2 to pass with version 2, got %+v", res.Succeeded)
	}
}

func TestStoredStagesKeyEachEntity(t *testing.T) {
	ctx := context.Background()
	m, stores := newStores()
	seedHousehold(t, stores, "h-1", 1)
	seedHousehold(t, stores, "h-2", 2)
	gone := &domain.Household{Base: base("h-3", "h-3-c")}
	gone.IsDeleted = true
	if err := m.Households.Save(ctx, []*domain.Household{gone}, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	byCrid := &domain.Household{Base: base("", "h-1-c")}
	byCrid.RowVersion = 1
	byID := &domain.Household{Base: base("h-2", "")}
	byID.RowVersion = 5
	unknown := &domain.Household{Base: base("h-9", "")}
	deleted := &domain.Household{Base: base("", "h-3-c")}

	type repo = domain.Repository[*domain.Household]
	cases := []struct {
		name  string
		stage func(repo) domain.Validator[*domain.Household]
		want  map[string][]string
	}{
		{"non existent", func(r repo) domain.Validator[*domain.Household] { return NewNonExistentValidator(r) }, map[string][]string{
			"h-9":   {domain.CodeNonExistentEntity},
			"h-3-c": {domain.CodeNonExistentEntity},
		}},
		{"row version", func(r repo) domain.Validator[*domain.Household] { return NewRowVersionValidator(r) }, map[string][]string{
			"h-2": {domain.CodeRowVersionMismatch},
		}},
		{"is deleted", func(r repo) domain.Validator[*domain.Household] { return NewIsDeletedValidator(r) }, map[string][]string{
			"h-3-c": {domain.CodeIsDeleted},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			counting := &failingRepo[*domain.Household]{Repository: m.Households}
			errs := tc.stage(counting).Validate(ctx, domain.NewBatch(bulk(byCrid, byID, unknown, deleted)))
			got := map[string][]string{}
			for _, e := range errs.Entities() {
				key := e.ID
				if key == "" {
					key = e.ClientReferenceID
				}
				got[key] = errs.Codes(e)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("unexpected errors (-want +got):\n%s", diff)
			}
			if counting.reads != 2 {
				t.Fatalf("expected one read per key column, got %d", counting.reads)
			}
		})
	}
}

// cachedView answers reads from a stale copy and exposes the backing store.
type cachedView struct {
	domain.Repository[*domain.Household]
	backing domain.Repository[*domain.Household]
}

func (c cachedView) Uncached() domain.Repository[*domain.Household] { return c.backing }

func TestRowVersionReadsBehindCache(t *testing.T) {
	ctx := context.Background()
	_, stale := newStores()
	_, fresh := newStores()
	seedHousehold(t, stale, "h-1", 1)
	seedHousehold(t, fresh, "h-1", 2)
	v := NewRowVersionValidator[*domain.Household](cachedView{Repository: stale.Households, backing: fresh.Households})

	current := &domain.Household{Base: base("h-1", "")}
	current.RowVersion = 2
	outdated := &domain.Household{Base: base("h-1", "")}
	outdated.RowVersion = 1

	if errs := v.Validate(ctx, domain.NewBatch(bulk(current))); errs.Len() != 0 {
		t.Fatalf("current version rejected: %v", errs.Codes(current))
	}
	errs := v.Validate(ctx, domain.NewBatch(bulk(outdated)))
	if diff := cmp.Diff([]string{domain.CodeRowVersionMismatch}, errs.Codes(outdated)); diff != "" {
		t.Fatalf("unexpected codes (-want +got):\n%s", diff)
	}
}

func TestBulkUpdateRowVersionMismatch(t *testing.T) {
	_, stores := newStores()
	seedHousehold(t, stores, "h-1", 1)
	svc := householdService(stores)

	h := &domain.Household{Base: base("h-1", "")}
	h.RowVersion = 4
	res, err := svc.Update(context.Background(), bulk(h))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Errors[0].Code != domain.CodeRowVersionMismatch {
		t.Fatalf("expected row version mismatch, got %+v", res.Errors)
	}
	if !h.HasErrors {
		t.Fatalf("failing entity should be flagged")
	}
}

func TestBulkDeleteSoftDeletes(t *testing.T) {
	m, stores := newStores()
	seedHousehold(t, stores, "h-1", 1)
	seedHousehold(t, stores, "h-2", 1)
	svc := householdService(stores)
	ctx := context.Background()

	h := &domain.Household{Base: base("h-1", "")}
	h.RowVersion = 1
	res, err := svc.Delete(ctx, bulk(h))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Succeeded) != 1 || !h.IsDeleted || h.RowVersion != 2 {
		t.Fatalf("unexpected delete result: %+v", h.Base)
	}

	viaUpdate := &domain.Household{Base: base("h-2", "")}
	viaUpdate.RowVersion = 1
	req := bulk(viaUpdate)
	req.APIOperation = domain.OperationDelete
	if _, err := svc.Update(ctx, req); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !viaUpdate.IsDeleted {
		t.Fatalf("DELETE apiOperation on update should soft-delete")
	}

	found, err := stores.Households.FindByID(ctx, []string{"h-1", "h-2"}, domain.FieldID, false)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("deleted households should be hidden, got %d", len(found))
	}
	topics := []string{}
	for _, msg := range m.Published() {
		topics = append(topics, msg.Topic)
	}
	if diff := cmp.Diff([]string{testTopics.Delete, testTopics.Update}, topics); diff != "" {
		t.Fatalf("unexpected topics (-want +got):\n%s", diff)
	}
}

func TestBulkSaveFailureFailsValidEntities(t *testing.T) {
	_, stores := newStores()
	stores.Households = &failingRepo[*domain.Household]{Repository: stores.Households, saveErr: errors.New("disk full")}
	svc := householdService(stores)

	good := &domain.Household{Base: base("", "good")}
	bad := &domain.Household{Base: base("", "bad"), Address: &domain.Address{LocalityCode: "B9"}}
	addressed := &domain.Household{Base: base("", "addressed"), Address: &domain.Address{LocalityCode: "B1"}}
	res, err := svc.Create(context.Background(), bulk(good, bad, addressed))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Succeeded != nil {
		t.Fatalf("nothing should be reported as persisted: %+v", res.Succeeded)
	}
	want := map[string][]string{
		"bad":       {domain.CodeNonExistentRelatedEntity},
		"good":      {domain.CodeInternalServerError},
		"addressed": {domain.CodeInternalServerError},
	}
	if diff := cmp.Diff(want, codesOf(res)); diff != "" {
		t.Fatalf("unexpected errors (-want +got):\n%s", diff)
	}
	for _, h := range []*domain.Household{good, addressed} {
		if h.ID != "" || h.RowVersion != 0 || h.AuditDetails != nil {
			t.Fatalf("%s kept server fields after failed save: %+v", h.ClientReferenceID, h.Base)
		}
		if !h.HasErrors {
			t.Fatalf("%s should be flagged", h.ClientReferenceID)
		}
	}
	if addressed.Address.ID != "" {
		t.Fatalf("address id kept after failed save: %q", addressed.Address.ID)
	}
}

func TestBulkUpdateSaveFailureKeepsRowVersion(t *testing.T) {
	_, stores := newStores()
	seedHousehold(t, stores, "h-1", 1)
	inner := stores.Households
	failing := &failingRepo[*domain.Household]{Repository: inner, saveErr: errors.New("disk full")}
	stores.Households = failing
	svc := householdService(stores)

	h := &domain.Household{Base: base("h-1", "h-1-c"), MemberCount: 4}
	h.RowVersion = 1
	res, err := svc.Update(context.Background(), bulk(h))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if diff := cmp.Diff(map[string][]string{"h-1-c": {domain.CodeInternalServerError}}, codesOf(res)); diff != "" {
		t.Fatalf("unexpected errors (-want +got):\n%s", diff)
	}
	if h.RowVersion != 1 || h.AuditDetails != nil {
		t.Fatalf("failed update leaked server fields: %+v", h.Base)
	}

	failing.saveErr = nil
	res, err = svc.Update(context.Background(), bulk(h))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if len(res.Errors) != 0 || len(res.Succeeded) != 1 || h.RowVersion != 2 {
		t.Fatalf("resubmitted payload should apply, got %+v rowVersion=%d", codesOf(res), h.RowVersion)
	}
}

func TestEnrichRelationshipsUndo(t *testing.T) {
	m := &domain.HouseholdMember{
		Base:                base("", "m-1"),
		MemberRelationships: []domain.Relationship{{RelativeClientReferenceID: "m-2"}},
	}
	undo := enrichRelationships(domain.OperationCreate, m, func() string { return "rel-1" })
	if m.MemberRelationships[0].ID != "rel-1" || m.MemberRelationships[0].SelfClientReferenceID != "m-1" {
		t.Fatalf("relationship not enriched: %+v", m.MemberRelationships[0])
	}
	undo()
	if diff := cmp.Diff([]domain.Relationship{{RelativeClientReferenceID: "m-2"}}, m.MemberRelationships); diff != "" {
		t.Fatalf("undo did not restore relationships (-want +got):\n%s", diff)
	}
	if enrichRelationships(domain.OperationCreate, &domain.HouseholdMember{}, nil) != nil {
		t.Fatal("no relationships should need no undo")
	}
}

func TestBulkRequestShape(t *testing.T) {
	_, stores := newStores()
	svc := householdService(stores)
	ctx := context.Background()

	noUser := bulk(&domain.Household{Base: base("", "a")})
	noUser.RequestInfo.UserInfo = nil
	mixed := bulk(&domain.Household{Base: base("", "a")}, &domain.Household{Base: domain.Base{ClientReferenceID: "b", TenantID: "other"}})

	cases := []struct {
		name string
		req  *domain.BulkRequest[*domain.Household]
		code string
	}{
		{"nil request", nil, CodeInvalidRequest},
		{"missing user", noUser, CodeInvalidRequest},
		{"empty entities", bulk[*domain.Household](), CodeInvalidRequest},
		{"missing tenant", bulk(&domain.Household{Base: domain.Base{ClientReferenceID: "x"}}), CodeInvalidRequest},
		{"multiple tenants", mixed, CodeMultipleTenants},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			var ce *domain.CustomError
			if !errors.As(err, &ce) || ce.Code != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestBulkRunIsRepeatable(t *testing.T) {
	_, stores := newStores()
	svc := householdService(stores)
	ctx := context.Background()

	req := bulk(&domain.Household{Base: base("h-9", "")})
	first, err := svc.Update(ctx, req)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	second, err := svc.Update(ctx, req)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if diff := cmp.Diff(codesOf(first), codesOf(second)); diff != "" {
		t.Fatalf("second run differs (-first +second):\n%s", diff)
	}
}

func TestBulkObservability(t *testing.T) {
	_, stores := newStores()
	rec := NewExpvarMetricsRecorder("")
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	svc := householdService(stores, WithMetrics(rec), WithTracer(tracer))
	ctx := context.Background()

	_, err := svc.Create(ctx, bulk(
		&domain.Household{Base: base("", "a")},
		&domain.Household{Base: base("", "b"), Address: &domain.Address{LocalityCode: "B9"}},
	))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, nil); err == nil {
		t.Fatalf("expected shape error")
	}

	snap := rec.Snapshot()
	results := snap.Results["household.CREATE"]
	if results[ResultPartial] != 1 || results[ResultError] != 1 {
		t.Fatalf("unexpected results: %v", results)
	}
	if snap.Codes[domain.CodeNonExistentRelatedEntity] != 1 {
		t.Fatalf("unexpected codes: %v", snap.Codes)
	}
	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Operation != "household.create" || entries[1].Status != "error" {
		t.Fatalf("unexpected spans: %+v", entries)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Fatalf("expected two json lines, got %q", buf.String())
	}
}

func TestBulkSearchRequiresTenant(t *testing.T) {
	_, stores := newStores()
	seedHousehold(t, stores, "h-1", 1)
	svc := householdService(stores)

	if _, err := svc.Search(context.Background(), domain.Query{}); err == nil {
		t.Fatalf("expected error without tenant")
	}
	found, err := svc.Search(context.Background(), domain.Query{TenantID: tenant})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != "h-1" {
		t.Fatalf("unexpected search result: %+v", found)
	}
}
