package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"healthcore/pkg/domain"
)

// Column is an indexed column derived from an entity on every save.
type Column[E any] struct {
	Name  string
	Type  string
	Value func(E) any
}

// Table describes where one entity type lives.
type Table[E domain.Entity] struct {
	Name    string
	Columns []Column[E]
	Indexes [][]string
}

func (t Table[E]) ddl() []string {
	var cols strings.Builder
	cols.WriteString("id TEXT PRIMARY KEY,\n\tclient_reference_id TEXT,\n\ttenant_id TEXT NOT NULL,\n")
	cols.WriteString("\tis_deleted BOOLEAN NOT NULL DEFAULT FALSE,\n\trow_version BIGINT NOT NULL DEFAULT 1,\n")
	cols.WriteString("\tlast_modified_time BIGINT NOT NULL DEFAULT 0,\n")
	for _, c := range t.Columns {
		fmt.Fprintf(&cols, "\t%s %s,\n", c.Name, c.Type)
	}
	cols.WriteString("\tpayload TEXT NOT NULL")
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, cols.String()),
		indexDDL(t.Name, []string{"tenant_id", "client_reference_id"}),
	}
	for _, idx := range t.Indexes {
		stmts = append(stmts, indexDDL(t.Name, idx))
	}
	return stmts
}

func indexDDL(table string, cols []string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
		table, strings.Join(cols, "_"), table, strings.Join(cols, ", "))
}

func str[E any](f func(E) string) func(E) any { return func(e E) any { return f(e) } }

// Entity tables.
var (
	StockTable = Table[*domain.Stock]{
		Name: "stock",
		Columns: []Column[*domain.Stock]{
			{Name: "transaction_type", Type: "TEXT", Value: str(func(s *domain.Stock) string { return string(s.TransactionType) })},
			{Name: "sender_id", Type: "TEXT", Value: str(func(s *domain.Stock) string { return s.SenderID })},
			{Name: "receiver_id", Type: "TEXT", Value: str(func(s *domain.Stock) string { return s.ReceiverID })},
			{Name: "product_variant_id", Type: "TEXT", Value: str(func(s *domain.Stock) string { return s.ProductVariantID })},
			{Name: "quantity", Type: "BIGINT", Value: func(s *domain.Stock) any { return s.Quantity }},
		},
		Indexes: [][]string{{"tenant_id", "receiver_id"}, {"tenant_id", "sender_id"}},
	}
	HouseholdTable = Table[*domain.Household]{
		Name: "household",
		Columns: []Column[*domain.Household]{
			{Name: "locality_code", Type: "TEXT", Value: str(func(h *domain.Household) string {
				if h.Address == nil {
					return ""
				}
				return h.Address.LocalityCode
			})},
		},
	}
	HouseholdMemberTable = Table[*domain.HouseholdMember]{
		Name: "household_member",
		Columns: []Column[*domain.HouseholdMember]{
			{Name: "household_id", Type: "TEXT", Value: str(func(m *domain.HouseholdMember) string { return m.HouseholdID })},
			{Name: "household_client_reference_id", Type: "TEXT", Value: str(func(m *domain.HouseholdMember) string { return m.HouseholdClientReferenceID })},
			{Name: "individual_id", Type: "TEXT", Value: str(func(m *domain.HouseholdMember) string { return m.IndividualID })},
			{Name: "individual_client_reference_id", Type: "TEXT", Value: str(func(m *domain.HouseholdMember) string { return m.IndividualClientReferenceID })},
			{Name: "is_head_of_household", Type: "BOOLEAN NOT NULL DEFAULT FALSE", Value: func(m *domain.HouseholdMember) any { return m.IsHeadOfHousehold }},
		},
		Indexes: [][]string{{"tenant_id", "household_id"}, {"tenant_id", "individual_id"}},
	}
	ProjectTable = Table[*domain.Project]{
		Name: "project",
		Columns: []Column[*domain.Project]{
			{Name: "project_type", Type: "TEXT", Value: str(func(p *domain.Project) string { return p.ProjectType })},
			{Name: "parent_id", Type: "TEXT", Value: str(func(p *domain.Project) string { return p.ParentID })},
			{Name: "boundary_code", Type: "TEXT", Value: str(func(p *domain.Project) string { return p.BoundaryCode })},
		},
	}
)

var auxiliaryDDL = []string{
	`CREATE TABLE IF NOT EXISTS plan (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	plan_configuration_id TEXT NOT NULL,
	status TEXT,
	last_modified_time BIGINT NOT NULL DEFAULT 0,
	payload TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS plan_employee_assignment (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	plan_configuration_id TEXT NOT NULL,
	employee_id TEXT NOT NULL,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	payload TEXT NOT NULL
)`,
	indexDDL("plan_employee_assignment", []string{"tenant_id", "plan_configuration_id"}),
	`CREATE TABLE IF NOT EXISTS outbox (
	event_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	topic TEXT NOT NULL,
	message_key TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at BIGINT NOT NULL
)`,
	indexDDL("outbox", []string{"topic", "created_at"}),
}

// Schema lists every statement needed to create the healthcore tables.
func Schema() []string {
	var stmts []string
	stmts = append(stmts, StockTable.ddl()...)
	stmts = append(stmts, HouseholdTable.ddl()...)
	stmts = append(stmts, HouseholdMemberTable.ddl()...)
	stmts = append(stmts, ProjectTable.ddl()...)
	stmts = append(stmts, auxiliaryDDL...)
	return stmts
}

// Migrate creates missing tables and indexes. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
