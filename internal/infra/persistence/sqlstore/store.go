package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/go-faster/errors"

	"healthcore/pkg/domain"
)

// Compile-time contract assertions ensuring sqlstore.Store adheres to the domain persistence interfaces.
var (
	_ domain.Repository[*domain.Stock]   = (*Repository[*domain.Stock])(nil)
	_ domain.StockLedger                 = (*Store)(nil)
	_ domain.HouseholdMemberIndex        = (*Store)(nil)
	_ domain.PlanStore                   = (*Store)(nil)
	_ domain.PlanEmployeeAssignmentStore = (*Store)(nil)
)

// Store aggregates the SQL repositories of every healthcore entity over one
// database handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
	outbox  *Outbox

	Stocks           *Repository[*domain.Stock]
	Households       *Repository[*domain.Household]
	HouseholdMembers *Repository[*domain.HouseholdMember]
	Projects         *Repository[*domain.Project]
}

// New wraps db. Call Migrate before first use on a fresh database.
func New(db *sql.DB, d Dialect) *Store {
	o := NewOutbox(d)
	return &Store{
		db:               db,
		dialect:          d,
		outbox:           o,
		Stocks:           NewRepository(db, d, StockTable, o),
		Households:       NewRepository(db, d, HouseholdTable, o),
		HouseholdMembers: NewRepository(db, d, HouseholdMemberTable, o),
		Projects:         NewRepository(db, d, ProjectTable, o),
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error { return Migrate(ctx, s.db) }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Published lists the outbox messages of topic.
func (s *Store) Published(ctx context.Context, topic string) ([]Message, error) {
	return s.outbox.List(ctx, s.db, topic)
}

// Balances sums active receipts by receiver and dispatches by sender for
// parties in one round trip.
func (s *Store) Balances(ctx context.Context, tenantID string, parties []string) (domain.StockBalance, error) {
	bal := domain.StockBalance{Received: domain.StockTotals{}, Dispatched: domain.StockTotals{}}
	if len(parties) == 0 {
		return bal, nil
	}
	receivers, rargs := In("receiver_id", parties)
	senders, sargs := In("sender_id", parties)
	b := s.dialect.Build(
		"SELECT 'R', receiver_id, product_variant_id, CAST(SUM(quantity) AS BIGINT) FROM stock"+
			" WHERE tenant_id = ? AND is_deleted = ? AND transaction_type = ?",
		tenantID, false, string(domain.TransactionReceived))
	b.Write(" AND "+receivers, rargs...)
	b.Write(" GROUP BY receiver_id, product_variant_id UNION ALL"+
		" SELECT 'D', sender_id, product_variant_id, CAST(SUM(quantity) AS BIGINT) FROM stock"+
		" WHERE tenant_id = ? AND is_deleted = ? AND transaction_type = ?",
		tenantID, false, string(domain.TransactionDispatched))
	b.Write(" AND "+senders, sargs...)
	b.Write(" GROUP BY sender_id, product_variant_id")

	q, args := b.SQL()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return bal, errors.Wrap(err, "stock balances")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind, party, variant string
		var total int64
		if err := rows.Scan(&kind, &party, &variant, &total); err != nil {
			return bal, errors.Wrap(err, "scan stock balance")
		}
		key := domain.StockKey{PartyID: party, ProductVariantID: variant}
		if kind == "R" {
			bal.Received[key] += total
		} else {
			bal.Dispatched[key] += total
		}
	}
	return bal, rows.Err()
}

// HeadsOf returns the active heads of the given households.
func (s *Store) HeadsOf(ctx context.Context, tenantID string, households []string) ([]*domain.HouseholdMember, error) {
	if len(households) == 0 {
		return nil, nil
	}
	byID, idArgs := In("household_id", households)
	byRef, refArgs := In("household_client_reference_id", households)
	b := s.dialect.Build("SELECT payload FROM "+HouseholdMemberTable.Name).
		And("tenant_id = ?", tenantID).
		And("is_deleted = ?", false).
		And("is_head_of_household = ?", true).
		And("("+byID+" OR "+byRef+")", append(idArgs, refArgs...)...).
		Write(" ORDER BY id")
	q, args := b.SQL()
	return scanPayloads[*domain.HouseholdMember](ctx, s.db, HouseholdMemberTable.Name, q, args)
}

// ByIndividual returns active memberships of the given individuals.
func (s *Store) ByIndividual(ctx context.Context, tenantID string, individualIDs []string) ([]*domain.HouseholdMember, error) {
	if len(individualIDs) == 0 {
		return nil, nil
	}
	byID, idArgs := In("individual_id", individualIDs)
	byRef, refArgs := In("individual_client_reference_id", individualIDs)
	b := s.dialect.Build("SELECT payload FROM "+HouseholdMemberTable.Name).
		And("tenant_id = ?", tenantID).
		And("is_deleted = ?", false).
		And("("+byID+" OR "+byRef+")", append(idArgs, refArgs...)...).
		Write(" ORDER BY id")
	q, args := b.SQL()
	return scanPayloads[*domain.HouseholdMember](ctx, s.db, HouseholdMemberTable.Name, q, args)
}

// GetPlan loads one plan.
func (s *Store) GetPlan(ctx context.Context, tenantID, id string) domain.Lookup[domain.Plan] {
	q, args := s.dialect.Build("SELECT payload FROM plan").
		And("id = ?", id).
		And("tenant_id = ?", tenantID).
		SQL()
	plans, err := scanPayloads[domain.Plan](ctx, s.db, "plan", q, args)
	if err != nil {
		return domain.Failed[domain.Plan](err)
	}
	if len(plans) == 0 {
		return domain.Missing[domain.Plan]()
	}
	return domain.Found(plans[0])
}

// SavePlans upserts plans and enqueues them on topic in one transaction.
func (s *Store) SavePlans(ctx context.Context, plans []domain.Plan, topic string) error {
	if len(plans) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()
	upsert := upsertStatement(s.dialect, "plan",
		[]string{"id", "tenant_id", "plan_configuration_id", "status", "last_modified_time", "payload"})
	for _, p := range plans {
		if p.ID == "" {
			return errors.New("save plan: missing id")
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return errors.Wrapf(err, "encode plan %s", p.ID)
		}
		var modified int64
		if p.AuditDetails != nil {
			modified = p.AuditDetails.LastModifiedTime
		}
		if _, err := tx.ExecContext(ctx, upsert, p.ID, p.TenantID, p.PlanConfigurationID, p.Status, modified, string(payload)); err != nil {
			return errors.Wrapf(err, "upsert plan %s", p.ID)
		}
		if topic != "" {
			if err := s.outbox.Enqueue(ctx, tx, Message{TenantID: p.TenantID, Topic: topic, Key: p.ID, Payload: payload}); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit plans")
	}
	return nil
}

// PutAssignments upserts plan employee assignments.
func (s *Store) PutAssignments(ctx context.Context, assignments ...domain.PlanEmployeeAssignment) error {
	upsert := upsertStatement(s.dialect, "plan_employee_assignment",
		[]string{"id", "tenant_id", "plan_configuration_id", "employee_id", "role", "active", "payload"})
	for _, a := range assignments {
		if a.ID == "" {
			return errors.New("put assignment: missing id")
		}
		payload, err := json.Marshal(a)
		if err != nil {
			return errors.Wrapf(err, "encode assignment %s", a.ID)
		}
		if _, err := s.db.ExecContext(ctx, upsert, a.ID, a.TenantID, a.PlanConfigurationID, a.EmployeeID, a.Role, a.Active, string(payload)); err != nil {
			return errors.Wrapf(err, "upsert assignment %s", a.ID)
		}
	}
	return nil
}

// SearchAssignments narrows by the indexed columns in SQL and by
// jurisdiction in memory.
func (s *Store) SearchAssignments(ctx context.Context, q domain.AssignmentSearch) ([]domain.PlanEmployeeAssignment, error) {
	b := s.dialect.Build("SELECT payload FROM plan_employee_assignment").And("active = ?", true)
	if q.TenantID != "" {
		b.And("tenant_id = ?", q.TenantID)
	}
	if q.PlanConfigurationID != "" {
		b.And("plan_configuration_id = ?", q.PlanConfigurationID)
	}
	if q.EmployeeID != "" {
		b.And("employee_id = ?", q.EmployeeID)
	}
	if len(q.Roles) > 0 {
		b.AndIn("role", q.Roles)
	}
	b.Write(" ORDER BY id")
	stmt, args := b.SQL()
	found, err := scanPayloads[domain.PlanEmployeeAssignment](ctx, s.db, "plan_employee_assignment", stmt, args)
	if err != nil {
		return nil, err
	}
	out := found[:0]
	for _, a := range found {
		if q.Matches(a) {
			out = append(out, a)
		}
	}
	return out, nil
}
