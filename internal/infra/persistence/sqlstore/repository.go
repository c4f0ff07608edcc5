package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"healthcore/pkg/domain"
)

// Repository persists one entity type as JSON payload rows.
type Repository[E domain.Entity] struct {
	db      *sql.DB
	dialect Dialect
	table   Table[E]
	outbox  *Outbox
}

// NewRepository binds table to db.
func NewRepository[E domain.Entity](db *sql.DB, d Dialect, table Table[E], outbox *Outbox) *Repository[E] {
	return &Repository[E]{db: db, dialect: d, table: table, outbox: outbox}
}

func fieldColumn(field domain.Field) string {
	if field == domain.FieldClientReferenceID {
		return "client_reference_id"
	}
	return "id"
}

// FindByID loads entities whose id or client reference id is in ids with a
// single query.
func (r *Repository[E]) FindByID(ctx context.Context, ids []string, field domain.Field, includeDeleted bool) ([]E, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b := r.dialect.Build("SELECT payload FROM " + r.table.Name).AndIn(fieldColumn(field), ids)
	if !includeDeleted {
		b.And("is_deleted = ?", false)
	}
	b.Write(" ORDER BY id")
	return r.query(ctx, b)
}

// Find returns entities matching q ordered by id.
func (r *Repository[E]) Find(ctx context.Context, q domain.Query) ([]E, error) {
	b := r.dialect.Build("SELECT payload FROM " + r.table.Name)
	if q.TenantID != "" {
		b.And("tenant_id = ?", q.TenantID)
	}
	if len(q.IDs) > 0 {
		b.AndIn("id", q.IDs)
	}
	if len(q.ClientReferenceIDs) > 0 {
		b.AndIn("client_reference_id", q.ClientReferenceIDs)
	}
	if !q.IncludeDeleted {
		b.And("is_deleted = ?", false)
	}
	if q.LastChangedSince > 0 {
		b.And("last_modified_time >= ?", q.LastChangedSince)
	}
	b.Write(" ORDER BY id").Page(q.Limit, q.Offset)
	return r.query(ctx, b)
}

func (r *Repository[E]) query(ctx context.Context, b *Builder) ([]E, error) {
	q, args := b.SQL()
	return scanPayloads[E](ctx, r.db, r.table.Name, q, args)
}

func scanPayloads[E any](ctx context.Context, db *sql.DB, table, q string, args []any) ([]E, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "select %s", table)
	}
	defer func() { _ = rows.Close() }()
	var out []E
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrapf(err, "scan %s", table)
		}
		var e E
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, errors.Wrapf(err, "decode %s", table)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s", table)
	}
	return out, nil
}

// Save upserts entities and enqueues one outbox message per entity on topic
// in the same transaction.
func (r *Repository[E]) Save(ctx context.Context, entities []E, topic string) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	upsert := r.upsertSQL()
	for _, e := range entities {
		h := e.Header()
		if h.ID == "" {
			return errors.Errorf("save %s: entity without id", r.table.Name)
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return errors.Wrapf(err, "encode %s %s", r.table.Name, h.ID)
		}
		var modified int64
		if h.AuditDetails != nil {
			modified = h.AuditDetails.LastModifiedTime
		}
		args := []any{h.ID, h.ClientReferenceID, h.TenantID, h.IsDeleted, h.RowVersion, modified}
		for _, c := range r.table.Columns {
			args = append(args, c.Value(e))
		}
		args = append(args, string(payload))
		if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
			return errors.Wrapf(err, "upsert %s %s", r.table.Name, h.ID)
		}
		if topic != "" {
			msg := Message{TenantID: h.TenantID, Topic: topic, Key: h.ID, Payload: payload}
			if err := r.outbox.Enqueue(ctx, tx, msg); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit %s", r.table.Name)
	}
	return nil
}

func (r *Repository[E]) upsertSQL() string {
	cols := []string{"id", "client_reference_id", "tenant_id", "is_deleted", "row_version", "last_modified_time"}
	for _, c := range r.table.Columns {
		cols = append(cols, c.Name)
	}
	cols = append(cols, "payload")
	return upsertStatement(r.dialect, r.table.Name, cols)
}

func upsertStatement(d Dialect, table string, cols []string) string {
	marks := make([]string, len(cols))
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		marks[i] = d.Placeholder(i + 1)
		if c != "id" {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(sets, ", "))
}
