package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outboxTable = "outbox"

type metrics struct {
	enqueueTotal *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		enqueueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "enqueue_total",
			Help:      "Total number of outbox enqueue operations.",
		}, []string{"table", "topic"}),
	}
})

// Message is one outbox row.
type Message struct {
	EventID   string
	TenantID  string
	Topic     string
	Key       string
	Payload   json.RawMessage
	CreatedAt int64
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Outbox writes topic messages in the caller's transaction so they become
// visible exactly when the entity rows commit.
type Outbox struct {
	dialect Dialect
	now     func() time.Time
	newID   func() string
	m       *metrics
}

// NewOutbox constructs an outbox publisher for dialect d.
func NewOutbox(d Dialect) *Outbox {
	return &Outbox{dialect: d, now: time.Now, newID: uuid.NewString, m: metricsSingleton()}
}

// Enqueue inserts msg into the outbox table through tx.
func (o *Outbox) Enqueue(ctx context.Context, tx execer, msg Message) error {
	if msg.TenantID == "" {
		return errors.New("outbox enqueue: tenant_id is required")
	}
	if msg.Topic == "" {
		return errors.New("outbox enqueue: topic is required")
	}
	if msg.EventID == "" {
		msg.EventID = o.newID()
	}
	q, args := o.dialect.Build(
		`INSERT INTO `+outboxTable+` (event_id, tenant_id, topic, message_key, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.EventID, msg.TenantID, msg.Topic, msg.Key, string(msg.Payload), o.now().UnixMilli(),
	).SQL()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return errors.Wrap(err, "outbox enqueue")
	}
	o.m.enqueueTotal.WithLabelValues(outboxTable, msg.Topic).Inc()
	return nil
}

// List returns the messages of topic in insertion order.
func (o *Outbox) List(ctx context.Context, db *sql.DB, topic string) ([]Message, error) {
	q, args := o.dialect.Build(
		`SELECT event_id, tenant_id, topic, message_key, payload, created_at FROM `+outboxTable+` WHERE topic = ? ORDER BY created_at, event_id`,
		topic,
	).SQL()
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list outbox")
	}
	defer func() { _ = rows.Close() }()
	var out []Message
	for rows.Next() {
		var m Message
		var payload []byte
		if err := rows.Scan(&m.EventID, &m.TenantID, &m.Topic, &m.Key, &payload, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan outbox")
		}
		m.Payload = payload
		out = append(out, m)
	}
	return out, rows.Err()
}
