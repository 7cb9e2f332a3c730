package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Repository stores orders as a JSONB document next to the columns used for
// filtering. The event log and outbox live in their own tables and are
// written in the same transaction as the order row.
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// WithinTransaction runs fn in a transaction, rolling back on error.
func (r *Repository) WithinTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, order *domain.Order, messages []ports.OutboxMessage) error {
	snapshot := order.Snapshot()
	snapshot.Version = 1
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	query := `
		INSERT INTO orders (id, number, customer_id, status, payment_status, fulfillment_status,
			reservation_status, total_cents, refunded_cents, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	err = r.WithinTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			snapshot.ID,
			snapshot.Number,
			snapshot.CustomerID,
			string(snapshot.Lifecycle),
			string(snapshot.Payment),
			string(snapshot.Fulfillment),
			string(snapshot.Reservation),
			snapshot.Amounts.TotalCents,
			snapshot.Amounts.RefundedCents,
			doc,
			snapshot.Version,
			snapshot.Timestamps.CreatedAt,
			snapshot.Timestamps.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("insert order %s: %w: %w", snapshot.ID, ports.ErrAlreadyExists, err)
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return r.appendLogs(ctx, tx, order.PendingEvents(), messages)
	})
	if err != nil {
		return err
	}

	order.MarkPersisted(snapshot.Version)
	return nil
}

func (r *Repository) Save(ctx context.Context, order *domain.Order, messages []ports.OutboxMessage) error {
	snapshot := order.Snapshot()
	expected := snapshot.Version
	snapshot.Version = expected + 1
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	query := `
		UPDATE orders
		SET status = $3, payment_status = $4, fulfillment_status = $5, reservation_status = $6,
			total_cents = $7, refunded_cents = $8, document = $9, version = $10, updated_at = $11
		WHERE id = $1 AND version = $2
	`

	err = r.WithinTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, query,
			snapshot.ID,
			expected,
			string(snapshot.Lifecycle),
			string(snapshot.Payment),
			string(snapshot.Fulfillment),
			string(snapshot.Reservation),
			snapshot.Amounts.TotalCents,
			snapshot.Amounts.RefundedCents,
			doc,
			snapshot.Version,
			snapshot.Timestamps.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, snapshot.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			if !exists {
				return ports.ErrNotFound
			}
			return ports.ErrConcurrentUpdate
		}
		return r.appendLogs(ctx, tx, order.PendingEvents(), messages)
	})
	if err != nil {
		return err
	}

	order.MarkPersisted(snapshot.Version)
	return nil
}

func (r *Repository) appendLogs(ctx context.Context, tx pgx.Tx, events []domain.Event, messages []ports.OutboxMessage) error {
	eventQuery := `
		INSERT INTO order_events (id, order_id, type, axis, from_status, to_status, actor, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, ev := range events {
		var metadata []byte
		if len(ev.Metadata) > 0 {
			var err error
			if metadata, err = json.Marshal(ev.Metadata); err != nil {
				return fmt.Errorf("encode event metadata: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, eventQuery,
			ev.ID, ev.OrderID, string(ev.Type), string(ev.Axis), ev.From, ev.To, ev.Actor, ev.OccurredAt, metadata,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Type, err)
		}
	}

	outboxQuery := `
		INSERT INTO outbox (id, order_id, topic, correlation_id, payload, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`
	for _, msg := range messages {
		if _, err := tx.Exec(ctx, outboxQuery,
			msg.ID, msg.OrderID, msg.Topic, msg.CorrelationID, msg.Payload, msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert outbox message %s: %w", msg.Topic, err)
		}
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT document, version FROM orders WHERE id = $1`

	var (
		doc     []byte
		version int64
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	snapshot, err := decodeSnapshot(doc, version)
	if err != nil {
		return nil, err
	}

	events, err := r.loadEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.Rehydrate(snapshot, events), nil
}

// List returns matching orders newest first. Listed orders carry no event
// log; load a single order for that.
func (r *Repository) List(ctx context.Context, filter ports.ListFilter) ([]*domain.Order, error) {
	filter = filter.Normalize()

	query := `
		SELECT document, version
		FROM orders
		WHERE ($1 = '' OR customer_id = $1)
			AND ($2::text IS NULL OR status = $2)
			AND ($3::text IS NULL OR payment_status = $3)
			AND ($4::timestamptz IS NULL OR updated_at < $4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5 OFFSET $6
	`

	var status, payment *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	if filter.PaymentStatus != nil {
		p := string(*filter.PaymentStatus)
		payment = &p
	}

	rows, err := r.db.Query(ctx, query, filter.CustomerID, status, payment, filter.UpdatedBefore, filter.PageSize, filter.Offset())
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0, filter.PageSize)
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		snapshot, err := decodeSnapshot(doc, version)
		if err != nil {
			return nil, err
		}
		orders = append(orders, domain.Rehydrate(snapshot, nil))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return orders, nil
}

func (r *Repository) Events(ctx context.Context, orderID string) ([]domain.Event, error) {
	events, err := r.loadEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		return events, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return nil, ports.ErrNotFound
	}
	return events, nil
}

func (r *Repository) loadEvents(ctx context.Context, orderID string) ([]domain.Event, error) {
	query := `
		SELECT id, order_id, type, axis, from_status, to_status, actor, occurred_at, metadata
		FROM order_events
		WHERE order_id = $1
		ORDER BY seq
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var (
			ev       domain.Event
			typ      string
			axis     string
			metadata []byte
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &typ, &axis, &ev.From, &ev.To, &ev.Actor, &ev.OccurredAt, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Axis = domain.Axis(axis)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func decodeSnapshot(doc []byte, version int64) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	if err := json.Unmarshal(doc, &snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode order: %w", err)
	}
	snapshot.Version = version
	return snapshot, nil
}

// Pending returns undelivered outbox messages, oldest first.
func (r *Repository) Pending(ctx context.Context, limit, maxAttempts int) ([]ports.OutboxMessage, error) {
	query := `
		SELECT id, order_id, topic, correlation_id, payload, attempts, last_error, created_at
		FROM outbox
		WHERE published_at IS NULL AND attempts < $1
		ORDER BY seq
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var pending []ports.OutboxMessage
	for rows.Next() {
		var msg ports.OutboxMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.OrderID,
			&msg.Topic,
			&msg.CorrelationID,
			&msg.Payload,
			&msg.Attempts,
			&msg.LastError,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		pending = append(pending, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return pending, nil
}

func (r *Repository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE outbox SET published_at = $2 WHERE id = $1 AND published_at IS NULL`
	if _, err := r.db.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark outbox message published: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1 AND published_at IS NULL`
	if _, err := r.db.Exec(ctx, query, id, reason); err != nil {
		return fmt.Errorf("mark outbox message failed: %w", err)
	}
	return nil
}
