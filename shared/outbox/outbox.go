// Package outbox stores events in PostgreSQL in the same transaction as the
// rows they describe, and relays them to Redis Streams afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/google/uuid"
)

// Event is what a writer enqueues: Data is published to Stream as an event
// of type Type.
type Event struct {
	Stream string
	Type   string
	Data   any
}

// Message is a stored, not yet published event.
type Message struct {
	ID        uuid.UUID
	Stream    string
	EventType string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// Store is the outbox table as seen by the Dispatcher.
type Store interface {
	// Claim leases up to limit unpublished messages for lease. Leased
	// messages are hidden from other claimers until the lease runs out.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	// MarkFailed records the error and releases the lease so the next
	// Claim picks the message up again.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// PostgresStore keeps the outbox in the outbox_events table.
type PostgresStore struct {
	db dbresolver.DB
}

func NewPostgresStore(db dbresolver.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Enqueue inserts event inside tx. It becomes visible to Claim only when tx
// commits.
func (s *PostgresStore) Enqueue(ctx context.Context, tx dbresolver.Tx, event Event) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_events (id, stream, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), event.Stream, event.Type, string(payload))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", event.Type, err)
	}
	return nil
}

// Claim runs on the primary: the lease is a write.
func (s *PostgresStore) Claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin outbox claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE outbox_events
		SET claimed_until = NOW() + $2::float8 * INTERVAL '1 millisecond'
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE published_at IS NULL AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, stream, event_type, payload, attempts, created_at
	`, limit, lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m       Message
			payload []byte
		)
		if err := rows.Scan(&m.ID, &m.Stream, &m.EventType, &payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		m.Payload = payload
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit outbox claim: %w", err)
	}

	// RETURNING does not keep the subquery's order.
	slices.SortFunc(messages, func(a, b Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return messages, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET published_at = NOW(), claimed_until = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event %s published: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = $2, claimed_until = NULL
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event %s failed: %w", id, err)
	}
	return nil
}
