package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/waflowhq/waflow/internal/db"
)

const messageColumns = `id, tenant_id, conversation_id, provider_message_id, direction, type, content, status, provider_ts, created_at, sent_at, delivered_at, read_at, failed_at`

// Store persists ledger entries in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts a ledger entry and bumps the conversation watermarks in the
// same transaction. A provider-message-id conflict yields
// ErrDuplicateMessage and leaves the existing row untouched.
func (s *Store) Append(ctx context.Context, input AppendInput) (Message, error) {
	pgTenantID, err := dbpkg.ParseUUID(input.TenantID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgConvID, err := dbpkg.ParseUUID(input.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	content := input.Content
	if len(content) == 0 {
		content = []byte("{}")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO messages (tenant_id, conversation_id, provider_message_id, direction, type, content, status, provider_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+messageColumns,
		pgTenantID, pgConvID, input.ProviderMessageID, string(input.Direction),
		string(input.Type), content, string(input.Status), dbpkg.ToPgTimestamptz(input.ProviderTS))
	msg, err := scanMessage(row)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return Message{}, ErrDuplicateMessage
		}
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	touch := `UPDATE conversations SET last_message_at = GREATEST(COALESCE(last_message_at, 'epoch'), $2) WHERE id = $1`
	if input.Direction == DirectionInbound {
		touch = `UPDATE conversations SET
			last_message_at = GREATEST(COALESCE(last_message_at, 'epoch'), $2),
			last_inbound_at = GREATEST(COALESCE(last_inbound_at, 'epoch'), $2)
			WHERE id = $1`
	}
	at := input.ProviderTS
	if at.IsZero() {
		at = msg.CreatedAt
	}
	if _, err := tx.Exec(ctx, touch, pgConvID, at); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

// AdvanceStatus applies a delivery-status callback. The SQL predicate
// mirrors NextStatus so the forward-only invariant holds even when replicas
// race on the same row; a stale or regressive update is a silent no-op.
func (s *Store) AdvanceStatus(ctx context.Context, providerMessageID string, status Status, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET
			status = $2,
			sent_at = CASE WHEN $2 = 'sent' THEN COALESCE(sent_at, $3) ELSE sent_at END,
			delivered_at = CASE WHEN $2 = 'delivered' THEN COALESCE(delivered_at, $3) ELSE delivered_at END,
			read_at = CASE WHEN $2 = 'read' THEN COALESCE(read_at, $3) ELSE read_at END,
			failed_at = CASE WHEN $2 = 'failed' THEN COALESCE(failed_at, $3) ELSE failed_at END
		WHERE provider_message_id = $1
		  AND status <> 'failed'
		  AND (
			($2 = 'failed' AND status <> 'read')
			OR (CASE status WHEN 'queued' THEN 1 WHEN 'sent' THEN 2 WHEN 'delivered' THEN 3 WHEN 'read' THEN 4 ELSE 5 END
				< CASE $2 WHEN 'queued' THEN 1 WHEN 'sent' THEN 2 WHEN 'delivered' THEN 3 WHEN 'read' THEN 4 ELSE 0 END)
		  )`,
		providerMessageID, string(status), dbpkg.ToPgTimestamptz(at))
	if err != nil {
		return fmt.Errorf("advance status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the row is missing or the update was stale.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE provider_message_id = $1)`,
		providerMessageID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check message exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// GetByProviderMessageID fetches a single ledger entry.
func (s *Store) GetByProviderMessageID(ctx context.Context, providerMessageID string) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE provider_message_id = $1`,
		providerMessageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// LastInboundAt returns the newest inbound timestamp for a conversation, or
// the zero time when the contact has never written.
func (s *Store) LastInboundAt(ctx context.Context, conversationID string) (time.Time, error) {
	pgConvID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	var last pgtype.Timestamptz
	err = s.pool.QueryRow(ctx, `
		SELECT max(COALESCE(provider_ts, created_at)) FROM messages
		WHERE conversation_id = $1 AND direction = $2`,
		pgConvID, string(DirectionInbound)).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("query last inbound: %w", err)
	}
	return dbpkg.TimeOrZero(last), nil
}

// RecordWebhookEvent keeps the raw delivery for audit and replay diagnosis.
func (s *Store) RecordWebhookEvent(ctx context.Context, phoneNumberID string, payload []byte) error {
	if !json.Valid(payload) {
		payload, _ = json.Marshal(map[string]string{"raw": string(payload)})
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (phone_number_id, payload) VALUES ($1, $2)`,
		dbpkg.ToPgText(phoneNumberID), payload)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

// PurgeWebhookEvents drops audit rows older than the retention window and
// returns how many were removed.
func (s *Store) PurgeWebhookEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_events WHERE received_at < $1`,
		dbpkg.ToPgTimestamptz(olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		id          pgtype.UUID
		tenantID    pgtype.UUID
		convID      pgtype.UUID
		direction   string
		msgType     string
		status      string
		providerTS  pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		sentAt      pgtype.Timestamptz
		deliveredAt pgtype.Timestamptz
		readAt      pgtype.Timestamptz
		failedAt    pgtype.Timestamptz
		content     []byte
		msg         Message
	)
	err := row.Scan(&id, &tenantID, &convID, &msg.ProviderMessageID, &direction, &msgType,
		&content, &status, &providerTS, &createdAt, &sentAt, &deliveredAt, &readAt, &failedAt)
	if err != nil {
		return Message{}, err
	}
	msg.ID = id.String()
	msg.TenantID = tenantID.String()
	msg.ConversationID = convID.String()
	msg.Direction = Direction(direction)
	msg.Type = Type(msgType)
	msg.Content = json.RawMessage(content)
	msg.Status = Status(status)
	msg.ProviderTS = dbpkg.TimeOrZero(providerTS)
	msg.CreatedAt = dbpkg.TimeOrZero(createdAt)
	msg.SentAt = dbpkg.TimeOrZero(sentAt)
	msg.DeliveredAt = dbpkg.TimeOrZero(deliveredAt)
	msg.ReadAt = dbpkg.TimeOrZero(readAt)
	msg.FailedAt = dbpkg.TimeOrZero(failedAt)
	return msg, nil
}
