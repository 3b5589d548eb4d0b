package contact

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/waflowhq/waflow/internal/db"
)

// ErrNotFound is returned when a contact or conversation lookup misses.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by the create paths when a concurrent creator won
// the unique-key race; callers fall back to a fetch.
var ErrConflict = errors.New("row already exists")

const contactColumns = `id, tenant_id, wa_id, display_name, tags, status, created_at`
const conversationColumns = `id, tenant_id, contact_id, channel_account_id, last_message_at, last_inbound_at, created_at`

// Store persists contacts and conversations in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetContact looks a contact up by its channel identifier within a tenant.
func (s *Store) GetContact(ctx context.Context, tenantID, waID string) (Contact, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE tenant_id = $1 AND wa_id = $2`,
		pgTenantID, waID)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("query contact: %w", err)
	}
	return contact, nil
}

// CreateContact inserts a contact, returning ErrConflict if the
// (tenant_id, wa_id) key is already taken.
func (s *Store) CreateContact(ctx context.Context, tenantID, waID, displayName string) (Contact, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (tenant_id, wa_id, display_name)
		VALUES ($1, $2, $3)
		RETURNING `+contactColumns,
		pgTenantID, waID, dbpkg.ToPgText(displayName))
	contact, err := scanContact(row)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return Contact{}, ErrConflict
		}
		return Contact{}, fmt.Errorf("create contact: %w", err)
	}
	return contact, nil
}

// GetConversation looks the open conversation up for a contact on a channel
// account.
func (s *Store) GetConversation(ctx context.Context, tenantID, contactID, channelAccountID string) (Conversation, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid contact id: %w", err)
	}
	pgAccountID, err := dbpkg.ParseUUID(channelAccountID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid channel account id: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE tenant_id = $1 AND contact_id = $2 AND channel_account_id = $3`,
		pgTenantID, pgContactID, pgAccountID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// CreateConversation inserts a conversation, returning ErrConflict when a
// concurrent creator already holds the unique key.
func (s *Store) CreateConversation(ctx context.Context, tenantID, contactID, channelAccountID string) (Conversation, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid contact id: %w", err)
	}
	pgAccountID, err := dbpkg.ParseUUID(channelAccountID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid channel account id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (tenant_id, contact_id, channel_account_id)
		VALUES ($1, $2, $3)
		RETURNING `+conversationColumns,
		pgTenantID, pgContactID, pgAccountID)
	conv, err := scanConversation(row)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return Conversation{}, ErrConflict
		}
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Tag adds a tag to a contact. Tagging twice is a no-op.
func (s *Store) Tag(ctx context.Context, tenantID, contactID, tag string) (Contact, error) {
	return s.updateTags(ctx, tenantID, contactID, tag, `
		UPDATE contacts
		SET tags = CASE WHEN $3 = ANY (tags) THEN tags ELSE array_append(tags, $3) END,
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+contactColumns)
}

// Untag removes a tag from a contact. Removing an absent tag is a no-op.
func (s *Store) Untag(ctx context.Context, tenantID, contactID, tag string) (Contact, error) {
	return s.updateTags(ctx, tenantID, contactID, tag, `
		UPDATE contacts SET tags = array_remove(tags, $3), updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+contactColumns)
}

func (s *Store) updateTags(ctx context.Context, tenantID, contactID, tag, query string) (Contact, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid contact id: %w", err)
	}
	contact, err := scanContact(s.pool.QueryRow(ctx, query, pgTenantID, pgContactID, tag))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("update tags: %w", err)
	}
	return contact, nil
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		id          pgtype.UUID
		tenantID    pgtype.UUID
		displayName pgtype.Text
		createdAt   pgtype.Timestamptz
		contact     Contact
	)
	err := row.Scan(&id, &tenantID, &contact.WaID, &displayName, &contact.Tags, &contact.Status, &createdAt)
	if err != nil {
		return Contact{}, err
	}
	contact.ID = id.String()
	contact.TenantID = tenantID.String()
	contact.DisplayName = dbpkg.TextToString(displayName)
	contact.CreatedAt = dbpkg.TimeOrZero(createdAt)
	return contact, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		id            pgtype.UUID
		tenantID      pgtype.UUID
		contactID     pgtype.UUID
		accountID     pgtype.UUID
		lastMessageAt pgtype.Timestamptz
		lastInboundAt pgtype.Timestamptz
		createdAt     pgtype.Timestamptz
		conv          Conversation
	)
	err := row.Scan(&id, &tenantID, &contactID, &accountID, &lastMessageAt, &lastInboundAt, &createdAt)
	if err != nil {
		return Conversation{}, err
	}
	conv.ID = id.String()
	conv.TenantID = tenantID.String()
	conv.ContactID = contactID.String()
	conv.ChannelAccountID = accountID.String()
	conv.LastMessageAt = dbpkg.TimeOrZero(lastMessageAt)
	conv.LastInboundAt = dbpkg.TimeOrZero(lastInboundAt)
	conv.CreatedAt = dbpkg.TimeOrZero(createdAt)
	return conv, nil
}
