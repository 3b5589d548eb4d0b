package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/waflowhq/waflow/internal/db"
)

// ErrNotFound is returned when no account matches the lookup key.
var ErrNotFound = errors.New("channel account not found")

// ErrAlreadyConnected is returned when the phone number id is already linked.
var ErrAlreadyConnected = errors.New("phone number id already connected")

const accountColumns = `id, tenant_id, phone_number_id, access_token, verify_token, app_secret, display_number, status, created_at, updated_at`

// Store persists channel accounts in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new channel account in the given status.
func (s *Store) Create(ctx context.Context, req ConnectRequest, status Status) (ChannelAccount, error) {
	pgTenantID, err := dbpkg.ParseUUID(req.TenantID)
	if err != nil {
		return ChannelAccount{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO channel_accounts (tenant_id, phone_number_id, access_token, verify_token, app_secret, display_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+accountColumns,
		pgTenantID, req.PhoneNumberID, req.AccessToken, req.VerifyToken, req.AppSecret,
		dbpkg.ToPgText(req.DisplayNumber), string(status))
	acct, err := scanAccount(row)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return ChannelAccount{}, ErrAlreadyConnected
		}
		return ChannelAccount{}, fmt.Errorf("create channel account: %w", err)
	}
	return acct, nil
}

// GetByPhoneNumberID looks an account up by its provider number id.
func (s *Store) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (ChannelAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM channel_accounts WHERE phone_number_id = $1`,
		phoneNumberID)
	return s.scanOne(row)
}

// GetByVerifyToken finds the account whose webhook verify token matches.
func (s *Store) GetByVerifyToken(ctx context.Context, verifyToken string) (ChannelAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM channel_accounts WHERE verify_token = $1 AND status <> $2`,
		verifyToken, string(StatusInactive))
	return s.scanOne(row)
}

// GetByID looks an account up by primary key, scoped to a tenant.
func (s *Store) GetByID(ctx context.Context, tenantID, id string) (ChannelAccount, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return ChannelAccount{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return ChannelAccount{}, fmt.Errorf("invalid account id: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM channel_accounts WHERE tenant_id = $1 AND id = $2`,
		pgTenantID, pgID)
	return s.scanOne(row)
}

// UpdateStatus moves the account lifecycle state.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, id string, status Status) (ChannelAccount, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return ChannelAccount{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return ChannelAccount{}, fmt.Errorf("invalid account id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE channel_accounts SET status = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+accountColumns,
		pgTenantID, pgID, string(status))
	return s.scanOne(row)
}

func (s *Store) scanOne(row pgx.Row) (ChannelAccount, error) {
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChannelAccount{}, ErrNotFound
		}
		return ChannelAccount{}, fmt.Errorf("query channel account: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (ChannelAccount, error) {
	var (
		id            pgtype.UUID
		tenantID      pgtype.UUID
		displayNumber pgtype.Text
		status        string
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
		acct          ChannelAccount
	)
	err := row.Scan(&id, &tenantID, &acct.PhoneNumberID, &acct.AccessToken,
		&acct.VerifyToken, &acct.AppSecret, &displayNumber, &status, &createdAt, &updatedAt)
	if err != nil {
		return ChannelAccount{}, err
	}
	acct.ID = id.String()
	acct.TenantID = tenantID.String()
	acct.DisplayNumber = dbpkg.TextToString(displayNumber)
	acct.Status = Status(status)
	acct.CreatedAt = dbpkg.TimeOrZero(createdAt)
	acct.UpdatedAt = dbpkg.TimeOrZero(updatedAt)
	return acct, nil
}
