package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/outreach-core/internal/allocation"
	"github.com/JakeFAU/outreach-core/internal/campaign"
)

// CampaignStore persists campaigns in Postgres. Saves are unconditional
// upserts, so concurrent editors overwrite each other.
//
// Expected schema:
//
//	CREATE TABLE campaigns (
//		id                  TEXT PRIMARY KEY,
//		user_id             TEXT NOT NULL,
//		recipient_list_text TEXT NOT NULL DEFAULT '',
//		allocations         JSONB NOT NULL DEFAULT '[]',
//		removed_list_text   TEXT NOT NULL DEFAULT '',
//		confirmed_at        TIMESTAMPTZ,
//		created_at          TIMESTAMPTZ NOT NULL,
//		updated_at          TIMESTAMPTZ NOT NULL
//	);
type CampaignStore struct {
	pool  Pool
	table string
}

// NewCampaignStore builds a CampaignStore over pool. An empty table defaults
// to campaigns.
func NewCampaignStore(pool Pool, table string) (*CampaignStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "campaigns")
	if err != nil {
		return nil, err
	}
	return &CampaignStore{pool: pool, table: name}, nil
}

// SaveCampaign inserts or replaces a campaign.
func (s *CampaignStore) SaveCampaign(ctx context.Context, record campaign.Record) error {
	if record.ID == "" {
		return fmt.Errorf("campaign id is required")
	}
	allocations := record.Allocations
	if allocations == nil {
		allocations = []allocation.Entry{}
	}
	allocationsJSON, err := json.Marshal(allocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, recipient_list_text, allocations, removed_list_text, confirmed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	recipient_list_text = EXCLUDED.recipient_list_text,
	allocations = EXCLUDED.allocations,
	removed_list_text = EXCLUDED.removed_list_text,
	confirmed_at = EXCLUDED.confirmed_at,
	updated_at = EXCLUDED.updated_at`, s.table)
	_, err = s.pool.Exec(ctx, query,
		record.ID,
		record.UserID,
		record.RecipientListText,
		allocationsJSON,
		record.RemovedListText,
		record.ConfirmedAt,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert campaign: %w", err)
	}
	return nil
}

// GetCampaign fetches a campaign by ID.
func (s *CampaignStore) GetCampaign(ctx context.Context, id string) (campaign.Record, error) {
	query := fmt.Sprintf(`
SELECT id, user_id, recipient_list_text, allocations, removed_list_text, confirmed_at, created_at, updated_at
FROM %s
WHERE id = $1`, s.table)
	var (
		record          campaign.Record
		allocationsJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&record.ID,
		&record.UserID,
		&record.RecipientListText,
		&allocationsJSON,
		&record.RemovedListText,
		&record.ConfirmedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return campaign.Record{}, fmt.Errorf("get campaign %s: %w", id, campaign.ErrCampaignNotFound)
		}
		return campaign.Record{}, fmt.Errorf("get campaign: %w", err)
	}
	record.Allocations = []allocation.Entry{}
	if len(allocationsJSON) > 0 {
		if err := json.Unmarshal(allocationsJSON, &record.Allocations); err != nil {
			return campaign.Record{}, fmt.Errorf("decode allocations: %w", err)
		}
	}
	return record, nil
}

// AccountSource reads sending account capacity from Postgres. It never
// writes.
//
// Expected schema:
//
//	CREATE TABLE sending_accounts (
//		id          TEXT PRIMARY KEY,
//		user_id     TEXT NOT NULL,
//		daily_limit INTEGER NOT NULL,
//		sent_today  INTEGER NOT NULL DEFAULT 0,
//		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type AccountSource struct {
	pool  Pool
	table string
}

// NewAccountSource builds an AccountSource over pool. An empty table
// defaults to sending_accounts.
func NewAccountSource(pool Pool, table string) (*AccountSource, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "sending_accounts")
	if err != nil {
		return nil, err
	}
	return &AccountSource{pool: pool, table: name}, nil
}

// Accounts lists userID's accounts followed by the shared accounts, whose
// user_id is empty. Each group keeps a stable order.
func (s *AccountSource) Accounts(ctx context.Context, userID string) ([]allocation.Account, error) {
	query := fmt.Sprintf(`
SELECT id, daily_limit, sent_today
FROM %s
WHERE user_id = $1 OR user_id = ''
ORDER BY (user_id = ''), created_at, id`, s.table)
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]allocation.Account, 0)
	for rows.Next() {
		var acct allocation.Account
		if err := rows.Scan(&acct.ID, &acct.DailyLimit, &acct.SentToday); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}
