// Package campaign coordinates recipient allocation and ledger edits for
// persisted campaigns.
package campaign

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/outreach-core/internal/allocation"
	"github.com/JakeFAU/outreach-core/internal/crawler"
	"github.com/JakeFAU/outreach-core/internal/ledger"
)

var (
	// ErrCampaignNotFound is returned by Store implementations for unknown IDs.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrJobNotCompleted is returned when seeding a campaign from a crawl job
	// that has not completed.
	ErrJobNotCompleted = errors.New("crawl job not completed")
	// ErrNoRecipients is returned when a campaign would start empty.
	ErrNoRecipients = errors.New("campaign has no recipients")
)

// Record is the persisted campaign.
type Record struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	RecipientListText string             `json:"recipient_list_text"`
	Allocations       []allocation.Entry `json:"allocations"`
	RemovedListText   string             `json:"removed_list_text"`
	ConfirmedAt       *time.Time         `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Store persists campaign records. SaveCampaign inserts or replaces.
type Store interface {
	SaveCampaign(ctx context.Context, record Record) error
	GetCampaign(ctx context.Context, id string) (Record, error)
}

// AccountSource lists the sending accounts available to a user. The service
// never writes accounts.
type AccountSource interface {
	Accounts(ctx context.Context, userID string) ([]allocation.Account, error)
}

// JobReader reads crawl jobs.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (crawler.Job, error)
}

// AccountView is one account with its current allocation.
type AccountView struct {
	AccountID  string `json:"account_id"`
	DailyLimit int    `json:"daily_limit"`
	SentToday  int    `json:"sent_today"`
	Allocated  int    `json:"allocated"`
}

// View is the state of a campaign as presented to callers.
type View struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Total       int            `json:"total"`
	Allocated   int            `json:"allocated"`
	Remaining   int            `json:"remaining"`
	Accounts    []AccountView  `json:"accounts"`
	Groups      []ledger.Group `json:"groups"`
	Removed     []string       `json:"removed"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
