package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/outreach-core/internal/allocation"
	"github.com/JakeFAU/outreach-core/internal/campaign"
)

// CampaignStore provides an in-memory campaign.Store.
type CampaignStore struct {
	mu        sync.RWMutex
	campaigns map[string]campaign.Record
}

// NewCampaignStore constructs a CampaignStore.
func NewCampaignStore() *CampaignStore {
	return &CampaignStore{campaigns: make(map[string]campaign.Record)}
}

// SaveCampaign inserts or replaces a campaign.
func (s *CampaignStore) SaveCampaign(_ context.Context, record campaign.Record) error {
	if record.ID == "" {
		return fmt.Errorf("save campaign: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[record.ID] = cloneCampaign(record)
	return nil
}

// GetCampaign fetches a campaign by ID.
func (s *CampaignStore) GetCampaign(_ context.Context, id string) (campaign.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.campaigns[id]
	if !ok {
		return campaign.Record{}, fmt.Errorf("get campaign %s: %w", id, campaign.ErrCampaignNotFound)
	}
	return cloneCampaign(record), nil
}

func cloneCampaign(record campaign.Record) campaign.Record {
	record.Allocations = append([]allocation.Entry{}, record.Allocations...)
	if record.ConfirmedAt != nil {
		record.ConfirmedAt = pointerTime(*record.ConfirmedAt)
	}
	return record
}

// AccountSource serves sending accounts from memory. Accounts added under
// the empty user ID are shared by every user and listed after the user's own.
type AccountSource struct {
	mu       sync.RWMutex
	accounts map[string][]allocation.Account
}

// NewAccountSource constructs an AccountSource with shared accounts.
func NewAccountSource(shared ...allocation.Account) *AccountSource {
	src := &AccountSource{accounts: make(map[string][]allocation.Account)}
	src.Add("", shared...)
	return src
}

// Add registers accounts for userID.
func (s *AccountSource) Add(userID string, accounts ...allocation.Account) {
	if len(accounts) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[userID] = append(s.accounts[userID], accounts...)
}

// Accounts lists the accounts available to userID.
func (s *AccountSource) Accounts(_ context.Context, userID string) ([]allocation.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]allocation.Account, 0)
	if userID != "" {
		out = append(out, s.accounts[userID]...)
	}
	out = append(out, s.accounts[""]...)
	return out, nil
}
