package campaign

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-core/internal/allocation"
	"github.com/JakeFAU/outreach-core/internal/crawler"
	"github.com/JakeFAU/outreach-core/internal/ledger"
	"github.com/JakeFAU/outreach-core/internal/metrics"
)

// Service runs allocation and ledger edits as read-modify-write cycles over
// the campaign store. Concurrent edits to one campaign are not reconciled:
// the last save wins.
type Service struct {
	store    Store
	accounts AccountSource
	jobs     JobReader
	ids      crawler.IDGenerator
	clock    crawler.Clock
	logger   *zap.Logger
}

// session is one loaded campaign with its derived engine and ledger.
type session struct {
	record Record
	engine *allocation.Engine
	ledger *ledger.Ledger
}

// NewService constructs a Service. jobs may be nil when campaigns are never
// seeded from crawl jobs.
func NewService(
	store Store,
	accounts AccountSource,
	jobs JobReader,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Service{
		store:    store,
		accounts: accounts,
		jobs:     jobs,
		ids:      ids,
		clock:    clock,
		logger:   logger,
	}
}

// Create starts a campaign for userID over recipients. Blank and repeated
// recipients are dropped.
func (s *Service) Create(ctx context.Context, userID string, recipients []string) (View, error) {
	list := ledger.Normalize(recipients)
	if len(list) == 0 {
		return View{}, ErrNoRecipients
	}
	id, err := s.ids.NewID()
	if err != nil {
		return View{}, fmt.Errorf("generate campaign id: %w", err)
	}
	now := s.clock.Now().UTC()
	record := Record{
		ID:                id,
		UserID:            userID,
		RecipientListText: ledger.FormatList(list),
		Allocations:       []allocation.Entry{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.SaveCampaign(ctx, record); err != nil {
		return View{}, fmt.Errorf("save campaign: %w", err)
	}
	s.logger.Info("campaign created", zap.String("campaign_id", id), zap.Int("recipients", len(list)))
	return s.Get(ctx, id)
}

// CreateFromJob starts a campaign from the emails a completed crawl job
// discovered. An empty userID takes the job's owner.
func (s *Service) CreateFromJob(ctx context.Context, userID, jobID string) (View, error) {
	if s.jobs == nil {
		return View{}, errors.New("no job reader configured")
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return View{}, fmt.Errorf("load job: %w", err)
	}
	if userID != "" && job.UserID != userID {
		return View{}, fmt.Errorf("load job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if job.Status != crawler.JobStatusCompleted {
		return View{}, fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrJobNotCompleted)
	}
	return s.Create(ctx, job.UserID, job.DiscoveredEmails)
}

// Get loads a campaign view.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return sess.view(), nil
}

// SetAllocation assigns count recipients to one account.
func (s *Service) SetAllocation(ctx context.Context, id, accountID string, count int) (View, error) {
	return s.allocate(ctx, id, "set", func(e *allocation.Engine) error {
		return e.Set(accountID, count)
	})
}

// BulkAllocate gives each selected account the same amount, scaled down
// proportionally when the recipients run short.
func (s *Service) BulkAllocate(ctx context.Context, id string, accountIDs []string, amount int) (View, error) {
	return s.allocate(ctx, id, "bulk", func(e *allocation.Engine) error {
		return e.Bulk(accountIDs, amount)
	})
}

// QuickAllocate distributes the unallocated recipients with a strategy.
func (s *Service) QuickAllocate(ctx context.Context, id string, strategy allocation.Strategy) (View, error) {
	return s.allocate(ctx, id, "quick", func(e *allocation.Engine) error {
		return e.Quick(strategy)
	})
}

// Finalize confirms the campaign when every recipient is allocated.
func (s *Service) Finalize(ctx context.Context, id string) (View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := sess.engine.Finalize(); err != nil {
		metrics.ObserveAllocation("finalize", resultLabel(err))
		return View{}, err
	}
	now := s.clock.Now().UTC()
	sess.record.ConfirmedAt = &now
	if err := s.save(ctx, sess); err != nil {
		metrics.ObserveAllocation("finalize", "error")
		return View{}, err
	}
	metrics.ObserveAllocation("finalize", "ok")
	s.logger.Info("campaign confirmed", zap.String("campaign_id", id))
	return sess.view(), nil
}

// DeleteRecipients removes recipients from the campaign, lowering the
// allocation of each account that owned them.
func (s *Service) DeleteRecipients(ctx context.Context, id string, recipients []string) (View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	before := len(sess.ledger.Removed())
	decrements := sess.ledger.Delete(recipients)
	removed := len(sess.ledger.Removed()) - before
	sess.rebuildEngine(ledger.ApplyDecrements(sess.engine.Entries(), decrements))
	sess.record.ConfirmedAt = nil
	if err := s.save(ctx, sess); err != nil {
		return View{}, err
	}
	metrics.ObserveRecipientsRemoved(removed)
	s.logger.Info("recipients removed", zap.String("campaign_id", id), zap.Int("count", removed))
	return sess.view(), nil
}

// RestoreRecipient returns a removed recipient to the campaign as
// unallocated.
func (s *Service) RestoreRecipient(ctx context.Context, id, recipient string) (View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := sess.ledger.Restore(recipient); err != nil {
		return View{}, err
	}
	sess.rebuildEngine(sess.engine.Entries())
	sess.record.ConfirmedAt = nil
	if err := s.save(ctx, sess); err != nil {
		return View{}, err
	}
	metrics.ObserveRecipientRestored()
	return sess.view(), nil
}

func (s *Service) allocate(ctx context.Context, id, op string, apply func(*allocation.Engine) error) (View, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := apply(sess.engine); err != nil {
		metrics.ObserveAllocation(op, resultLabel(err))
		return View{}, err
	}
	sess.rebuildLedger()
	sess.record.ConfirmedAt = nil
	if err := s.save(ctx, sess); err != nil {
		metrics.ObserveAllocation(op, "error")
		return View{}, err
	}
	metrics.ObserveAllocation(op, "ok")
	s.logger.Debug("allocation updated",
		zap.String("campaign_id", id),
		zap.String("operation", op),
		zap.Int("allocated", sess.engine.Allocated()),
	)
	return sess.view(), nil
}

func (s *Service) load(ctx context.Context, id string) (*session, error) {
	record, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	accounts, err := s.accounts.Accounts(ctx, record.UserID)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	active := ledger.ParseList(record.RecipientListText)
	removed := ledger.ParseList(record.RemovedListText)

	sess := &session{record: record}
	sess.engine = allocation.NewEngine(len(active), accounts, record.Allocations)
	// Regrouping from the clamped entries drops stale accounts.
	sess.ledger = ledger.Build(active, sess.engine.Entries(), removed)
	sess.rebuildEngine(sess.engine.Entries())
	return sess, nil
}

func (s *Service) save(ctx context.Context, sess *session) error {
	sess.record.RecipientListText = ledger.FormatList(sess.ledger.Flatten())
	sess.record.RemovedListText = ledger.FormatList(sess.ledger.Removed())
	sess.record.Allocations = sess.engine.Entries()
	sess.record.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.SaveCampaign(ctx, sess.record); err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	return nil
}

// rebuildEngine resizes the engine to the active recipient count.
func (sess *session) rebuildEngine(entries []allocation.Entry) {
	sess.engine = allocation.NewEngine(sess.ledger.ActiveCount(), sess.engine.Accounts(), entries)
}

// rebuildLedger regroups the active recipients under new allocations.
func (sess *session) rebuildLedger() {
	sess.ledger = ledger.Build(sess.ledger.Flatten(), sess.engine.Entries(), sess.ledger.Removed())
}

func (sess *session) view() View {
	accounts := sess.engine.Accounts()
	views := make([]AccountView, 0, len(accounts))
	for _, acct := range accounts {
		n, _ := sess.engine.Allocation(acct.ID)
		views = append(views, AccountView{
			AccountID:  acct.ID,
			DailyLimit: acct.DailyLimit,
			SentToday:  acct.SentToday,
			Allocated:  n,
		})
	}
	return View{
		ID:          sess.record.ID,
		UserID:      sess.record.UserID,
		Total:       sess.engine.Total(),
		Allocated:   sess.engine.Allocated(),
		Remaining:   sess.engine.Remaining(),
		Accounts:    views,
		Groups:      sess.ledger.Groups(),
		Removed:     sess.ledger.Removed(),
		ConfirmedAt: sess.record.ConfirmedAt,
		CreatedAt:   sess.record.CreatedAt,
		UpdatedAt:   sess.record.UpdatedAt,
	}
}

func resultLabel(err error) string {
	var over *allocation.OverAllocationError
	var mismatch *allocation.TotalMismatchError
	switch {
	case errors.As(err, &over):
		return "over_allocation"
	case errors.As(err, &mismatch):
		return "total_mismatch"
	case errors.Is(err, allocation.ErrUnknownAccount),
		errors.Is(err, allocation.ErrEmptySelection),
		errors.Is(err, allocation.ErrUnknownStrategy):
		return "invalid"
	default:
		return "error"
	}
}
