package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NgigiN/qris-gateway/internal/feed"
	"github.com/NgigiN/qris-gateway/internal/storage"
)

const (
	// CancelRetention is how long a cancelled request stays readable.
	CancelRetention = 30 * time.Second
	// SweepInterval is the period of the stale-record sweep.
	SweepInterval = 5 * time.Minute
	// SweepGrace is how long past expiry a record survives the sweep.
	SweepGrace = 5 * time.Minute
	// DefaultConfirmInterval is the period of feed reconciliation.
	DefaultConfirmInterval = 10 * time.Second

	tickInterval = time.Second
)

// Archiver receives every record the controller removes from the store.
type Archiver interface {
	Save(tx storage.Transaction, reason string, removedAt time.Time) error
}

// Notifier announces settled payments.
type Notifier interface {
	NotifyPaid(ctx context.Context, tx storage.Transaction) error
}

// Controller owns every time-driven change to the store: delayed removal of
// cancelled requests, the periodic sweep and feed reconciliation.
type Controller struct {
	store    *storage.Store
	archive  Archiver
	notifier Notifier
	feed     feed.Client
	logger   *slog.Logger
	now      func() time.Time

	sweepEvery   time.Duration
	confirmEvery time.Duration

	mu          sync.Mutex
	deferred    map[string]time.Time
	nextSweep   time.Time
	nextConfirm time.Time
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithArchive archives removed records.
func WithArchive(a Archiver) Option {
	return func(c *Controller) { c.archive = a }
}

// WithNotifier announces payments confirmed through the controller.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithFeed enables reconciliation of pending requests against the feed,
// every interval (DefaultConfirmInterval when zero).
func WithFeed(f feed.Client, interval time.Duration) Option {
	return func(c *Controller) {
		c.feed = f
		if interval > 0 {
			c.confirmEvery = interval
		}
	}
}

func New(store *storage.Store, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:        store,
		logger:       logger,
		now:          time.Now,
		sweepEvery:   SweepInterval,
		confirmEvery: DefaultConfirmInterval,
		deferred:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	start := c.now()
	c.nextSweep = start.Add(c.sweepEvery)
	c.nextConfirm = start.Add(c.confirmEvery)
	return c
}

// Now returns the controller's current time.
func (c *Controller) Now() time.Time {
	return c.now()
}

// Status returns the record for id as a reader should see it at now.
// Pending records past expiry report expired; nothing is persisted.
func (c *Controller) Status(id string, now time.Time) (storage.Transaction, error) {
	tx, err := c.store.Get(id)
	if err != nil {
		return storage.Transaction{}, err
	}
	tx.Status = tx.EffectiveStatus(now)
	return tx, nil
}

// Cancel moves a pending request to cancelled and schedules its removal
// CancelRetention later.
func (c *Controller) Cancel(id string, now time.Time) (storage.Transaction, error) {
	tx, err := c.store.Get(id)
	if err != nil {
		return storage.Transaction{}, err
	}
	if current := tx.EffectiveStatus(now); current != storage.StatusPending {
		return storage.Transaction{}, &storage.InvalidStateError{ID: id, Current: current, Target: storage.StatusCancelled}
	}

	tx, err = c.store.SetStatus(id, storage.StatusCancelled, now)
	if err != nil {
		return storage.Transaction{}, err
	}

	c.mu.Lock()
	c.deferred[id] = now.Add(CancelRetention)
	c.mu.Unlock()

	c.logger.Info("transaction cancelled", "id", id, "remove_at", now.Add(CancelRetention))
	return tx, nil
}

// MarkPaid records an external payment confirmation for id.
func (c *Controller) MarkPaid(ctx context.Context, id string, now time.Time) (storage.Transaction, error) {
	tx, err := c.store.Get(id)
	if err != nil {
		return storage.Transaction{}, err
	}
	if current := tx.EffectiveStatus(now); current != storage.StatusPending {
		return storage.Transaction{}, &storage.InvalidStateError{ID: id, Current: current, Target: storage.StatusSuccess}
	}

	tx, err = c.store.SetStatus(id, storage.StatusSuccess, now)
	if err != nil {
		return storage.Transaction{}, err
	}
	c.logger.Info("transaction paid", "id", id, "amount", tx.FinalAmount)

	if c.notifier != nil {
		if err := c.notifier.NotifyPaid(ctx, tx); err != nil {
			c.logger.Warn("payment notification failed", "id", id, "error", err)
		}
	}
	return tx, nil
}

// Sweep removes every record that expired more than SweepGrace before now,
// whatever its status.
func (c *Controller) Sweep(now time.Time) int {
	removed := c.store.DeleteWhere(func(tx storage.Transaction) bool {
		return now.Sub(tx.ExpiresAt) > SweepGrace
	})
	c.retire(removed, "sweep", now)
	if len(removed) > 0 {
		c.logger.Info("auto-cleanup completed", "removed", len(removed))
	}
	return len(removed)
}

// Cleanup removes, immediately, every record that is no longer pending or
// whose expiry has passed.
func (c *Controller) Cleanup(now time.Time) int {
	removed := c.store.DeleteWhere(func(tx storage.Transaction) bool {
		return tx.Status != storage.StatusPending || tx.ExpiresAt.Before(now)
	})
	c.retire(removed, "cleanup", now)
	c.logger.Info("manual cleanup completed", "removed", len(removed), "remaining", c.store.Size())
	return len(removed)
}

func (c *Controller) retire(removed []storage.Transaction, reason string, now time.Time) {
	if len(removed) == 0 {
		return
	}
	c.mu.Lock()
	for _, tx := range removed {
		delete(c.deferred, tx.ID)
	}
	c.mu.Unlock()

	for _, tx := range removed {
		c.logger.Debug("removed transaction", "id", tx.ID, "status", tx.Status, "reason", reason)
		if c.archive == nil {
			continue
		}
		if err := c.archive.Save(tx, reason, now); err != nil {
			c.logger.Warn("failed to archive transaction", "id", tx.ID, "error", err)
		}
	}
}

// runDeferred removes cancelled records whose retention ended by now.
func (c *Controller) runDeferred(now time.Time) int {
	c.mu.Lock()
	var due []string
	for id, at := range c.deferred {
		if !now.Before(at) {
			due = append(due, id)
			delete(c.deferred, id)
		}
	}
	c.mu.Unlock()

	var removed []storage.Transaction
	for _, id := range due {
		tx, err := c.store.Get(id)
		if err != nil {
			continue
		}
		if c.store.Delete(id) {
			removed = append(removed, tx)
		}
	}
	c.retire(removed, "cancelled", now)
	return len(removed)
}

// Scheduled returns the number of pending delayed removals.
func (c *Controller) Scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deferred)
}

// Tick performs all work due at now: delayed removals, then the sweep and
// reconciliation when their intervals have elapsed. Run calls it every
// second; tests call it directly with a chosen time.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	c.runDeferred(now)

	c.mu.Lock()
	sweepDue := !now.Before(c.nextSweep)
	if sweepDue {
		c.nextSweep = now.Add(c.sweepEvery)
	}
	confirmDue := c.feed != nil && !now.Before(c.nextConfirm)
	if confirmDue {
		c.nextConfirm = now.Add(c.confirmEvery)
	}
	c.mu.Unlock()

	if sweepDue {
		c.Sweep(now)
	}
	if confirmDue {
		c.Reconcile(ctx, now)
	}
}

// Run drives Tick until ctx is done. Delayed removals still scheduled at
// that point are dropped.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("lifecycle controller started",
		"sweep_interval", c.sweepEvery.String(),
		"reconcile", c.feed != nil)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			dropped := len(c.deferred)
			c.deferred = make(map[string]time.Time)
			c.mu.Unlock()
			c.logger.Info("lifecycle controller stopped", "dropped_tasks", dropped)
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx, c.now())
		}
	}
}
