package lifecycle

import (
	"context"
	"time"

	"github.com/NgigiN/qris-gateway/internal/feed"
	"github.com/NgigiN/qris-gateway/internal/storage"
)

// feedClockSkew tolerates feed timestamps recorded at minute precision.
const feedClockSkew = time.Minute

// Reconcile marks pending requests paid when a confirmed static-QR credit of
// the same amount, dated no earlier than the request, shows up on the feed.
// Each credit settles at most one request. Feed failures are logged and
// leave every request untouched.
func (c *Controller) Reconcile(ctx context.Context, now time.Time) int {
	if c.feed == nil {
		return 0
	}
	pending := c.store.ListPending()
	if len(pending) == 0 {
		return 0
	}

	credits, err := c.feed.FetchRecentCredits(ctx)
	if err != nil {
		c.logger.Warn("reconciliation skipped, settlement feed unavailable", "error", err)
		return 0
	}

	used := make([]bool, len(credits))
	paid := 0
	for _, tx := range pending {
		if tx.Payload == "" || tx.EffectiveStatus(now) != storage.StatusPending {
			continue
		}
		idx := matchCredit(credits, used, tx)
		if idx < 0 {
			continue
		}
		used[idx] = true
		if _, err := c.MarkPaid(ctx, tx.ID, now); err != nil {
			c.logger.Warn("failed to confirm matched payment", "id", tx.ID, "error", err)
			continue
		}
		paid++
	}
	if paid > 0 {
		c.logger.Info("reconciliation confirmed payments", "paid", paid)
	}
	return paid
}

func matchCredit(credits []feed.Credit, used []bool, tx storage.Transaction) int {
	for i, credit := range credits {
		if used[i] || !credit.IsStaticCredit() || credit.Amount != tx.FinalAmount {
			continue
		}
		if !credit.Date.IsZero() && credit.Date.Before(tx.CreatedAt.Add(-feedClockSkew)) {
			continue
		}
		return i
	}
	return -1
}
