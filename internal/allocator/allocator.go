package allocator

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/NgigiN/qris-gateway/internal/feed"
	"github.com/NgigiN/qris-gateway/internal/storage"
)

const (
	// MaxAttempts bounds the linear probe above the requested amount.
	MaxAttempts = 100

	fallbackMin  = 100
	fallbackSpan = 1000 // fallback offsets are drawn from [100, 1099]
)

// Result is the outcome of an amount allocation.
type Result struct {
	FinalAmount int64
	WasAdjusted bool
	Adjustment  int64
	Attempts    int
	Fallback    bool
}

// Probe walks upward from base until an amount outside collisions is found.
// After MaxAttempts collisions it falls back to base plus a random offset in
// [100, 1099]; that amount is not checked against collisions again.
func Probe(base int64, collisions map[int64]struct{}, intn func(n int) int) Result {
	amount := base
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if _, taken := collisions[amount]; !taken {
			return Result{
				FinalAmount: amount,
				WasAdjusted: amount != base,
				Adjustment:  amount - base,
				Attempts:    attempt,
			}
		}
		amount++
	}

	final := base + int64(fallbackMin+intn(fallbackSpan))
	return Result{
		FinalAmount: final,
		WasAdjusted: true,
		Adjustment:  final - base,
		Attempts:    MaxAttempts,
		Fallback:    true,
	}
}

// Reserver is the part of the transaction store the allocator needs.
type Reserver interface {
	Reserve(pick func(pending map[int64]struct{}) (storage.Transaction, error)) (storage.Transaction, error)
}

// BuildFunc turns an allocation into the provisional record to reserve.
type BuildFunc func(Result) (storage.Transaction, error)

// Allocator picks collision-free amounts against the settlement feed and the
// pending requests held by the store.
type Allocator struct {
	feed   feed.Client
	store  Reserver
	logger *slog.Logger
	intn   func(n int) int
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithRand replaces the source of fallback offsets.
func WithRand(intn func(n int) int) Option {
	return func(a *Allocator) {
		a.intn = intn
	}
}

func New(feedClient feed.Client, store Reserver, logger *slog.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		feed:   feedClient,
		store:  store,
		logger: logger,
		intn:   rand.Intn,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FeedAmounts returns the confirmed static-QR credit amounts on the feed.
// A failing feed yields an empty set; the failure is logged, not returned.
func (a *Allocator) FeedAmounts(ctx context.Context) map[int64]struct{} {
	amounts := make(map[int64]struct{})
	if a.feed == nil {
		return amounts
	}
	credits, err := a.feed.FetchRecentCredits(ctx)
	if err != nil {
		a.logger.Warn("settlement feed unavailable, allocating against pending requests only", "error", err)
		return amounts
	}
	for _, amount := range feed.StaticAmounts(credits) {
		amounts[amount] = struct{}{}
	}
	a.logger.Debug("loaded settlement feed amounts", "records", len(credits), "static_credits", len(amounts))
	return amounts
}

// Reserve allocates a final amount for base and inserts the record returned
// by build as a pending reservation. The feed is read before the store lock
// is taken; the probe over feed and pending amounts and the insert happen
// together under it.
func (a *Allocator) Reserve(ctx context.Context, base int64, build BuildFunc) (storage.Transaction, Result, error) {
	external := a.FeedAmounts(ctx)

	var result Result
	tx, err := a.store.Reserve(func(pending map[int64]struct{}) (storage.Transaction, error) {
		collisions := make(map[int64]struct{}, len(external)+len(pending))
		for amount := range external {
			collisions[amount] = struct{}{}
		}
		for amount := range pending {
			collisions[amount] = struct{}{}
		}
		result = Probe(base, collisions, a.intn)
		return build(result)
	})
	if err != nil {
		return storage.Transaction{}, Result{}, err
	}

	if result.Fallback {
		a.logger.Warn("amount probe exhausted, using random fallback",
			"requested", base, "final", result.FinalAmount)
	} else {
		a.logger.Info("allocated amount",
			"requested", base, "final", result.FinalAmount, "attempts", result.Attempts)
	}
	return tx, result, nil
}
