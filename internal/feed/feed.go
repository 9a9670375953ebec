package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable matches every feed failure via errors.Is.
var ErrUnavailable = errors.New("settlement feed unavailable")

// Error describes a failed fetch against the settlement feed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("settlement feed %s failed", e.Op)
	}
	return fmt.Sprintf("settlement feed %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrUnavailable }

// Credit is one mutation record returned by the feed.
type Credit struct {
	Type    string
	Channel string
	Amount  int64
	Brand   string
	Date    time.Time
}

// IsStaticCredit reports whether the record is a confirmed inbound credit
// received through the static QR channel.
func (c Credit) IsStaticCredit() bool {
	return strings.EqualFold(c.Type, "CR") && strings.EqualFold(c.Channel, "static")
}

// Client fetches the recent mutation history of the merchant account.
type Client interface {
	FetchRecentCredits(ctx context.Context) ([]Credit, error)
}

// StaticAmounts returns the amounts of the confirmed static-QR credits.
func StaticAmounts(credits []Credit) []int64 {
	amounts := make([]int64, 0, len(credits))
	for _, c := range credits {
		if c.IsStaticCredit() && c.Amount > 0 {
			amounts = append(amounts, c.Amount)
		}
	}
	return amounts
}

// Static is a Client returning a fixed answer. It stands in for the live
// feed in tests and when no feed credentials are configured.
type Static struct {
	mu      sync.Mutex
	credits []Credit
	err     error
	calls   int
}

// NewStatic returns a Static feed serving credits.
func NewStatic(credits ...Credit) *Static {
	return &Static{credits: credits}
}

// SetCredits replaces the served credits.
func (s *Static) SetCredits(credits ...Credit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = credits
}

// SetError makes subsequent fetches fail with err.
func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the number of fetches served.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Static) FetchRecentCredits(context.Context) ([]Credit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, &Error{Op: "fetch", Err: s.err}
	}
	return append([]Credit(nil), s.credits...), nil
}

// StaticCredit is shorthand for a confirmed static-QR credit of amount.
func StaticCredit(amount int64) Credit {
	return Credit{Type: "CR", Channel: "static", Amount: amount}
}
