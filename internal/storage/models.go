package storage

import (
	"time"

	"gorm.io/gorm"
)

// Status is the lifecycle state of a payment request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusCancelled || s == StatusExpired
}

// TTL bounds how long a payment request stays payable.
const TTL = 5 * time.Minute

// Transaction is a single dynamic QR payment request.
type Transaction struct {
	ID              string
	RequestedAmount int64
	FinalAmount     int64
	Adjustment      int64
	Payload         string
	Status          Status
	CreatedAt       time.Time
	ExpiresAt       time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
}

// WasAdjusted reports whether the amount was moved to avoid a collision.
func (t Transaction) WasAdjusted() bool {
	return t.FinalAmount != t.RequestedAmount
}

// ExpiredAt reports whether a pending request has outlived its TTL at now.
func (t Transaction) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// EffectiveStatus is the status a reader should observe at now: pending
// requests past their expiry read as expired even before anything persists it.
func (t Transaction) EffectiveStatus(now time.Time) Status {
	if t.Status == StatusPending && t.ExpiredAt(now) {
		return StatusExpired
	}
	return t.Status
}

// ArchivedTransaction is the audit row written when a request leaves the store.
type ArchivedTransaction struct {
	gorm.Model
	TransactionID   string `gorm:"uniqueIndex"`
	RequestedAmount int64
	FinalAmount     int64 `gorm:"index"`
	Adjustment      int64
	Payload         string
	Status          string `gorm:"index"`
	IssuedAt        time.Time
	ExpiresAt       time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
	RemovedAt       time.Time
	Reason          string
}
