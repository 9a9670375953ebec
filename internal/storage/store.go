package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is the in-memory set of live payment requests, keyed by id.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Transaction
}

func NewStore() *Store {
	return &Store{records: make(map[string]*Transaction)}
}

// Create inserts tx. Ids are generated fresh, so a duplicate is a bug.
func (s *Store) Create(tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(tx)
}

func (s *Store) insertLocked(tx Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if _, exists := s.records[tx.ID]; exists {
		return fmt.Errorf("create %s: %w", tx.ID, ErrDuplicateID)
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	rec := tx
	s.records[tx.ID] = &rec
	return nil
}

// Reserve runs pick with the amounts of all pending records and inserts the
// record it returns, as one step under the store lock. Two concurrent
// reservations therefore never observe the same free amount.
func (s *Store) Reserve(pick func(pending map[int64]struct{}) (Transaction, error)) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := pick(s.pendingAmountsLocked())
	if err != nil {
		return Transaction{}, err
	}
	tx.Status = StatusPending
	if err := s.insertLocked(tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Attach stores the payload of a reserved record, confirming the reservation.
func (s *Store) Attach(id, payload string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Transaction{}, fmt.Errorf("attach %s: %w", id, ErrNotFound)
	}
	if rec.Status != StatusPending {
		return Transaction{}, &InvalidStateError{ID: id, Current: rec.Status, Target: StatusPending}
	}
	rec.Payload = payload
	return *rec, nil
}

// Get returns a copy of the record stored under id.
func (s *Store) Get(id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Transaction{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return *rec, nil
}

// SetStatus moves a pending record to a terminal status, stamping the
// matching timestamp. Asking for the status a record already has is a no-op.
func (s *Store) SetStatus(id string, status Status, at time.Time) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Transaction{}, fmt.Errorf("set status %s: %w", id, ErrNotFound)
	}
	if rec.Status == status && status.Terminal() {
		return *rec, nil
	}
	if rec.Status != StatusPending || !status.Terminal() {
		return Transaction{}, &InvalidStateError{ID: id, Current: rec.Status, Target: status}
	}

	rec.Status = status
	switch status {
	case StatusSuccess:
		ts := at
		rec.PaidAt = &ts
	case StatusCancelled:
		ts := at
		rec.CancelledAt = &ts
	}
	return *rec, nil
}

// Delete removes id and reports whether it was present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// DeleteWhere removes every record matching pred and returns the removed records.
func (s *Store) DeleteWhere(pred func(Transaction) bool) []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []Transaction
	for id, rec := range s.records {
		if pred(*rec) {
			removed = append(removed, *rec)
			delete(s.records, id)
		}
	}
	sortByCreated(removed)
	return removed
}

// ListPending returns the records whose stored status is pending.
func (s *Store) ListPending() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			out = append(out, *rec)
		}
	}
	sortByCreated(out)
	return out
}

// List returns every record, oldest first.
func (s *Store) List() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sortByCreated(out)
	return out
}

// PendingAmounts returns the final amounts currently held by pending records.
func (s *Store) PendingAmounts() map[int64]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingAmountsLocked()
}

func (s *Store) pendingAmountsLocked() map[int64]struct{} {
	amounts := make(map[int64]struct{}, len(s.records))
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			amounts[rec.FinalAmount] = struct{}{}
		}
	}
	return amounts
}

func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortByCreated(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}
