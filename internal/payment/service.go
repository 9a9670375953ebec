package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NgigiN/qris-gateway/internal/allocator"
	"github.com/NgigiN/qris-gateway/internal/config"
	"github.com/NgigiN/qris-gateway/internal/qris"
	"github.com/NgigiN/qris-gateway/internal/storage"
	"github.com/google/uuid"
)

var (
	// ErrInvalidAmount reports a requested amount outside (0, MaxAmount].
	ErrInvalidAmount = fmt.Errorf("amount must be greater than 0 and at most %d", MaxAmount)
	// ErrNotificationsDisabled reports a Notify with no notifier configured.
	ErrNotificationsDisabled = errors.New("notifications not configured")
	// ErrNotPaid reports a Notify for a request that has not settled.
	ErrNotPaid = errors.New("transaction is not paid")
)

const (
	// MaxAmount is the largest amount Create accepts.
	MaxAmount int64 = 1_000_000_000_000

	idAttempts = 3
)

// Reserver allocates an amount and reserves it as a pending record.
type Reserver interface {
	Reserve(ctx context.Context, base int64, build allocator.BuildFunc) (storage.Transaction, allocator.Result, error)
}

// Store is the write side of the transaction store used after reservation.
type Store interface {
	Get(id string) (storage.Transaction, error)
	Attach(id, payload string) (storage.Transaction, error)
	Delete(id string) bool
}

// Renderer turns a payload into an image data URL.
type Renderer interface {
	DataURL(payload string) (string, error)
}

// Notifier announces settled payments.
type Notifier interface {
	NotifyPaid(ctx context.Context, tx storage.Transaction) error
}

// Created is the outcome of a successful Create.
type Created struct {
	Transaction storage.Transaction
	Allocation  allocator.Result
	ImageURL    string
}

// Service runs the create pipeline: allocate and reserve an amount, build
// the dynamic payload for it, then confirm or roll back the reservation.
type Service struct {
	cfg       config.Config
	allocator Reserver
	store     Store
	renderer  Renderer
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces transaction id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithNotifier enables Notify.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(cfg config.Config, alloc Reserver, store Store, renderer Renderer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		allocator: alloc,
		store:     store,
		renderer:  renderer,
		logger:    logger,
		now:       time.Now,
		newID:     NewTransactionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTransactionID returns an id of the form QRIS-XXXXXXXXXXXX.
func NewTransactionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "QRIS-" + strings.ToUpper(raw[:12])
}

// Create issues a dynamic payment request for amount.
func (s *Service) Create(ctx context.Context, amount int64) (Created, error) {
	if amount <= 0 || amount > MaxAmount {
		return Created{}, ErrInvalidAmount
	}
	if err := s.cfg.RequireGateway(); err != nil {
		s.logger.Error("gateway configuration missing", "error", err)
		return Created{}, err
	}

	tx, result, err := s.reserve(ctx, amount)
	if err != nil {
		return Created{}, err
	}

	created, err := s.confirm(tx, result)
	if err != nil {
		if s.store.Delete(tx.ID) {
			s.logger.Warn("rolled back reservation", "id", tx.ID, "amount", tx.FinalAmount, "error", err)
		}
		return Created{}, err
	}

	s.logger.Info("payment request created",
		"id", tx.ID,
		"requested", amount,
		"final", result.FinalAmount,
		"adjusted", result.WasAdjusted,
		"expires_at", tx.ExpiresAt.Format(time.RFC3339))
	return created, nil
}

func (s *Service) reserve(ctx context.Context, amount int64) (storage.Transaction, allocator.Result, error) {
	var lastErr error
	for attempt := 0; attempt < idAttempts; attempt++ {
		id := s.newID()
		created := s.now()
		tx, result, err := s.allocator.Reserve(ctx, amount, func(r allocator.Result) (storage.Transaction, error) {
			return storage.Transaction{
				ID:              id,
				RequestedAmount: amount,
				FinalAmount:     r.FinalAmount,
				Adjustment:      r.Adjustment,
				Status:          storage.StatusPending,
				CreatedAt:       created,
				ExpiresAt:       created.Add(storage.TTL),
			}, nil
		})
		if err == nil {
			return tx, result, nil
		}
		if !errors.Is(err, storage.ErrDuplicateID) {
			return storage.Transaction{}, allocator.Result{}, err
		}
		lastErr = err
	}
	return storage.Transaction{}, allocator.Result{}, fmt.Errorf("failed to generate a unique transaction id: %w", lastErr)
}

func (s *Service) confirm(tx storage.Transaction, result allocator.Result) (Created, error) {
	payload, err := qris.BuildDynamicPayload(s.cfg.Gateway.StaticPayload, result.FinalAmount)
	if err != nil {
		return Created{}, err
	}

	var imageURL string
	if s.renderer != nil {
		if imageURL, err = s.renderer.DataURL(payload); err != nil {
			return Created{}, err
		}
	}

	tx, err = s.store.Attach(tx.ID, payload)
	if err != nil {
		return Created{}, err
	}
	return Created{Transaction: tx, Allocation: result, ImageURL: imageURL}, nil
}

// Notify resends the payment-success message for a settled request.
func (s *Service) Notify(ctx context.Context, id string) (storage.Transaction, error) {
	if s.notifier == nil {
		return storage.Transaction{}, ErrNotificationsDisabled
	}
	tx, err := s.store.Get(id)
	if err != nil {
		return storage.Transaction{}, err
	}
	tx.Status = tx.EffectiveStatus(s.now())
	if tx.Status != storage.StatusSuccess {
		return tx, fmt.Errorf("%w: %s", ErrNotPaid, tx.Status)
	}
	if err := s.notifier.NotifyPaid(ctx, tx); err != nil {
		return tx, fmt.Errorf("send notification for %s: %w", tx.ID, err)
	}
	s.logger.Info("payment notification sent", "id", tx.ID, "amount", tx.FinalAmount)
	return tx, nil
}
