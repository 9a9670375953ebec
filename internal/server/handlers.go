package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NgigiN/qris-gateway/internal/config"
	"github.com/NgigiN/qris-gateway/internal/discord"
	"github.com/NgigiN/qris-gateway/internal/lifecycle"
	"github.com/NgigiN/qris-gateway/internal/payment"
	"github.com/NgigiN/qris-gateway/internal/qris"
	"github.com/NgigiN/qris-gateway/internal/storage"
	"github.com/gorilla/mux"
)

// Payments issues payment requests and their notifications.
type Payments interface {
	Create(ctx context.Context, amount int64) (payment.Created, error)
	Notify(ctx context.Context, id string) (storage.Transaction, error)
}

// Lister exposes the full record set for the debug endpoints.
type Lister interface {
	List() []storage.Transaction
	Size() int
}

// ArchiveCounter reports archived totals; optional.
type ArchiveCounter interface {
	Count(status storage.Status) (int64, error)
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger    *slog.Logger
	payments  Payments
	lifecycle *lifecycle.Controller
	records   Lister
	archive   ArchiveCounter
}

// HandlerDependencies collects what the API handlers need.
type HandlerDependencies struct {
	Payments  Payments
	Lifecycle *lifecycle.Controller
	Records   Lister
	Archive   ArchiveCounter
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, deps HandlerDependencies) *APIHandlers {
	return &APIHandlers{
		logger:    logger,
		payments:  deps.Payments,
		lifecycle: deps.Lifecycle,
		records:   deps.Records,
		archive:   deps.Archive,
	}
}

func (h *APIHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload createRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "amount must be provided as a whole number greater than 0")
		return
	}
	if payload.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount must be provided and greater than 0")
		return
	}

	created, err := h.payments.Create(r.Context(), *payload.Amount)
	if err != nil {
		h.writeServiceError(w, err, "failed to create payment request")
		return
	}

	tx := created.Transaction
	message := "QRIS created"
	if tx.WasAdjusted() {
		message = fmt.Sprintf("QRIS created with adjusted amount (%s → %s)",
			discord.FormatRupiah(tx.RequestedAmount), discord.FormatRupiah(tx.FinalAmount))
	}

	data := toTransactionResponse(tx)
	data.Image = created.ImageURL
	respondJSON(w, http.StatusCreated, envelope{
		Status:    true,
		Message:   message,
		Data:      data,
		Timestamp: formatTime(h.lifecycle.Now()),
	})
}

func (h *APIHandlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, err := h.lifecycle.Cancel(id, h.lifecycle.Now())
	if err != nil {
		h.writeServiceError(w, err, "failed to cancel transaction")
		return
	}
	respondJSON(w, http.StatusOK, envelope{
		Status:  true,
		Message: "Transaction cancelled successfully",
		Data:    toTransactionResponse(tx),
	})
}

func (h *APIHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, err := h.lifecycle.Status(id, h.lifecycle.Now())
	if err != nil {
		h.writeServiceError(w, err, "failed to read transaction")
		return
	}
	respondJSON(w, http.StatusOK, envelope{
		Status:  true,
		Message: "Transaction status retrieved",
		Data:    toTransactionResponse(tx),
	})
}

func (h *APIHandlers) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, err := h.lifecycle.MarkPaid(r.Context(), id, h.lifecycle.Now())
	if err != nil {
		h.writeServiceError(w, err, "failed to confirm transaction")
		return
	}
	respondJSON(w, http.StatusOK, envelope{
		Status:  true,
		Message: "Payment confirmed",
		Data:    toTransactionResponse(tx),
	})
}

func (h *APIHandlers) handleNotify(w http.ResponseWriter, r *http.Request) {
	var payload notifyRequest
	if err := decodeJSON(r, &payload); err != nil || payload.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "Missing required payment data")
		return
	}

	tx, err := h.payments.Notify(r.Context(), payload.TransactionID)
	switch {
	case errors.Is(err, payment.ErrNotificationsDisabled):
		respondJSON(w, http.StatusOK, envelope{
			Status:  true,
			Message: "Notifications not configured - notification skipped",
		})
	case errors.Is(err, payment.ErrNotPaid):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Cannot notify transaction with status: %s", tx.Status))
	case err != nil:
		h.writeServiceError(w, err, "Failed to send notification")
	default:
		respondJSON(w, http.StatusOK, envelope{
			Status:  true,
			Message: "Notification sent successfully",
			Data:    toTransactionResponse(tx),
		})
	}
}

func (h *APIHandlers) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	now := h.lifecycle.Now()
	records := h.records.List()
	items := make([]transactionResponse, 0, len(records))
	for _, tx := range records {
		tx.Status = tx.EffectiveStatus(now)
		item := toTransactionResponse(tx)
		item.Payload = ""
		items = append(items, item)
	}

	data := listResponse{
		TotalTransactions: len(items),
		Transactions:      items,
		ScheduledRemovals: h.lifecycle.Scheduled(),
	}
	if h.archive != nil {
		if n, err := h.archive.Count(""); err == nil {
			data.Archived = &n
		} else {
			h.logger.Warn("failed to count archive", "error", err)
		}
	}

	respondJSON(w, http.StatusOK, envelope{
		Status:    true,
		Message:   "Active transactions retrieved",
		Data:      data,
		Timestamp: formatTime(now),
	})
}

func (h *APIHandlers) handleCleanup(w http.ResponseWriter, r *http.Request) {
	now := h.lifecycle.Now()
	removed := h.lifecycle.Cleanup(now)
	respondJSON(w, http.StatusOK, envelope{
		Status:  true,
		Message: fmt.Sprintf("Cleanup completed: %d transactions removed", removed),
		Data: cleanupResponse{
			CleanedCount:          removed,
			RemainingTransactions: h.records.Size(),
		},
		Timestamp: formatTime(now),
	})
}

func (h *APIHandlers) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		invalid *storage.InvalidStateError
		missing *config.MissingError
	)
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Cannot %s transaction with status: %s", verb(invalid.Target), invalid.Current))
	case errors.As(err, &missing):
		writeError(w, http.StatusInternalServerError, missing.Error())
	case errors.Is(err, qris.ErrMalformedPayload):
		h.logger.Error("static payload rejected", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.logger.Error(fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func verb(target storage.Status) string {
	switch target {
	case storage.StatusCancelled:
		return "cancel"
	case storage.StatusSuccess:
		return "confirm"
	default:
		return "update"
	}
}

// --- Request & Response DTOs ---

type envelope struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type createRequest struct {
	Amount *int64 `json:"amount"`
}

type notifyRequest struct {
	TransactionID string `json:"transactionId"`
}

type transactionResponse struct {
	ID              string `json:"id"`
	RequestedAmount int64  `json:"requestedAmount"`
	FinalAmount     int64  `json:"finalAmount"`
	WasAdjusted     bool   `json:"wasAdjusted"`
	Adjustment      int64  `json:"adjustment"`
	Payload         string `json:"payload,omitempty"`
	Image           string `json:"image,omitempty"`
	Status          string `json:"status"`
	CreatedAt       string `json:"createdAt"`
	ExpiresAt       string `json:"expiresAt"`
	PaidAt          string `json:"paidAt,omitempty"`
	CancelledAt     string `json:"cancelledAt,omitempty"`
}

type listResponse struct {
	TotalTransactions int                   `json:"totalTransactions"`
	Transactions      []transactionResponse `json:"transactions"`
	ScheduledRemovals int                   `json:"scheduledRemovals"`
	Archived          *int64                `json:"archivedTransactions,omitempty"`
}

type cleanupResponse struct {
	CleanedCount          int `json:"cleanedCount"`
	RemainingTransactions int `json:"remainingTransactions"`
}

// --- Helpers ---

func toTransactionResponse(tx storage.Transaction) transactionResponse {
	return transactionResponse{
		ID:              tx.ID,
		RequestedAmount: tx.RequestedAmount,
		FinalAmount:     tx.FinalAmount,
		WasAdjusted:     tx.WasAdjusted(),
		Adjustment:      tx.Adjustment,
		Payload:         tx.Payload,
		Status:          string(tx.Status),
		CreatedAt:       formatTime(tx.CreatedAt),
		ExpiresAt:       formatTime(tx.ExpiresAt),
		PaidAt:          formatTimePtr(tx.PaidAt),
		CancelledAt:     formatTimePtr(tx.CancelledAt),
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	return json.NewDecoder(r.Body).Decode(dst)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, envelope{
		Status:  false,
		Message: msg,
	})
}
