package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Archive keeps an audit trail of requests removed from the live store.
// It is never read back into the Store.
type Archive struct {
	db *gorm.DB
}

func OpenArchive(dbPath string) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}
	if err := db.AutoMigrate(&ArchivedTransaction{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Save records tx as removed at removedAt for reason. Saving the same
// transaction twice keeps the first row.
func (a *Archive) Save(tx Transaction, reason string, removedAt time.Time) error {
	row := ArchivedTransaction{
		TransactionID:   tx.ID,
		RequestedAmount: tx.RequestedAmount,
		FinalAmount:     tx.FinalAmount,
		Adjustment:      tx.Adjustment,
		Payload:         tx.Payload,
		Status:          string(tx.Status),
		IssuedAt:        tx.CreatedAt,
		ExpiresAt:       tx.ExpiresAt,
		PaidAt:          tx.PaidAt,
		CancelledAt:     tx.CancelledAt,
		RemovedAt:       removedAt,
		Reason:          reason,
	}
	err := a.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to archive transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Find returns the archived row for id.
func (a *Archive) Find(id string) (ArchivedTransaction, error) {
	var row ArchivedTransaction
	err := a.db.Where("transaction_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ArchivedTransaction{}, fmt.Errorf("archive lookup %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ArchivedTransaction{}, fmt.Errorf("archive lookup %s: %w", id, err)
	}
	return row, nil
}

// Count returns the number of archived rows with the given status, or all
// rows when status is empty.
func (a *Archive) Count(status Status) (int64, error) {
	var n int64
	q := a.db.Model(&ArchivedTransaction{})
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count archived transactions: %w", err)
	}
	return n, nil
}

func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
