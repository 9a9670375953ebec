package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NgigiN/qris-gateway/internal/storage"
)

var jakarta = time.FixedZone("WIB", 7*60*60)

// FormatRupiah renders an amount the way Indonesian receipts do: Rp10.000.
func FormatRupiah(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)
	return sign + "Rp" + strings.Join(groups, ".")
}

func paymentMessage(tx storage.Transaction) string {
	paidAt := time.Now()
	if tx.PaidAt != nil {
		paidAt = *tx.PaidAt
	}

	var sb strings.Builder
	sb.WriteString("**PAYMENT RECEIVED**\n\n")
	fmt.Fprintf(&sb, "▸ Amount: %s\n", FormatRupiah(tx.FinalAmount))
	fmt.Fprintf(&sb, "▸ Transaction ID: %s\n", tx.ID)
	fmt.Fprintf(&sb, "▸ Time: %s\n", paidAt.In(jakarta).Format("2 January 2006 15:04:05 MST"))
	sb.WriteString("▸ Method: QRIS\n")
	sb.WriteString("▸ Status: SUCCESS\n")

	if tx.WasAdjusted() {
		fmt.Fprintf(&sb, "\n▸ Amount adjusted: %s → %s (+%d)\n",
			FormatRupiah(tx.RequestedAmount), FormatRupiah(tx.FinalAmount), tx.Adjustment)
	}
	return sb.String()
}
