package qris

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	staticIndicator  = "010211"
	dynamicIndicator = "010212"
	countryCodeID    = "5802ID"
	amountTag        = "54"
	checksumTag      = "63"

	minPayloadLength = 10
	checksumLength   = 4
)

// ErrMalformedPayload matches every MalformedPayloadError via errors.Is.
var ErrMalformedPayload = errors.New("malformed qris payload")

// MalformedPayloadError reports why a static payload cannot be made dynamic.
type MalformedPayloadError struct {
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed qris payload: %s", e.Reason)
}

func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

func malformed(format string, args ...any) error {
	return &MalformedPayloadError{Reason: fmt.Sprintf(format, args...)}
}

// BuildDynamicPayload rewrites a static merchant payload into a dynamic one
// bound to amount. The trailing checksum of static is discarded and
// recomputed over the rewritten body.
func BuildDynamicPayload(static string, amount int64) (string, error) {
	static = strings.TrimSpace(static)
	if len(static) < minPayloadLength {
		return "", malformed("payload too short (%d characters)", len(static))
	}
	if amount <= 0 {
		return "", malformed("amount must be positive, got %d", amount)
	}

	body := static[:len(static)-checksumLength]
	if !strings.Contains(body, staticIndicator) {
		return "", malformed("static point-of-initiation indicator %s not found", staticIndicator)
	}
	body = strings.Replace(body, staticIndicator, dynamicIndicator, 1)

	parts := strings.Split(body, countryCodeID)
	if len(parts) != 2 {
		return "", malformed("expected exactly one %s country code, found %d", countryCodeID, len(parts)-1)
	}

	digits := strconv.FormatInt(amount, 10)
	amountField := fmt.Sprintf("%s%02d%s%s", amountTag, len(digits), digits, countryCodeID)

	rewritten := parts[0] + amountField + parts[1]
	return rewritten + Checksum(rewritten), nil
}
