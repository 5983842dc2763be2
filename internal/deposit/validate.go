package deposit

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/shopspring/decimal"

	"github.com/wallute/walletsync/internal/ledger"
	"github.com/wallute/walletsync/internal/units"
)

// Limits are the receipt and amount constraints the ledger accepts.
type Limits struct {
	// Receipts larger than this are rejected. Zero means no limit.
	MaxReceiptSize int64
	// Detected media type must start with one of these, e.g. "image/".
	// Empty accepts any type.
	AcceptedTypes []string
	// Zero disables the check.
	MinimumAmount decimal.Decimal
}

// ValidationError is a user-facing rejection found before any network call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Identity is the signed-in user on whose behalf deposits are claimed.
type Identity struct {
	AccountID   string
	Email       string
	DisplayName string
}

func validate(id Identity, amount string, receipt *ledger.Receipt, limits Limits) (ledger.DepositRequest, error) {
	if id.AccountID == "" {
		return ledger.DepositRequest{}, invalid("Please sign in again to submit a deposit.")
	}
	if receipt == nil || len(receipt.Data) == 0 {
		return ledger.DepositRequest{}, invalid("Please select a receipt.")
	}
	value, err := units.ParseAmount(amount)
	if err != nil || !value.IsPositive() {
		return ledger.DepositRequest{}, invalid("Please enter a valid amount.")
	}
	if !limits.MinimumAmount.IsZero() && value.LessThan(limits.MinimumAmount) {
		return ledger.DepositRequest{}, invalid("Minimum deposit is %s.", units.Format(limits.MinimumAmount))
	}
	if limits.MaxReceiptSize > 0 && int64(len(receipt.Data)) > limits.MaxReceiptSize {
		return ledger.DepositRequest{}, invalid("Receipt is too large, the limit is %s.", units.FormatBytes(limits.MaxReceiptSize))
	}
	detected := mimetype.Detect(receipt.Data)
	if !acceptedType(detected, limits.AcceptedTypes) {
		return ledger.DepositRequest{}, invalid("Receipt type %s is not accepted.", detected.String())
	}
	r := *receipt
	r.MediaType = strings.SplitN(detected.String(), ";", 2)[0]
	return ledger.DepositRequest{
		AccountID: id.AccountID,
		Email:     id.Email,
		Username:  id.DisplayName,
		Amount:    value,
		Receipt:   r,
	}, nil
}

func acceptedType(m *mimetype.MIME, accepted []string) bool {
	if len(accepted) == 0 {
		return true
	}
	for mt := m; mt != nil; mt = mt.Parent() {
		for _, prefix := range accepted {
			if strings.HasPrefix(mt.String(), prefix) {
				return true
			}
		}
	}
	return false
}
