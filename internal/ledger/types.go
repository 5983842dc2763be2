package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Amounts reported by the ledger are kept with this many fractional digits.
const amountPlaces = 2

// Balance is a point-in-time view of an account's funds.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Equal reports whether both balances carry the same amounts.
// FetchedAt is not compared.
func (b Balance) Equal(o Balance) bool {
	return b.Available.Equal(o.Available) && b.Pending.Equal(o.Pending)
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status will not change again.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func parseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown entry status: %q", s)
	}
}

// Entry is a deposit record from the ledger history.
type Entry struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Receipt is the proof-of-payment artifact attached to a deposit.
type Receipt struct {
	Filename  string
	MediaType string
	Data      []byte
}

// DepositRequest is sent once and then discarded.
// The ledger assigns the entry id after accepting it.
type DepositRequest struct {
	AccountID string
	Email     string
	Username  string
	Amount    decimal.Decimal
	Receipt   Receipt
}

type balanceResponse struct {
	TotalBalance   json.RawMessage `json:"total_balance"`
	PendingBalance json.RawMessage `json:"pending_balance"`
}

type entryResponse struct {
	ID        json.RawMessage `json:"id"`
	Amount    json.RawMessage `json:"amount"`
	Status    string          `json:"status"`
	Reason    *string         `json:"reason"`
	CreatedAt json.RawMessage `json:"created_at"`
}

func (r balanceResponse) balance() (b Balance, err error) {
	b.Available, err = parseAmount(r.TotalBalance)
	if err != nil {
		return b, fmt.Errorf("total_balance: %w", err)
	}
	b.Pending, err = parseAmount(r.PendingBalance)
	if err != nil {
		return b, fmt.Errorf("pending_balance: %w", err)
	}
	return b, nil
}

func (r entryResponse) entry() (e Entry, err error) {
	e.ID, err = parseID(r.ID)
	if err != nil {
		return
	}
	e.Amount, err = parseAmount(r.Amount)
	if err != nil {
		return e, fmt.Errorf("entry %s amount: %w", e.ID, err)
	}
	e.Status, err = parseStatus(r.Status)
	if err != nil {
		return e, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if r.Reason != nil {
		e.Reason = *r.Reason
	}
	e.CreatedAt, err = parseTime(r.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("entry %s created_at: %w", e.ID, err)
	}
	return e, nil
}

// parseAmount accepts both quoted and bare JSON numbers.
// A missing, null or empty string amount reads as zero.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if isNull(raw) || isEmptyString(raw) {
		return decimal.Zero, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount: %s", d)
	}
	return d.Round(amountPlaces), nil
}

var errMissingID = errors.New("entry without id")

func parseID(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", errMissingID
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", errMissingID
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("bad entry id: %s", raw)
	}
	return n.String(), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTime understands RFC 3339, SQL-style timestamps and unix epochs
// in seconds or milliseconds.
func parseTime(raw json.RawMessage) (time.Time, error) {
	if isNull(raw) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err = json.Unmarshal(raw, &n); err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp: %s", raw)
		}
		s = n.String()
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		if epoch > 1e12 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp: %q", s)
}

func isEmptyString(raw json.RawMessage) bool {
	var s string
	return json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) == ""
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
