package main

import (
	"time"

	"github.com/wallute/walletsync/internal/deposit"
	"github.com/wallute/walletsync/internal/ledger"
	"github.com/wallute/walletsync/internal/notify"
	"github.com/wallute/walletsync/internal/session"
	"github.com/wallute/walletsync/internal/toast"
	"github.com/wallute/walletsync/internal/units"
)

// WalletResponse is everything the wallet screen renders.
type WalletResponse struct {
	Account       string                 `json:"account"`
	Balance       *BalanceResponse       `json:"balance"`
	LastSynced    *time.Time             `json:"lastSynced,omitempty"`
	Notifications []NotificationResponse `json:"notifications"`
	HasUnread     bool                   `json:"hasUnread"`
	PanelOpen     bool                   `json:"panelOpen"`
	Toast         *toast.Toast           `json:"toast"`
	Deposit       DepositResponse        `json:"deposit"`
}

// BalanceResponse carries amounts formatted with two decimals.
type BalanceResponse struct {
	Available string `json:"available"`
	Pending   string `json:"pending"`
}

type NotificationResponse struct {
	ID        string        `json:"id"`
	Status    ledger.Status `json:"status"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Amount    string        `json:"amount"`
	CreatedAt time.Time     `json:"createdAt"`
}

type DepositResponse struct {
	State   deposit.State    `json:"state"`
	Busy    bool             `json:"busy"`
	Amount  string           `json:"amount"`
	Receipt *ReceiptResponse `json:"receipt"`
}

type ReceiptResponse struct {
	Filename string `json:"filename"`
	Size     string `json:"size"`
}

func NewBalanceResponse(b ledger.Balance) *BalanceResponse {
	return &BalanceResponse{
		Available: units.Format(b.Available),
		Pending:   units.Format(b.Pending),
	}
}

func NewNotificationResponses(ns []notify.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(ns))
	for _, n := range ns {
		out = append(out, NotificationResponse{
			ID:        n.ID,
			Status:    n.Status,
			Title:     n.Title(),
			Message:   n.Message(),
			Amount:    units.Format(n.Amount),
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}

func NewWalletResponse(s *session.Session) *WalletResponse {
	response := &WalletResponse{
		Account:       s.AccountID(),
		Notifications: NewNotificationResponses(s.Notifications.Visible()),
		HasUnread:     s.Notifications.HasUnread(),
		PanelOpen:     s.Notifications.PanelOpen(),
	}
	if b, ok := s.Balance.Snapshot(); ok {
		response.Balance = NewBalanceResponse(b)
	}
	if t := s.Balance.LastSynced(); !t.IsZero() {
		response.LastSynced = &t
	}
	if t, ok := s.Toasts.Current(); ok {
		response.Toast = &t
	}
	state := s.Deposits.State()
	amount, receipt := s.Deposits.Form()
	response.Deposit = DepositResponse{
		State:  state,
		Busy:   state != deposit.Idle,
		Amount: amount,
	}
	if receipt != nil {
		response.Deposit.Receipt = &ReceiptResponse{
			Filename: receipt.Filename,
			Size:     units.FormatBytes(int64(len(receipt.Data))),
		}
	}
	return response
}

// eventData converts session event payloads into their client representation.
func eventData(e session.Event) interface{} {
	switch data := e.Data.(type) {
	case ledger.Balance:
		return NewBalanceResponse(data)
	case []notify.Notification:
		return NewNotificationResponses(data)
	default:
		return e.Data
	}
}
