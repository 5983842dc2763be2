package session

import "github.com/wallute/walletsync/internal/hub"

// Event types streamed to clients.
const (
	TypeBalance       = "balance"
	TypeNotifications = "notifications"
	TypeToast         = "toast"
	TypeDeposit       = "deposit"
)

// Event is a change in one account's wallet state.
type Event struct {
	Account string      `json:"-"`
	Type    string      `json:"type"`
	Data    interface{} `json:"data"`
}

func (e Event) Key() hub.Key {
	return e.Account
}
