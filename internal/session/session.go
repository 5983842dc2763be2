package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wallute/walletsync/internal/deposit"
	"github.com/wallute/walletsync/internal/notify"
	"github.com/wallute/walletsync/internal/poller"
	"github.com/wallute/walletsync/internal/toast"
)

// Identity is who the session belongs to.
type Identity = deposit.Identity

// Session is the wallet state of one signed-in account.
type Session struct {
	ID            string
	OpenedAt      time.Time
	Balance       *poller.Poller
	Notifications *notify.Center
	Deposits      *deposit.Pipeline
	Toasts        *toast.Presenter

	m        sync.Mutex
	identity Identity
}

func (s *Session) Identity() Identity {
	s.m.Lock()
	defer s.m.Unlock()
	return s.identity
}

// AccountID never changes for the lifetime of a session.
func (s *Session) AccountID() string {
	return s.Identity().AccountID
}

func (s *Session) setIdentity(id Identity) {
	s.m.Lock()
	s.identity = id
	s.m.Unlock()
	s.Deposits.SetIdentity(id)
}

func newSession(id Identity, l Ledger, cfg Config) *Session {
	s := &Session{
		ID:            uuid.New().String(),
		OpenedAt:      time.Now().UTC(),
		Balance:       poller.New(l, cfg.BalanceInterval, cfg.RequestTimeout),
		Notifications: notify.New(l, cfg.HistoryInterval, cfg.RequestTimeout),
		Toasts:        toast.New(cfg.ToastDuration),
		identity:      id,
	}
	s.Deposits = deposit.New(l, s.Balance, s.Notifications, s.Toasts, cfg.Limits, cfg.RequestTimeout)
	s.Deposits.SetIdentity(id)
	return s
}

func (s *Session) stop() {
	s.Balance.Deactivate()
	s.Notifications.Deactivate()
	s.Toasts.Close()
}
