package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/log"

	"github.com/wallute/walletsync/internal/deposit"
	"github.com/wallute/walletsync/internal/hub"
	"github.com/wallute/walletsync/internal/ledger"
	"github.com/wallute/walletsync/internal/maplock"
	"github.com/wallute/walletsync/internal/metrics"
	"github.com/wallute/walletsync/internal/notify"
	"github.com/wallute/walletsync/internal/poller"
	"github.com/wallute/walletsync/internal/toast"
)

var (
	ErrNoAccount = errors.New("session: empty account id")
	ErrNotFound  = errors.New("session not found")
)

// Ledger is the remote service every session talks to.
type Ledger interface {
	poller.BalanceFetcher
	notify.HistoryFetcher
	deposit.Submitter
}

// SnapshotStore caches the last good balance of an account.
type SnapshotStore interface {
	LoadBalance(accountID string) (ledger.Balance, error)
	SaveBalance(accountID string, balance ledger.Balance) error
	DeleteBalance(accountID string) error
}

type Config struct {
	BalanceInterval time.Duration
	HistoryInterval time.Duration
	RequestTimeout  time.Duration
	ToastDuration   time.Duration
	Limits          deposit.Limits
}

// Manager keeps one session per account.
type Manager struct {
	cfg    Config
	ledger Ledger
	store  SnapshotStore
	hub    *hub.Hub
	locks  *maplock.MapLock

	m        sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager. store may be nil.
func NewManager(l Ledger, store SnapshotStore, cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		ledger:   l,
		store:    store,
		hub:      new(hub.Hub),
		locks:    maplock.New(),
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Hub() *hub.Hub {
	return m.hub
}

// Open returns the session of the account, starting it if needed.
func (m *Manager) Open(id Identity) (*Session, error) {
	if id.AccountID == "" {
		return nil, ErrNoAccount
	}
	m.locks.Lock(id.AccountID)
	defer m.locks.Unlock(id.AccountID)

	if s, ok := m.lookup(id.AccountID); ok {
		s.setIdentity(id)
		return s, nil
	}

	s := newSession(id, m.ledger, m.cfg)
	m.wire(s)
	if m.store != nil {
		if b, err := m.store.LoadBalance(id.AccountID); err == nil {
			s.Balance.Seed(b)
		}
	}
	if err := s.Balance.Activate(id.AccountID); err != nil {
		return nil, err
	}
	if err := s.Notifications.Activate(id.AccountID); err != nil {
		s.Balance.Deactivate()
		return nil, err
	}

	m.m.Lock()
	m.sessions[id.AccountID] = s
	n := len(m.sessions)
	m.m.Unlock()
	metrics.ActiveSessions.Set(float64(n))
	log.Infof("session opened: account=%s id=%s", id.AccountID, s.ID)
	return s, nil
}

func (m *Manager) wire(s *Session) {
	account := s.AccountID()
	publish := func(typ string, data interface{}) {
		m.hub.Publish(Event{Account: account, Type: typ, Data: data})
	}
	s.Balance.OnChange(func(b ledger.Balance) {
		if m.store != nil {
			if err := m.store.SaveBalance(account, b); err != nil {
				log.Errorf("cannot save balance of account %s: %s", account, err.Error())
			}
		}
		publish(TypeBalance, b)
	})
	s.Notifications.OnChange(func(ns []notify.Notification) {
		publish(TypeNotifications, ns)
	})
	s.Toasts.OnChange(func(t *toast.Toast) {
		publish(TypeToast, t)
	})
	s.Deposits.OnTransition(func(state deposit.State) {
		publish(TypeDeposit, state)
	})
}

func (m *Manager) lookup(account string) (*Session, bool) {
	m.m.Lock()
	defer m.m.Unlock()
	s, ok := m.sessions[account]
	return s, ok
}

// Get returns the open session of the account.
func (m *Manager) Get(account string) (*Session, error) {
	s, ok := m.lookup(account)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close ends the session of the account. Polling stops and the
// notification dismissals are forgotten.
func (m *Manager) Close(account string) error {
	m.locks.Lock(account)
	defer m.locks.Unlock(account)
	return m.closeLocked(account)
}

func (m *Manager) closeLocked(account string) error {
	m.m.Lock()
	s, ok := m.sessions[account]
	delete(m.sessions, account)
	n := len(m.sessions)
	m.m.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.stop()
	metrics.ActiveSessions.Set(float64(n))
	log.Infof("session closed: account=%s id=%s", account, s.ID)
	return nil
}

// Forget closes the session of the account, if any, and drops its cached
// balance so the next session starts from a fresh fetch.
func (m *Manager) Forget(account string) error {
	m.locks.Lock(account)
	defer m.locks.Unlock(account)
	if err := m.closeLocked(account); err != nil && err != ErrNotFound {
		return err
	}
	if m.store == nil {
		return nil
	}
	if err := m.store.DeleteBalance(account); err != nil {
		return err
	}
	log.Infof("cached balance dropped for account %s", account)
	return nil
}

// List returns the open sessions ordered by account.
func (m *Manager) List() []*Session {
	m.m.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.m.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID() < out[j].AccountID() })
	return out
}

func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		if err := m.Close(s.AccountID()); err != nil && err != ErrNotFound {
			log.Errorln("cannot close session:", err.Error())
		}
	}
}
