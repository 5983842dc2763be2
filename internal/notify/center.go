package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/log"
	"github.com/shopspring/decimal"

	"github.com/wallute/walletsync/internal/ledger"
	"github.com/wallute/walletsync/internal/metrics"
	"github.com/wallute/walletsync/internal/schedule"
)

var ErrNoAccount = errors.New("notify: empty account id")

type HistoryFetcher interface {
	GetHistory(ctx context.Context, accountID string) ([]ledger.Entry, error)
}

// Notification tells the user that a deposit reached a terminal status.
// Its ID is the ledger entry id.
type Notification struct {
	ID        string          `json:"id"`
	Status    ledger.Status   `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (n Notification) Title() string {
	if n.Status == ledger.StatusApproved {
		return "Deposit approved"
	}
	return "Deposit rejected"
}

func (n Notification) Message() string {
	amount := n.Amount.StringFixed(2)
	if n.Status == ledger.StatusApproved {
		return fmt.Sprintf("Your deposit of %s has been added to your balance.", amount)
	}
	if n.Reason != "" {
		return fmt.Sprintf("Your deposit of %s was rejected: %s", amount, n.Reason)
	}
	return fmt.Sprintf("Your deposit of %s was rejected.", amount)
}

// Center derives notifications from ledger history.
// Dismissed ids are remembered until the session ends.
type Center struct {
	ledger   HistoryFetcher
	timeout  time.Duration
	sched    *schedule.Schedule
	onChange func([]Notification)

	// Held across a change and its OnChange call so listeners see changes
	// in the order they were applied. Taken before m.
	deliver sync.Mutex

	m         sync.Mutex
	account   string
	visible   []Notification
	dismissed map[string]struct{}
	panelOpen bool
}

func New(l HistoryFetcher, interval, timeout time.Duration) *Center {
	return &Center{
		ledger:    l,
		timeout:   timeout,
		sched:     schedule.New(interval),
		dismissed: make(map[string]struct{}),
	}
}

// OnChange registers f to be called with the visible set after it changes.
// Calls are serialized in the order of the changes. f must not call
// Dismiss or ClearAll. Must be set before Activate.
func (c *Center) OnChange(f func([]Notification)) {
	c.onChange = f
}

// Activate starts a session for accountID and fetches history immediately.
func (c *Center) Activate(accountID string) error {
	if accountID == "" {
		return ErrNoAccount
	}
	c.m.Lock()
	defer c.m.Unlock()
	if c.account != accountID {
		c.resetLocked()
	}
	c.account = accountID
	c.sched.Start(c.refresh)
	return nil
}

// Deactivate ends the session: the schedule stops and both the visible
// and the dismissed sets are forgotten.
func (c *Center) Deactivate() {
	c.m.Lock()
	defer c.m.Unlock()
	c.sched.Stop()
	c.account = ""
	c.resetLocked()
}

func (c *Center) resetLocked() {
	c.visible = nil
	c.dismissed = make(map[string]struct{})
	c.panelOpen = false
}

// RefreshNow fetches history out of the regular cadence. No-op when inactive.
func (c *Center) RefreshNow() {
	gen, active := c.sched.Generation()
	if !active {
		return
	}
	go c.refresh(gen)
}

func (c *Center) refresh(gen uint64) {
	c.m.Lock()
	account := c.account
	c.m.Unlock()
	if account == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	entries, err := c.ledger.GetHistory(ctx, account)
	if err != nil {
		metrics.HistoryRefreshes.WithLabelValues("failed").Inc()
		log.Warningf("cannot refresh history of account %s: %s", account, err.Error())
		return
	}
	c.apply(gen, entries)
}

func (c *Center) apply(gen uint64, entries []ledger.Entry) {
	c.deliver.Lock()
	defer c.deliver.Unlock()
	c.m.Lock()
	if !c.sched.Current(gen) {
		c.m.Unlock()
		metrics.HistoryRefreshes.WithLabelValues("stale").Inc()
		log.Debugln("dropping history response of a previous activation")
		return
	}
	next := make([]Notification, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.Status.Terminal() {
			continue
		}
		if _, ok := c.dismissed[e.ID]; ok {
			continue
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		next = append(next, Notification{
			ID:        e.ID,
			Status:    e.Status,
			Amount:    e.Amount,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	changed := !sameNotifications(c.visible, next)
	c.visible = next
	out := c.copyVisibleLocked()
	c.m.Unlock()
	metrics.HistoryRefreshes.WithLabelValues("applied").Inc()
	if changed {
		c.notify(out)
	}
}

// Dismiss removes one notification and keeps it from coming back.
func (c *Center) Dismiss(id string) bool {
	c.deliver.Lock()
	defer c.deliver.Unlock()
	c.m.Lock()
	c.dismissed[id] = struct{}{}
	removed := false
	for i, n := range c.visible {
		if n.ID == id {
			c.visible = append(c.visible[:i:i], c.visible[i+1:]...)
			removed = true
			break
		}
	}
	out := c.copyVisibleLocked()
	c.m.Unlock()
	if removed {
		c.notify(out)
	}
	return removed
}

// ClearAll dismisses every visible notification and closes the panel.
func (c *Center) ClearAll() {
	c.deliver.Lock()
	defer c.deliver.Unlock()
	c.m.Lock()
	for _, n := range c.visible {
		c.dismissed[n.ID] = struct{}{}
	}
	hadAny := len(c.visible) > 0
	c.visible = nil
	c.panelOpen = false
	c.m.Unlock()
	if hadAny {
		c.notify(nil)
	}
}

// Visible returns the notifications to render, in ledger order.
func (c *Center) Visible() []Notification {
	c.m.Lock()
	defer c.m.Unlock()
	return c.copyVisibleLocked()
}

// HasUnread drives the badge.
func (c *Center) HasUnread() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.visible) > 0
}

func (c *Center) SetPanelOpen(open bool) {
	c.m.Lock()
	c.panelOpen = open
	c.m.Unlock()
}

func (c *Center) PanelOpen() bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.panelOpen
}

func (c *Center) copyVisibleLocked() []Notification {
	out := make([]Notification, len(c.visible))
	copy(out, c.visible)
	return out
}

func (c *Center) notify(visible []Notification) {
	if c.onChange != nil {
		c.onChange(visible)
	}
}

func sameNotifications(a, b []Notification) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Status != b[i].Status {
			return false
		}
	}
	return true
}
