package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/log"

	"github.com/wallute/walletsync/internal/ledger"
	"github.com/wallute/walletsync/internal/metrics"
	"github.com/wallute/walletsync/internal/schedule"
)

var ErrNoAccount = errors.New("poller: empty account id")

type BalanceFetcher interface {
	GetBalance(ctx context.Context, accountID string) (ledger.Balance, error)
}

// Poller keeps the balance of one account fresh while it is active.
// Failed refreshes keep the last good snapshot.
type Poller struct {
	ledger   BalanceFetcher
	timeout  time.Duration
	sched    *schedule.Schedule
	onChange func(ledger.Balance)

	// Held across a change and its OnChange call so listeners see changes
	// in the order they were applied. Taken before m.
	deliver sync.Mutex

	m          sync.Mutex
	account    string
	snapshot   ledger.Balance
	valid      bool
	lastSynced time.Time
}

func New(l BalanceFetcher, interval, timeout time.Duration) *Poller {
	return &Poller{
		ledger:  l,
		timeout: timeout,
		sched:   schedule.New(interval),
	}
}

// OnChange registers f to be called whenever a refresh replaces the snapshot
// with different amounts. Calls are serialized in the order of the changes.
// Must be set before Activate.
func (p *Poller) OnChange(f func(ledger.Balance)) {
	p.onChange = f
}

// Seed sets a previously known snapshot, shown until the first refresh succeeds.
func (p *Poller) Seed(b ledger.Balance) {
	p.m.Lock()
	p.snapshot = b
	p.valid = true
	p.m.Unlock()
}

// Activate starts polling for accountID and fetches the balance immediately.
// Activating for another account forgets the previous snapshot.
func (p *Poller) Activate(accountID string) error {
	if accountID == "" {
		return ErrNoAccount
	}
	p.m.Lock()
	defer p.m.Unlock()
	if p.account != "" && p.account != accountID {
		p.snapshot = ledger.Balance{}
		p.valid = false
		p.lastSynced = time.Time{}
	}
	p.account = accountID
	p.sched.Start(p.refresh)
	log.Debugln("balance poller activated for account:", accountID)
	return nil
}

// Deactivate stops polling. Responses still in flight are ignored.
func (p *Poller) Deactivate() {
	p.m.Lock()
	defer p.m.Unlock()
	p.sched.Stop()
	if p.account != "" {
		log.Debugln("balance poller deactivated for account:", p.account)
	}
	p.account = ""
}

// RefreshNow fetches the balance out of the regular cadence. No-op when inactive.
func (p *Poller) RefreshNow() {
	gen, active := p.sched.Generation()
	if !active {
		return
	}
	go p.refresh(gen)
}

// Snapshot returns the last good balance and whether there is one.
func (p *Poller) Snapshot() (ledger.Balance, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	return p.snapshot, p.valid
}

// LastSynced returns the time of the last successful refresh.
func (p *Poller) LastSynced() time.Time {
	p.m.Lock()
	defer p.m.Unlock()
	return p.lastSynced
}

func (p *Poller) Active() bool {
	_, active := p.sched.Generation()
	return active
}

func (p *Poller) refresh(gen uint64) {
	p.m.Lock()
	account := p.account
	p.m.Unlock()
	if account == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	b, err := p.ledger.GetBalance(ctx, account)
	if err != nil {
		metrics.BalanceRefreshes.WithLabelValues("failed").Inc()
		log.Warningf("cannot refresh balance of account %s: %s", account, err.Error())
		return
	}
	p.apply(gen, b)
}

func (p *Poller) apply(gen uint64, b ledger.Balance) {
	p.deliver.Lock()
	defer p.deliver.Unlock()
	p.m.Lock()
	if !p.sched.Current(gen) {
		p.m.Unlock()
		metrics.BalanceRefreshes.WithLabelValues("stale").Inc()
		log.Debugln("dropping balance response of a previous activation")
		return
	}
	p.lastSynced = b.FetchedAt
	if p.valid && p.snapshot.Equal(b) {
		p.m.Unlock()
		metrics.BalanceRefreshes.WithLabelValues("unchanged").Inc()
		return
	}
	p.snapshot = b
	p.valid = true
	p.m.Unlock()
	metrics.BalanceRefreshes.WithLabelValues("applied").Inc()
	log.Debugf("balance updated: available=%s pending=%s", b.Available.StringFixed(2), b.Pending.StringFixed(2))
	if p.onChange != nil {
		p.onChange(b)
	}
}
