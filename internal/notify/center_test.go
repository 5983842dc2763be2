package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallute/walletsync/internal/ledger"
)

type fakeLedger struct {
	m       sync.Mutex
	calls   int32
	entries []ledger.Entry
	err     error
}

func (f *fakeLedger) GetHistory(ctx context.Context, accountID string) ([]ledger.Entry, error) {
	atomic.AddInt32(&f.calls, 1)
	f.m.Lock()
	defer f.m.Unlock()
	out := make([]ledger.Entry, len(f.entries))
	copy(out, f.entries)
	return out, f.err
}

func (f *fakeLedger) set(err error, entries ...ledger.Entry) {
	f.m.Lock()
	f.entries = entries
	f.err = err
	f.m.Unlock()
}

func (f *fakeLedger) numCalls() int32 {
	return atomic.LoadInt32(&f.calls)
}

func entry(id string, status ledger.Status) ledger.Entry {
	return ledger.Entry{ID: id, Status: status, Amount: decimal.New(20, 0)}
}

func ids(ns []Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

// refresh runs a fetch for the current generation and waits for it.
func refresh(t *testing.T, c *Center, f *fakeLedger) {
	t.Helper()
	n := f.numCalls()
	c.RefreshNow()
	require.Eventually(t, func() bool { return f.numCalls() > n }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
}

func activate(t *testing.T, f *fakeLedger) *Center {
	t.Helper()
	c := New(f, time.Hour, time.Second)
	require.NoError(t, c.Activate("acc-1"))
	t.Cleanup(c.Deactivate)
	require.Eventually(t, func() bool { return f.numCalls() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	return c
}

func TestOnlyTerminalEntriesAreShown(t *testing.T) {
	f := &fakeLedger{}
	f.set(nil, entry("1", ledger.StatusPending), entry("2", ledger.StatusApproved), entry("3", ledger.StatusRejected))
	c := activate(t, f)
	assert.Equal(t, []string{"2", "3"}, ids(c.Visible()))
	assert.True(t, c.HasUnread())
}

func TestNoDuplicatesAcrossFetches(t *testing.T) {
	f := &fakeLedger{}
	f.set(nil, entry("1", ledger.StatusApproved), entry("1", ledger.StatusApproved))
	c := activate(t, f)
	assert.Equal(t, []string{"1"}, ids(c.Visible()))

	f.set(nil, entry("2", ledger.StatusRejected), entry("1", ledger.StatusApproved))
	refresh(t, c, f)
	assert.Equal(t, []string{"2", "1"}, ids(c.Visible()))

	refresh(t, c, f)
	assert.Equal(t, []string{"2", "1"}, ids(c.Visible()))
}

func TestRejectedEntryDismissedStaysGone(t *testing.T) {
	f := &fakeLedger{}
	rejected := ledger.Entry{ID: "7", Status: ledger.StatusRejected, Reason: "Verification Failed", Amount: decimal.RequireFromString("20.00")}
	f.set(nil, rejected)
	c := activate(t, f)

	visible := c.Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, "7", visible[0].ID)
	assert.Equal(t, "Deposit rejected", visible[0].Title())
	assert.Equal(t, "Your deposit of 20.00 was rejected: Verification Failed", visible[0].Message())

	assert.True(t, c.Dismiss("7"))
	assert.False(t, c.HasUnread())

	refresh(t, c, f)
	assert.Empty(t, c.Visible())
}

func TestClearAll(t *testing.T) {
	f := &fakeLedger{}
	f.set(nil, entry("1", ledger.StatusApproved), entry("2", ledger.StatusRejected))
	c := activate(t, f)
	c.SetPanelOpen(true)

	c.ClearAll()
	assert.Empty(t, c.Visible())
	assert.False(t, c.PanelOpen())

	f.set(nil, entry("1", ledger.StatusApproved), entry("2", ledger.StatusRejected), entry("3", ledger.StatusApproved))
	refresh(t, c, f)
	assert.Equal(t, []string{"3"}, ids(c.Visible()))
}

func TestFailedRefreshKeepsNotifications(t *testing.T) {
	f := &fakeLedger{}
	f.set(nil, entry("1", ledger.StatusApproved))
	c := activate(t, f)

	f.set(errors.New("down"))
	refresh(t, c, f)
	assert.Equal(t, []string{"1"}, ids(c.Visible()))
}

func TestSessionEndForgetsDismissals(t *testing.T) {
	f := &fakeLedger{}
	f.set(nil, entry("1", ledger.StatusApproved))
	c := activate(t, f)
	c.Dismiss("1")
	c.Deactivate()
	assert.Empty(t, c.Visible())

	n := f.numCalls()
	require.NoError(t, c.Activate("acc-1"))
	require.Eventually(t, func() bool { return f.numCalls() > n }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return len(c.Visible()) == 1 }, time.Second, time.Millisecond)
}

func TestOnChangeFiresOnlyOnChange(t *testing.T) {
	f := &fakeLedger{}
	f.set(nil, entry("1", ledger.StatusApproved))
	c := New(f, time.Hour, time.Second)
	var changes int32
	c.OnChange(func([]Notification) { atomic.AddInt32(&changes, 1) })
	require.NoError(t, c.Activate("acc-1"))
	defer c.Deactivate()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&changes) == 1 }, time.Second, time.Millisecond)

	refresh(t, c, f)
	assert.EqualValues(t, 1, atomic.LoadInt32(&changes))

	c.Dismiss("1")
	assert.EqualValues(t, 2, atomic.LoadInt32(&changes))
	assert.False(t, c.Dismiss("1"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&changes))
}

func TestActivateRequiresAccount(t *testing.T) {
	c := New(&fakeLedger{}, time.Hour, time.Second)
	assert.Equal(t, ErrNoAccount, c.Activate(""))
}

func TestApprovedMessage(t *testing.T) {
	n := Notification{Status: ledger.StatusApproved, Amount: decimal.RequireFromString("50")}
	assert.Equal(t, "Deposit approved", n.Title())
	assert.Equal(t, "Your deposit of 50.00 has been added to your balance.", n.Message())
}

func TestChangesAreDeliveredInOrder(t *testing.T) {
	f := &fakeLedger{}
	f.set(nil, entry("7", ledger.StatusRejected))
	c := New(f, time.Hour, time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	var m sync.Mutex
	var published [][]string
	first := true
	c.OnChange(func(ns []Notification) {
		m.Lock()
		wasFirst := first
		first = false
		m.Unlock()
		if wasFirst {
			close(entered)
			<-release
		}
		m.Lock()
		published = append(published, ids(ns))
		m.Unlock()
	})
	require.NoError(t, c.Activate("acc-1"))
	defer c.Deactivate()
	<-entered

	dismissed := make(chan bool)
	go func() { dismissed <- c.Dismiss("7") }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	assert.True(t, <-dismissed)

	refresh(t, c, f)

	m.Lock()
	defer m.Unlock()
	assert.Equal(t, [][]string{{"7"}, {}}, published)
	assert.Empty(t, c.Visible())
}
