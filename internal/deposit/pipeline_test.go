package deposit

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
	"github.com/wallute/walletsync/internal/toast"
)

var pngReceipt = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fakeLedger struct {
	calls int32
	gate  chan struct{}
	err   error

	m    sync.Mutex
	last ledger.DepositRequest
}

func (f *fakeLedger) SubmitDeposit(ctx context.Context, d ledger.DepositRequest) error {
	atomic.AddInt32(&f.calls, 1)
	f.m.Lock()
	f.last = d
	f.m.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.err
}

type counter struct{ n int32 }

func (c *counter) RefreshNow() { atomic.AddInt32(&c.n, 1) }

func (c *counter) count() int32 { return atomic.LoadInt32(&c.n) }

type toastRecorder struct {
	m     sync.Mutex
	shown []toast.Toast
}

func (r *toastRecorder) Show(message string, kind toast.Kind) {
	r.m.Lock()
	r.shown = append(r.shown, toast.Toast{Message: message, Kind: kind})
	r.m.Unlock()
}

func (r *toastRecorder) all() []toast.Toast {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]toast.Toast(nil), r.shown...)
}

type fixture struct {
	ledger      *fakeLedger
	balance     *counter
	history     *counter
	toasts      *toastRecorder
	pipeline    *Pipeline
	m           sync.Mutex
	transitions []State
}

func newFixture(f *fakeLedger) *fixture {
	fx := &fixture{ledger: f, balance: &counter{}, history: &counter{}, toasts: &toastRecorder{}}
	limits := Limits{MaxReceiptSize: 1 << 20, AcceptedTypes: []string{"image/"}}
	fx.pipeline = New(f, fx.balance, fx.history, fx.toasts, limits, time.Second)
	fx.pipeline.OnTransition(func(s State) {
		fx.m.Lock()
		fx.transitions = append(fx.transitions, s)
		fx.m.Unlock()
	})
	fx.pipeline.SetIdentity(Identity{AccountID: "acc-1", Email: "jane@example.com", DisplayName: "Jane"})
	return fx
}

func (fx *fixture) states() []State {
	fx.m.Lock()
	defer fx.m.Unlock()
	return append([]State(nil), fx.transitions...)
}

func fill(t *testing.T, p *Pipeline, amount string, data []byte) {
	t.Helper()
	require.NoError(t, p.SetAmount(amount))
	if data != nil {
		require.NoError(t, p.SetReceipt(&ledger.Receipt{Filename: "slip.png", Data: data}))
	}
}

func TestSuccessfulDeposit(t *testing.T) {
	fx := newFixture(&fakeLedger{})
	fill(t, fx.pipeline, "50.00", pngReceipt)

	require.NoError(t, fx.pipeline.Submit(context.Background()))

	assert.Equal(t, []State{Validating, Submitting, Succeeded, Idle}, fx.states())
	assert.EqualValues(t, 1, atomic.LoadInt32(&fx.ledger.calls))
	assert.EqualValues(t, 1, fx.balance.count())
	assert.EqualValues(t, 1, fx.history.count())

	toasts := fx.toasts.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, toast.Success, toasts[0].Kind)
	assert.Contains(t, toasts[0].Message, "acc-1")

	amount, receipt := fx.pipeline.Form()
	assert.Empty(t, amount)
	assert.Nil(t, receipt)

	sent := fx.ledger.last
	assert.Equal(t, "acc-1", sent.AccountID)
	assert.Equal(t, "jane@example.com", sent.Email)
	assert.Equal(t, "Jane", sent.Username)
	assert.True(t, decimal.New(50, 0).Equal(sent.Amount))
	assert.Equal(t, "image/png", sent.Receipt.MediaType)
	assert.Equal(t, "slip.png", sent.Receipt.Filename)
}

func TestMissingReceipt(t *testing.T) {
	fx := newFixture(&fakeLedger{})
	fill(t, fx.pipeline, "50.00", nil)

	err := fx.pipeline.Submit(context.Background())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	assert.Equal(t, []State{Validating, Failed, Idle}, fx.states())
	assert.Zero(t, atomic.LoadInt32(&fx.ledger.calls))
	toasts := fx.toasts.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, toast.Error, toasts[0].Kind)
	assert.Equal(t, verr.Message, toasts[0].Message)

	amount, _ := fx.pipeline.Form()
	assert.Equal(t, "50.00", amount)
	assert.Zero(t, fx.balance.count())
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		id      Identity
		amount  string
		receipt []byte
		limits  Limits
	}{
		{"no account", Identity{}, "50", pngReceipt, Limits{}},
		{"empty amount", Identity{AccountID: "a"}, "", pngReceipt, Limits{}},
		{"zero amount", Identity{AccountID: "a"}, "0", pngReceipt, Limits{}},
		{"negative amount", Identity{AccountID: "a"}, "-5", pngReceipt, Limits{}},
		{"not a number", Identity{AccountID: "a"}, "fifty", pngReceipt, Limits{}},
		{"too precise", Identity{AccountID: "a"}, "1.001", pngReceipt, Limits{}},
		{"empty receipt", Identity{AccountID: "a"}, "50", []byte{}, Limits{}},
		{"below minimum", Identity{AccountID: "a"}, "50", pngReceipt, Limits{MinimumAmount: decimal.New(100, 0)}},
		{"too large", Identity{AccountID: "a"}, "50", pngReceipt, Limits{MaxReceiptSize: 4}},
		{"not an image", Identity{AccountID: "a"}, "50", []byte("just some text"), Limits{AcceptedTypes: []string{"image/"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &ledger.Receipt{Data: tc.receipt}
			_, err := validate(tc.id, tc.amount, r, tc.limits)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "%v", err)
			assert.NotEmpty(t, verr.Message)
		})
	}
}

func TestValidateAcceptsAnyTypeWithoutRestriction(t *testing.T) {
	req, err := validate(Identity{AccountID: "a"}, "100", &ledger.Receipt{Data: []byte("%PDF-1.4\n")}, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", req.Receipt.MediaType)
}

func TestLedgerFailureKeepsForm(t *testing.T) {
	fx := newFixture(&fakeLedger{err: &ledger.UnavailableError{Op: "submit-deposit", Err: errors.New("HTTPError(status=500)")}})
	fill(t, fx.pipeline, "50.00", pngReceipt)

	err := fx.pipeline.Submit(context.Background())
	assert.True(t, errors.Is(err, ledger.ErrLedgerUnavailable))
	assert.Equal(t, []State{Validating, Submitting, Failed, Idle}, fx.states())

	toasts := fx.toasts.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, toast.Error, toasts[0].Kind)
	assert.Equal(t, failureMessage, toasts[0].Message)
	assert.NotContains(t, toasts[0].Message, "500")

	amount, receipt := fx.pipeline.Form()
	assert.Equal(t, "50.00", amount)
	require.NotNil(t, receipt)
	assert.Equal(t, "slip.png", receipt.Filename)
	assert.Zero(t, fx.balance.count())
	assert.Zero(t, fx.history.count())
	assert.False(t, fx.pipeline.Busy())
}

func TestAtMostOneSubmissionInFlight(t *testing.T) {
	f := &fakeLedger{gate: make(chan struct{})}
	fx := newFixture(f)
	fill(t, fx.pipeline, "50.00", pngReceipt)

	first := make(chan error, 1)
	go func() { first <- fx.pipeline.Submit(context.Background()) }()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.calls) == 1 }, time.Second, time.Millisecond)
	assert.True(t, fx.pipeline.Busy())

	var wg sync.WaitGroup
	var duplicates int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(fx.pipeline.Submit(context.Background()), ErrDuplicateSubmission) {
				atomic.AddInt32(&duplicates, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 20, atomic.LoadInt32(&duplicates))
	assert.Equal(t, ErrFormLocked, fx.pipeline.SetAmount("1"))

	close(f.gate)
	require.NoError(t, <-first)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
	assert.Len(t, fx.toasts.all(), 1)
}

func TestRetryAfterFailure(t *testing.T) {
	f := &fakeLedger{err: errors.New("down")}
	fx := newFixture(f)
	fill(t, fx.pipeline, "75", pngReceipt)
	require.Error(t, fx.pipeline.Submit(context.Background()))

	f.err = nil
	require.NoError(t, fx.pipeline.Submit(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
	assert.True(t, decimal.New(75, 0).Equal(f.last.Amount))
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "submitting", Submitting.String())
	b, err := Succeeded.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "succeeded", string(b))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("failed")))
	assert.Equal(t, Failed, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
