package deposit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/log"
	"golang.org/x/crypto/blake2b"

	"github.com/wallute/walletsync/internal/ledger"
	"github.com/wallute/walletsync/internal/metrics"
	"github.com/wallute/walletsync/internal/toast"
	"github.com/wallute/walletsync/internal/units"
)

var (
	// ErrDuplicateSubmission is returned by Submit while another submission is in flight.
	ErrDuplicateSubmission = errors.New("deposit submission already in progress")
	// ErrFormLocked is returned by form edits while a submission is in flight.
	ErrFormLocked = errors.New("deposit form is locked during submission")
)

const failureMessage = "Something went wrong while submitting your deposit. Please try again."

type State int

const (
	Idle State = iota
	Validating
	Submitting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, Validating, Submitting, Succeeded, Failed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("invalid deposit state: %q", b)
}

type Submitter interface {
	SubmitDeposit(ctx context.Context, deposit ledger.DepositRequest) error
}

// Refresher is triggered after a deposit has been accepted.
type Refresher interface {
	RefreshNow()
}

type Toaster interface {
	Show(message string, kind toast.Kind)
}

// Pipeline owns the deposit form of one account and submits it to the ledger.
// Only one submission may be in flight at a time.
type Pipeline struct {
	ledger       Submitter
	balance      Refresher
	history      Refresher
	toasts       Toaster
	limits       Limits
	timeout      time.Duration
	onTransition func(State)

	m        sync.Mutex
	state    State
	identity Identity
	amount   string
	receipt  *ledger.Receipt
}

func New(l Submitter, balance, history Refresher, toasts Toaster, limits Limits, timeout time.Duration) *Pipeline {
	return &Pipeline{
		ledger:  l,
		balance: balance,
		history: history,
		toasts:  toasts,
		limits:  limits,
		timeout: timeout,
	}
}

// OnTransition registers f to be called on every state change.
// It runs with the pipeline locked and must not call back into the pipeline.
// Must be set before the first Submit.
func (p *Pipeline) OnTransition(f func(State)) {
	p.onTransition = f
}

func (p *Pipeline) SetIdentity(id Identity) {
	p.m.Lock()
	p.identity = id
	p.m.Unlock()
}

func (p *Pipeline) SetAmount(amount string) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.state != Idle {
		return ErrFormLocked
	}
	p.amount = amount
	return nil
}

// SetReceipt attaches the proof of payment. Nil detaches it.
func (p *Pipeline) SetReceipt(r *ledger.Receipt) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.state != Idle {
		return ErrFormLocked
	}
	p.receipt = r
	return nil
}

// Form returns the entered amount and attached receipt.
func (p *Pipeline) Form() (string, *ledger.Receipt) {
	p.m.Lock()
	defer p.m.Unlock()
	return p.amount, p.receipt
}

func (p *Pipeline) State() State {
	p.m.Lock()
	defer p.m.Unlock()
	return p.state
}

// Busy reports whether the submit control should be disabled.
func (p *Pipeline) Busy() bool {
	return p.State() != Idle
}

// Submit validates the form and sends it to the ledger.
// Validation failures return a *ValidationError and never reach the network.
// Ledger failures match ledger.ErrLedgerUnavailable and keep the form for a retry.
func (p *Pipeline) Submit(ctx context.Context) error {
	p.m.Lock()
	if p.state != Idle {
		p.m.Unlock()
		metrics.DepositSubmissions.WithLabelValues("duplicate").Inc()
		log.Debugln("ignoring deposit submission while another is in flight")
		return ErrDuplicateSubmission
	}
	p.transition(Validating)
	req, err := validate(p.identity, p.amount, p.receipt, p.limits)
	if err != nil {
		p.transition(Failed)
		p.transition(Idle)
		p.m.Unlock()
		metrics.DepositSubmissions.WithLabelValues("invalid").Inc()
		log.Debugln("deposit validation failed:", err.Error())
		p.toasts.Show(err.Error(), toast.Error)
		return err
	}
	p.transition(Submitting)
	p.m.Unlock()

	log.Infof("submitting deposit: account=%s amount=%s receipt=%s", req.AccountID, units.Format(req.Amount), fingerprint(req.Receipt.Data))
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	err = p.ledger.SubmitDeposit(ctx, req)

	p.m.Lock()
	if err != nil {
		p.transition(Failed)
		p.transition(Idle)
		p.m.Unlock()
		metrics.DepositSubmissions.WithLabelValues("failed").Inc()
		log.Errorf("deposit submission failed for account %s: %s", req.AccountID, err.Error())
		p.toasts.Show(failureMessage, toast.Error)
		return err
	}
	p.transition(Succeeded)
	p.amount = ""
	p.receipt = nil
	p.transition(Idle)
	p.m.Unlock()

	metrics.DepositSubmissions.WithLabelValues("succeeded").Inc()
	log.Infof("deposit submitted: account=%s amount=%s", req.AccountID, units.Format(req.Amount))
	p.balance.RefreshNow()
	p.history.RefreshNow()
	p.toasts.Show(fmt.Sprintf("Deposit request for ID %s submitted successfully.", req.AccountID), toast.Success)
	return nil
}

func (p *Pipeline) transition(s State) {
	p.state = s
	if p.onTransition != nil {
		p.onTransition(s)
	}
}

// fingerprint identifies a receipt in logs without printing its contents.
func fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
