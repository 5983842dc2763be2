package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/log"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/wallute/walletsync/internal/metrics"
)

const (
	opBalance = "get-balance"
	opHistory = "get-history"
	opSubmit  = "submit-deposit"

	maxResponseSize = 4 << 20

	// Sent when the account has no email, the ledger requires the field.
	noEmail = "no-email"
)

var errEmptyBalance = errors.New("balance response has neither total_balance nor pending_balance")

// Client talks to the remote ledger service.
// It keeps no state about accounts between calls.
type Client struct {
	url     string
	client  http.Client
	breaker circuitbreaker.CircuitBreaker[any]
}

type Option func(*Client)

// WithCircuitBreaker stops calling the ledger after failures consecutive errors
// and tries again after delay. Calls rejected by an open breaker fail with
// ErrLedgerUnavailable like any other failure.
func WithCircuitBreaker(failures uint, delay time.Duration) Option {
	return func(c *Client) {
		if failures == 0 {
			return
		}
		c.breaker = circuitbreaker.NewBuilder[any]().
			WithFailureThreshold(failures).
			WithDelay(delay).
			OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
				log.Warningf("ledger circuit breaker changed state: %s -> %s", stateName(e.OldState), stateName(e.NewState))
			}).
			Build()
	}
}

func New(ledgerURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		url: strings.TrimRight(ledgerURL, "/"),
		client: http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetBalance returns the current available and pending balance of the account.
func (c *Client) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	if accountID == "" {
		return Balance{}, ErrNoAccount
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountURL("/get-balance", accountID), nil)
	if err != nil {
		return Balance{}, err
	}
	var b Balance
	err = c.call(opBalance, req, func(body []byte) error {
		var response balanceResponse
		err2 := json.Unmarshal(body, &response)
		if err2 != nil {
			return err2
		}
		if response.TotalBalance == nil && response.PendingBalance == nil {
			return errEmptyBalance
		}
		b, err2 = response.balance()
		return err2
	})
	if err != nil {
		return Balance{}, err
	}
	b.FetchedAt = time.Now().UTC()
	return b, nil
}

// GetHistory returns the deposit history of the account in the order sent by the ledger.
func (c *Client) GetHistory(ctx context.Context, accountID string) ([]Entry, error) {
	if accountID == "" {
		return nil, ErrNoAccount
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountURL("/get-history", accountID), nil)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	err = c.call(opHistory, req, func(body []byte) error {
		var response []entryResponse
		if err2 := json.Unmarshal(body, &response); err2 != nil {
			return err2
		}
		entries = make([]Entry, 0, len(response))
		for _, r := range response {
			e, err2 := r.entry()
			if err2 != nil {
				return err2
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SubmitDeposit uploads the receipt with the claimed amount.
// A 2xx response means the ledger has created a pending entry.
func (c *Client) SubmitDeposit(ctx context.Context, deposit DepositRequest) error {
	if deposit.AccountID == "" {
		return ErrNoAccount
	}
	body, contentType, err := encodeDeposit(deposit)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/submit-deposit", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.call(opSubmit, req, nil)
}

func (c *Client) accountURL(path, accountID string) string {
	q := url.Values{}
	q.Set("userId", accountID)
	return c.url + path + "?" + q.Encode()
}

// call executes req through the circuit breaker and hands a successful body to decode.
// Every error returned from here matches ErrLedgerUnavailable.
func (c *Client) call(op string, req *http.Request, decode func([]byte) error) error {
	start := time.Now()
	fn := func() error {
		body, err := c.callNow(req)
		if err != nil {
			return err
		}
		if decode == nil {
			return nil
		}
		return decode(body)
	}
	var err error
	if c.breaker != nil {
		_, err = failsafe.With(c.breaker).Get(func() (any, error) {
			return nil, fn()
		})
	} else {
		err = fn()
	}
	metrics.LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LedgerRequests.WithLabelValues(op, "error").Inc()
		return unavailable(op, err)
	}
	metrics.LedgerRequests.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *Client) callNow(req *http.Request) ([]byte, error) {
	log.Debugf("ledger request: %s %s", req.Method, req.URL.Path)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	log.Debugf("ledger response: %d - %#v", resp.StatusCode, string(body))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	return body, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeDeposit(deposit DepositRequest) (io.Reader, string, error) {
	email := deposit.Email
	if email == "" {
		email = noEmail
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := []struct{ name, value string }{
		{"userId", deposit.AccountID},
		{"email", email},
		{"username", deposit.Username},
		{"amount", deposit.Amount.StringFixed(amountPlaces)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	filename := deposit.Receipt.Filename
	if filename == "" {
		filename = "receipt"
	}
	mediaType := deposit.Receipt.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="receipt"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", mediaType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err = part.Write(deposit.Receipt.Data); err != nil {
		return nil, "", err
	}
	if err = w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}
