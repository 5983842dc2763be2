package ledger

import (
	"errors"
	"fmt"
)

// ErrLedgerUnavailable matches every failure of a ledger call:
// transport errors, non-2xx responses and malformed bodies alike.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// ErrNoAccount is returned without touching the network when the account id is empty.
var ErrNoAccount = errors.New("empty account id")

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTPError(status=%d, body=%q)", e.StatusCode, e.Body)
}

// UnavailableError wraps the underlying cause of a failed ledger call.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable: %s: %s", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrLedgerUnavailable
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}
