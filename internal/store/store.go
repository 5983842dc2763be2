package store

import (
	"encoding/json"
	"errors"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wallute/walletsync/internal/ledger"
)

const balancesBucket = "balances"

var ErrNotFound = errors.New("balance not found")

// Store remembers the last good balance of every account across restarts.
// It is a display cache only; the ledger stays the source of truth.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, txErr := tx.CreateBucketIfNotExists([]byte(balancesBucket))
		return txErr
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadBalance fetches the cached balance of an account.
func (s *Store) LoadBalance(accountID string) (ledger.Balance, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(balancesBucket))
		v := b.Get([]byte(accountID))
		if v == nil {
			return nil
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		return ledger.Balance{}, err
	}
	if value == nil {
		return ledger.Balance{}, ErrNotFound
	}
	var balance ledger.Balance
	err = json.Unmarshal(value, &balance)
	return balance, err
}

// SaveBalance replaces the cached balance of an account.
func (s *Store) SaveBalance(accountID string, balance ledger.Balance) error {
	value, err := json.Marshal(&balance)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(balancesBucket))
		return b.Put([]byte(accountID), value)
	})
}

// DeleteBalance removes the cached balance of an account.
func (s *Store) DeleteBalance(accountID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(balancesBucket)).Delete([]byte(accountID))
	})
}
