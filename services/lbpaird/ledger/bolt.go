// Package ledger persists LP share balances in BoltDB. Each pair owns a
// bucket keyed by owner address and bin id, and a batch of share changes is
// written in one Bolt transaction.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"

	"liquiditybook/native/lb"
)

var bucketShares = []byte("shares")

// ErrPairRequired is returned when a ledger is requested without a pair name.
var ErrPairRequired = errors.New("ledger: pair name required")

// Open opens (creating if needed) the Bolt file backing every pair ledger.
func Open(path string, options *bolt.Options) (*bolt.DB, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketShares)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Position is one bin holding of an owner.
type Position struct {
	ID     uint32
	Shares *uint256.Int
}

// Store is the lb.ShareLedger of a single pair.
type Store struct {
	db   *bolt.DB
	pair []byte
}

var _ lb.ShareLedger = (*Store)(nil)

// New returns the ledger of pair, creating its bucket.
func New(db *bolt.DB, pair string) (*Store, error) {
	if pair == "" {
		return nil, ErrPairRequired
	}
	s := &Store{db: db, pair: []byte(pair)}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.Bucket(bucketShares).CreateBucketIfNotExists(s.pair)
		return err
	}); err != nil {
		return nil, fmt.Errorf("ledger: create bucket %s: %w", pair, err)
	}
	return s, nil
}

func shareKey(owner common.Address, id uint32) []byte {
	key := make([]byte, common.AddressLength+4)
	copy(key, owner.Bytes())
	binary.BigEndian.PutUint32(key[common.AddressLength:], id)
	return key
}

func (s *Store) bucket(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(bucketShares).Bucket(s.pair)
}

func (s *Store) BalanceOf(owner common.Address, id uint32) (*uint256.Int, error) {
	balance := new(uint256.Int)
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := s.bucket(tx).Get(shareKey(owner, id)); raw != nil {
			balance.SetBytes(raw)
		}
		return nil
	})
	return balance, err
}

// Apply writes the batch in one Bolt transaction, so a rejected change leaves
// every balance untouched.
func (s *Store) Apply(changes []lb.ShareChange) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := s.bucket(tx)
		for _, change := range changes {
			key := shareKey(change.Owner, change.ID)
			balance := new(uint256.Int)
			if raw := b.Get(key); raw != nil {
				balance.SetBytes(raw)
			}
			updated, err := lb.ApplyShareChange(balance, change)
			if err != nil {
				return err
			}
			if updated.IsZero() {
				if err := b.Delete(key); err != nil {
					return err
				}
				continue
			}
			encoded := updated.Bytes32()
			if err := b.Put(key, encoded[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Positions lists every bin in which owner holds shares, by ascending id.
func (s *Store) Positions(owner common.Address) ([]Position, error) {
	var out []Position
	prefix := owner.Bytes()
	err := s.db.View(func(tx *bolt.Tx) error {
		c := s.bucket(tx).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) == common.AddressLength+4 && common.BytesToAddress(k[:common.AddressLength]) == owner; k, v = c.Next() {
			out = append(out, Position{
				ID:     binary.BigEndian.Uint32(k[common.AddressLength:]),
				Shares: new(uint256.Int).SetBytes(v),
			})
		}
		return nil
	})
	return out, err
}
