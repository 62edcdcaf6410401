package state

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Sequence hands out transaction ids. Ids are strictly increasing for the
// lifetime of the sequence.
type Sequence interface {
	Next() (int, error)
}

// MemorySequence is an in-process counter.
type MemorySequence struct {
	last atomic.Int64
}

// NewMemorySequence creates a counter whose first id is start+1.
func NewMemorySequence(start int) *MemorySequence {
	s := &MemorySequence{}
	s.last.Store(int64(start))
	return s
}

func (s *MemorySequence) Next() (int, error) {
	return int(s.last.Add(1)), nil
}

var sequenceKey = []byte("sequence:transactionId")

// BadgerSequence keeps the last issued id in a badger database so ids keep
// increasing across restarts.
type BadgerSequence struct {
	db    *badger.DB
	start int
}

// OpenBadgerSequence opens (or creates) the database at path. A new database
// issues start+1 first.
func OpenBadgerSequence(path string, start int) (*BadgerSequence, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction database %s: %w", path, err)
	}
	return &BadgerSequence{db: db, start: start}, nil
}

func (s *BadgerSequence) Next() (int, error) {
	var next int
	err := s.db.Update(func(txn *badger.Txn) error {
		last := s.start
		item, err := txn.Get(sequenceKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if last, err = strconv.Atoi(string(v)); err != nil {
				return fmt.Errorf("corrupt transaction sequence: %w", err)
			}
		}
		next = last + 1
		return txn.Set(sequenceKey, []byte(strconv.Itoa(next)))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate transaction id: %w", err)
	}
	return next, nil
}

func (s *BadgerSequence) Close() error {
	return s.db.Close()
}
