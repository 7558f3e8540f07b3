// Package storage adapts github.com/dgraph-io/badger/v3 to ports.StoragePort.
// Every mutating operation runs inside a single badger transaction so
// TTL bookkeeping never drifts from the value it governs.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

const (
	ttlKeyPrefix = "ttl:"
)

// BadgerStore is the durable key/value backing for both the State Store
// and the Job Queue.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open creates or reuses the badger database rooted at dataDir.
func Open(dataDir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.NewDiscoveryError("badger-store", "open", err)
	}

	return &BadgerStore{db: db, logger: logger.With("component", "storage")}, nil
}

func (s *BadgerStore) Get(key string) (value []byte, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		exists = true
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, exists, err
}

func (s *BadgerStore) Put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *BadgerStore) PutWithTTL(key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		expireAt, _ := time.Now().Add(ttl).MarshalBinary()
		return txn.Set([]byte(ttlKeyPrefix+key), expireAt)
	})
}

func (s *BadgerStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		_ = txn.Delete([]byte(ttlKeyPrefix + key))
		return nil
	})
}

func (s *BadgerStore) BatchWrite(ops []ports.WriteOp) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			switch op.Type {
			case ports.OpPut:
				if err := txn.Set([]byte(op.Key), op.Value); err != nil {
					return err
				}
			case ports.OpDelete:
				if err := txn.Delete([]byte(op.Key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
			default:
				return domain.ErrInvalidInput
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetNext(prefix string) (key string, value []byte, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if isMetadataKey(item.Key()) {
				continue
			}
			key = string(item.Key())
			exists = true
			value, err = item.ValueCopy(nil)
			return err
		}
		return nil
	})
	return key, value, exists, err
}

func (s *BadgerStore) GetNextAfter(prefix, afterKey string) (key string, value []byte, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte(afterKey))
		if it.Valid() && string(it.Item().Key()) == afterKey {
			it.Next()
		}

		for ; it.Valid(); it.Next() {
			item := it.Item()
			if isMetadataKey(item.Key()) {
				continue
			}
			key = string(item.Key())
			exists = true
			value, err = item.ValueCopy(nil)
			return err
		}
		return nil
	})
	return key, value, exists, err
}

func (s *BadgerStore) CountPrefix(prefix string) (count int, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if isMetadataKey(it.Item().Key()) {
				continue
			}
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) ListByPrefix(prefix string) ([]ports.KeyValue, error) {
	var results []ports.KeyValue
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if isMetadataKey(item.Key()) {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			results = append(results, ports.KeyValue{Key: string(item.Key()), Value: value})
		}
		return nil
	})
	return results, err
}

// AtomicIncrement implements a monotonically increasing sequence used by the
// job queue to assign FIFO ordering keys; badger has no native counter type
// so the increment happens inside a serializable read-modify-write transaction.
func (s *BadgerStore) AtomicIncrement(key string) (newValue int64, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, gerr := txn.Get([]byte(key))
		if gerr == nil {
			raw, cerr := item.ValueCopy(nil)
			if cerr != nil {
				return cerr
			}
			current = decodeInt64(raw)
		} else if !errors.Is(gerr, badger.ErrKeyNotFound) {
			return gerr
		}

		newValue = current + 1
		return txn.Set([]byte(key), encodeInt64(newValue))
	})
	return newValue, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC triggers badger's value-log garbage collection; safe to call
// periodically from a background ticker (see core.Engine.runGC).
func (s *BadgerStore) RunGC(ratio float64) error {
	err := s.db.RunValueLogGC(ratio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

func isMetadataKey(key []byte) bool {
	return len(key) >= len(ttlKeyPrefix) && string(key[:len(ttlKeyPrefix)]) == ttlKeyPrefix
}

func encodeInt64(v int64) []byte {
	return []byte(fmt.Sprintf("%020d", v))
}

func decodeInt64(b []byte) int64 {
	var v int64
	_, err := fmt.Sscanf(string(b), "%020d", &v)
	if err != nil {
		return 0
	}
	return v
}

var _ ports.StoragePort = (*BadgerStore)(nil)
