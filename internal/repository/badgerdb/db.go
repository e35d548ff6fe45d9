// Package badgerdb implements the block, transaction and address leaf-store
// contracts over badger key-value databases, one per store, under the data
// directory.
//
// Writes are staged in memory and made durable in two steps, matching the
// coordinator's protocol: Commit applies the staged mutations to the
// database, Flush syncs the database files.
package badgerdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/chainstore7000/internal/chain"
)

// db wraps one badger database with a staged write set.
type db struct {
	logger *zap.Logger
	path   string

	bdb *badger.DB

	mu   sync.RWMutex
	puts map[string][]byte
	dels map[string]struct{}
}

func newDB(path string, logger *zap.Logger) *db {
	return &db{
		logger: logger,
		path:   path,
		puts:   make(map[string][]byte),
		dels:   make(map[string]struct{}),
	}
}

func (d *db) exists() bool {
	_, err := os.Stat(filepath.Join(d.path, "MANIFEST"))
	return err == nil
}

// create initializes the backing files. Not idempotent.
func (d *db) create(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.exists() {
		return fmt.Errorf("database %s already exists", d.path)
	}
	return d.openBadger()
}

// open opens existing backing files, failing when they are missing.
func (d *db) open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.exists() {
		return fmt.Errorf("database %s does not exist", d.path)
	}
	return d.openBadger()
}

func (d *db) openBadger() error {
	opts := badger.DefaultOptions(d.path).
		WithLogger(nil).
		WithSyncWrites(false)
	bdb, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger %s: %w", d.path, err)
	}
	d.bdb = bdb
	return nil
}

func (d *db) close() error {
	if d.bdb == nil {
		return nil
	}
	err := d.bdb.Close()
	d.bdb = nil
	return err
}

func (d *db) flush() error {
	if d.bdb == nil {
		return errors.New("database not open")
	}
	return d.bdb.Sync()
}

// commit applies the staged write set in one transaction and clears it.
func (d *db) commit() error {
	if d.bdb == nil {
		return errors.New("database not open")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.puts) == 0 && len(d.dels) == 0 {
		return nil
	}

	err := d.bdb.Update(func(txn *badger.Txn) error {
		for k, v := range d.puts {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		for k := range d.dels {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", d.path, err)
	}

	d.puts = make(map[string][]byte)
	d.dels = make(map[string]struct{})
	return nil
}

func (d *db) stagePut(key, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dels, string(key))
	d.puts[string(key)] = value
}

func (d *db) stageDelete(key []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.puts, string(key))
	d.dels[string(key)] = struct{}{}
}

// get reads through the staged write set into the database.
func (d *db) get(key []byte) ([]byte, error) {
	d.mu.RLock()
	if v, ok := d.puts[string(key)]; ok {
		d.mu.RUnlock()
		return v, nil
	}
	if _, ok := d.dels[string(key)]; ok {
		d.mu.RUnlock()
		return nil, chain.ErrNotFound
	}
	d.mu.RUnlock()

	if d.bdb == nil {
		return nil, errors.New("database not open")
	}
	var value []byte
	err := d.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, chain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", d.path, err)
	}
	return value, nil
}

// scan returns every key/value under the prefix, merged with the staged
// write set.
func (d *db) scan(prefix []byte) (map[string][]byte, error) {
	if d.bdb == nil {
		return nil, errors.New("database not open")
	}

	out := make(map[string][]byte)
	err := d.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.KeyCopy(nil))] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", d.path, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for k, v := range d.puts {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			out[k] = v
		}
	}
	for k := range d.dels {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			delete(out, k)
		}
	}
	return out, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid uint64 value length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
