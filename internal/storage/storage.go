package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond

	// cacheSize is the block cache size shared by on-disk and in-memory stores.
	cacheSize = 32 << 20
)

// errStop ends an iteration early.
var errStop = errors.New("stop iteration")

// KeyValue represents a key-value pair for batch operations.
type KeyValue struct {
	Key   []byte // Key is the key to store
	Value []byte // Value is the value to store
}

// Storage provides a simple key-value store backed by Pebble.
// On-disk stores write with NoSync and a background goroutine periodically
// syncs the WAL; in-memory stores live on a vfs.MemFS and need no syncing.
type Storage struct {
	db       *pebble.DB    // db is the underlying Pebble database
	inMemory bool          // inMemory is true for stores opened with NewMemory
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
}

// New opens an on-disk Storage at the given path.
// It starts a background goroutine that syncs the WAL periodically.
func New(path string) (*Storage, error) {
	db, err := pebble.Open(path, baseOptions())
	if err != nil {
		return nil, err
	}

	s := &Storage{
		db:       db,
		stopSync: make(chan struct{}),
	}

	s.startSyncLoop()

	return s, nil
}

// NewMemory opens a Storage whose files live entirely in memory.
// Closing it discards every key, which is how a size point is torn down.
func NewMemory() (*Storage, error) {
	opts := baseOptions()
	opts.FS = vfs.NewMem()

	db, err := pebble.Open("", opts)
	if err != nil {
		return nil, err
	}

	return &Storage{db: db, inMemory: true}, nil
}

// baseOptions returns the Pebble options shared by both store kinds.
func baseOptions() *pebble.Options {
	return &pebble.Options{
		Cache:                       pebble.NewCache(cacheSize),
		MemTableSize:                16 << 20, // 16 MB memtable
		MemTableStopWritesThreshold: 2,
	}
}

// InMemory reports whether the store was opened with NewMemory.
func (s *Storage) InMemory() bool {
	return s.inMemory
}

// Get retrieves the value for the given key.
// Returns nil if the key does not exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// Copy the value since it's invalid after closer.Close()
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Has reports whether the key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, closer.Close()
}

// Set stores a key-value pair.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Delete removes a key from the store.
func (s *Storage) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// SetBatch atomically stores multiple key-value pairs.
// Either all pairs are written or none.
func (s *Storage) SetBatch(pairs []KeyValue) error {
	batch := s.NewBatch()
	defer batch.Close()

	for _, kv := range pairs {
		if err := batch.Set(kv.Key, kv.Value); err != nil {
			return err
		}
	}

	return batch.Commit()
}

// Batch groups sets and deletes that are committed atomically.
// Operations are applied in the order they were added.
type Batch struct {
	b *pebble.Batch
}

// NewBatch starts an empty write batch.
func (s *Storage) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

// Set queues a key-value write.
func (b *Batch) Set(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

// Delete queues a key deletion.
func (b *Batch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return int(b.b.Count())
}

// Commit applies every queued operation.
func (b *Batch) Commit() error {
	return b.b.Commit(pebble.NoSync)
}

// Close releases the batch. Safe to call after Commit.
func (b *Batch) Close() error {
	return b.b.Close()
}

// Iterate calls fn for each key-value pair in the database.
// If fn returns an error, iteration stops and the error is returned.
// Keys are visited in lexicographic order.
func (s *Storage) Iterate(fn func(key, value []byte) error) error {
	return s.iterate(nil, fn)
}

// IteratePrefix calls fn for each key-value pair with the given prefix.
// Uses Pebble's iterator bounds for efficient prefix scanning.
// The slices passed to fn are only valid until fn returns.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return s.iterate(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}, fn)
}

// CountPrefix returns the number of keys with the given prefix.
func (s *Storage) CountPrefix(prefix []byte) (int, error) {
	count := 0

	err := s.IteratePrefix(prefix, func(_, _ []byte) error {
		count++
		return nil
	})

	return count, err
}

// IsEmpty reports whether the store holds no keys.
func (s *Storage) IsEmpty() (bool, error) {
	err := s.Iterate(func(_, _ []byte) error {
		return errStop
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStop):
		return false, nil
	default:
		return false, err
	}
}

// iterate walks the keys within opts' bounds.
func (s *Storage) iterate(opts *pebble.IterOptions, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil // all 0xFF → unbounded
}

// Close stops the sync goroutine and closes the database.
// On-disk stores perform a final sync before closing.
func (s *Storage) Close() error {
	if s.inMemory {
		return s.db.Close()
	}

	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return err
	}

	return s.db.Close()
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (s *Storage) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
