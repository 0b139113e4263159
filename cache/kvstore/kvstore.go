// Package kvstore implements the key-value store backing the verifier's
// judged-transaction cache.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"

	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
)

// A key in the KVStore.
type CacheKey []byte

// A key-value store. Typed access goes through the generic helpers below,
// which take the store as their first argument.
type KVStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Close() error
}

type pogrebKVStore struct {
	db *pogreb.DB

	path    string
	logger  *log.Logger
	metrics *metrics.PoolMetrics // if nil, no metrics are emitted

	// Address of the atomic variable that indicates whether the store is initialized.
	// Synchronisation is required because the store is opened in background goroutine.
	initialized uint32
}

var _ KVStore = (*pogrebKVStore)(nil)

func (s *pogrebKVStore) isInitialized() bool {
	return atomic.LoadUint32(&s.initialized) == 1
}

// Get implements KVStore.
// NOTE: Cache hit/miss metrics are only captured by the typed helpers.
func (s *pogrebKVStore) Get(key []byte) ([]byte, error) {
	if b := s.isInitialized(); !b {
		return nil, fmt.Errorf("kvstore: not initialized yet")
	}
	return s.db.Get(key)
}

// Has implements KVStore.
func (s *pogrebKVStore) Has(key []byte) (bool, error) {
	if b := s.isInitialized(); !b {
		return false, nil
	}
	return s.db.Has(key)
}

// Put implements KVStore.
func (s *pogrebKVStore) Put(key []byte, value []byte) error {
	if b := s.isInitialized(); !b {
		// If the store is not initialized yet, skip writing to it.
		s.logger.Debug("skipping write to uninitialized KVStore", "key", key)
		return nil
	}
	return s.db.Put(key, value)
}

// Close implements KVStore.
func (s *pogrebKVStore) Close() error {
	if !s.isInitialized() {
		// If pogreb is in the middle of recovery in the background, it will
		// die and have to start over next time.
		s.logger.Warn("skipping closing uninitialized KVStore")
		return nil
	}
	s.logger.Info("closing KVStore", "path", s.path)
	return s.db.Close()
}

// Returns true if path exists. Uses simplified error handling
// to match pogreb's behavior.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Returns a list of files that match any of the patterns, but do not match any of the antipatterns.
func glob(patterns []string, antipatterns []string) ([]string, error) {
	files := map[string]struct{}{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			files[match] = struct{}{}
		}
	}
	for _, antipattern := range antipatterns {
		matches, err := filepath.Glob(antipattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			delete(files, match)
		}
	}
	filesArr := make([]string, 0, len(files))
	for k := range files {
		filesArr = append(filesArr, k)
	}
	return filesArr, nil
}

// Moves all files that match the src glob patterns to the destination directory.
// NOTE: If multiple source files have the same filename, one will clobber the others when moved!
func moveFiles(srcPatterns []string, srcAntipatters []string, dst string) error {
	files, err := glob(srcPatterns, srcAntipatters)
	if err != nil {
		return fmt.Errorf("unable to glob for files to move: %w", err)
	}

	// Create the destination directory.
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return fmt.Errorf("unable to create destination directory %s: %w", dst, err)
	}

	for _, srcFile := range files {
		dstFile := filepath.Join(dst, filepath.Base(srcFile))
		if err := os.Rename(srcFile, dstFile); err != nil {
			return fmt.Errorf("unable to move file %s to %s: %w", srcFile, dstFile, err)
		}
	}
	return nil
}

// Deletes all files that match the glob pattern.
func deleteFiles(pattern string) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("unable to glob for files %s to delete: %w", pattern, err)
	}
	var lastErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			lastErr = fmt.Errorf("unable to delete file %s: %w", f, err)
		}
	}
	return lastErr
}

// Gets rid of excessively backed-up pogreb index files.
// If we know pogreb will reindex, this deletes or possibly backs up the old index files.
func (s *pogrebKVStore) preBackup() {
	backupNeeded := pathExists(filepath.Join(s.path, "lock"))
	backupDir := filepath.Join(filepath.Dir(s.path), filepath.Base(s.path)+".backup")
	if backupNeeded {
		// pogreb is sure to try to back up its indexes and build new ones.
		s.logger.Info("pogreb lock file found; preemptively deleting or backing up indexes", "path", s.path, "backup_path", backupDir)
		if !pathExists(backupDir) { // If an older backup exists, keep that one.
			err := moveFiles(
				[]string{filepath.Join(s.path, "*")},
				[]string{
					filepath.Join(s.path, "*.psg"), // the data that needs to be reindexed
					filepath.Join(s.path, "lock"),  // will trigger a reindex
				},
				backupDir,
			)
			if err != nil {
				s.logger.Warn("failed to move pogreb index files to backup directory", "err", err, "path", s.path, "backup_path", backupDir)
			}
		}
	}
	// In rare cases, pogreb might still back up indexes even if "lock" is not present.
	// Also, our moving operation might have left files behind, e.g. because older backups existed.
	// Prevent build-up of extensively-long .bac.bac.bac.... filenames.
	if err := deleteFiles(filepath.Join(s.path, "*.bac.bac")); err != nil {
		s.logger.Warn("failed to delete excessively backed-up pogreb index files", "err", err)
	}
}

func (s *pogrebKVStore) init() error {
	// Pogreb backs up its indices into <oldname>.bac on every unclean open.
	// A crash-looping node would grow ".bac.bac..." names until pogreb can no
	// longer open the store, so clean up first.
	s.preBackup()

	// Open the DB. If a reindex is needed, this can take hours.
	s.logger.Info("(re)opening KVStore", "path", s.path)
	db, err := pogreb.Open(s.path, &pogreb.Options{BackgroundSyncInterval: -1})
	if err != nil {
		s.logger.Error("failed to initialize pogreb store", "err", err)
		return err
	}

	s.db = db
	atomic.StoreUint32(&s.initialized, 1)
	s.logger.Info(fmt.Sprintf("KVStore has %d entries", db.Count()))
	return nil
}

// OpenKVStore opens the KVStore at path, creating it if needed.
// metrics can be nil, in which case no metrics are emitted.
func OpenKVStore(logger *log.Logger, path string, metrics *metrics.PoolMetrics) (KVStore, error) {
	store := &pogrebKVStore{
		logger:  logger,
		path:    path,
		metrics: metrics,
	}

	// Pogreb reindexes on startup after a crash, which can take long:
	// https://github.com/akrylysov/pogreb/issues/35
	initErrCh := make(chan error, 1)
	go func() {
		initErrCh <- store.init()
	}()

	select {
	case err := <-initErrCh:
		// Database initialized in time.
		if err != nil {
			return nil, err
		}
		return store, nil
	case <-time.After(30 * time.Second):
		// Keep going without the cache until the reindex is done. Until then
		// every transaction looks unjudged, which is safe for the verifier.
		logger.Warn("KVStore initialization timed out, continuing without cache while the database is reindexing in the background")
		return store, nil
	}
}

// Pretty returns a human-readable version of the cache key. Intended only
// for debugging.
func (cacheKey CacheKey) Pretty() string {
	pretty := string(cacheKey)
	if len(pretty) > 100 {
		pretty = pretty[:95] + "[...]"
	}
	return pretty
}

var errNoSuchKey = errors.New("no such key")

func increaseReadCounter(cache KVStore, status metrics.CacheReadStatus) {
	var m *metrics.PoolMetrics
	switch c := cache.(type) {
	case *pogrebKVStore:
		m = c.metrics
	case *memoryKVStore:
		m = c.metrics
	}
	if m != nil {
		m.CacheReads(status).Inc()
	}
}

// fetchTypedValue fetches the value of key from the cache, interpreted as a Value.
func fetchTypedValue[Value any](cache KVStore, key CacheKey, value *Value) error {
	isCached, err := cache.Has(key)
	if err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return err
	}
	if !isCached {
		increaseReadCounter(cache, metrics.CacheReadStatusMiss)
		return errNoSuchKey
	}
	raw, err := cache.Get(key)
	if err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return fmt.Errorf("failed to fetch key %s from cache: %w", key.Pretty(), err)
	}
	if err = json.Unmarshal(raw, value); err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return fmt.Errorf("failed to unmarshal the value for key %s from cache into %T: %w; raw value was %x", key.Pretty(), value, err, raw)
	}
	increaseReadCounter(cache, metrics.CacheReadStatusHit)
	return nil
}

// GetTyped fetches the value of key, interpreted as a Value. It returns
// nil without an error if the key is not cached.
func GetTyped[Value any](cache KVStore, key CacheKey) (*Value, error) {
	var v Value
	switch err := fetchTypedValue(cache, key, &v); {
	case err == nil:
		return &v, nil
	case errors.Is(err, errNoSuchKey):
		return nil, nil
	default:
		return nil, err
	}
}

// PutTyped stores value under key.
func PutTyped[Value any](cache KVStore, key CacheKey, value *Value) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key.Pretty(), err)
	}
	return cache.Put(key, raw)
}

// memoryKVStore is a KVStore kept in process memory. It is used when no
// cache directory is configured.
type memoryKVStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	metrics *metrics.PoolMetrics
}

var _ KVStore = (*memoryKVStore)(nil)

// NewMemoryKVStore returns an empty in-memory KVStore. metrics can be nil.
func NewMemoryKVStore(metrics *metrics.PoolMetrics) KVStore {
	return &memoryKVStore{
		entries: make(map[string][]byte),
		metrics: metrics,
	}
}

func (s *memoryKVStore) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[string(key)]
	return ok, nil
}

func (s *memoryKVStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[string(key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return v, nil
}

func (s *memoryKVStore) Put(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *memoryKVStore) Close() error {
	return nil
}
