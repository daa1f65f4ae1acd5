// ABOUTME: Thread-safe host record store with atomic JSON file persistence.
// ABOUTME: Provides Find/ActiveRecords/SetIP plus admin Create/Delete, and mtime auto-reload.

package radd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// storeFile is the JSON envelope for persisted records.
type storeFile struct {
	Records []Record `json:"records"`
}

// Store holds host records in memory, keyed by exact name, backed by a JSON
// file. Every mutation is re-validated, applied under the write lock, and
// persisted atomically; a failed persist rolls the mutation back so callers
// never observe a committed-but-unsaved state.
type Store struct {
	mu         sync.RWMutex
	records    map[string]Record
	filePath   string
	reload     time.Duration
	lastMod    time.Time
	stopCh     chan struct{}
	ready      bool
	maxRecords int
	persistMu  sync.Mutex // serializes file writes, independent of mu
	generation uint64     // incremented on each mutation (under mu)
	persisted  uint64     // generation of last successful persist (under persistMu, updated under mu)
}

// StoreOption configures optional Store behaviour.
type StoreOption func(*Store)

// WithMaxRecords sets the maximum number of hosts the store will hold.
// A value of 0 (default) means unlimited.
func WithMaxRecords(n int) StoreOption {
	return func(s *Store) {
		s.maxRecords = n
	}
}

// NewStore creates a store backed by the given file path.
// If the file exists, its records are loaded. If not, an empty file is created.
// A reload duration of 0 disables auto-reload.
func NewStore(filePath string, reload time.Duration, opts ...StoreOption) (*Store, error) {
	s := &Store{
		records:  make(map[string]Record),
		filePath: filePath,
		reload:   reload,
		stopCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadOrCreate(); err != nil {
		return nil, fmt.Errorf("initialising store from %s: %w", filePath, err)
	}

	s.ready = true

	if reload > 0 {
		go s.run()
	}
	return s, nil
}

// Ready reports whether the store has completed initial loading.
func (s *Store) Ready() bool {
	return s.ready
}

// Stop terminates the auto-reload goroutine.
func (s *Store) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Find returns the record for the given name. Lookup is exact and
// case-sensitive; names are the primary key.
func (s *Store) Find(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[name]
	return r, ok
}

// ActiveRecords returns all records with a reported address, sorted by name
// so that generated zone output is deterministic.
func (s *Store) ActiveRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []Record
	for _, r := range s.records {
		if r.Active() {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active
}

// List returns every record in the store, sorted by name.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// SetIP atomically updates the reported address and timestamp for exactly one
// record. The value is re-validated before commit; on any failure no state
// change is visible. Returns ErrNotFound for unknown names and ErrInvalidIP
// for values that are not IPv4 literals.
func (s *Store) SetIP(name, ip string) error {
	snapshot, gen, revert, err := s.applySetIP(name, ip)
	if err != nil {
		return err
	}
	if err := s.persistSnapshot(snapshot, gen); err != nil {
		revert()
		return fmt.Errorf("persisting update for %s: %w", name, err)
	}
	return nil
}

func (s *Store) applySetIP(name, ip string) ([]Record, uint64, func(), error) {
	if !ValidIPv4(ip) {
		return nil, 0, nil, fmt.Errorf("ip %q: %w", ip, ErrInvalidIP)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.records[name]
	if !ok {
		return nil, 0, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	next := prev
	next.IP = ip
	next.UpdatedAt = time.Now().UTC()
	// The wall clock may step backwards; the timestamp must not.
	if next.UpdatedAt.Before(prev.UpdatedAt) {
		next.UpdatedAt = prev.UpdatedAt
	}
	s.records[name] = next
	s.generation++

	revert := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only undo our own write; a later mutation supersedes the rollback.
		if cur, ok := s.records[name]; ok && cur.IP == next.IP && cur.UpdatedAt.Equal(next.UpdatedAt) {
			s.records[name] = prev
			s.generation++
		}
	}
	return s.collectLocked(), s.generation, revert, nil
}

// Create adds a newly provisioned record. The record is validated and must
// not collide with an existing name.
func (s *Store) Create(r Record) error {
	snapshot, gen, revert, err := s.applyCreate(r)
	if err != nil {
		return err
	}
	if err := s.persistSnapshot(snapshot, gen); err != nil {
		revert()
		return fmt.Errorf("persisting new record %s: %w", r.Name, err)
	}
	return nil
}

func (s *Store) applyCreate(r Record) ([]Record, uint64, func(), error) {
	if err := r.Validate(); err != nil {
		return nil, 0, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.Name]; ok {
		return nil, 0, nil, fmt.Errorf("%s: %w", r.Name, ErrExists)
	}
	if s.maxRecords > 0 && len(s.records) >= s.maxRecords {
		return nil, 0, nil, fmt.Errorf("record limit of %d reached", s.maxRecords)
	}

	r.UpdatedAt = time.Now().UTC()
	s.records[r.Name] = r
	s.generation++

	created := r
	revert := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.records[created.Name]; ok && cur.UpdatedAt.Equal(created.UpdatedAt) {
			delete(s.records, created.Name)
			s.generation++
		}
	}
	return s.collectLocked(), s.generation, revert, nil
}

// Delete removes a record by name. Returns ErrNotFound when no such record
// exists.
func (s *Store) Delete(name string) error {
	snapshot, gen, revert, err := s.applyDelete(name)
	if err != nil {
		return err
	}
	if err := s.persistSnapshot(snapshot, gen); err != nil {
		revert()
		return fmt.Errorf("persisting delete of %s: %w", name, err)
	}
	return nil
}

func (s *Store) applyDelete(name string) ([]Record, uint64, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.records[name]
	if !ok {
		return nil, 0, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(s.records, name)
	s.generation++

	revert := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.records[name]; !ok {
			s.records[name] = prev
			s.generation++
		}
	}
	return s.collectLocked(), s.generation, revert, nil
}

// persistSnapshot writes the given records to the backing file atomically.
// Serialized by persistMu; skips if a newer generation was already persisted.
// Must NOT be called with s.mu held.
func (s *Store) persistSnapshot(all []Record, gen uint64) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	// A newer snapshot was already written; this one is stale.
	// Safe without mu: persistMu serializes all callers, so s.persisted cannot change concurrently.
	if gen > 0 && gen <= s.persisted {
		return nil
	}

	data := storeFile{Records: all}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling store: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	tmp, err := os.CreateTemp(dir, "radd-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp to %s: %w", s.filePath, err)
	}

	// Update metadata under mu to prevent self-triggered reload.
	s.mu.Lock()
	s.persisted = gen
	if info, err := os.Stat(s.filePath); err == nil {
		s.lastMod = info.ModTime()
	}
	s.updateRecordGaugeLocked()
	s.mu.Unlock()

	return nil
}

// updateRecordGaugeLocked sets the recordGauge per activity state. Caller must hold at least RLock.
func (s *Store) updateRecordGaugeLocked() {
	var active, inactive float64
	for _, r := range s.records {
		if r.Active() {
			active++
		} else {
			inactive++
		}
	}
	recordGauge.WithLabelValues("active").Set(active)
	recordGauge.WithLabelValues("inactive").Set(inactive)
}

// collectLocked returns all records sorted by name. Caller must hold at least RLock.
func (s *Store) collectLocked() []Record {
	all := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// loadOrCreate loads records from file or creates an empty file.
func (s *Store) loadOrCreate() error {
	raw, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		s.records = make(map[string]Record)
		return s.persistSnapshot(nil, 0)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.filePath, err)
	}

	return s.loadFromBytes(raw)
}

func (s *Store) loadFromBytes(raw []byte) error {
	var data storeFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	records := make(map[string]Record)
	for _, r := range data.Records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %q: %w", r.Name, err)
		}
		records[r.Name] = r
	}
	s.records = records

	if info, err := os.Stat(s.filePath); err == nil {
		s.lastMod = info.ModTime()
	}

	return nil
}

// run is the auto-reload goroutine that checks file mtime periodically.
func (s *Store) run() {
	ticker := time.NewTicker(s.reload)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkReload()
		}
	}
}

func (s *Store) checkReload() {
	// Skip if a persist is actively running to avoid overwriting in-flight mutations.
	if !s.persistMu.TryLock() {
		return
	}
	s.persistMu.Unlock()

	// Phase 1: check mtime under lock (fast path).
	s.mu.RLock()
	if s.generation > s.persisted {
		s.mu.RUnlock()
		return
	}
	lastMod := s.lastMod
	s.mu.RUnlock()

	info, err := os.Stat(s.filePath)
	if err != nil {
		return
	}
	if !info.ModTime().After(lastMod) {
		return
	}

	// Phase 2: read file outside any lock.
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		log.Errorf("reload %s: read error: %v", s.filePath, err)
		return
	}

	// Phase 3: re-verify under write lock and swap.
	s.mu.Lock()
	defer s.mu.Unlock()

	// A mutation may have landed while we were reading; skip if so.
	if s.generation > s.persisted {
		return
	}
	// Re-check mtime: another reload or persist may have updated lastMod.
	if !info.ModTime().After(s.lastMod) {
		return
	}

	if err := s.loadFromBytes(raw); err != nil {
		log.Errorf("reload %s: parse error: %v", s.filePath, err)
		return
	}
	s.updateRecordGaugeLocked()
}
