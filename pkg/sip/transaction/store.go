package transaction

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sipcore/engine/pkg/message"
)

// Store is a thread-safe transaction table keyed by TransactionKey (§17.1.3/§17.2.3
// matching), with a secondary Call-ID|CSeq index for locating the transactions
// tied to a given message (ACK/CANCEL correlation, §9.2, §13.2.1).
//
// Entries also live on a FIFO list in insertion order, which gives Remove
// and the periodic cleanup sweep O(1) unlinking once a stale entry is
// found, instead of rebuilding the backing map from scratch.
type Store struct {
	mu        sync.RWMutex
	byKey     map[string]*list.Element
	byMessage map[string][]string
	byBranch  map[string][]string
	order     *list.List

	stats storeCounters

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

type storeEntry struct {
	key string
	tx  Transaction
}

// storeCounters tracks store activity with atomics rather than a struct
// guarded by the same mutex as the table, so Stats() never blocks on a
// write that doesn't touch it.
type storeCounters struct {
	total      uint64
	active     uint64
	cleaned    uint64
	collisions uint64
}

// StoreStats is a point-in-time snapshot of storeCounters.
type StoreStats struct {
	TotalTransactions    uint64
	ActiveTransactions   uint64
	CleanedTransactions  uint64
	MessageKeyCollisions uint64
}

// NewStore builds an empty Store and starts its background cleanup sweep.
func NewStore() *Store {
	s := &Store{
		byKey:       make(map[string]*list.Element),
		byMessage:   make(map[string][]string),
		byBranch:    make(map[string][]string),
		order:       list.New(),
		stopCleanup: make(chan struct{}),
	}

	s.cleanupTicker = time.NewTicker(30 * time.Second)
	go s.cleanupRoutine()

	return s
}

// Add registers tx under its TransactionKey. Returns an error if the key is
// already occupied — two transactions must never share a dialog/branch key.
func (s *Store) Add(tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tx.Key().String()
	if _, exists := s.byKey[key]; exists {
		return NewTransactionError(tx.ID(), "add to store", tx.State(), errTransactionExists(key))
	}

	elem := s.order.PushBack(&storeEntry{key: key, tx: tx})
	s.byKey[key] = elem
	atomic.AddUint64(&s.stats.total, 1)
	atomic.AddUint64(&s.stats.active, 1)

	if req := tx.Request(); req != nil {
		msgKey := generateMessageKey(req)
		s.byMessage[msgKey] = append(s.byMessage[msgKey], key)
		if len(s.byMessage[msgKey]) > 1 {
			atomic.AddUint64(&s.stats.collisions, 1)
		}
	}

	branch := tx.Key().Branch
	s.byBranch[branch] = append(s.byBranch[branch], key)

	return nil
}

// Get looks up a transaction by its matching key.
func (s *Store) Get(key TransactionKey) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elem, ok := s.byKey[key.String()]
	if !ok {
		return nil, false
	}
	return elem.Value.(*storeEntry).tx, true
}

// GetByID scans for a transaction by its opaque ID. O(n); callers that
// can instead match by TransactionKey should prefer Get.
func (s *Store) GetByID(id string) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for e := s.order.Front(); e != nil; e = e.Next() {
		tx := e.Value.(*storeEntry).tx
		if tx.ID() == id {
			return tx, true
		}
	}
	return nil, false
}

// FindByMessage returns every transaction indexed under msg's Call-ID|CSeq
// (or Via branch, as a fallback) — the set a CANCEL or retransmission needs
// to be matched against.
func (s *Store) FindByMessage(msg message.Message) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, ok := s.byMessage[generateMessageKey(msg)]
	if !ok {
		return nil
	}

	result := make([]Transaction, 0, len(keys))
	for _, key := range keys {
		if elem, ok := s.byKey[key]; ok {
			result = append(result, elem.Value.(*storeEntry).tx)
		}
	}
	return result
}

// Remove deletes a transaction from the store. Returns false if it wasn't
// present.
func (s *Store) Remove(key TransactionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := key.String()
	elem, exists := s.byKey[keyStr]
	if !exists {
		return false
	}

	s.removeElem(elem)
	return true
}

// removeElem drops elem from every index. Caller must hold s.mu.
func (s *Store) removeElem(elem *list.Element) {
	entry := elem.Value.(*storeEntry)

	s.order.Remove(elem)
	delete(s.byKey, entry.key)
	atomic.AddUint64(&s.stats.active, ^uint64(0)) // decrement

	if req := entry.tx.Request(); req != nil {
		s.removeFromSlice(s.byMessage, generateMessageKey(req), entry.key)
	}

	branch := entry.tx.Key().Branch
	s.removeFromSlice(s.byBranch, branch, entry.key)
}

// removeFromSlice drops key from index[bucket], deleting the bucket
// entirely once it's empty. Caller must hold s.mu.
func (s *Store) removeFromSlice(index map[string][]string, bucket, key string) {
	keys := index[bucket]
	if len(keys) == 0 {
		return
	}
	filtered := keys[:0]
	for _, k := range keys {
		if k != key {
			filtered = append(filtered, k)
		}
	}
	if len(filtered) == 0 {
		delete(index, bucket)
	} else {
		index[bucket] = filtered
	}
}

// FindServerByBranch returns the server transactions sharing the given Via
// branch, regardless of CSeq method. A CANCEL is matched to the INVITE
// transaction it targets this way (§9.2: CANCEL matching never considers
// the method), so the caller still has to pick the INVITE entry out of
// the (normally single-element) result.
func (s *Store) FindServerByBranch(branch string) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byBranch[branch]
	result := make([]Transaction, 0, len(keys))
	for _, key := range keys {
		elem, ok := s.byKey[key]
		if !ok {
			continue
		}
		tx := elem.Value.(*storeEntry).tx
		if tx.IsServer() {
			result = append(result, tx)
		}
	}
	return result
}

// GetAll returns a snapshot of every transaction currently in the store.
func (s *Store) GetAll() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Transaction, 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		result = append(result, e.Value.(*storeEntry).tx)
	}
	return result
}

// Count returns the number of transactions currently in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}

// Stats returns a snapshot of the store's activity counters.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		TotalTransactions:    atomic.LoadUint64(&s.stats.total),
		ActiveTransactions:   atomic.LoadUint64(&s.stats.active),
		CleanedTransactions:  atomic.LoadUint64(&s.stats.cleaned),
		MessageKeyCollisions: atomic.LoadUint64(&s.stats.collisions),
	}
}

// Close stops the background sweep and drops every entry. Safe to call once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		s.cleanupTicker.Stop()
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byKey = make(map[string]*list.Element)
	s.byMessage = make(map[string][]string)
	s.byBranch = make(map[string][]string)
	s.order = list.New()

	return nil
}

func (s *Store) cleanupRoutine() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.CleanupTerminated()
		case <-s.stopCleanup:
			return
		}
	}
}

// generateMessageKey derives the correlation key for a message: Call-ID
// plus CSeq when both are present, falling back to the Via branch
// otherwise (e.g. malformed or minimal messages during fuzz testing).
func generateMessageKey(msg message.Message) string {
	callID := msg.GetHeader("Call-ID")
	cseq := msg.GetHeader("CSeq")
	if callID == "" || cseq == "" {
		return extractBranch(msg.GetHeader("Via"))
	}
	return callID + "|" + cseq
}

// CleanupTerminated drops every terminated transaction from the store and
// returns how many were removed.
func (s *Store) CleanupTerminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []*list.Element
	for e := s.order.Front(); e != nil; e = e.Next() {
		if e.Value.(*storeEntry).tx.IsTerminated() {
			toRemove = append(toRemove, e)
		}
	}

	for _, e := range toRemove {
		s.removeElem(e)
		atomic.AddUint64(&s.stats.cleaned, 1)
	}

	return len(toRemove)
}
