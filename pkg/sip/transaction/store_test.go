package transaction

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sipcore/engine/pkg/message"
)

// mockTransaction implements the Transaction interface for store tests.
type mockTransaction struct {
	id       string
	key      TransactionKey
	state    TransactionState
	request  message.Message
	response message.Message
}

func (mt *mockTransaction) ID() string                              { return mt.id }
func (mt *mockTransaction) Key() TransactionKey                     { return mt.key }
func (mt *mockTransaction) IsClient() bool                          { return mt.key.Direction }
func (mt *mockTransaction) IsServer() bool                          { return !mt.key.Direction }
func (mt *mockTransaction) State() TransactionState                 { return mt.state }
func (mt *mockTransaction) IsCompleted() bool                       { return mt.state == TransactionCompleted }
func (mt *mockTransaction) IsTerminated() bool                      { return mt.state == TransactionTerminated }
func (mt *mockTransaction) Request() message.Message                { return mt.request }
func (mt *mockTransaction) Response() message.Message               { return mt.response }
func (mt *mockTransaction) LastResponse() message.Message           { return mt.response }
func (mt *mockTransaction) SendResponse(resp message.Message) error { return nil }
func (mt *mockTransaction) SendRequest(req message.Message) error   { return nil }
func (mt *mockTransaction) Cancel() error                           { return nil }
func (mt *mockTransaction) OnStateChange(handler StateChangeHandler)       {}
func (mt *mockTransaction) OnResponse(handler ResponseHandler)             {}
func (mt *mockTransaction) OnTimeout(handler TimeoutHandler)               {}
func (mt *mockTransaction) OnTransportError(handler TransportErrorHandler) {}
func (mt *mockTransaction) Context() context.Context                      { return context.Background() }
func (mt *mockTransaction) HandleRequest(req message.Message) error       { return nil }
func (mt *mockTransaction) HandleResponse(resp message.Message) error     { return nil }

func createMockTransaction(id string, branch string, method string, isClient bool) *mockTransaction {
	return &mockTransaction{
		id: id,
		key: TransactionKey{
			Branch:    branch,
			Method:    method,
			Direction: isClient,
		},
		state: TransactionProceeding,
		request: &mockRequest{
			method: method,
			headers: map[string]string{
				"Via":     "SIP/2.0/UDP 192.168.1.1:5060;branch=" + branch,
				"Call-ID": "test-call-id",
				"CSeq":    "1 " + method,
			},
		},
	}
}

func TestStoreAdd(t *testing.T) {
	store := NewStore()
	defer store.Close()

	tx1 := createMockTransaction("tx1", "z9hG4bK123", "INVITE", true)
	tx2 := createMockTransaction("tx2", "z9hG4bK456", "REGISTER", true)

	if err := store.Add(tx1); err != nil {
		t.Errorf("Add failed: %v", err)
	}
	if err := store.Add(tx2); err != nil {
		t.Errorf("Add failed: %v", err)
	}

	if err := store.Add(tx1); err == nil {
		t.Error("Add should error on a duplicate key")
	}

	stats := store.Stats()
	if stats.TotalTransactions != 2 {
		t.Errorf("TotalTransactions = %d, want 2", stats.TotalTransactions)
	}
	if stats.ActiveTransactions != 2 {
		t.Errorf("ActiveTransactions = %d, want 2", stats.ActiveTransactions)
	}
}

func TestStoreGet(t *testing.T) {
	store := NewStore()
	defer store.Close()

	tx := createMockTransaction("tx1", "z9hG4bK123", "INVITE", true)
	store.Add(tx)

	found, ok := store.Get(tx.Key())
	if !ok {
		t.Error("transaction not found")
	}
	if found.ID() != tx.ID() {
		t.Errorf("ID = %s, want %s", found.ID(), tx.ID())
	}

	notFoundKey := TransactionKey{
		Branch:    "z9hG4bKnotfound",
		Method:    "INVITE",
		Direction: true,
	}
	if _, ok = store.Get(notFoundKey); ok {
		t.Error("a nonexistent transaction should not be found")
	}
}

func TestStoreGetByID(t *testing.T) {
	store := NewStore()
	defer store.Close()

	tx1 := createMockTransaction("tx1", "z9hG4bK123", "INVITE", true)
	tx2 := createMockTransaction("tx2", "z9hG4bK456", "REGISTER", true)

	store.Add(tx1)
	store.Add(tx2)

	found, ok := store.GetByID("tx1")
	if !ok {
		t.Error("transaction not found by ID")
	}
	if found.Key() != tx1.Key() {
		t.Error("wrong transaction returned")
	}

	if _, ok = store.GetByID("nonexistent"); ok {
		t.Error("a nonexistent ID should not be found")
	}
}

func TestStoreFindByMessage(t *testing.T) {
	store := NewStore()
	defer store.Close()

	tx1 := createMockTransaction("tx1", "z9hG4bK123", "INVITE", true)
	tx2 := createMockTransaction("tx2", "z9hG4bK456", "ACK", true)

	store.Add(tx1)
	store.Add(tx2)

	msg := &mockRequest{
		method: "BYE",
		headers: map[string]string{
			"Call-ID": "test-call-id",
			"CSeq":    "1 INVITE", // same key as tx1
		},
	}

	txs := store.FindByMessage(msg)
	if len(txs) == 0 {
		t.Error("no transactions found for the message")
	}
}

func TestStoreRemove(t *testing.T) {
	store := NewStore()
	defer store.Close()

	tx := createMockTransaction("tx1", "z9hG4bK123", "INVITE", true)
	store.Add(tx)

	if removed := store.Remove(tx.Key()); !removed {
		t.Error("transaction was not removed")
	}

	if _, ok := store.Get(tx.Key()); ok {
		t.Error("transaction still present after removal")
	}

	if removed := store.Remove(tx.Key()); removed {
		t.Error("removing a nonexistent transaction should return false")
	}

	stats := store.Stats()
	if stats.ActiveTransactions != 0 {
		t.Errorf("ActiveTransactions = %d, want 0", stats.ActiveTransactions)
	}
}

func TestStoreGetAll(t *testing.T) {
	store := NewStore()
	defer store.Close()

	tx1 := createMockTransaction("tx1", "z9hG4bK123", "INVITE", true)
	tx2 := createMockTransaction("tx2", "z9hG4bK456", "REGISTER", true)
	tx3 := createMockTransaction("tx3", "z9hG4bK789", "OPTIONS", false)

	store.Add(tx1)
	store.Add(tx2)
	store.Add(tx3)

	all := store.GetAll()
	if len(all) != 3 {
		t.Errorf("GetAll returned %d transactions, want 3", len(all))
	}

	ids := make(map[string]bool)
	for _, tx := range all {
		ids[tx.ID()] = true
	}
	if !ids["tx1"] || !ids["tx2"] || !ids["tx3"] {
		t.Error("GetAll did not return every transaction")
	}
}

func TestStoreCleanup(t *testing.T) {
	store := NewStore()
	defer store.Close()

	txActive := createMockTransaction("active", "z9hG4bK123", "INVITE", true)
	txTerminated := createMockTransaction("terminated", "z9hG4bK456", "REGISTER", true)
	txTerminated.state = TransactionTerminated

	store.Add(txActive)
	store.Add(txTerminated)

	cleaned := store.CleanupTerminated()
	if cleaned != 1 {
		t.Errorf("CleanupTerminated = %d, want 1", cleaned)
	}

	if store.Count() != 1 {
		t.Errorf("Count = %d, want 1", store.Count())
	}

	if _, ok := store.Get(txActive.Key()); !ok {
		t.Error("the active transaction was removed")
	}
	if _, ok := store.Get(txTerminated.Key()); ok {
		t.Error("the terminated transaction was not removed")
	}
}

func TestStoreConcurrency(t *testing.T) {
	store := NewStore()
	defer store.Close()

	const numGoroutines = 10
	const numOperations = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			for j := 0; j < numOperations; j++ {
				txID := fmt.Sprintf("tx-%d-%d", id, j)
				branch := fmt.Sprintf("z9hG4bK%d%d", id, j)
				tx := createMockTransaction(txID, branch, "INVITE", true)

				if err := store.Add(tx); err != nil {
					t.Errorf("Add failed: %v", err)
				}
				if _, ok := store.Get(tx.Key()); !ok {
					t.Error("transaction not found right after adding")
				}
				if j%2 == 0 {
					store.Remove(tx.Key())
				}
			}
		}(i)
	}

	wg.Wait()

	count := store.Count()
	all := store.GetAll()
	if count != len(all) {
		t.Errorf("Count() = %d, but GetAll() returned %d elements", count, len(all))
	}
}

func TestGenerateMessageKey(t *testing.T) {
	tests := []struct {
		name     string
		msg      message.Message
		expected string
	}{
		{
			name: "with Call-ID and CSeq",
			msg: &mockRequest{
				headers: map[string]string{
					"Call-ID": "abc123",
					"CSeq":    "1 INVITE",
				},
			},
			expected: "abc123|1 INVITE",
		},
		{
			name: "without Call-ID",
			msg: &mockRequest{
				headers: map[string]string{
					"Via": "SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bK123",
				},
			},
			expected: "z9hG4bK123",
		},
		{
			name:     "empty headers",
			msg:      &mockRequest{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := generateMessageKey(tt.msg)
			if result != tt.expected {
				t.Errorf("generateMessageKey() = %s, want %s", result, tt.expected)
			}
		})
	}
}
