package dialog

import (
	"fmt"
	"sync"

	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
)

// Manager creates and looks up Dialogs keyed by (call-id, local-tag,
// remote-tag), implementing the creation triggers from RFC 3261 §12.1:
// a UAC learns a dialog on the first 1xx-with-to-tag or first 2xx to a
// dialog-creating request; a UAS creates one when it sends either.
type Manager struct {
	mu       sync.RWMutex
	dialogs  map[DialogKey]*Dialog
	txMgr    transaction.TransactionManager
	onCreate func(*Dialog)
}

// NewManager creates an empty dialog table bound to txMgr, which every
// created Dialog uses to send in-dialog requests.
func NewManager(txMgr transaction.TransactionManager) *Manager {
	return &Manager{
		dialogs: make(map[DialogKey]*Dialog),
		txMgr:   txMgr,
	}
}

// OnDialogCreated registers a callback invoked whenever a new dialog
// is installed, e.g. to register it in the process-wide registry.
func (m *Manager) OnDialogCreated(fn func(*Dialog)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCreate = fn
}

// Lookup returns the dialog for key, if any.
func (m *Manager) Lookup(key DialogKey) (*Dialog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dialogs[key]
	return d, ok
}

// LookupByMessage derives a dialog key from msg (request or response)
// and looks it up.
func (m *Manager) LookupByMessage(msg message.Message, isUAS bool) (*Dialog, bool) {
	key, err := GenerateDialogKey(msg, isUAS)
	if err != nil {
		return nil, false
	}
	return m.Lookup(key)
}

// CreateUAS installs a dialog for a UAS that is about to send a
// 1xx-with-to-tag or 2xx for req, generating a fresh local tag.
func (m *Manager) CreateUAS(req message.Message, localURI, remoteURI message.URI) (*Dialog, error) {
	localTag := GenerateLocalTag()
	key, err := dialogKeyFromParts(req, localTag, true)
	if err != nil {
		return nil, err
	}
	return m.install(key, false, localURI, remoteURI)
}

// CreateUAC installs a dialog for a UAC that just observed a
// 1xx-with-to-tag or 2xx resp to a dialog-creating request it sent.
func (m *Manager) CreateUAC(resp message.Message, localURI, remoteURI message.URI) (*Dialog, error) {
	key, err := GenerateDialogKey(resp, false)
	if err != nil {
		return nil, err
	}
	return m.install(key, true, localURI, remoteURI)
}

func (m *Manager) install(key DialogKey, isUAC bool, localURI, remoteURI message.URI) (*Dialog, error) {
	m.mu.Lock()
	if existing, ok := m.dialogs[key]; ok {
		m.mu.Unlock()
		return existing, nil
	}

	d := NewDialog(key, isUAC, localURI, remoteURI, m.txMgr)
	m.dialogs[key] = d
	onCreate := m.onCreate
	m.mu.Unlock()

	if onCreate != nil {
		onCreate(d)
	}
	return d, nil
}

// Remove deletes a dialog from the table, called once it reaches
// Terminated so subsequent lookups report not-found.
func (m *Manager) Remove(key DialogKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dialogs, key)
}

// Count returns the number of live dialogs.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dialogs)
}

// dialogKeyFromParts builds a DialogKey for a UAS about to assign
// localTag to a request it is answering, before any To-tag exists on
// the wire.
func dialogKeyFromParts(req message.Message, localTag string, isUAS bool) (DialogKey, error) {
	callID := req.GetHeader("Call-ID")
	if callID == "" {
		return DialogKey{}, fmt.Errorf("dialog: request has no Call-ID")
	}
	fromTag := extractTag(req.GetHeader("From"))
	if fromTag == "" {
		return DialogKey{}, fmt.Errorf("dialog: request's From header has no tag")
	}
	return DialogKey{CallID: callID, LocalTag: localTag, RemoteTag: fromTag}, nil
}
