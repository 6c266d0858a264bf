// Package creator wires the concrete client/server transaction
// implementations into transaction.Manager's TransactionCreator
// factory interface. It exists as its own package purely to avoid
// an import cycle: the client and server packages import transaction
// for its shared types (TransactionKey, TransactionTimers, ...), so
// transaction itself cannot import them back.
package creator

import (
	"github.com/sipcore/engine/pkg/message"
	"github.com/sipcore/engine/pkg/sip/transaction"
	"github.com/sipcore/engine/pkg/sip/transaction/client"
	"github.com/sipcore/engine/pkg/sip/transaction/server"
)

// DefaultCreator implements transaction.TransactionCreator using the
// real INVITE/non-INVITE client and server transaction FSMs.
type DefaultCreator struct{}

// NewDefaultCreator returns the production TransactionCreator.
func NewDefaultCreator() *DefaultCreator {
	return &DefaultCreator{}
}

func (c *DefaultCreator) CreateClientInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	t transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) transaction.Transaction {
	return client.NewInviteTransaction(id, key, request, t, timers)
}

func (c *DefaultCreator) CreateClientNonInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	t transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) transaction.Transaction {
	return client.NewNonInviteTransaction(id, key, request, t, timers)
}

func (c *DefaultCreator) CreateServerInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	t transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) transaction.Transaction {
	return server.NewInviteTransaction(id, key, request, t, timers)
}

func (c *DefaultCreator) CreateServerNonInviteTransaction(
	id string,
	key transaction.TransactionKey,
	request message.Message,
	t transaction.TransactionTransport,
	timers transaction.TransactionTimers,
) transaction.Transaction {
	return server.NewNonInviteTransaction(id, key, request, t, timers)
}
