package transaction

import "github.com/google/uuid"

// GenerateTransactionID returns a unique id for a new Transaction, used as
// the registry/metrics correlation key (RFC 3261 leaves transaction
// identity to the implementation; only the wire-level TransactionKey is
// normative).
func GenerateTransactionID() string {
	return uuid.New().String()
}
