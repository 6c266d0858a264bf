package transaction

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sipcore/engine/pkg/message"
)

// GenerateTransactionKey derives the branch+method+direction key RFC 3261
// §17.1.3/§17.2.3 use to match msg to its transaction.
func GenerateTransactionKey(msg message.Message, isClient bool) (TransactionKey, error) {
	via := msg.GetHeader("Via")
	if via == "" {
		return TransactionKey{}, fmt.Errorf("missing Via header")
	}

	branch := extractBranch(via)
	if branch == "" {
		return TransactionKey{}, fmt.Errorf("missing branch parameter in Via header")
	}

	// A magic-cookie branch (§8.1.1.7) is what makes branch-based matching
	// possible at all; anything else can't be trusted to be unique per
	// transaction.
	if !strings.HasPrefix(branch, "z9hG4bK") {
		return TransactionKey{}, fmt.Errorf("invalid branch parameter: must start with z9hG4bK")
	}

	var method string
	if msg.IsRequest() {
		method = msg.Method()
	} else {
		// A response carries no method of its own; CSeq names the request
		// it answers.
		cseq := msg.GetHeader("CSeq")
		if cseq == "" {
			return TransactionKey{}, fmt.Errorf("missing CSeq header")
		}
		method = extractMethodFromCSeq(cseq)
		if method == "" {
			return TransactionKey{}, fmt.Errorf("invalid CSeq header")
		}
	}

	// §17.2.3: an ACK for a non-2xx final response is addressed to the
	// existing INVITE server transaction, not a transaction of its own, so
	// its key is built as if it were the INVITE. (An ACK for a 2xx forms no
	// transaction and isn't looked up this way at all — see Manager.HandleRequest.)
	if method == "ACK" && msg.IsRequest() && !isClient {
		method = "INVITE"
	}

	return TransactionKey{
		Branch:    branch,
		Method:    method,
		Direction: isClient,
	}, nil
}

// GenerateBranch mints a fresh Via branch parameter carrying the RFC 3261
// §8.1.1.7 magic cookie.
func GenerateBranch() string {
	b := make([]byte, 16)
	rand.Read(b)
	return "z9hG4bK" + hex.EncodeToString(b)
}

// extractBranch pulls the branch parameter out of a Via header value, e.g.
// "SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bK776asdhds".
func extractBranch(via string) string {
	parts := strings.Split(via, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "branch") {
			if idx := strings.Index(part, "="); idx != -1 {
				return strings.TrimSpace(part[idx+1:])
			}
		}
	}
	return ""
}

// extractMethodFromCSeq pulls the method token out of a CSeq header value,
// e.g. "314159 INVITE".
func extractMethodFromCSeq(cseq string) string {
	parts := strings.Fields(cseq)
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// String renders the key for logging and for use as a Store map key.
func (k TransactionKey) String() string {
	direction := "server"
	if k.Direction {
		direction = "client"
	}
	return fmt.Sprintf("%s|%s|%s", k.Branch, k.Method, direction)
}

// Equals reports whether two keys identify the same transaction.
func (k TransactionKey) Equals(other TransactionKey) bool {
	return k.Branch == other.Branch &&
		k.Method == other.Method &&
		k.Direction == other.Direction
}

// IsClientKey reports whether k identifies a client transaction.
func (k TransactionKey) IsClientKey() bool {
	return k.Direction
}

// IsServerKey reports whether k identifies a server transaction.
func (k TransactionKey) IsServerKey() bool {
	return !k.Direction
}

// ValidateTransactionKey checks that key has a well-formed branch and a
// non-empty method.
func ValidateTransactionKey(key TransactionKey) error {
	if key.Branch == "" {
		return fmt.Errorf("empty branch")
	}
	if !strings.HasPrefix(key.Branch, "z9hG4bK") {
		return fmt.Errorf("invalid branch: must start with z9hG4bK")
	}
	if key.Method == "" {
		return fmt.Errorf("empty method")
	}
	return nil
}

// MatchingKey builds the key msg should be looked up by: a response is
// matched against the client transaction that sent the request it answers,
// a request against the server transaction (if any) already processing it.
func MatchingKey(msg message.Message) (TransactionKey, error) {
	if msg.IsRequest() {
		return GenerateTransactionKey(msg, false)
	}
	return GenerateTransactionKey(msg, true)
}
