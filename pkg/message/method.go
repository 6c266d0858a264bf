package message

import "strings"

// Method is a closed enum of the SIP methods this engine recognizes.
type Method string

const (
	MethodInvite    Method = "INVITE"
	MethodAck       Method = "ACK"
	MethodBye       Method = "BYE"
	MethodCancel    Method = "CANCEL"
	MethodOptions   Method = "OPTIONS"
	MethodRegister  Method = "REGISTER"
	MethodSubscribe Method = "SUBSCRIBE"
	MethodNotify    Method = "NOTIFY"
	MethodRefer     Method = "REFER"
	MethodMessage   Method = "MESSAGE"
	MethodInfo      Method = "INFO"
	MethodPrack     Method = "PRACK"
	MethodUpdate    Method = "UPDATE"
	MethodPublish   Method = "PUBLISH"
)

var knownMethods = map[Method]struct{}{
	MethodInvite: {}, MethodAck: {}, MethodBye: {}, MethodCancel: {},
	MethodOptions: {}, MethodRegister: {}, MethodSubscribe: {}, MethodNotify: {},
	MethodRefer: {}, MethodMessage: {}, MethodInfo: {}, MethodPrack: {},
	MethodUpdate: {}, MethodPublish: {},
}

// ParseMethod validates a wire method token against the recognized set.
func ParseMethod(token string) (Method, bool) {
	m := Method(strings.ToUpper(token))
	_, ok := knownMethods[m]
	if !ok {
		return "", false
	}
	// Preserve wire casing for unknown-but-valid extension tokens is not
	// needed here: the engine only accepts the closed set above.
	return Method(token), token == string(m) || isKnownMixed(token)
}

func isKnownMixed(token string) bool {
	_, ok := knownMethods[Method(strings.ToUpper(token))]
	return ok
}

// DialogCreating reports whether a request with this method establishes a
// dialog on a 1xx-with-to-tag or 2xx response, per RFC 3261 §12.1.
func (m Method) DialogCreating() bool {
	switch m {
	case MethodInvite, MethodSubscribe, MethodRefer:
		return true
	default:
		return false
	}
}

// MethodSet is an unordered set of methods, used for the Allow and
// Supported-adjacent bookkeeping (RFC 3261 §19.2 / §20.5).
type MethodSet map[Method]struct{}

// NewMethodSet builds a MethodSet from a list of methods.
func NewMethodSet(methods ...Method) MethodSet {
	s := make(MethodSet, len(methods))
	for _, m := range methods {
		s[m] = struct{}{}
	}
	return s
}

// ParseMethodSet parses a comma-separated Allow header value.
func ParseMethodSet(value string) MethodSet {
	s := make(MethodSet)
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		s[Method(strings.ToUpper(tok))] = struct{}{}
	}
	return s
}

// Has reports whether the method is a member.
func (s MethodSet) Has(m Method) bool {
	_, ok := s[m]
	return ok
}

// Add inserts a method.
func (s MethodSet) Add(m Method) {
	s[m] = struct{}{}
}

// String renders the set as a comma-separated Allow value in a fixed
// method order (INVITE, ACK, CANCEL, BYE, ...) so repeated
// serialization of the same set is byte-identical.
func (s MethodSet) String() string {
	ordered := make([]string, 0, len(s))
	for _, m := range []Method{
		MethodInvite, MethodAck, MethodCancel, MethodBye, MethodOptions,
		MethodRegister, MethodSubscribe, MethodNotify, MethodRefer,
		MethodMessage, MethodInfo, MethodPrack, MethodUpdate, MethodPublish,
	} {
		if s.Has(m) {
			ordered = append(ordered, string(m))
		}
	}
	return strings.Join(ordered, ", ")
}
