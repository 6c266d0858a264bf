package dialog

import (
	"github.com/sipcore/engine/pkg/message"
)

// Type aliases for easier access
type (
	URI      = message.URI
	Request  = message.Request
	Response = message.Response
	Message  = message.Message
)

// DialogState is a dialog's position in the RFC 3261 lifecycle.
type DialogState int

const (
	// DialogStateInit is the initial state, before any INVITE.
	DialogStateInit DialogState = iota
	// DialogStateTrying is entered once an INVITE has been sent or received.
	DialogStateTrying
	// DialogStateRinging is entered on a 180/183 response.
	DialogStateRinging
	// DialogStateEstablished is entered once a 2xx response has arrived.
	DialogStateEstablished
	// DialogStateTerminating is entered once a BYE has been sent or received.
	DialogStateTerminating
	// DialogStateTerminated is the final state.
	DialogStateTerminated
)

// String returns the state's name.
func (s DialogState) String() string {
	switch s {
	case DialogStateInit:
		return "Init"
	case DialogStateTrying:
		return "Trying"
	case DialogStateRinging:
		return "Ringing"
	case DialogStateEstablished:
		return "Established"
	case DialogStateTerminating:
		return "Terminating"
	case DialogStateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// RequestHandler handles an incoming in-dialog request.
type RequestHandler func(req *Request) *Response

// ReferSubscription tracks the implicit subscription a REFER creates for
// its NOTIFY-delivered progress reports (RFC 3515 §2.4.4).
type ReferSubscription struct {
	// ID uniquely identifies the subscription.
	ID string
	// Event is the Event header value carried by the SUBSCRIBE/NOTIFY pair.
	Event string
	// State is the subscription's current state ("active", "terminated", ...).
	State string
	// Progress is the referred call's progress, decoded from a sipfrag body.
	Progress int
	// Done is closed once the subscription terminates.
	Done chan struct{}
	// Error holds the last error reported over the subscription, if any.
	Error error
}

// SimpleBody is a minimal Body implementation backed by a byte slice.
type SimpleBody struct {
	contentType string
	data        []byte
}

// NewSimpleBody builds a Body carrying data under contentType. data is
// copied so the caller may reuse or mutate its buffer afterward.
func NewSimpleBody(contentType string, data []byte) Body {
	return &SimpleBody{
		contentType: contentType,
		data:        append([]byte(nil), data...),
	}
}

// ContentType returns the body's MIME type.
func (b *SimpleBody) ContentType() string {
	return b.contentType
}

// Data returns a copy of the body's bytes.
func (b *SimpleBody) Data() []byte {
	return append([]byte(nil), b.data...)
}
