package dialog

import (
	"fmt"
)

// DialogKey uniquely identifies a SIP dialog.
//
// The key has three components per RFC 3261:
//   - Call-ID: the call's unique identifier
//   - LocalTag: this UA's tag (from-tag for a UAC, to-tag for a UAS)
//   - RemoteTag: the peer's tag (to-tag for a UAC, from-tag for a UAS)
//
// The combination of the three uniquely identifies the dialog.
type DialogKey struct {
	// CallID is the Call-ID header's value.
	CallID string
	// LocalTag is this UA's tag.
	LocalTag string
	// RemoteTag is the peer's tag.
	RemoteTag string
}

// String returns the key's string representation.
func (dk DialogKey) String() string {
	return fmt.Sprintf("%s:%s:%s", dk.CallID, dk.LocalTag, dk.RemoteTag)
}

// Body is a SIP message body.
//
// Used to carry different content types: SDP (application/sdp), XML
// documents (application/xml), plain text, and so on.
//
// SimpleBody is the sole concrete implementation.
type Body interface {
	// ContentType returns the body's MIME type (e.g. "application/sdp").
	ContentType() string
	// Data returns the body's bytes.
	Data() []byte
}
