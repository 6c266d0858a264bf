package media

import "github.com/pion/dtls/v2"

// TransportSecurity carries the DTLS configuration a caller wants a
// session's RTP transport to key SRTP with. The session itself never
// dials or accepts a DTLS handshake — RTP/RTCP transport is an
// external collaborator per the media session's contract — this is
// only a typed place to attach that collaborator's configuration so it
// travels alongside the session's SDP negotiation (the a=fingerprint/
// a=setup attributes a real DTLS-SRTP offer would need still come out
// of the external collaborator, not this package).
type TransportSecurity struct {
	// DTLS is nil when the session runs plain RTP/AVP.
	DTLS *dtls.Config
}

// Enabled reports whether DTLS-SRTP keying was requested for this
// session.
func (s TransportSecurity) Enabled() bool {
	return s.DTLS != nil
}
