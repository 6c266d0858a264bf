// Package media implements the media-session side of the offer/answer
// model: SDP generation and parsing, codec negotiation against a
// MediaHandler, a state machine tracking the session lifecycle, and
// periodic RTP statistics reporting. Actual audio I/O, codec DSP and
// RTP packetization are external collaborators; this package only
// negotiates and signals around them.
package media

import "fmt"

// Codec names the static/dynamic payload types this engine understands
// for offer/answer negotiation.
type Codec struct {
	Name        string
	PayloadType int
	ClockRate   int
	Channels    int
}

// Static and dynamic payload-type assignments (RFC 3551 / RFC 4733).
var (
	CodecPCMU = Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000, Channels: 1}
	CodecPCMA = Codec{Name: "PCMA", PayloadType: 8, ClockRate: 8000, Channels: 1}
	CodecOpus = Codec{Name: "opus", PayloadType: 111, ClockRate: 48000, Channels: 2}

	// CodecTelephoneEvent carries RFC 4733 DTMF events, not audio.
	CodecTelephoneEvent = Codec{Name: "telephone-event", PayloadType: 101, ClockRate: 8000, Channels: 1}
)

// DefaultCodecPreference is the negotiation order used when a session
// is not configured with an explicit supported-codec list.
var DefaultCodecPreference = []Codec{CodecOpus, CodecPCMA, CodecPCMU}

// byName indexes the well-known codecs for lookups from SDP rtpmap
// attributes and from config.Config.SupportedCodecs strings.
var byName = map[string]Codec{
	"pcmu": CodecPCMU,
	"pcma": CodecPCMA,
	"opus": CodecOpus,
}

// LookupCodec resolves a codec by case-insensitive name.
func LookupCodec(name string) (Codec, error) {
	c, ok := byName[lower(name)]
	if !ok {
		return Codec{}, fmt.Errorf("media: unknown codec %q", name)
	}
	return c, nil
}

// ResolvePreference turns a list of codec names (as carried in
// config.Config.SupportedCodecs) into an ordered codec preference,
// falling back to DefaultCodecPreference when names is empty.
func ResolvePreference(names []string) ([]Codec, error) {
	if len(names) == 0 {
		return DefaultCodecPreference, nil
	}
	out := make([]Codec, 0, len(names))
	for _, n := range names {
		c, err := LookupCodec(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
