package media

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/sdp/v3"
)

// OfferParams carries what BuildOffer needs to render a session
// description: the host to advertise, the local port this session
// owns, and the codec preference to list.
type OfferParams struct {
	Host       string
	Port       int
	SessionID  string
	Codecs     []Codec
	Direction  string // "sendrecv", "sendonly", "recvonly", "inactive"
}

// BuildOffer renders a SIP/SDP offer listing p.Codecs in preference
// order (RFC 3264 §5.1, RFC 4566).
func BuildOffer(p OfferParams) *sdp.SessionDescription {
	return buildDescription(p)
}

// BuildAnswer renders an answer naming only the single negotiated
// codec (RFC 3264 §6.1).
func BuildAnswer(p OfferParams, chosen Codec) *sdp.SessionDescription {
	p.Codecs = []Codec{chosen}
	return buildDescription(p)
}

func buildDescription(p OfferParams) *sdp.SessionDescription {
	formats := make([]string, 0, len(p.Codecs))
	attrs := make([]sdp.Attribute, 0, len(p.Codecs)+1)

	for _, c := range p.Codecs {
		formats = append(formats, strconv.Itoa(c.PayloadType))
		rtpmap := fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
		if c.Channels > 1 {
			rtpmap = fmt.Sprintf("%s/%d", rtpmap, c.Channels)
		}
		attrs = append(attrs, sdp.NewAttribute("rtpmap", rtpmap))
	}

	direction := p.Direction
	if direction == "" {
		direction = "sendrecv"
	}
	attrs = append(attrs, sdp.NewPropertyAttribute(direction))

	sessionID := uint64(1)
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.Host,
		},
		SessionName: sdp.SessionName(p.SessionID),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: p.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: p.Port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				ConnectionInformation: &sdp.ConnectionInformation{
					NetworkType: "IN",
					AddressType: "IP4",
					Address:     &sdp.Address{Address: p.Host},
				},
				Attributes: attrs,
			},
		},
	}

	return desc
}

// RemoteEndpoint extracts the negotiated peer's audio connection
// address and port from a parsed session description.
func RemoteEndpoint(desc *sdp.SessionDescription) (host string, port int, err error) {
	if desc == nil {
		return "", 0, fmt.Errorf("media: nil session description")
	}

	audio := findAudioMedia(desc)
	if audio == nil {
		return "", 0, fmt.Errorf("media: no audio media description")
	}

	conn := audio.ConnectionInformation
	if conn == nil {
		conn = desc.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return "", 0, fmt.Errorf("media: no connection information")
	}

	return conn.Address.Address, audio.MediaName.Port.Value, nil
}

// OfferedCodecs extracts the codec set a remote offer/answer listed,
// matching Formats against their a=rtpmap attributes.
func OfferedCodecs(desc *sdp.SessionDescription) ([]Codec, error) {
	audio := findAudioMedia(desc)
	if audio == nil {
		return nil, fmt.Errorf("media: no audio media description")
	}

	rtpmaps := make(map[string]Codec)
	for _, a := range audio.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		c, ok := parseRtpmap(a.Value)
		if ok {
			rtpmaps[strconv.Itoa(c.PayloadType)] = c
		}
	}

	out := make([]Codec, 0, len(audio.MediaName.Formats))
	for _, fmtStr := range audio.MediaName.Formats {
		if c, ok := rtpmaps[fmtStr]; ok {
			out = append(out, c)
			continue
		}
		if pt, err := strconv.Atoi(fmtStr); err == nil {
			if c, ok := staticPayloadType(pt); ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func staticPayloadType(pt int) (Codec, bool) {
	switch pt {
	case CodecPCMU.PayloadType:
		return CodecPCMU, true
	case CodecPCMA.PayloadType:
		return CodecPCMA, true
	default:
		return Codec{}, false
	}
}

func parseRtpmap(value string) (Codec, bool) {
	var pt int
	var rest string
	if _, err := fmt.Sscanf(value, "%d %s", &pt, &rest); err != nil {
		return Codec{}, false
	}
	name, clockRate, channels := rest, 8000, 1
	fmt.Sscanf(rest, "%[^/]/%d/%d", &name, &clockRate, &channels)
	return Codec{Name: name, PayloadType: pt, ClockRate: clockRate, Channels: channels}, true
}

func findAudioMedia(desc *sdp.SessionDescription) *sdp.MediaDescription {
	if desc == nil {
		return nil
	}
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			return m
		}
	}
	return nil
}

// ChooseCodec picks the first entry of supported that also appears in
// offered, implementing the "first element wins" negotiation rule.
func ChooseCodec(offered, supported []Codec) (Codec, error) {
	offeredSet := make(map[int]bool, len(offered))
	for _, c := range offered {
		offeredSet[c.PayloadType] = true
	}
	for _, c := range supported {
		if offeredSet[c.PayloadType] {
			return c, nil
		}
	}
	return Codec{}, fmt.Errorf("media: no common codec")
}

// resolveAdvertiseHost normalizes an empty/wildcard bind address into
// something safe to put in c=/o= lines.
func resolveAdvertiseHost(addr string) string {
	if addr == "" || addr == "0.0.0.0" || addr == "::" {
		if conn, err := net.Dial("udp", "8.8.8.8:80"); err == nil {
			defer conn.Close()
			if udpAddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
				return udpAddr.IP.String()
			}
		}
		return "127.0.0.1"
	}
	return addr
}
