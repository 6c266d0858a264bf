package message

import (
	"fmt"
	"net/url"
	"strings"
)

// ReferTo is a parsed Refer-To header (RFC 3515).
type ReferTo struct {
	Address         Address       // the REFER target
	EmbeddedHeaders orderedParams // headers embedded in the URI, e.g. Replaces
}

// NewReferTo builds a Refer-To header with no embedded headers.
func NewReferTo(address Address) *ReferTo {
	return &ReferTo{
		Address:         address,
		EmbeddedHeaders: newOrderedParams(),
	}
}

// ParseReferTo parses a Refer-To header value, e.g.:
// <sip:dave@denver.example.org?Replaces=12345%40192.168.118.3%3Bto-tag%3D12345%3Bfrom-tag%3D5FFE-3994>
func ParseReferTo(value string) (*ReferTo, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Refer-To value")
	}

	addr, err := ParseAddress(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Refer-To address: %w", err)
	}

	referTo := &ReferTo{
		Address:         addr,
		EmbeddedHeaders: newOrderedParams(),
	}

	if sipAddr, ok := addr.(*SipAddress); ok && sipAddr.uri != nil {
		for name, value := range sipAddr.uri.Headers() {
			decoded, err := url.QueryUnescape(value)
			if err != nil {
				decoded = value
			}
			referTo.EmbeddedHeaders.Set(name, decoded)
		}
	}

	return referTo, nil
}

func (r *ReferTo) String() string {
	if r.Address == nil {
		return ""
	}

	if len(r.EmbeddedHeaders.keys) > 0 {
		addrCopy := r.Address.Clone()
		if sipAddr, ok := addrCopy.(*SipAddress); ok && sipAddr.uri != nil {
			if sipURI, ok := sipAddr.uri.(*SipURI); ok {
				sipURI.headers = newOrderedParams()
				for _, name := range r.EmbeddedHeaders.keys {
					sipURI.headers.Set(name, url.QueryEscape(r.EmbeddedHeaders.values[name]))
				}
			}
		}
		return addrCopy.String()
	}

	return r.Address.String()
}

func (r *ReferTo) HasReplaces() bool {
	return r.EmbeddedHeaders.Has("Replaces")
}

// GetReplaces parses the embedded Replaces header, if any.
func (r *ReferTo) GetReplaces() (*Replaces, error) {
	if !r.EmbeddedHeaders.Has("Replaces") {
		return nil, fmt.Errorf("no Replaces header in Refer-To")
	}
	return ParseReplaces(r.EmbeddedHeaders.Get("Replaces"))
}

// ReferredBy is a parsed Referred-By header (RFC 3892).
type ReferredBy struct {
	Address    Address       // the REFER initiator's address
	CSeq       string        // the optional cseq parameter
	Parameters orderedParams // any other parameters
}

// NewReferredBy builds a Referred-By header with no parameters.
func NewReferredBy(address Address) *ReferredBy {
	return &ReferredBy{
		Address:    address,
		Parameters: newOrderedParams(),
	}
}

// ParseReferredBy parses a Referred-By header value, e.g.:
// <sip:alice@atlanta.example.com>;cseq=1
func ParseReferredBy(value string) (*ReferredBy, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Referred-By value")
	}

	addrEnd := strings.Index(value, ">")
	if addrEnd == -1 {
		// No angle brackets: treat up to the first ';' as the address.
		if paramStart := strings.Index(value, ";"); paramStart != -1 {
			addrEnd = paramStart - 1
		} else {
			addrEnd = len(value) - 1
		}
	}

	addrPart := value[:addrEnd+1]
	addr, err := ParseAddress(addrPart)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Referred-By address: %w", err)
	}

	referredBy := &ReferredBy{
		Address:    addr,
		Parameters: newOrderedParams(),
	}

	if addrEnd+1 < len(value) {
		paramStr := strings.TrimSpace(value[addrEnd+1:])
		if strings.HasPrefix(paramStr, ";") {
			for _, param := range strings.Split(paramStr[1:], ";") {
				if param == "" {
					continue
				}
				kv := strings.SplitN(param, "=", 2)
				if len(kv) == 2 {
					name := strings.TrimSpace(kv[0])
					value := strings.TrimSpace(kv[1])
					if name == "cseq" {
						referredBy.CSeq = value
					} else {
						referredBy.Parameters.Set(name, value)
					}
				} else {
					referredBy.Parameters.Set(kv[0], "")
				}
			}
		}
	}

	return referredBy, nil
}

func (r *ReferredBy) String() string {
	var sb strings.Builder

	if r.Address != nil {
		sb.WriteString(r.Address.String())
	}

	if r.CSeq != "" {
		sb.WriteString(";cseq=")
		sb.WriteString(r.CSeq)
	}

	for _, name := range r.Parameters.keys {
		sb.WriteString(";")
		sb.WriteString(name)
		if value := r.Parameters.values[name]; value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// Replaces is a parsed Replaces header (RFC 3891).
type Replaces struct {
	CallID    string // the replaced dialog's Call-ID
	ToTag     string // the replaced dialog's to-tag
	FromTag   string // the replaced dialog's from-tag
	EarlyOnly bool   // the early-only flag
}

// NewReplaces builds a Replaces header from its three mandatory parts.
func NewReplaces(callID, toTag, fromTag string) *Replaces {
	return &Replaces{
		CallID:  callID,
		ToTag:   toTag,
		FromTag: fromTag,
	}
}

// ParseReplaces parses a Replaces header value, e.g.:
// 98732@sip.example.com;to-tag=r33th4x0r;from-tag=ff87ff;early-only
func ParseReplaces(value string) (*Replaces, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Replaces value")
	}

	replaces := &Replaces{}

	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid Replaces format")
	}

	replaces.CallID = strings.TrimSpace(parts[0])
	if replaces.CallID == "" {
		return nil, fmt.Errorf("empty Call-ID in Replaces")
	}

	for i := 1; i < len(parts); i++ {
		param := strings.TrimSpace(parts[i])
		if param == "" {
			continue
		}

		if param == "early-only" {
			replaces.EarlyOnly = true
			continue
		}

		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 {
			continue
		}

		name := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])

		switch name {
		case "to-tag":
			replaces.ToTag = value
		case "from-tag":
			replaces.FromTag = value
		}
	}

	if replaces.ToTag == "" {
		return nil, fmt.Errorf("missing to-tag in Replaces")
	}
	if replaces.FromTag == "" {
		return nil, fmt.Errorf("missing from-tag in Replaces")
	}

	return replaces, nil
}

func (r *Replaces) String() string {
	var sb strings.Builder

	sb.WriteString(r.CallID)
	sb.WriteString(";to-tag=")
	sb.WriteString(r.ToTag)
	sb.WriteString(";from-tag=")
	sb.WriteString(r.FromTag)

	if r.EarlyOnly {
		sb.WriteString(";early-only")
	}

	return sb.String()
}

// Encode returns the URL-encoded form used to embed Replaces in a URI.
func (r *Replaces) Encode() string {
	return url.QueryEscape(r.String())
}

// normalizeReferHeaderName normalizes header names specific to the REFER
// package (RFC 3515/3891/3892), falling back to generic title-casing
// otherwise.
func normalizeReferHeaderName(name string) string {
	switch strings.ToLower(name) {
	case "refer-to":
		return HeaderReferTo
	case "referred-by":
		return HeaderReferredBy
	case "replaces":
		return HeaderReplaces
	case "refer-sub":
		return HeaderReferSub
	case "accept-refer-sub":
		return HeaderAcceptReferSub
	case "notify-refer-sub":
		return HeaderNotifyReferSub
	case "refer-events-at":
		return HeaderReferEvents
	default:
		parts := strings.Split(name, "-")
		for i, part := range parts {
			if len(part) > 0 {
				parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
			}
		}
		return strings.Join(parts, "-")
	}
}
