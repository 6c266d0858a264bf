package message

import (
	"fmt"
	"strings"
)

// Address is a SIP name-addr/addr-spec, as used in From/To/Contact.
type Address interface {
	DisplayName() string
	URI() URI
	Parameters() map[string]string
	Parameter(name string) string
	SetParameter(name string, value string)
	String() string
	Clone() Address
}

// SipAddress is the standard Address implementation.
type SipAddress struct {
	displayName string
	uri         URI
	parameters  orderedParams
}

// NewAddress builds an Address from a display name and URI.
func NewAddress(displayName string, uri URI) *SipAddress {
	return &SipAddress{
		displayName: displayName,
		uri:         uri,
		parameters:  newOrderedParams(),
	}
}

// NewAddressFromString builds an Address whose URI is parsed from uriStr,
// with no display name.
func NewAddressFromString(uriStr string) (*SipAddress, error) {
	uri, err := ParseURI(uriStr)
	if err != nil {
		return nil, err
	}
	return NewAddress("", uri), nil
}

// ParseAddress parses a name-addr or addr-spec, e.g. `"Alice" <sip:a@b>;tag=1`.
func ParseAddress(str string) (Address, error) {
	str = strings.TrimSpace(str)

	if str == "*" {
		return &WildcardAddress{}, nil
	}

	addr := &SipAddress{
		parameters: newOrderedParams(),
	}

	switch {
	case strings.HasPrefix(str, "\""):
		endQuote := 1
		for endQuote < len(str) {
			if str[endQuote] == '"' && (endQuote == 1 || str[endQuote-1] != '\\') {
				break
			}
			endQuote++
		}
		if endQuote >= len(str) {
			return nil, fmt.Errorf("unterminated quoted display name")
		}
		addr.displayName = strings.ReplaceAll(str[1:endQuote], "\\\"", "\"")
		str = strings.TrimSpace(str[endQuote+1:])
	default:
		if idx := strings.Index(str, "<"); idx > 0 {
			addr.displayName = strings.TrimSpace(str[:idx])
			str = strings.TrimSpace(str[idx:])
		}
	}

	// A bare addr-spec has no angle brackets around the URI.
	if !strings.HasPrefix(str, "<") {
		uri, err := ParseURI(str)
		if err != nil {
			return nil, fmt.Errorf("failed to parse URI: %w", err)
		}
		addr.uri = uri
		return addr, nil
	}

	endBracket := strings.Index(str, ">")
	if endBracket == -1 {
		return nil, fmt.Errorf("unterminated URI")
	}

	uri, err := ParseURI(str[1:endBracket])
	if err != nil {
		return nil, fmt.Errorf("failed to parse URI: %w", err)
	}
	addr.uri = uri

	if endBracket+1 < len(str) {
		paramStr := strings.TrimSpace(str[endBracket+1:])
		if strings.HasPrefix(paramStr, ";") {
			for _, param := range strings.Split(paramStr[1:], ";") {
				if param == "" {
					continue
				}
				kv := strings.SplitN(param, "=", 2)
				if len(kv) == 2 {
					addr.parameters.Set(kv[0], kv[1])
				} else {
					addr.parameters.Set(kv[0], "")
				}
			}
		}
	}

	return addr, nil
}

func (a *SipAddress) DisplayName() string { return a.displayName }

func (a *SipAddress) URI() URI { return a.uri }

func (a *SipAddress) Parameters() map[string]string { return a.parameters.Map() }

func (a *SipAddress) Parameter(name string) string { return a.parameters.Get(name) }

func (a *SipAddress) SetParameter(name string, value string) { a.parameters.Set(name, value) }

func (a *SipAddress) RemoveParameter(name string) { a.parameters.Delete(name) }

func (a *SipAddress) String() string {
	var sb strings.Builder

	if a.displayName != "" {
		if strings.ContainsAny(a.displayName, " \t\"") {
			sb.WriteString("\"")
			sb.WriteString(strings.ReplaceAll(a.displayName, "\"", "\\\""))
			sb.WriteString("\" ")
		} else {
			sb.WriteString(a.displayName)
			sb.WriteString(" ")
		}
	}

	sb.WriteString("<")
	sb.WriteString(a.uri.String())
	sb.WriteString(">")

	for _, name := range a.parameters.keys {
		sb.WriteString(";")
		sb.WriteString(name)
		if value := a.parameters.values[name]; value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

func (a *SipAddress) Clone() Address {
	clone := &SipAddress{
		displayName: a.displayName,
		parameters:  a.parameters.clone(),
	}

	if a.uri != nil {
		clone.uri = a.uri.Clone()
	}

	return clone
}

func (a *SipAddress) SetDisplayName(name string) { a.displayName = name }

func (a *SipAddress) SetURI(uri URI) { a.uri = uri }

// Tag returns the tag parameter, used on From/To addresses.
func (a *SipAddress) Tag() string { return a.parameters.Get("tag") }

func (a *SipAddress) SetTag(tag string) { a.SetParameter("tag", tag) }

func (a *SipAddress) HasTag() bool { return a.parameters.Has("tag") }

// Equals compares two addresses by URI and tag; display name is not
// significant for SIP address equality.
func (a *SipAddress) Equals(other Address) bool {
	if other == nil {
		return false
	}

	o, ok := other.(*SipAddress)
	if !ok {
		return false
	}

	switch {
	case a.uri == nil && o.uri == nil:
	case a.uri == nil || o.uri == nil:
		return false
	case !a.uri.Equals(o.uri):
		return false
	}

	return a.Tag() == o.Tag()
}

// WildcardAddress is the Contact: * address used to unregister all
// bindings (RFC 3261 §10.2.2).
type WildcardAddress struct{}

func NewWildcardAddress() *WildcardAddress { return &WildcardAddress{} }

func (w *WildcardAddress) DisplayName() string { return "" }

func (w *WildcardAddress) URI() URI { return nil }

func (w *WildcardAddress) Parameters() map[string]string { return make(map[string]string) }

func (w *WildcardAddress) Parameter(name string) string { return "" }

func (w *WildcardAddress) SetParameter(name string, value string) {}

func (w *WildcardAddress) String() string { return "*" }

func (w *WildcardAddress) Clone() Address { return &WildcardAddress{} }
