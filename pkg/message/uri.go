package message

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// orderedParams is an insertion-ordered string-to-string map, used for
// SIP-URI and Address parameters whose wire order must round-trip.
type orderedParams struct {
	keys   []string
	values map[string]string
}

func newOrderedParams() orderedParams {
	return orderedParams{values: make(map[string]string)}
}

func (p *orderedParams) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *orderedParams) Get(key string) string {
	return p.values[key]
}

func (p *orderedParams) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

func (p *orderedParams) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

func (p orderedParams) Map() map[string]string {
	out := make(map[string]string, len(p.keys))
	for _, k := range p.keys {
		out[k] = p.values[k]
	}
	return out
}

func (p orderedParams) clone() orderedParams {
	c := newOrderedParams()
	for _, k := range p.keys {
		c.Set(k, p.values[k])
	}
	return c
}

// URI models a sip:/sips: URI (RFC 3261 §19.1). Scheme, host comparisons
// are case-insensitive; user/password are case-sensitive.
type URI interface {
	Scheme() string
	User() string
	Password() string
	Host() string
	Port() int
	HostType() HostType

	Parameter(name string) string
	Parameters() map[string]string
	SetParameter(name string, value string)

	Header(name string) string
	Headers() map[string]string

	// DecodedUser lazily percent-decodes the user part.
	DecodedUser() string
	// DecodedHeader lazily percent-decodes a URI header value.
	DecodedHeader(name string) string

	String() string
	Clone() URI
	Equals(other URI) bool
}

// HostType distinguishes how the host component was written on the wire.
type HostType int

const (
	HostTypeName HostType = iota
	HostTypeIPv4
	HostTypeIPv6
)

// SipURI is the concrete URI implementation.
type SipURI struct {
	scheme     string
	user       string
	password   string
	host       string
	hostType   HostType
	port       int
	parameters orderedParams
	headers    orderedParams
}

// NewSipURI creates a sip: URI for a user at a host.
func NewSipURI(user, host string) *SipURI {
	return &SipURI{
		scheme:     "sip",
		user:       user,
		host:       host,
		hostType:   classifyHost(host),
		parameters: newOrderedParams(),
		headers:    newOrderedParams(),
	}
}

// NewSipsURI creates a sips: URI for a user at a host.
func NewSipsURI(user, host string) *SipURI {
	uri := NewSipURI(user, host)
	uri.scheme = "sips"
	return uri
}

func classifyHost(host string) HostType {
	if strings.Contains(host, ":") {
		return HostTypeIPv6
	}
	allDigitsAndDots := true
	for _, r := range host {
		if (r < '0' || r > '9') && r != '.' {
			allDigitsAndDots = false
			break
		}
	}
	if allDigitsAndDots && strings.Count(host, ".") == 3 {
		return HostTypeIPv4
	}
	return HostTypeName
}

// ParseURI parses a sip:/sips:/tel: URI. tel: URIs are accepted with the
// remainder of the string stored verbatim as the user part against an
// empty host, matching spec.md's scheme set without inventing tel:
// semantics the core never interprets.
func ParseURI(str string) (URI, error) {
	uri := &SipURI{
		parameters: newOrderedParams(),
		headers:    newOrderedParams(),
	}

	schemeEnd := strings.Index(str, ":")
	if schemeEnd == -1 {
		return nil, fmt.Errorf("invalid URI: missing scheme")
	}
	uri.scheme = strings.ToLower(str[:schemeEnd])
	if uri.scheme != "sip" && uri.scheme != "sips" && uri.scheme != "tel" {
		return nil, fmt.Errorf("invalid URI scheme: %s", uri.scheme)
	}

	remaining := str[schemeEnd+1:]

	if uri.scheme == "tel" {
		uri.user = remaining
		return uri, nil
	}

	atIndex := strings.LastIndex(remaining, "@")
	var userInfo, hostPort string
	if atIndex != -1 {
		userInfo = remaining[:atIndex]
		hostPort = remaining[atIndex+1:]
		if colonIndex := strings.Index(userInfo, ":"); colonIndex != -1 {
			uri.user = userInfo[:colonIndex]
			uri.password = userInfo[colonIndex+1:]
		} else {
			uri.user = userInfo
		}
	} else {
		hostPort = remaining
	}

	var hostPortPart string
	if paramIndex := strings.Index(hostPort, ";"); paramIndex != -1 {
		hostPortPart = hostPort[:paramIndex]
		rest := hostPort[paramIndex+1:]
		if headerIndex := strings.Index(rest, "?"); headerIndex != -1 {
			if err := uri.parseParameters(rest[:headerIndex]); err != nil {
				return nil, err
			}
			if err := uri.parseHeaders(rest[headerIndex+1:]); err != nil {
				return nil, err
			}
		} else if err := uri.parseParameters(rest); err != nil {
			return nil, err
		}
	} else if headerIndex := strings.Index(hostPort, "?"); headerIndex != -1 {
		hostPortPart = hostPort[:headerIndex]
		if err := uri.parseHeaders(hostPort[headerIndex+1:]); err != nil {
			return nil, err
		}
	} else {
		hostPortPart = hostPort
	}

	if strings.HasPrefix(hostPortPart, "[") {
		endBracket := strings.Index(hostPortPart, "]")
		if endBracket == -1 {
			return nil, fmt.Errorf("invalid IPv6 address")
		}
		uri.host = hostPortPart[1:endBracket]
		uri.hostType = HostTypeIPv6
		if endBracket+1 < len(hostPortPart) && hostPortPart[endBracket+1] == ':' {
			port, err := strconv.Atoi(hostPortPart[endBracket+2:])
			if err != nil {
				return nil, fmt.Errorf("invalid port: %s", hostPortPart[endBracket+2:])
			}
			uri.port = port
		}
	} else if colonIndex := strings.LastIndex(hostPortPart, ":"); colonIndex != -1 {
		uri.host = hostPortPart[:colonIndex]
		port, err := strconv.Atoi(hostPortPart[colonIndex+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid port: %s", hostPortPart[colonIndex+1:])
		}
		uri.port = port
		uri.hostType = classifyHost(uri.host)
	} else {
		uri.host = hostPortPart
		uri.hostType = classifyHost(uri.host)
	}

	if uri.host == "" {
		return nil, fmt.Errorf("invalid URI: missing host")
	}

	return uri, nil
}

func (u *SipURI) parseParameters(paramStr string) error {
	for _, param := range strings.Split(paramStr, ";") {
		if param == "" {
			continue
		}
		parts := strings.SplitN(param, "=", 2)
		if len(parts) == 2 {
			u.parameters.Set(parts[0], parts[1])
		} else {
			u.parameters.Set(parts[0], "")
		}
	}
	return nil
}

func (u *SipURI) parseHeaders(headerStr string) error {
	if headerStr == "" {
		return nil
	}
	for _, header := range strings.Split(headerStr, "&") {
		if header == "" {
			continue
		}
		parts := strings.SplitN(header, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid header: %s", header)
		}
		u.headers.Set(parts[0], parts[1])
	}
	return nil
}

func (u *SipURI) Scheme() string      { return u.scheme }
func (u *SipURI) User() string        { return u.user }
func (u *SipURI) Password() string    { return u.password }
func (u *SipURI) Host() string        { return u.host }
func (u *SipURI) Port() int           { return u.port }
func (u *SipURI) HostType() HostType  { return u.hostType }

func (u *SipURI) DecodedUser() string {
	decoded, err := url.QueryUnescape(u.user)
	if err != nil {
		return u.user
	}
	return decoded
}

func (u *SipURI) DecodedHeader(name string) string {
	decoded, err := url.QueryUnescape(u.headers.Get(name))
	if err != nil {
		return u.headers.Get(name)
	}
	return decoded
}

func (u *SipURI) Parameter(name string) string           { return u.parameters.Get(name) }
func (u *SipURI) Parameters() map[string]string           { return u.parameters.Map() }
func (u *SipURI) SetParameter(name string, value string)  { u.parameters.Set(name, value) }
func (u *SipURI) RemoveParameter(name string)              { u.parameters.Delete(name) }
func (u *SipURI) Header(name string) string                { return u.headers.Get(name) }
func (u *SipURI) Headers() map[string]string                { return u.headers.Map() }

func (u *SipURI) String() string {
	var sb strings.Builder
	sb.WriteString(u.scheme)
	sb.WriteString(":")

	if u.scheme == "tel" {
		sb.WriteString(u.user)
		return sb.String()
	}

	if u.user != "" {
		sb.WriteString(u.user)
		if u.password != "" {
			sb.WriteString(":")
			sb.WriteString(u.password)
		}
		sb.WriteString("@")
	}

	if u.hostType == HostTypeIPv6 {
		sb.WriteString("[")
		sb.WriteString(u.host)
		sb.WriteString("]")
	} else {
		sb.WriteString(u.host)
	}

	if u.port > 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(u.port))
	}

	for _, name := range u.parameters.keys {
		sb.WriteString(";")
		sb.WriteString(name)
		if v := u.parameters.values[name]; v != "" {
			sb.WriteString("=")
			sb.WriteString(v)
		}
	}

	if len(u.headers.keys) > 0 {
		sb.WriteString("?")
		for i, name := range u.headers.keys {
			if i > 0 {
				sb.WriteString("&")
			}
			sb.WriteString(name)
			sb.WriteString("=")
			sb.WriteString(u.headers.values[name])
		}
	}

	return sb.String()
}

func (u *SipURI) Clone() URI {
	return &SipURI{
		scheme:     u.scheme,
		user:       u.user,
		password:   u.password,
		host:       u.host,
		hostType:   u.hostType,
		port:       u.port,
		parameters: u.parameters.clone(),
		headers:    u.headers.clone(),
	}
}

// defaultPortFor returns the RFC 3261 default port for a scheme.
func defaultPortFor(scheme string) int {
	switch scheme {
	case "sips":
		return 5061
	default:
		return 5060
	}
}

// caseInsensitiveParams are the URI parameters whose *values* are compared
// case-insensitively per RFC 3261 §19.1.4; "maddr" behaves like a hostname.
var caseInsensitiveParams = map[string]bool{
	"transport": true,
	"method":    true,
	"maddr":     true,
}

// Equals implements RFC 3261 §19.1.4 URI comparison: scheme
// case-insensitive, user/password case-sensitive, host case-insensitive,
// and the user/ttl/method/maddr/transport parameters participate (with
// per-parameter case rules); URI headers never participate.
func (u *SipURI) Equals(other URI) bool {
	if other == nil {
		return false
	}
	o, ok := other.(*SipURI)
	if !ok {
		return false
	}

	if !strings.EqualFold(u.scheme, o.scheme) {
		return false
	}
	if u.user != o.user || u.password != o.password {
		return false
	}
	if !strings.EqualFold(u.host, o.host) {
		return false
	}

	uPort := u.port
	if uPort == 0 {
		uPort = defaultPortFor(u.scheme)
	}
	oPort := o.port
	if oPort == 0 {
		oPort = defaultPortFor(o.scheme)
	}
	if uPort != oPort {
		return false
	}

	for _, param := range []string{"user", "ttl", "method", "maddr", "transport"} {
		uHas, oHas := u.parameters.Has(param), o.parameters.Has(param)
		if uHas != oHas {
			// Absence of a parameter on one side is only equal if the
			// other side's value is empty too (both "not specified").
			if uHas && u.parameters.Get(param) != "" {
				return false
			}
			if oHas && o.parameters.Get(param) != "" {
				return false
			}
			continue
		}
		if !uHas {
			continue
		}
		uv, ov := u.parameters.Get(param), o.parameters.Get(param)
		if caseInsensitiveParams[param] {
			if !strings.EqualFold(uv, ov) {
				return false
			}
		} else if uv != ov {
			return false
		}
	}

	return true
}

func (u *SipURI) SetHost(host string) {
	u.host = host
	u.hostType = classifyHost(host)
}
func (u *SipURI) SetPort(port int)     { u.port = port }
func (u *SipURI) SetUser(user string)  { u.user = user }
func (u *SipURI) SetScheme(scheme string) {
	if scheme == "sip" || scheme == "sips" || scheme == "tel" {
		u.scheme = scheme
	}
}
