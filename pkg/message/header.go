package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Header is a single SIP header.
type Header interface {
	Name() string
	Value() string
	String() string
	Clone() Header
}

// GenericHeader is the default Header implementation for headers with no
// dedicated structured type.
type GenericHeader struct {
	name  string
	value string
}

// NewHeader builds a Header, normalizing name and trimming value.
func NewHeader(name, value string) Header {
	return &GenericHeader{
		name:  normalizeHeaderName(name),
		value: strings.TrimSpace(value),
	}
}

func (h *GenericHeader) Name() string { return h.name }

func (h *GenericHeader) Value() string { return h.value }

func (h *GenericHeader) String() string {
	return fmt.Sprintf("%s: %s", h.name, h.value)
}

func (h *GenericHeader) Clone() Header {
	return &GenericHeader{name: h.name, value: h.value}
}

// Via is a parsed Via header (RFC 3261 §20.42).
type Via struct {
	Protocol  string // e.g. "SIP/2.0/UDP"
	Host      string
	Port      int
	Branch    string
	Received  string // the received parameter
	RPort     int    // the rport parameter; -1 means present without a value
	RPortSet  bool   // true once rport was seen on the wire
	TTL       int    // the ttl parameter
	MAddr     string // the maddr parameter
	Extension orderedParams
}

// NewVia builds a bare Via header with no parameters set.
func NewVia(protocol, host string, port int) *Via {
	return &Via{
		Protocol:  protocol,
		Host:      host,
		Port:      port,
		Extension: newOrderedParams(),
	}
}

// ParseVia parses a Via header value.
func ParseVia(value string) (*Via, error) {
	via := &Via{
		Extension: newOrderedParams(),
	}

	parts := strings.Fields(value)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid Via header")
	}

	via.Protocol = parts[0]

	remaining := strings.Join(parts[1:], " ")

	segments := strings.Split(remaining, ";")
	if len(segments) == 0 {
		return nil, fmt.Errorf("invalid Via header: missing host")
	}

	host, port, err := parseHostPort(strings.TrimSpace(segments[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid Via header: %w", err)
	}
	via.Host = host
	via.Port = port

	for i := 1; i < len(segments); i++ {
		param := strings.TrimSpace(segments[i])
		if param == "" {
			continue
		}

		kv := strings.SplitN(param, "=", 2)
		name := strings.ToLower(kv[0])
		value := ""
		if len(kv) == 2 {
			value = kv[1]
		}

		switch name {
		case "branch":
			via.Branch = value
		case "received":
			via.Received = value
		case "rport":
			via.RPortSet = true
			if value != "" {
				if port, err := parsePort(value); err == nil {
					via.RPort = port
				}
			} else {
				via.RPort = -1 // rport present without a value
			}
		case "ttl":
			if ttl, err := parsePort(value); err == nil {
				via.TTL = ttl
			}
		case "maddr":
			via.MAddr = value
		default:
			via.Extension.Set(name, value)
		}
	}

	return via, nil
}

func (v *Via) String() string {
	var sb strings.Builder

	sb.WriteString(v.Protocol)
	sb.WriteString(" ")
	sb.WriteString(v.Host)

	if v.Port > 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(v.Port))
	}

	// branch is mandatory under RFC 3261 but callers may still omit it.
	if v.Branch != "" {
		sb.WriteString(";branch=")
		sb.WriteString(v.Branch)
	}

	if v.Received != "" {
		sb.WriteString(";received=")
		sb.WriteString(v.Received)
	}

	if v.RPort > 0 {
		sb.WriteString(";rport=")
		sb.WriteString(strconv.Itoa(v.RPort))
	} else if v.RPort == -1 {
		sb.WriteString(";rport")
	}

	if v.TTL > 0 {
		sb.WriteString(";ttl=")
		sb.WriteString(strconv.Itoa(v.TTL))
	}

	if v.MAddr != "" {
		sb.WriteString(";maddr=")
		sb.WriteString(v.MAddr)
	}

	for _, name := range v.Extension.keys {
		sb.WriteString(";")
		sb.WriteString(name)
		if value := v.Extension.values[name]; value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// Clone returns a deep copy of the Via entry.
func (v *Via) Clone() *Via {
	c := *v
	c.Extension = v.Extension.clone()
	return &c
}

// GetAddress returns the address a response should actually be sent to,
// applying the received/rport overrides per RFC 3261 §18.2.1 and
// RFC 3581 over the Via's sent-by host/port.
func (v *Via) GetAddress() string {
	host := v.Host
	if v.Received != "" {
		host = v.Received
	}

	port := v.Port
	if v.RPort > 0 {
		port = v.RPort
	}

	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port <= 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// parseHostPort splits a sent-by host[:port] value, accepting bracketed
// IPv6 literals ("[::1]:5060") alongside plain hostnames and IPv4.
func parseHostPort(s string) (host string, port int, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end == -1 {
			return "", 0, fmt.Errorf("unterminated IPv6 literal: %s", s)
		}
		host = s[1:end]
		rest := s[end+1:]
		if rest == "" {
			return host, 0, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("invalid host:port: %s", s)
		}
		port, err = parsePort(rest[1:])
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}

	// A bare IPv6 literal without brackets carries no port.
	if strings.Count(s, ":") > 1 {
		return s, 0, nil
	}

	if idx := strings.LastIndex(s, ":"); idx != -1 {
		host = s[:idx]
		port, err = parsePort(s[idx+1:])
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}

	return s, 0, nil
}

// CSeq is a parsed CSeq header.
type CSeq struct {
	Sequence uint32
	Method   string
}

// ParseCSeq parses a CSeq header value ("number method").
func ParseCSeq(value string) (*CSeq, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid CSeq header")
	}

	seq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid CSeq number: %w", err)
	}

	return &CSeq{
		Sequence: uint32(seq),
		Method:   parts[1],
	}, nil
}

func (c *CSeq) String() string {
	return fmt.Sprintf("%d %s", c.Sequence, c.Method)
}

// ContentType is a parsed Content-Type header.
type ContentType struct {
	Type       string
	SubType    string
	Parameters orderedParams
}

// ParseContentType parses a Content-Type header value.
func ParseContentType(value string) (*ContentType, error) {
	ct := &ContentType{
		Parameters: newOrderedParams(),
	}

	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty Content-Type")
	}

	typeParts := strings.Split(strings.TrimSpace(parts[0]), "/")
	if len(typeParts) != 2 {
		return nil, fmt.Errorf("invalid Content-Type format")
	}

	ct.Type = strings.TrimSpace(typeParts[0])
	ct.SubType = strings.TrimSpace(typeParts[1])

	for i := 1; i < len(parts); i++ {
		param := strings.TrimSpace(parts[i])
		if param == "" {
			continue
		}

		kv := strings.SplitN(param, "=", 2)
		if len(kv) == 2 {
			ct.Parameters.Set(strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1]))
		}
	}

	return ct, nil
}

func (ct *ContentType) String() string {
	var sb strings.Builder

	sb.WriteString(ct.Type)
	sb.WriteString("/")
	sb.WriteString(ct.SubType)

	for _, name := range ct.Parameters.keys {
		sb.WriteString("; ")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(ct.Parameters.values[name])
	}

	return sb.String()
}

// parsePort parses a decimal port number, rejecting out-of-range values.
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

// Well-known header names.
const (
	HeaderVia                = "Via"
	HeaderFrom               = "From"
	HeaderTo                 = "To"
	HeaderCallID             = "Call-ID"
	HeaderCSeq               = "CSeq"
	HeaderContact            = "Contact"
	HeaderMaxForwards        = "Max-Forwards"
	HeaderRoute              = "Route"
	HeaderRecordRoute        = "Record-Route"
	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderAuthorization      = "Authorization"
	HeaderWWWAuthenticate    = "WWW-Authenticate"
	HeaderProxyAuthenticate  = "Proxy-Authenticate"
	HeaderProxyAuthorization = "Proxy-Authorization"
	HeaderExpires            = "Expires"
	HeaderAllow              = "Allow"
	HeaderSupported          = "Supported"
	HeaderRequire            = "Require"
	HeaderProxyRequire       = "Proxy-Require"
	HeaderUnsupported        = "Unsupported"
	HeaderRetryAfter         = "Retry-After"
	HeaderUserAgent          = "User-Agent"
	HeaderServer             = "Server"
	HeaderSubject            = "Subject"
	HeaderDate               = "Date"
	HeaderTimestamp          = "Timestamp"
	HeaderWarning            = "Warning"
	HeaderPriority           = "Priority"
	HeaderOrganization       = "Organization"
	HeaderAccept             = "Accept"
	HeaderAcceptEncoding     = "Accept-Encoding"
	HeaderAcceptLanguage     = "Accept-Language"
	HeaderAlertInfo          = "Alert-Info"
	HeaderErrorInfo          = "Error-Info"
	HeaderInReplyTo          = "In-Reply-To"
	HeaderMIMEVersion        = "MIME-Version"
	HeaderMinExpires         = "Min-Expires"
	HeaderReplyTo            = "Reply-To"
	HeaderAuthenticationInfo = "Authentication-Info"

	// Event package (RFC 3265) and REFER package (RFC 3515/3891) headers.
	HeaderEvent             = "Event"
	HeaderSubscriptionState = "Subscription-State"
	HeaderAllowEvents       = "Allow-Events"
	HeaderReferTo           = "Refer-To"
	HeaderReferredBy        = "Referred-By"
	HeaderReplaces          = "Replaces"
	HeaderReferSub          = "Refer-Sub"
	HeaderAcceptReferSub    = "Accept-Refer-Sub"
	HeaderNotifyReferSub    = "Notify-Refer-Sub"
	HeaderReferEvents       = "Refer-Events-At"
)

// compactForms maps compact header forms to their full names (RFC 3261 §7.3.3).
var compactForms = map[string]string{
	"i": HeaderCallID,
	"m": HeaderContact,
	"f": HeaderFrom,
	"t": HeaderTo,
	"v": HeaderVia,
	"c": HeaderContentType,
	"l": HeaderContentLength,
	"k": HeaderSupported,
	"s": HeaderSubject,
}

// GetCompactFormMapping resolves a compact header form to its full name.
func GetCompactFormMapping(compact string) (string, bool) {
	full, ok := compactForms[compact]
	return full, ok
}

// Route is a parsed Route or Record-Route header entry.
type Route struct {
	Address    Address
	Parameters orderedParams
}

// NewRoute builds a Route header entry with no parameters.
func NewRoute(addr Address) *Route {
	return &Route{
		Address:    addr,
		Parameters: newOrderedParams(),
	}
}

// ParseRoute parses a single Route/Record-Route entry.
func ParseRoute(value string) (*Route, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty route value")
	}

	addr, err := ParseAddress(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse route address: %w", err)
	}

	return &Route{
		Address:    addr,
		Parameters: newOrderedParams(),
	}, nil
}

// ParseRouteHeader parses a Route/Record-Route header, which may list
// several comma-separated addresses.
func ParseRouteHeader(value string) ([]*Route, error) {
	var routes []*Route

	for _, addr := range splitHeaderValues(value) {
		trimmed := strings.TrimSpace(addr)
		if trimmed == "" {
			continue
		}

		route, err := ParseRoute(trimmed)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}

	return routes, nil
}

func (r *Route) String() string {
	var sb strings.Builder
	sb.WriteString(r.Address.String())

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

// splitHeaderValues splits a comma-separated header value, treating commas
// inside quotes or angle brackets as part of the value rather than a
// separator.
func splitHeaderValues(value string) []string {
	var values []string
	var current strings.Builder
	inQuotes := false
	inBrackets := false
	escapeNext := false

	for i := 0; i < len(value); i++ {
		ch := value[i]

		if escapeNext {
			current.WriteByte(ch)
			escapeNext = false
			continue
		}

		switch ch {
		case '\\':
			escapeNext = true
			current.WriteByte(ch)
		case '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case '<':
			if !inQuotes {
				inBrackets = true
			}
			current.WriteByte(ch)
		case '>':
			if !inQuotes {
				inBrackets = false
			}
			current.WriteByte(ch)
		case ',':
			if !inQuotes && !inBrackets {
				if current.Len() > 0 {
					values = append(values, current.String())
					current.Reset()
				}
			} else {
				current.WriteByte(ch)
			}
		default:
			current.WriteByte(ch)
		}
	}

	if current.Len() > 0 {
		values = append(values, current.String())
	}

	return values
}
