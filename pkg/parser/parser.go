package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/sipcore/engine/pkg/message"
)

// Parser turns a wire-format byte sequence into a parsed Message, or a
// diagnostic error, per §4.1.
type Parser interface {
	ParseMessage(data []byte) (message.Message, error)

	ParseURI(str string) (message.URI, error)
	ParseAddress(str string) (message.Address, error)
	ParseHeader(name, value string) (message.Header, error)

	SetStrict(strict bool)
	SetMaxHeaderLength(length int)
	SetMaxHeaders(count int)
}

// ParserOption configures a DefaultParser at construction time.
type ParserOption func(*DefaultParser)

// DefaultParser is a datagram-oriented SIP parser: Content-Length is
// tolerated as advisory (§4.1 "tolerated as advisory over datagram
// transports") rather than a hard framing boundary, since this engine's
// only wire transport is UDP (§2).
type DefaultParser struct {
	strict          bool
	maxHeaderLength int
	maxHeaders      int
}

// NewParser builds a DefaultParser with RFC-sane defaults.
func NewParser(opts ...ParserOption) Parser {
	p := &DefaultParser{
		strict:          true,
		maxHeaderLength: 8192,
		maxHeaders:      128,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func WithStrict(strict bool) ParserOption {
	return func(p *DefaultParser) { p.strict = strict }
}

func WithMaxHeaderLength(length int) ParserOption {
	return func(p *DefaultParser) { p.maxHeaderLength = length }
}

func WithMaxHeaders(count int) ParserOption {
	return func(p *DefaultParser) { p.maxHeaders = count }
}

func (p *DefaultParser) SetStrict(strict bool)             { p.strict = strict }
func (p *DefaultParser) SetMaxHeaderLength(length int)      { p.maxHeaderLength = length }
func (p *DefaultParser) SetMaxHeaders(count int)            { p.maxHeaders = count }

// rawHeader is one unfolded header line as it appeared on the wire,
// before name normalization/compact-form expansion.
type rawHeader struct {
	name  string
	value string
}

// splitMessage locates the blank-line boundary between the header
// block and the body (§4.1: "Headers span until CRLF CRLF"; a message
// with bare LF line endings is split at LF LF instead) and
// returns the start line, the unfolded header lines and the body
// bytes that follow the boundary (which may overrun any Content-Length
// value — datagram framing means the whole read is one message).
func splitMessage(data []byte) (startLine string, headerLines []rawHeader, body []byte, err error) {
	sep, eol := "\r\n\r\n", "\r\n"
	boundary := bytes.Index(data, []byte(sep))
	if boundary == -1 {
		sep, eol = "\n\n", "\n"
		boundary = bytes.Index(data, []byte(sep))
	}
	if boundary == -1 {
		return "", nil, nil, fmt.Errorf("no header/body boundary (missing CRLF CRLF)")
	}

	head := data[:boundary]
	body = data[boundary+len(sep):]

	lines := strings.Split(string(head), eol)
	if len(lines) == 0 || lines[0] == "" {
		return "", nil, nil, fmt.Errorf("empty start line")
	}
	startLine = lines[0]

	headerLines, err = unfoldHeaderLines(lines[1:])
	return startLine, headerLines, body, err
}

// unfoldHeaderLines merges continuation lines (leading whitespace, per
// §4.1's "line-folding ... is unfolded") into the header they continue
// and splits each resulting line on its first colon.
func unfoldHeaderLines(lines []string) ([]rawHeader, error) {
	var out []rawHeader
	for _, line := range lines {
		if line == "" {
			continue
		}
		if len(out) > 0 && (line[0] == ' ' || line[0] == '\t') {
			out[len(out)-1].value += " " + strings.TrimLeft(line, " \t")
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			return nil, fmt.Errorf("invalid header: no colon found in %q", line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		if len(name) == 1 {
			if full, ok := message.GetCompactFormMapping(name); ok {
				name = full
			}
		}
		out = append(out, rawHeader{name: normalizeHeaderName(name), value: value})
	}
	return out, nil
}

// ParseMessage dispatches on the start line per §4.1: "SIP/" prefix is
// a response, anything else a request.
func (p *DefaultParser) ParseMessage(data []byte) (message.Message, error) {
	startLine, headerLines, body, err := splitMessage(data)
	if err != nil {
		return nil, err
	}
	if len(headerLines) > p.maxHeaders {
		return nil, fmt.Errorf("too many headers: %d", len(headerLines))
	}
	for _, h := range headerLines {
		if len(h.name)+len(h.value) > p.maxHeaderLength {
			return nil, fmt.Errorf("header too long: %s", h.name)
		}
	}

	var msg message.Message
	if strings.HasPrefix(startLine, "SIP/") {
		msg, err = p.buildResponse(startLine, headerLines)
	} else {
		msg, err = p.buildRequest(startLine, headerLines)
	}
	if err != nil {
		return nil, err
	}

	if err := p.attachBody(msg, body); err != nil {
		return nil, err
	}

	if p.strict {
		if err := p.validateCommon(msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func (p *DefaultParser) buildRequest(requestLine string, headers []rawHeader) (message.Message, error) {
	parts := strings.Fields(requestLine)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid request line: %s", requestLine)
	}
	method, requestURIStr, sipVersion := parts[0], parts[1], parts[2]

	if p.strict && sipVersion != "SIP/2.0" {
		return nil, fmt.Errorf("unsupported SIP version: %s", sipVersion)
	}
	if _, ok := message.ParseMethod(method); !ok {
		return nil, fmt.Errorf("unknown method: %s", method)
	}

	requestURI, err := p.ParseURI(requestURIStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request URI: %w", err)
	}

	req := message.NewRequest(method, requestURI)
	applyHeaders(req, headers)
	return req, nil
}

func (p *DefaultParser) buildResponse(statusLine string, headers []rawHeader) (message.Message, error) {
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid status line: %s", statusLine)
	}
	sipVersion, statusCodeStr := parts[0], parts[1]
	reasonPhrase := ""
	if len(parts) >= 3 {
		reasonPhrase = parts[2]
	}

	if p.strict && sipVersion != "SIP/2.0" {
		return nil, fmt.Errorf("unsupported SIP version: %s", sipVersion)
	}

	statusCode, err := strconv.Atoi(statusCodeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid status code: %w", err)
	}
	if statusCode < 100 || statusCode > 699 {
		return nil, fmt.Errorf("status code out of range [100,699]: %d", statusCode)
	}

	resp := message.NewResponse(statusCode, reasonPhrase)
	applyHeaders(resp, headers)
	return resp, nil
}

func applyHeaders(msg message.Message, headers []rawHeader) {
	for _, h := range headers {
		msg.AddHeader(h.name, h.value)
	}
}

// attachBody applies §4.1's datagram leniency: Content-Length is read
// if present and non-negative, but a mismatch against the bytes that
// actually followed the CRLF CRLF boundary never fails parsing — the
// datagram itself is the framing. A negative Content-Length is always
// rejected.
func (p *DefaultParser) attachBody(msg message.Message, body []byte) error {
	clHeader := msg.GetHeader("Content-Length")
	if clHeader == "" {
		if len(body) > 0 {
			msg.SetBody(body)
		}
		return nil
	}

	contentLength, err := strconv.Atoi(strings.TrimSpace(clHeader))
	if err != nil {
		return fmt.Errorf("invalid Content-Length: %w", err)
	}
	if contentLength < 0 {
		return fmt.Errorf("negative Content-Length: %d", contentLength)
	}

	switch {
	case contentLength <= len(body):
		msg.SetBody(body[:contentLength])
	default:
		// Declared length exceeds what the datagram actually carried;
		// advisory only, so take what's there instead of failing.
		msg.SetBody(body)
	}
	return nil
}

func (p *DefaultParser) validateCommon(msg message.Message) error {
	required := []string{
		message.HeaderTo,
		message.HeaderFrom,
		message.HeaderCSeq,
		message.HeaderCallID,
		message.HeaderVia,
	}
	if msg.IsRequest() {
		required = append(required, message.HeaderMaxForwards)
	}
	for _, h := range required {
		if msg.GetHeader(h) == "" {
			return fmt.Errorf("missing required header: %s", h)
		}
	}

	cseq, err := message.ParseCSeq(msg.GetHeader(message.HeaderCSeq))
	if err != nil {
		return fmt.Errorf("invalid CSeq header: %w", err)
	}
	if msg.IsRequest() && cseq.Method != msg.Method() {
		return fmt.Errorf("CSeq method mismatch: %s != %s", cseq.Method, msg.Method())
	}
	return nil
}

// ParseURI parses a SIP/SIPS/tel URI.
func (p *DefaultParser) ParseURI(str string) (message.URI, error) {
	return message.ParseURI(str)
}

// ParseAddress parses a name-addr or addr-spec (From/To/Contact style value).
func (p *DefaultParser) ParseAddress(str string) (message.Address, error) {
	return message.ParseAddress(str)
}

// ParseHeader parses a single header into its typed representation
// where one exists, falling back to a raw Header otherwise (§3: "Unknown
// headers are preserved as raw strings").
func (p *DefaultParser) ParseHeader(name, value string) (message.Header, error) {
	switch normalizeHeaderName(name) {
	case message.HeaderVia:
		via, err := message.ParseVia(value)
		if err != nil {
			return nil, err
		}
		return &ViaHeader{Via: via, name: message.HeaderVia}, nil

	case message.HeaderCSeq:
		cseq, err := message.ParseCSeq(value)
		if err != nil {
			return nil, err
		}
		return &CSeqHeader{CSeq: cseq, name: message.HeaderCSeq}, nil

	case message.HeaderContentType:
		ct, err := message.ParseContentType(value)
		if err != nil {
			return nil, err
		}
		return &ContentTypeHeader{ContentType: ct, name: message.HeaderContentType}, nil

	default:
		return message.NewHeader(name, value), nil
	}
}

func normalizeHeaderName(name string) string {
	parts := strings.Split(name, "-")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return strings.Join(parts, "-")
}

// ViaHeader adapts message.Via to the Header interface.
type ViaHeader struct {
	*message.Via
	name string
}

func (h *ViaHeader) Name() string  { return h.name }
func (h *ViaHeader) Value() string { return h.Via.String() }
func (h *ViaHeader) Clone() message.Header {
	return &ViaHeader{Via: h.Via, name: h.name}
}

// CSeqHeader adapts message.CSeq to the Header interface.
type CSeqHeader struct {
	*message.CSeq
	name string
}

func (h *CSeqHeader) Name() string  { return h.name }
func (h *CSeqHeader) Value() string { return h.CSeq.String() }
func (h *CSeqHeader) Clone() message.Header {
	return &CSeqHeader{CSeq: h.CSeq, name: h.name}
}

// ContentTypeHeader adapts message.ContentType to the Header interface.
type ContentTypeHeader struct {
	*message.ContentType
	name string
}

func (h *ContentTypeHeader) Name() string  { return h.name }
func (h *ContentTypeHeader) Value() string { return h.ContentType.String() }
func (h *ContentTypeHeader) Clone() message.Header {
	return &ContentTypeHeader{ContentType: h.ContentType, name: h.name}
}
