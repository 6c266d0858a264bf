package message

import (
	"strconv"
	"strings"
)

// Message is the discriminated {Request, Response} variant of §3: both
// halves share a header multimap, a body and a SIP version, but a
// Message only ever answers the Method/RequestURI pair or the
// StatusCode/ReasonPhrase pair depending on IsRequest/IsResponse.
type Message interface {
	IsRequest() bool
	IsResponse() bool

	Method() string
	RequestURI() URI

	StatusCode() int
	ReasonPhrase() string

	SIPVersion() string

	GetHeader(name string) string
	GetHeaders(name string) []string
	SetHeader(name string, value string)
	AddHeader(name string, value string)
	RemoveHeader(name string)
	Headers() map[string][]string

	Body() []byte
	SetBody(body []byte)
	ContentLength() int

	String() string
	Bytes() []byte

	Clone() Message
}

// headerSlot is one header name and its ordered values, the unit the
// frame's insertion order is tracked in. Keeping values alongside the
// name (rather than a bare map) is what lets Bytes()/String() reproduce
// the order headers were added in, which §3's round-trip invariant and
// §6's fixed wire order both depend on.
type headerSlot struct {
	name   string
	values []string
}

// frame is the ordered header multimap plus body shared by Request and
// Response. A bare map[string][]string (the layout this was ported
// from) can't preserve insertion order across a Go map's randomized
// iteration, which silently violates the serializer's header-order
// requirement; frame tracks an explicit slot order instead and maps
// canonical name -> slot index for O(1) lookups.
type frame struct {
	sipVersion string
	slots      []headerSlot
	index      map[string]int
	body       []byte
}

func newFrame() *frame {
	return &frame{
		sipVersion: "SIP/2.0",
		index:      make(map[string]int),
	}
}

func (f *frame) clone() *frame {
	clone := &frame{
		sipVersion: f.sipVersion,
		slots:      make([]headerSlot, len(f.slots)),
		index:      make(map[string]int, len(f.index)),
	}
	for i, s := range f.slots {
		clone.slots[i] = headerSlot{name: s.name, values: append([]string(nil), s.values...)}
	}
	for k, v := range f.index {
		clone.index[k] = v
	}
	if f.body != nil {
		clone.body = append([]byte(nil), f.body...)
	}
	return clone
}

func (f *frame) slotFor(name string) (*headerSlot, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return &f.slots[i], true
}

func (f *frame) get(name string) string {
	name = normalizeHeaderName(name)
	if slot, ok := f.slotFor(name); ok && len(slot.values) > 0 {
		return slot.values[0]
	}
	return ""
}

func (f *frame) getAll(name string) []string {
	name = normalizeHeaderName(name)
	if slot, ok := f.slotFor(name); ok {
		return append([]string(nil), slot.values...)
	}
	return nil
}

func (f *frame) set(name, value string) {
	name = normalizeHeaderName(name)
	if slot, ok := f.slotFor(name); ok {
		slot.values = []string{value}
		return
	}
	f.index[name] = len(f.slots)
	f.slots = append(f.slots, headerSlot{name: name, values: []string{value}})
}

func (f *frame) add(name, value string) {
	name = normalizeHeaderName(name)
	if slot, ok := f.slotFor(name); ok {
		slot.values = append(slot.values, value)
		return
	}
	f.set(name, value)
}

func (f *frame) remove(name string) {
	name = normalizeHeaderName(name)
	i, ok := f.index[name]
	if !ok {
		return
	}
	f.slots = append(f.slots[:i], f.slots[i+1:]...)
	delete(f.index, name)
	for k, v := range f.index {
		if v > i {
			f.index[k] = v - 1
		}
	}
}

func (f *frame) asMap() map[string][]string {
	out := make(map[string][]string, len(f.slots))
	for _, s := range f.slots {
		out[s.name] = append([]string(nil), s.values...)
	}
	return out
}

func (f *frame) setBody(body []byte) {
	if body == nil {
		f.body = nil
	} else {
		f.body = append([]byte(nil), body...)
	}
	f.set("Content-Length", strconv.Itoa(len(f.body)))
}

func (f *frame) contentLength() int {
	if raw := f.get("Content-Length"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return len(f.body)
}

func (f *frame) writeHeaders(sb *strings.Builder) {
	for _, slot := range f.slots {
		for _, v := range slot.values {
			sb.WriteString(slot.name)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\r\n")
		}
	}
	sb.WriteString("\r\n")
	if f.body != nil {
		sb.WriteString(string(f.body))
	}
}

// canonicalHeaderNames holds the names whose canonical casing doesn't
// follow the every-word-capitalized rule (Call-ID, CSeq, ...).
var canonicalHeaderNames = map[string]string{
	"call-id":            "Call-ID",
	"cseq":               "CSeq",
	"www-authenticate":   "WWW-Authenticate",
	"event":              "Event",
	"subscription-state": "Subscription-State",
	"allow-events":       "Allow-Events",
}

func normalizeHeaderName(name string) string {
	lower := strings.ToLower(name)
	if canonical, ok := canonicalHeaderNames[lower]; ok {
		return canonical
	}
	parts := strings.Split(name, "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
	}
	return strings.Join(parts, "-")
}

// Request is a SIP request: a method, a request-URI, and the shared
// header/body frame.
type Request struct {
	f          *frame
	method     string
	requestURI URI
}

// NewRequest builds an empty request with the given method and URI;
// the caller fills in headers/body afterward.
func NewRequest(method string, requestURI URI) *Request {
	return &Request{f: newFrame(), method: method, requestURI: requestURI}
}

func (r *Request) IsRequest() bool  { return true }
func (r *Request) IsResponse() bool { return false }
func (r *Request) Method() string   { return r.method }
func (r *Request) RequestURI() URI  { return r.requestURI }
func (r *Request) StatusCode() int  { return 0 }
func (r *Request) ReasonPhrase() string { return "" }
func (r *Request) SIPVersion() string   { return r.f.sipVersion }

func (r *Request) GetHeader(name string) string        { return r.f.get(name) }
func (r *Request) GetHeaders(name string) []string      { return r.f.getAll(name) }
func (r *Request) SetHeader(name string, value string)  { r.f.set(name, value) }
func (r *Request) AddHeader(name string, value string)  { r.f.add(name, value) }
func (r *Request) RemoveHeader(name string)             { r.f.remove(name) }
func (r *Request) Headers() map[string][]string         { return r.f.asMap() }

func (r *Request) Body() []byte {
	if r.f.body == nil {
		return nil
	}
	return append([]byte(nil), r.f.body...)
}
func (r *Request) SetBody(body []byte)  { r.f.setBody(body) }
func (r *Request) ContentLength() int   { return r.f.contentLength() }

func (r *Request) String() string {
	var sb strings.Builder
	sb.WriteString(r.method)
	sb.WriteString(" ")
	if r.requestURI != nil {
		sb.WriteString(r.requestURI.String())
	}
	sb.WriteString(" ")
	sb.WriteString(r.f.sipVersion)
	sb.WriteString("\r\n")
	r.f.writeHeaders(&sb)
	return sb.String()
}

func (r *Request) Bytes() []byte { return []byte(r.String()) }

func (r *Request) Clone() Message {
	clone := &Request{f: r.f.clone(), method: r.method, requestURI: r.requestURI}
	if r.requestURI != nil {
		clone.requestURI = r.requestURI.Clone()
	}
	return clone
}

// Response is a SIP response: a status line plus the shared frame.
type Response struct {
	f            *frame
	statusCode   int
	reasonPhrase string
}

// NewResponse builds an empty response with the given status line.
func NewResponse(statusCode int, reasonPhrase string) *Response {
	return &Response{f: newFrame(), statusCode: statusCode, reasonPhrase: reasonPhrase}
}

func (r *Response) IsRequest() bool      { return false }
func (r *Response) IsResponse() bool     { return true }
func (r *Response) Method() string       { return "" }
func (r *Response) RequestURI() URI      { return nil }
func (r *Response) StatusCode() int      { return r.statusCode }
func (r *Response) ReasonPhrase() string { return r.reasonPhrase }
func (r *Response) SIPVersion() string   { return r.f.sipVersion }

func (r *Response) GetHeader(name string) string       { return r.f.get(name) }
func (r *Response) GetHeaders(name string) []string     { return r.f.getAll(name) }
func (r *Response) SetHeader(name string, value string) { r.f.set(name, value) }
func (r *Response) AddHeader(name string, value string) { r.f.add(name, value) }
func (r *Response) RemoveHeader(name string)            { r.f.remove(name) }
func (r *Response) Headers() map[string][]string        { return r.f.asMap() }

func (r *Response) Body() []byte {
	if r.f.body == nil {
		return nil
	}
	return append([]byte(nil), r.f.body...)
}
func (r *Response) SetBody(body []byte) { r.f.setBody(body) }
func (r *Response) ContentLength() int  { return r.f.contentLength() }

func (r *Response) String() string {
	var sb strings.Builder
	sb.WriteString(r.f.sipVersion)
	sb.WriteString(" ")
	sb.WriteString(strconv.Itoa(r.statusCode))
	sb.WriteString(" ")
	sb.WriteString(r.reasonPhrase)
	sb.WriteString("\r\n")
	r.f.writeHeaders(&sb)
	return sb.String()
}

func (r *Response) Bytes() []byte { return []byte(r.String()) }

func (r *Response) Clone() Message {
	return &Response{f: r.f.clone(), statusCode: r.statusCode, reasonPhrase: r.reasonPhrase}
}

// Method name constants, per §2's closed method enum.
const (
	MethodINVITE    = "INVITE"
	MethodACK       = "ACK"
	MethodBYE       = "BYE"
	MethodCANCEL    = "CANCEL"
	MethodOPTIONS   = "OPTIONS"
	MethodREGISTER  = "REGISTER"
	MethodPRACK     = "PRACK"
	MethodSUBSCRIBE = "SUBSCRIBE"
	MethodNOTIFY    = "NOTIFY"
	MethodPUBLISH   = "PUBLISH"
	MethodINFO      = "INFO"
	MethodREFER     = "REFER"
	MethodMESSAGE   = "MESSAGE"
	MethodUPDATE    = "UPDATE"
)

// Status codes used by the dialog/transaction/media layers; the full
// IANA registry isn't reproduced, only the codes this engine emits or
// inspects.
const (
	StatusTrying                       = 100
	StatusRinging                      = 180
	StatusCallIsBeingForwarded         = 181
	StatusQueued                       = 182
	StatusSessionProgress              = 183
	StatusEarlyDialogTerminated        = 199
	StatusOK                           = 200
	StatusAccepted                     = 202
	StatusNoNotification               = 204
	StatusMultipleChoices              = 300
	StatusMovedPermanently             = 301
	StatusMovedTemporarily             = 302
	StatusUseProxy                     = 305
	StatusAlternativeService           = 380
	StatusBadRequest                   = 400
	StatusUnauthorized                 = 401
	StatusPaymentRequired              = 402
	StatusForbidden                    = 403
	StatusNotFound                     = 404
	StatusMethodNotAllowed             = 405
	StatusNotAcceptable                = 406
	StatusProxyAuthenticationRequired  = 407
	StatusRequestTimeout               = 408
	StatusGone                         = 410
	StatusConditionalRequestFailed     = 412
	StatusRequestEntityTooLarge        = 413
	StatusRequestURITooLong            = 414
	StatusUnsupportedMediaType         = 415
	StatusUnsupportedURIScheme         = 416
	StatusUnknownResourcePriority      = 417
	StatusBadExtension                 = 420
	StatusExtensionRequired            = 421
	StatusSessionIntervalTooSmall      = 422
	StatusIntervalTooBrief             = 423
	StatusBadLocationInformation       = 424
	StatusUseIdentityHeader            = 428
	StatusProvideReferrerIdentity      = 429
	StatusFlowFailed                   = 430
	StatusAnonymityDisallowed          = 433
	StatusBadIdentityInfo              = 436
	StatusUnsupportedCertificate       = 437
	StatusInvalidIdentityHeader        = 438
	StatusFirstHopLacksOutboundSupport = 439
	StatusMaxBreadthExceeded           = 440
	StatusBadInfoPackage               = 469
	StatusConsentNeeded                = 470
	StatusTemporarilyUnavailable       = 480
	StatusCallTransactionDoesNotExist  = 481
	StatusLoopDetected                 = 482
	StatusTooManyHops                  = 483
	StatusAddressIncomplete            = 484
	StatusAmbiguous                    = 485
	StatusBusyHere                     = 486
	StatusRequestTerminated            = 487
	StatusNotAcceptableHere            = 488
	StatusBadEvent                     = 489
	StatusRequestPending                = 491
	StatusUndecipherable               = 493
	StatusSecurityAgreementRequired    = 494
	StatusInternalServerError          = 500
	StatusNotImplemented               = 501
	StatusBadGateway                   = 502
	StatusServiceUnavailable           = 503
	StatusServerTimeout                = 504
	StatusVersionNotSupported          = 505
	StatusMessageTooLarge              = 513
	StatusPreconditionFailure          = 580
	StatusBusyEverywhere               = 600
	StatusDecline                      = 603
	StatusDoesNotExistAnywhere         = 604
	StatusNotAcceptableGlobal          = 606
	StatusUnwanted                     = 607
	StatusRejected                     = 608
)
