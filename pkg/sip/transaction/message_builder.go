package transaction

import (
	"fmt"
	"strings"

	"github.com/sipcore/engine/pkg/message"
)

// MessageBuilder assembles the handful of request/response shapes the
// transaction layer itself needs to emit, independent of any dialog or
// application-layer template.
type MessageBuilder struct{}

// NewMessageBuilder returns a MessageBuilder. It carries no state; the
// type exists so its methods read as a named unit at call sites.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// BuildACKForNon2xx builds the ACK an INVITE client transaction sends for
// a non-2xx final response (§17.1.1.3): same Via/From/Call-ID/CSeq-number
// as the INVITE, but To copied from the response (it carries the tag the
// far end generated).
func (b *MessageBuilder) BuildACKForNon2xx(invite message.Message, response message.Message) (message.Message, error) {
	if !invite.IsRequest() || invite.Method() != "INVITE" {
		return nil, fmt.Errorf("not an INVITE request")
	}
	if !response.IsResponse() || response.StatusCode() < 300 {
		return nil, fmt.Errorf("not a non-2xx response")
	}

	ack := message.NewRequest("ACK", invite.RequestURI())

	if via := invite.GetHeader("Via"); via != "" {
		ack.SetHeader("Via", via)
	}
	if from := invite.GetHeader("From"); from != "" {
		ack.SetHeader("From", from)
	}
	if to := response.GetHeader("To"); to != "" {
		ack.SetHeader("To", to)
	}
	if callID := invite.GetHeader("Call-ID"); callID != "" {
		ack.SetHeader("Call-ID", callID)
	}
	if cseq := invite.GetHeader("CSeq"); cseq != "" {
		if parts := strings.Fields(cseq); len(parts) >= 1 {
			ack.SetHeader("CSeq", parts[0]+" ACK")
		}
	}
	if route := invite.GetHeader("Route"); route != "" {
		ack.SetHeader("Route", route)
	}
	ack.SetHeader(message.HeaderMaxForwards, "70")
	ack.SetBody(nil)

	return ack, nil
}

// BuildCANCEL builds the CANCEL for request (§9.1): same Request-URI,
// Via, To, From, Call-ID and branch as the request it targets, so the
// two share a transaction match on the server side (§9.2), and the same
// CSeq number with the method swapped to CANCEL.
func (b *MessageBuilder) BuildCANCEL(request message.Message) (message.Message, error) {
	if !request.IsRequest() {
		return nil, fmt.Errorf("not a request")
	}
	if request.Method() == "ACK" || request.Method() == "CANCEL" {
		return nil, fmt.Errorf("cannot cancel %s request", request.Method())
	}

	cancel := message.NewRequest("CANCEL", request.RequestURI())

	if via := request.GetHeader("Via"); via != "" {
		cancel.SetHeader("Via", via)
	}
	if from := request.GetHeader("From"); from != "" {
		cancel.SetHeader("From", from)
	}
	if to := request.GetHeader("To"); to != "" {
		cancel.SetHeader("To", to)
	}
	if callID := request.GetHeader("Call-ID"); callID != "" {
		cancel.SetHeader("Call-ID", callID)
	}
	if cseq := request.GetHeader("CSeq"); cseq != "" {
		if parts := strings.Fields(cseq); len(parts) >= 1 {
			cancel.SetHeader("CSeq", parts[0]+" CANCEL")
		}
	}
	if route := request.GetHeader("Route"); route != "" {
		cancel.SetHeader("Route", route)
	}
	cancel.SetHeader(message.HeaderMaxForwards, "70")
	cancel.SetBody(nil)

	return cancel, nil
}

// BuildResponse builds a status-only response to request, copying the
// header set that every response shares with its request (Via, From, To,
// Call-ID, CSeq) regardless of status code.
func (b *MessageBuilder) BuildResponse(request message.Message, statusCode int, reason string) message.Message {
	resp := message.NewResponse(statusCode, reason)

	for _, name := range []string{"Via", "From", "To", "Call-ID", "CSeq"} {
		for _, v := range request.GetHeaders(name) {
			resp.AddHeader(name, v)
		}
	}
	resp.SetBody(nil)
	return resp
}
