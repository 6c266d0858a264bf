package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Event is a parsed Event header (RFC 3265).
// Format: event-type *(SEMI event-param)
// Examples:
//   - Event: refer;id=93809824
//   - Event: presence
//   - Event: dialog;call-id=12345@example.com
type Event struct {
	EventType  string        // e.g. "refer", "presence", "dialog"
	ID         string        // the optional id parameter
	Parameters orderedParams // any other parameters
}

// NewEvent builds a bare Event header with no parameters.
func NewEvent(eventType string) *Event {
	return &Event{
		EventType:  eventType,
		Parameters: newOrderedParams(),
	}
}

// ParseEvent parses an Event header value.
func ParseEvent(value string) (*Event, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Event value")
	}

	event := &Event{
		Parameters: newOrderedParams(),
	}

	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid Event format")
	}

	event.EventType = strings.TrimSpace(parts[0])
	if event.EventType == "" {
		return nil, fmt.Errorf("empty event type")
	}

	for i := 1; i < len(parts); i++ {
		param := strings.TrimSpace(parts[i])
		if param == "" {
			continue
		}

		kv := strings.SplitN(param, "=", 2)
		if len(kv) == 2 {
			name := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			if name == "id" {
				event.ID = value
			} else {
				event.Parameters.Set(name, value)
			}
		} else {
			event.Parameters.Set(kv[0], "")
		}
	}

	return event, nil
}

func (e *Event) String() string {
	var sb strings.Builder

	sb.WriteString(e.EventType)

	if e.ID != "" {
		sb.WriteString(";id=")
		sb.WriteString(e.ID)
	}

	for _, name := range e.Parameters.keys {
		sb.WriteString(";")
		sb.WriteString(name)
		if value := e.Parameters.values[name]; value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

// SubscriptionState is a parsed Subscription-State header (RFC 3265).
// Format: substate-value *(SEMI subexp-params)
// Examples:
//   - Subscription-State: active;expires=3600
//   - Subscription-State: terminated;reason=noresource
//   - Subscription-State: pending;expires=600;retry-after=120
type SubscriptionState struct {
	State      string        // active, pending, or terminated
	Expires    int           // seconds until expiry (active/pending)
	Reason     string        // termination reason (terminated)
	RetryAfter int           // seconds to wait before retrying
	Parameters orderedParams // any other parameters
}

// Subscription states.
const (
	SubscriptionStateActive     = "active"
	SubscriptionStatePending    = "pending"
	SubscriptionStateTerminated = "terminated"
)

// Subscription termination reasons.
const (
	SubscriptionReasonDeactivated = "deactivated"
	SubscriptionReasonProbation   = "probation"
	SubscriptionReasonRejected    = "rejected"
	SubscriptionReasonTimeout     = "timeout"
	SubscriptionReasonGiveup      = "giveup"
	SubscriptionReasonNoresource  = "noresource"
	SubscriptionReasonInvariant   = "invariant"
)

// NewSubscriptionState builds a bare Subscription-State header.
func NewSubscriptionState(state string) *SubscriptionState {
	return &SubscriptionState{
		State:      state,
		Parameters: newOrderedParams(),
	}
}

// ParseSubscriptionState parses a Subscription-State header value.
func ParseSubscriptionState(value string) (*SubscriptionState, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty Subscription-State value")
	}

	subState := &SubscriptionState{
		Parameters: newOrderedParams(),
	}

	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid Subscription-State format")
	}

	subState.State = strings.TrimSpace(parts[0])
	if subState.State == "" {
		return nil, fmt.Errorf("empty subscription state")
	}

	switch subState.State {
	case SubscriptionStateActive, SubscriptionStatePending, SubscriptionStateTerminated:
	default:
		return nil, fmt.Errorf("invalid subscription state: %s", subState.State)
	}

	for i := 1; i < len(parts); i++ {
		param := strings.TrimSpace(parts[i])
		if param == "" {
			continue
		}

		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 {
			subState.Parameters.Set(kv[0], "")
			continue
		}

		name := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])

		switch name {
		case "expires":
			expires, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid expires value: %s", value)
			}
			if expires < 0 {
				return nil, fmt.Errorf("negative expires value: %d", expires)
			}
			subState.Expires = expires

		case "reason":
			subState.Reason = value

		case "retry-after":
			retryAfter, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid retry-after value: %s", value)
			}
			if retryAfter < 0 {
				return nil, fmt.Errorf("negative retry-after value: %d", retryAfter)
			}
			subState.RetryAfter = retryAfter

		default:
			subState.Parameters.Set(name, value)
		}
	}

	switch subState.State {
	case SubscriptionStateActive, SubscriptionStatePending:
		if subState.Expires == 0 && subState.Parameters.Get("expires") == "" {
			return nil, fmt.Errorf("missing expires parameter for %s state", subState.State)
		}
	case SubscriptionStateTerminated:
		// reason is recommended but not required by RFC 3265.
	}

	return subState, nil
}

func (s *SubscriptionState) String() string {
	var sb strings.Builder

	sb.WriteString(s.State)

	if s.Expires > 0 {
		sb.WriteString(";expires=")
		sb.WriteString(strconv.Itoa(s.Expires))
	}

	if s.Reason != "" {
		sb.WriteString(";reason=")
		sb.WriteString(s.Reason)
	}

	if s.RetryAfter > 0 {
		sb.WriteString(";retry-after=")
		sb.WriteString(strconv.Itoa(s.RetryAfter))
	}

	for _, name := range s.Parameters.keys {
		sb.WriteString(";")
		sb.WriteString(name)
		if value := s.Parameters.values[name]; value != "" {
			sb.WriteString("=")
			sb.WriteString(value)
		}
	}

	return sb.String()
}

func (s *SubscriptionState) IsActive() bool { return s.State == SubscriptionStateActive }

func (s *SubscriptionState) IsPending() bool { return s.State == SubscriptionStatePending }

func (s *SubscriptionState) IsTerminated() bool { return s.State == SubscriptionStateTerminated }

// normalizeEventHeaderName normalizes header names specific to the Event
// package (RFC 3265), falling back to generic title-casing otherwise.
func normalizeEventHeaderName(name string) string {
	switch strings.ToLower(name) {
	case "event":
		return HeaderEvent
	case "subscription-state":
		return HeaderSubscriptionState
	case "allow-events":
		return HeaderAllowEvents
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
