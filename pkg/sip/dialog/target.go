package dialog

import (
	"fmt"
	"sync"

	"github.com/sipcore/engine/pkg/message"
)

// TargetManager tracks a dialog's target URI and route set.
//
// RFC 3261 §12.2.1.2:
//   - the target URI is refreshed from the Contact header of certain responses
//   - the route set is built from Record-Route headers
//   - the route set's order depends on the UAC/UAS role
type TargetManager struct {
	mu        sync.RWMutex
	targetURI message.URI   // current target URI (from Contact)
	routeSet  []message.URI // route set (from Record-Route)
	isUAC     bool          // dialog role
}

// NewTargetManager creates a target manager seeded with initialTarget.
func NewTargetManager(initialTarget message.URI, isUAC bool) *TargetManager {
	return &TargetManager{
		targetURI: initialTarget,
		routeSet:  make([]message.URI, 0),
		isUAC:     isUAC,
	}
}

// GetTargetURI returns the current target URI.
func (tm *TargetManager) GetTargetURI() message.URI {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.targetURI
}

// GetRouteSet returns a copy of the route set.
func (tm *TargetManager) GetRouteSet() []message.URI {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	result := make([]message.URI, len(tm.routeSet))
	copy(result, tm.routeSet)
	return result
}

// UpdateFromResponse refreshes the target from a response.
//
// RFC 3261 §12.2.1.2: the target is refreshed from Contact in 2xx
// responses to INVITE/UPDATE, in 1xx responses (other than 100 Trying),
// and in 3xx redirects.
func (tm *TargetManager) UpdateFromResponse(resp message.Message, method string) error {
	if !resp.IsResponse() {
		return fmt.Errorf("not a response message")
	}

	statusCode := resp.StatusCode()

	shouldUpdate := false

	switch {
	case statusCode >= 200 && statusCode < 300:
		if method == "INVITE" || method == "UPDATE" {
			shouldUpdate = true
		}
	case statusCode > 100 && statusCode < 200:
		shouldUpdate = true
	case statusCode >= 300 && statusCode < 400:
		shouldUpdate = true
	}

	if shouldUpdate {
		contact := resp.GetHeader("Contact")
		if contact != "" {
			uri, err := parseContactURI(contact)
			if err != nil {
				return fmt.Errorf("failed to parse Contact: %w", err)
			}

			tm.mu.Lock()
			tm.targetURI = uri
			tm.mu.Unlock()
		}
	}

	// The route set only refreshes on a 2xx to INVITE.
	if method == "INVITE" && statusCode >= 200 && statusCode < 300 {
		tm.updateRouteSet(resp)
	}

	return nil
}

// UpdateFromRequest refreshes the target from a request.
//
// RFC 3261 §12.2.2: the target is refreshed from Contact on a re-INVITE
// or UPDATE.
func (tm *TargetManager) UpdateFromRequest(req message.Message) error {
	if !req.IsRequest() {
		return fmt.Errorf("not a request message")
	}

	method := req.Method()

	if method == "INVITE" || method == "UPDATE" {
		contact := req.GetHeader("Contact")
		if contact != "" {
			uri, err := parseContactURI(contact)
			if err != nil {
				return fmt.Errorf("failed to parse Contact: %w", err)
			}

			tm.mu.Lock()
			tm.targetURI = uri
			tm.mu.Unlock()
		}
	}

	return nil
}

// updateRouteSet rebuilds the route set from a message's Record-Route
// headers.
func (tm *TargetManager) updateRouteSet(msg message.Message) {
	recordRoutes := msg.GetHeaders("Record-Route")
	if len(recordRoutes) == 0 {
		return
	}

	routes := make([]message.URI, 0, len(recordRoutes))

	for _, rr := range recordRoutes {
		// a single Record-Route header may carry several comma-separated URIs
		uris := parseRecordRouteURIs(rr)
		routes = append(routes, uris...)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.isUAC {
		tm.routeSet = routes
	} else {
		tm.routeSet = reverseURIs(routes)
	}
}

// BuildRouteHeaders builds the Route headers for an outgoing request.
func (tm *TargetManager) BuildRouteHeaders() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if len(tm.routeSet) == 0 {
		return nil
	}

	routes := make([]string, len(tm.routeSet))
	for i, uri := range tm.routeSet {
		routes[i] = formatRouteHeader(uri)
	}

	return routes
}

// parseContactURI extracts the URI from a Contact header.
//
// Format: "Display Name" <sip:user@host>;parameters
func parseContactURI(contact string) (message.URI, error) {
	start := -1
	end := -1

	for i, ch := range contact {
		if ch == '<' {
			start = i + 1
		} else if ch == '>' && start != -1 {
			end = i
			break
		}
	}

	var uriStr string
	if start != -1 && end != -1 {
		uriStr = contact[start:end]
	} else {
		for i, ch := range contact {
			if ch == ';' || ch == ' ' {
				uriStr = contact[:i]
				break
			}
		}
		if uriStr == "" {
			uriStr = contact
		}
	}

	uri, err := message.ParseURI(uriStr)
	if err != nil {
		return nil, err
	}

	return uri, nil
}

// parseRecordRouteURIs extracts the URIs from a Record-Route header,
// which may carry several comma-separated values.
func parseRecordRouteURIs(recordRoute string) []message.URI {
	uris := make([]message.URI, 0)

	parts := splitByComma(recordRoute)

	for _, part := range parts {
		uri, err := parseContactURI(part)
		if err == nil {
			uris = append(uris, uri)
		}
	}

	return uris
}

// splitByComma splits s on commas, treating commas inside angle brackets
// as part of the value.
func splitByComma(s string) []string {
	var parts []string
	var current []byte
	inBrackets := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if ch == '<' {
			inBrackets = true
		} else if ch == '>' {
			inBrackets = false
		} else if ch == ',' && !inBrackets {
			if len(current) > 0 {
				parts = append(parts, string(current))
				current = nil
			}
			continue
		}

		current = append(current, ch)
	}

	if len(current) > 0 {
		parts = append(parts, string(current))
	}

	return parts
}

// formatRouteHeader formats a URI as a Route header value.
func formatRouteHeader(uri message.URI) string {
	return "<" + uri.String() + ">"
}

// reverseURIs returns uris in reverse order.
func reverseURIs(uris []message.URI) []message.URI {
	result := make([]message.URI, len(uris))
	for i, uri := range uris {
		result[len(uris)-1-i] = uri
	}
	return result
}

// HasRouteSet reports whether the route set is non-empty.
func (tm *TargetManager) HasRouteSet() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.routeSet) > 0
}

// ClearRouteSet empties the route set.
func (tm *TargetManager) ClearRouteSet() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.routeSet = tm.routeSet[:0]
}
