package dialog

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/sipcore/engine/pkg/message"
)

// GenerateDialogKey builds a dialog key from a SIP message, orienting the
// local/remote tags according to the UAC/UAS role.
//
// RFC 3261 §12: a dialog is identified by three components — Call-ID,
// From tag (local for a UAC, remote for a UAS), and To tag (remote for a
// UAC, local for a UAS).
//
// isUAS should be true when this UA is acting as the UAS (the INVITE
// recipient).
func GenerateDialogKey(msg message.Message, isUAS bool) (DialogKey, error) {
	callID := msg.GetHeader("Call-ID")
	if callID == "" {
		return DialogKey{}, &DialogError{
			Code:    400,
			Message: "Missing Call-ID header",
		}
	}

	fromHeader := msg.GetHeader("From")
	if fromHeader == "" {
		return DialogKey{}, &DialogError{
			Code:    400,
			Message: "Missing From header",
		}
	}
	fromTag := extractTag(fromHeader)
	if fromTag == "" {
		return DialogKey{}, &DialogError{
			Code:    400,
			Message: "Missing From tag",
		}
	}

	// To tag may be absent on an initial request.
	toHeader := msg.GetHeader("To")
	if toHeader == "" {
		return DialogKey{}, &DialogError{
			Code:    400,
			Message: "Missing To header",
		}
	}
	toTag := extractTag(toHeader)

	var localTag, remoteTag string
	if isUAS {
		localTag = toTag
		remoteTag = fromTag
	} else {
		localTag = fromTag
		remoteTag = toTag
	}

	return DialogKey{
		CallID:    callID,
		LocalTag:  localTag,
		RemoteTag: remoteTag,
	}, nil
}

// GenerateLocalTag generates a unique local tag for a new dialog.
func GenerateLocalTag() string {
	return generateRandomString(8)
}

// extractTag extracts the tag parameter's value from a From/To header.
//
// Format: "Display Name" <sip:user@host>;tag=value
func extractTag(header string) string {
	idx := findParameterStart(header, "tag")
	if idx == -1 {
		return ""
	}

	value := header[idx+len("tag="):]
	if end := strings.IndexAny(value, "; "); end != -1 {
		value = value[:end]
	}
	return value
}

// findParameterStart returns the index where "param=" begins in header,
// requiring it to start a parameter (preceded by ';', ' ', or nothing).
func findParameterStart(header, param string) int {
	needle := param + "="
	searchFrom := 0
	for {
		pos := strings.Index(header[searchFrom:], needle)
		if pos == -1 {
			return -1
		}
		idx := searchFrom + pos
		if idx == 0 || header[idx-1] == ';' || header[idx-1] == ' ' {
			return idx
		}
		searchFrom = idx + 1
	}
}

// generateRandomString returns a cryptographically random string of the
// given length drawn from an alphanumeric alphabet.
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand shouldn't fail on a supported platform; this is a
		// last-resort fallback so tag generation never panics.
		for i := range buf {
			buf[i] = byte(timeNow().UnixNano() >> uint(i))
		}
	}

	result := make([]byte, length)
	for i, b := range buf {
		result[i] = charset[int(b)%len(charset)]
	}

	return string(result)
}

// timeNow is a seam for tests.
var timeNow = func() time.Time {
	return time.Now()
}

// DialogError is a dialog-layer error carrying a SIP status code.
type DialogError struct {
	Code    int
	Message string
}

func (e *DialogError) Error() string {
	return e.Message
}
