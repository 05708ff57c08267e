// Package classifier decides whether a captured event is an HTTP request or
// response, using the agent's type tag and falling back to payload sniffing.
package classifier

import (
	"bytes"

	"CaptureBridge/internal/model"
)

// sniffWindow is how many leading payload bytes are inspected.
const sniffWindow = 20

var requestPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("DELETE "),
	[]byte("HEAD "),
	[]byte("OPTIONS "),
	[]byte("PATCH "),
	[]byte("CONNECT "),
	[]byte("TRACE "),
}

var (
	responsePrefix        = []byte("HTTP/")
	requestPseudoHeaders  = [][]byte{[]byte(":method"), []byte(":path"), []byte(":authority")}
	responsePseudoHeaders = [][]byte{[]byte(":status")}
)

// Detect returns the detailed event type for a declared agent type and payload.
func Detect(declaredType uint32, payload []byte) model.EventType {
	switch declaredType {
	case 1, 2, 3, 4:
		return model.EventType(declaredType)
	}
	if len(payload) == 0 {
		return model.EventTypeUnknown
	}
	return sniff(payload)
}

// Classify returns the pairing role for a declared agent type and payload.
func Classify(declaredType uint32, payload []byte) model.EventKind {
	return Detect(declaredType, payload).Kind()
}

func sniff(payload []byte) model.EventType {
	if len(payload) < 4 {
		return model.EventTypeUnknown
	}
	head := payload[:min(len(payload), sniffWindow)]

	if bytes.HasPrefix(head, responsePrefix) {
		return model.EventTypeAutoResponse
	}
	for _, p := range requestPrefixes {
		if bytes.HasPrefix(head, p) {
			return model.EventTypeAutoRequest
		}
	}
	if containsAny(head, requestPseudoHeaders) {
		return model.EventTypeAutoRequest
	}
	if containsAny(head, responsePseudoHeaders) {
		return model.EventTypeAutoResponse
	}
	return model.EventTypeUnknown
}

func containsAny(b []byte, tokens [][]byte) bool {
	for _, t := range tokens {
		if bytes.Contains(b, t) {
			return true
		}
	}
	return false
}
