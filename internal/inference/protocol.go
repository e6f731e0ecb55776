package inference

import "encoding/json"

// Frame kinds for control traffic on the channel. Generation requests and
// responses carry a request_id instead of a type tag.
const (
	frameTypePing   = "ping"
	frameTypeStatus = "status"
	frameTypeCancel = "cancel"
)

// Service availability as reported by status frames.
const (
	serviceReady    = "ready"
	serviceDegraded = "degraded"
	serviceOffline  = "offline"
)

// controlFrame is an outbound control message (ping, cancel).
type controlFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// envelope is the first-pass decode of an inbound line. It carries enough
// fields to route the frame: responses have a RequestID, control frames a
// Type. Raw keeps the original bytes for the second decode.
type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Service   string `json:"service"`

	raw json.RawMessage
}

func decodeEnvelope(line []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return envelope{}, err
	}
	env.raw = append(json.RawMessage(nil), line...)
	return env, nil
}
