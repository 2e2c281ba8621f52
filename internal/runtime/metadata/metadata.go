package metadata

// Keys carried on broker messages produced or consumed by the worker.
const (
	KeyCorrelationID     = "correlation_id"
	KeyEventSchema       = "event_message_schema"
	KeyPoisonReason      = "poison_reason"
	KeyRequestUUID       = "request_message_uuid"
	KeyChatUUID          = "chat_uuid"
	KeySocketIOSessionID = "socketio_session_id"
)

// ResponseSchema tags outbound responses in KeyEventSchema.
const ResponseSchema = "sicken.response.v1"

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs. Pairs with
// an empty value are skipped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
