// Package codec converts broker payloads to and from the worker's typed
// request and response records.
package codec

import (
	"maps"
	"slices"
	"unicode/utf8"

	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
	"github.com/drblury/sickenflow/internal/runtime/jsoncodec"
)

const (
	FieldUserUUID          = "user_uuid"
	FieldChatUUID          = "chat_uuid"
	FieldSocketIOSessionID = "socketio_session_id"
	FieldMessage           = "message"
)

// InboundRequest is one decoded request. It is only produced by a successful
// Decode and is never partially populated.
type InboundRequest struct {
	Question          string
	ChatUUID          string
	SocketIOSessionID string
}

// OutboundResponse is the record published on the response queue.
type OutboundResponse struct {
	UserUUID          string `json:"user_uuid"`
	ChatUUID          string `json:"chat_uuid"`
	SocketIOSessionID string `json:"socketio_session_id"`
	Message           string `json:"message"`
}

// Codec decodes requests and encodes responses.
//
// QuestionField names the request key holding the question. When it is empty
// the codec runs in body mode: the whole payload text is the question, only
// the correlation keys are required and other keys are tolerated.
type Codec struct {
	QuestionField string
}

// New returns a field-mode codec reading the question from field.
func New(field string) Codec {
	return Codec{QuestionField: field}
}

// Body returns a body-mode codec.
func Body() Codec {
	return Codec{}
}

// BodyMode reports whether the whole payload is used as the question.
func (c Codec) BodyMode() bool {
	return c.QuestionField == ""
}

// Decode parses raw into an InboundRequest. Every failure is a
// *errors.MalformedPayloadError.
func (c Codec) Decode(raw []byte) (InboundRequest, error) {
	if !utf8.Valid(raw) {
		return InboundRequest{}, errspkg.NewMalformedPayloadError("", "payload is not valid UTF-8")
	}
	if !jsoncodec.Valid(raw) {
		return InboundRequest{}, errspkg.NewMalformedPayloadError("", "payload is not valid JSON")
	}

	var doc any
	if err := jsoncodec.Unmarshal(raw, &doc); err != nil {
		malformed := errspkg.NewMalformedPayloadError("", "payload is not valid JSON")
		malformed.Err = err
		return InboundRequest{}, malformed
	}
	record, ok := doc.(map[string]any)
	if !ok {
		return InboundRequest{}, errspkg.NewMalformedPayloadError("", "payload is not a JSON object")
	}

	required := c.requiredFields()
	values := make(map[string]string, len(required))
	for _, field := range required {
		v, present := record[field]
		if !present {
			return InboundRequest{}, errspkg.NewMalformedPayloadError(field, "missing required field")
		}
		s, isString := v.(string)
		if !isString {
			return InboundRequest{}, errspkg.NewMalformedPayloadError(field, "must be a string")
		}
		values[field] = s
	}

	req := InboundRequest{
		ChatUUID:          values[FieldChatUUID],
		SocketIOSessionID: values[FieldSocketIOSessionID],
	}
	if c.BodyMode() {
		req.Question = string(raw)
		return req, nil
	}

	for _, key := range slices.Sorted(maps.Keys(record)) {
		if !slices.Contains(required, key) {
			return InboundRequest{}, errspkg.NewMalformedPayloadError(key, "unexpected field")
		}
	}
	req.Question = values[c.QuestionField]
	return req, nil
}

// Encode serializes resp as a UTF-8 JSON object with exactly the four
// response keys.
func (c Codec) Encode(resp OutboundResponse) ([]byte, error) {
	return jsoncodec.Marshal(resp)
}

// DecodeResponse strictly parses a response record. It is the inverse of
// Encode and is used by consumers of the response queue.
func (c Codec) DecodeResponse(raw []byte) (OutboundResponse, error) {
	if !utf8.Valid(raw) {
		return OutboundResponse{}, errspkg.NewMalformedPayloadError("", "payload is not valid UTF-8")
	}
	var wire struct {
		UserUUID          *string `json:"user_uuid"`
		ChatUUID          *string `json:"chat_uuid"`
		SocketIOSessionID *string `json:"socketio_session_id"`
		Message           *string `json:"message"`
	}
	if err := jsoncodec.UnmarshalStrict(raw, &wire); err != nil {
		malformed := errspkg.NewMalformedPayloadError("", "invalid response record")
		malformed.Err = err
		return OutboundResponse{}, malformed
	}

	fields := []struct {
		name  string
		value *string
	}{
		{FieldUserUUID, wire.UserUUID},
		{FieldChatUUID, wire.ChatUUID},
		{FieldSocketIOSessionID, wire.SocketIOSessionID},
		{FieldMessage, wire.Message},
	}
	for _, f := range fields {
		if f.value == nil {
			return OutboundResponse{}, errspkg.NewMalformedPayloadError(f.name, "missing required field")
		}
	}

	return OutboundResponse{
		UserUUID:          *wire.UserUUID,
		ChatUUID:          *wire.ChatUUID,
		SocketIOSessionID: *wire.SocketIOSessionID,
		Message:           *wire.Message,
	}, nil
}

func (c Codec) requiredFields() []string {
	if c.BodyMode() {
		return []string{FieldChatUUID, FieldSocketIOSessionID}
	}
	return []string{FieldChatUUID, FieldSocketIOSessionID, c.QuestionField}
}
