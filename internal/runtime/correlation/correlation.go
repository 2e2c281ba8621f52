// Package correlation carries the identifiers that tie a response back to the
// request that produced it.
package correlation

import "github.com/drblury/sickenflow/internal/runtime/codec"

// Context is the immutable set of correlation identifiers for one exchange.
// ChatUUID and SocketIOSessionID are copied from the request byte for byte;
// UserUUID is always the worker's sender identity.
type Context struct {
	UserUUID          string
	ChatUUID          string
	SocketIOSessionID string
}

// FromRequest builds the correlation context for req.
func FromRequest(req codec.InboundRequest, senderID string) Context {
	return Context{
		UserUUID:          senderID,
		ChatUUID:          req.ChatUUID,
		SocketIOSessionID: req.SocketIOSessionID,
	}
}

// Fields returns the context as structured log fields.
func (c Context) Fields() map[string]any {
	return map[string]any{
		codec.FieldChatUUID:          c.ChatUUID,
		codec.FieldSocketIOSessionID: c.SocketIOSessionID,
	}
}
