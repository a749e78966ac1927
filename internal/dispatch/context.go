// Package dispatch routes raw exchange frames through an ordered chain of processors.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// MessageContext carries per-frame metadata. Values are immutable; WithHeader returns a copy.
type MessageContext struct {
	correlationID string
	exchange      string
	connectionID  string
	receivedAt    time.Time
	headers       map[string]string
}

// NewMessageContext stamps a fresh correlation id for a frame received on the given connection.
func NewMessageContext(exchange, connectionID string, receivedAt time.Time) MessageContext {
	return MessageContext{
		correlationID: uuid.NewString(),
		exchange:      exchange,
		connectionID:  connectionID,
		receivedAt:    receivedAt,
	}
}

// CorrelationID identifies the frame across logs and results.
func (c MessageContext) CorrelationID() string { return c.correlationID }

// Exchange names the exchange the frame came from.
func (c MessageContext) Exchange() string { return c.exchange }

// ConnectionID identifies the socket the frame arrived on.
func (c MessageContext) ConnectionID() string { return c.connectionID }

// ReceivedAt is when the transport read the frame.
func (c MessageContext) ReceivedAt() time.Time { return c.receivedAt }

// Header returns a header value.
func (c MessageContext) Header(key string) (string, bool) {
	v, ok := c.headers[key]
	return v, ok
}

// Headers returns a copy of all headers.
func (c MessageContext) Headers() map[string]string {
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// WithHeader returns a copy of the context with the header set.
func (c MessageContext) WithHeader(key, value string) MessageContext {
	next := c
	next.headers = c.Headers()
	next.headers[key] = value
	return next
}
