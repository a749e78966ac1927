package coinbase

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/coachpo/feedlink/internal/schema"
)

const (
	ChannelTicker  = "ticker"
	ChannelMatches = "matches"
	ChannelLevel2  = "level2_batch"

	typeSubscribe     = "subscribe"
	typeUnsubscribe   = "unsubscribe"
	typeSubscriptions = "subscriptions"
	typeHeartbeat     = "heartbeat"
)

// SubscribeMessage selects channels for a set of products.
type SubscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// Encode renders the message as a JSON text frame.
func (m SubscribeMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", m.Type, err)
	}
	return data, nil
}

// DecodeSubscribeMessage parses a subscribe or unsubscribe frame.
func DecodeSubscribeMessage(data []byte) (SubscribeMessage, error) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, fmt.Errorf("decode control message: %w", err)
	}
	if msg.Type != typeSubscribe && msg.Type != typeUnsubscribe {
		return SubscribeMessage{}, fmt.Errorf("unexpected control message type %q", msg.Type)
	}
	return msg, nil
}

// Subscriptions returns the subscribe message sent after connect.
func Subscriptions(params schema.ConnectionParams) ([][]byte, error) {
	channel, err := channelFor(params.StreamType)
	if err != nil {
		return nil, err
	}
	products, err := ProductIDs(params)
	if err != nil {
		return nil, err
	}
	data, err := SubscribeMessage{
		Type:       typeSubscribe,
		ProductIDs: products,
		Channels:   []string{channel},
	}.Encode()
	if err != nil {
		return nil, err
	}
	return [][]byte{data}, nil
}

type typeProbe struct {
	Type string `json:"type"`
}

// IsControlFrame reports subscription acknowledgements and heartbeats.
func IsControlFrame(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe typeProbe
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	return probe.Type == typeSubscriptions || probe.Type == typeHeartbeat
}

func messageType(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}
	var probe typeProbe
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return ""
	}
	return probe.Type
}
