package binance

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/feedlink/errs"
)

const (
	MethodSubscribe         = "SUBSCRIBE"
	MethodUnsubscribe       = "UNSUBSCRIBE"
	MethodListSubscriptions = "LIST_SUBSCRIPTIONS"

	// Keep subscribe payloads modest so they can be paced when the stream count is large.
	maxStreamsPerRequest = 100
)

// SubscribeRequest is a live subscription control message.
type SubscribeRequest struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// NewSubscribeRequest builds a request with a fresh id.
func NewSubscribeRequest(method string, streams []string) SubscribeRequest {
	params := make([]string, len(streams))
	copy(params, streams)
	return SubscribeRequest{ID: uuid.NewString(), Method: method, Params: params}
}

// Encode renders the request as a JSON text frame.
func (r SubscribeRequest) Encode() ([]byte, error) {
	if err := validateMethod(r.Method); err != nil {
		return nil, err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", r.Method, err)
	}
	return data, nil
}

// DecodeSubscribeRequest parses a control request frame.
func DecodeSubscribeRequest(data []byte) (SubscribeRequest, error) {
	var req SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return SubscribeRequest{}, fmt.Errorf("decode control request: %w", err)
	}
	if err := validateMethod(req.Method); err != nil {
		return SubscribeRequest{}, err
	}
	return req, nil
}

// BatchRequests splits streams into requests of at most 100 streams each.
func BatchRequests(method string, streams []string) []SubscribeRequest {
	chunks := chunkStreams(streams, maxStreamsPerRequest)
	out := make([]SubscribeRequest, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, NewSubscribeRequest(method, chunk))
	}
	return out
}

// ControlResponse acknowledges a control request.
type ControlResponse struct {
	Result json.RawMessage `json:"result"`
	ID     json.RawMessage `json:"id"`
	Error  *ControlError   `json:"error,omitempty"`
}

// ControlError is the error body of a rejected request.
type ControlError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

var resultKey = []byte(`"result"`)

// IsControlFrame reports acknowledgements such as {"result":null,"id":"..."}. Rejected requests are
// not control frames; they reach the error processor. Frames without a "result" key are rejected
// before any decoding.
func IsControlFrame(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.Contains(trimmed, resultKey) {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return false
	}
	_, hasResult := fields["result"]
	_, hasID := fields["id"]
	_, hasError := fields["error"]
	return hasResult && hasID && !hasError
}

func validateMethod(method string) error {
	switch method {
	case MethodSubscribe, MethodUnsubscribe, MethodListSubscriptions:
		return nil
	}
	return errs.New(Name, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unsupported control method %q", method)))
}

func chunkStreams(streams []string, size int) [][]string {
	if len(streams) == 0 {
		return nil
	}

	if size <= 0 || len(streams) <= size {
		snapshot := make([]string, len(streams))
		copy(snapshot, streams)
		return [][]string{snapshot}
	}

	chunks := make([][]string, 0, (len(streams)+size-1)/size)
	for start := 0; start < len(streams); start += size {
		end := start + size
		if end > len(streams) {
			end = len(streams)
		}
		chunk := make([]string, end-start)
		copy(chunk, streams[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}
