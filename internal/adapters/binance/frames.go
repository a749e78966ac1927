package binance

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/feedlink/internal/dispatch"
	"github.com/coachpo/feedlink/internal/schema"
)

// frame is a raw message with the combined-stream envelope {"stream","data"} peeled off. Only the
// header is decoded; handlers decode payload into their typed struct.
type frame struct {
	stream  string
	payload []byte
	head    header
	array   bool
}

// header holds the keys processors sniff on. goccy matches keys case-insensitively, so every
// case twin (e/E, s/S, b/B, a/A, u/U) gets its own field.
type header struct {
	Stream        string          `json:"stream"`
	Data          json.RawMessage `json:"data"`
	Event         string          `json:"e"`
	EventTime     present         `json:"E"`
	Error         present         `json:"error"`
	Code          present         `json:"code"`
	Msg           present         `json:"msg"`
	LastUpdateID  present         `json:"lastUpdateId"`
	Bids          present         `json:"bids"`
	Asks          present         `json:"asks"`
	UpdateID      present         `json:"u"`
	FirstUpdateID present         `json:"U"`
	Symbol        present         `json:"s"`
	Side          present         `json:"S"`
	BidPrice      present         `json:"b"`
	BidQuantity   present         `json:"B"`
	AskPrice      present         `json:"a"`
	AskQuantity   present         `json:"A"`
}

// present records that a key carried a non-null value without keeping it.
type present bool

func (p *present) UnmarshalJSON(raw []byte) error {
	*p = present(!bytes.Equal(bytes.TrimSpace(raw), nullLiteral))
	return nil
}

var nullLiteral = []byte("null")

func parseFrame(raw []byte) (frame, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return frame{}, false
	}
	if trimmed[0] == '[' {
		return frame{payload: trimmed, array: true}, true
	}
	var head header
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return frame{}, false
	}
	if head.Stream == "" || len(head.Data) == 0 {
		head.Data = nil
		return frame{payload: trimmed, head: head}, true
	}

	out := frame{stream: head.Stream, payload: bytes.TrimSpace(head.Data)}
	if len(out.payload) > 0 && out.payload[0] == '[' {
		out.array = true
		return out, true
	}
	if err := json.Unmarshal(out.payload, &out.head); err != nil {
		return frame{}, false
	}
	out.head.Data = nil
	return out, true
}

func (f frame) object() bool { return !f.array }

// streamSymbol extracts the upper-case symbol from a stream name such as btcusdt@depth20.
func (f frame) streamSymbol() string {
	name, _, found := strings.Cut(f.stream, "@")
	if !found || strings.HasPrefix(name, "!") {
		return ""
	}
	return strings.ToUpper(name)
}

func (f frame) streamChannel() string {
	_, channel, _ := strings.Cut(f.stream, "@")
	return channel
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// decimals keeps the first parse error across several fields; blank values decode as zero.
type decimals struct {
	err error
}

func (d *decimals) parse(field, value string) decimal.Decimal {
	if d.err != nil || strings.TrimSpace(value) == "" {
		return decimal.Zero
	}
	out, err := decimal.NewFromString(value)
	if err != nil {
		d.err = fmt.Errorf("parse %s %q: %w", field, value, err)
		return decimal.Zero
	}
	return out
}

func (d *decimals) levels(field string, raw [][]string) []schema.PriceLevel {
	if len(raw) == 0 {
		return nil
	}
	out := make([]schema.PriceLevel, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			if d.err == nil {
				d.err = fmt.Errorf("parse %s: level has %d fields", field, len(level))
			}
			return nil
		}
		out = append(out, schema.PriceLevel{
			Price:    d.parse(field+" price", level[0]),
			Quantity: d.parse(field+" quantity", level[1]),
		})
	}
	return out
}

func decodeFailure(mctx dispatch.MessageContext, what string, err error) dispatch.Result[schema.Response] {
	return dispatch.Failure[schema.Response](mctx, "malformed "+what+" frame", err)
}

// bookResult downgrades crossed books to warnings.
func bookResult(mctx dispatch.MessageContext, md schema.MarketData) dispatch.Result[schema.Response] {
	if md.Crossed() {
		return dispatch.Warning[schema.Response](mctx, md, "crossed book: bid above ask")
	}
	return dispatch.Success[schema.Response](mctx, md)
}

func symbolOr(symbol string, f frame, mctx dispatch.MessageContext) string {
	if symbol != "" {
		return strings.ToUpper(symbol)
	}
	if fromStream := f.streamSymbol(); fromStream != "" {
		return fromStream
	}
	if header, ok := mctx.Header("symbol"); ok {
		return strings.ToUpper(header)
	}
	return ""
}
