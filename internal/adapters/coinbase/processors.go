package coinbase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/feedlink/internal/dispatch"
	"github.com/coachpo/feedlink/internal/schema"
)

type tickerMessage struct {
	Type        string `json:"type"`
	Sequence    int64  `json:"sequence"`
	ProductID   string `json:"product_id"`
	Price       string `json:"price"`
	Open24h     string `json:"open_24h"`
	Volume24h   string `json:"volume_24h"`
	Low24h      string `json:"low_24h"`
	High24h     string `json:"high_24h"`
	BestBid     string `json:"best_bid"`
	BestBidSize string `json:"best_bid_size"`
	BestAsk     string `json:"best_ask"`
	BestAskSize string `json:"best_ask_size"`
	Time        string `json:"time"`
}

type matchMessage struct {
	Type      string `json:"type"`
	TradeID   int64  `json:"trade_id"`
	Sequence  int64  `json:"sequence"`
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Time      string `json:"time"`
}

type bookMessage struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Changes   [][]string `json:"changes"`
	Time      string     `json:"time"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type processor struct {
	name   string
	types  []string
	handle func(raw []byte, mctx dispatch.MessageContext) dispatch.Result[schema.Response]
}

func (p processor) Name() string { return p.name }

func (p processor) CanProcess(raw []byte) bool {
	kind := messageType(raw)
	for _, t := range p.types {
		if kind == t {
			return true
		}
	}
	return false
}

func (p processor) Process(raw []byte, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	return p.handle(raw, mctx)
}

// Processors returns the Coinbase processor chain in match order.
func Processors() []dispatch.Processor {
	return []dispatch.Processor{
		processor{name: "coinbase.error", types: []string{"error"}, handle: handleError},
		processor{name: "coinbase.ticker", types: []string{"ticker"}, handle: handleTicker},
		processor{name: "coinbase.match", types: []string{"match", "last_match"}, handle: handleMatch},
		processor{name: "coinbase.level2", types: []string{"snapshot", "l2update"}, handle: handleBook},
	}
}

func handleError(raw []byte, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var msg errorMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return failure(mctx, "error", err)
	}
	return dispatch.Success[schema.Response](mctx, schema.ErrorData{
		Exchange: Name,
		Code:     msg.Reason,
		Message:  msg.Message,
	})
}

func handleTicker(raw []byte, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return failure(mctx, "ticker", err)
	}
	var p parser
	md := schema.MarketData{
		Exchange:    Name,
		Symbol:      symbolFor(msg.ProductID, mctx),
		Channel:     ChannelTicker,
		Price:       p.number("price", msg.Price),
		BidPrice:    p.number("best bid", msg.BestBid),
		BidQuantity: p.number("best bid size", msg.BestBidSize),
		AskPrice:    p.number("best ask", msg.BestAsk),
		AskQuantity: p.number("best ask size", msg.BestAskSize),
		Open:        p.number("open", msg.Open24h),
		High:        p.number("high", msg.High24h),
		Low:         p.number("low", msg.Low24h),
		Volume:      p.number("volume", msg.Volume24h),
		Sequence:    msg.Sequence,
		EventTime:   p.timestamp(msg.Time, mctx),
	}
	if p.err != nil {
		return failure(mctx, "ticker", p.err)
	}
	if md.Open.IsPositive() {
		md.PriceChangePercent = md.Price.Sub(md.Open).Div(md.Open).Mul(decimal.NewFromInt(100)).Round(4)
	}
	if md.Crossed() {
		return dispatch.Warning[schema.Response](mctx, md, "crossed book: bid above ask")
	}
	return dispatch.Success[schema.Response](mctx, md)
}

func handleMatch(raw []byte, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var msg matchMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return failure(mctx, "match", err)
	}
	var p parser
	trade := schema.TradeData{
		Exchange:  Name,
		Symbol:    symbolFor(msg.ProductID, mctx),
		TradeID:   strconv.FormatInt(msg.TradeID, 10),
		Price:     p.number("price", msg.Price),
		Quantity:  p.number("size", msg.Size),
		Side:      takerSide(msg.Side),
		TradeTime: p.timestamp(msg.Time, mctx),
	}
	if p.err != nil {
		return failure(mctx, "match", p.err)
	}
	return dispatch.Success[schema.Response](mctx, trade)
}

func handleBook(raw []byte, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var msg bookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return failure(mctx, "level2", err)
	}
	var p parser
	md := schema.MarketData{
		Exchange:  Name,
		Symbol:    symbolFor(msg.ProductID, mctx),
		Channel:   msg.Type,
		EventTime: p.timestamp(msg.Time, mctx),
	}
	if msg.Type == "snapshot" {
		md.Bids = p.levels("bid", msg.Bids)
		md.Asks = p.levels("ask", msg.Asks)
	} else {
		md.Bids, md.Asks = p.changes(msg.Changes)
	}
	if p.err != nil {
		return failure(mctx, "level2", p.err)
	}
	if msg.Type != "snapshot" {
		return dispatch.Success[schema.Response](mctx, md)
	}
	if len(md.Bids) > 0 {
		md.BidPrice, md.BidQuantity = md.Bids[0].Price, md.Bids[0].Quantity
	}
	if len(md.Asks) > 0 {
		md.AskPrice, md.AskQuantity = md.Asks[0].Price, md.Asks[0].Quantity
	}
	if mid, ok := md.MidPrice(); ok {
		md.Price = mid
	}
	if md.Crossed() {
		return dispatch.Warning[schema.Response](mctx, md, "crossed book: bid above ask")
	}
	return dispatch.Success[schema.Response](mctx, md)
}

// takerSide inverts the maker side Coinbase reports on matches.
func takerSide(makerSide string) schema.Side {
	if strings.EqualFold(makerSide, "sell") {
		return schema.SideBuy
	}
	return schema.SideSell
}

func symbolFor(productID string, mctx dispatch.MessageContext) string {
	if productID != "" {
		return productID
	}
	header, _ := mctx.Header("symbol")
	return header
}

func failure(mctx dispatch.MessageContext, what string, err error) dispatch.Result[schema.Response] {
	return dispatch.Failure[schema.Response](mctx, "malformed "+what+" message", err)
}

// parser keeps the first conversion error across several fields.
type parser struct {
	err error
}

func (p *parser) number(field, value string) decimal.Decimal {
	if p.err != nil || value == "" {
		return decimal.Zero
	}
	out, err := decimal.NewFromString(value)
	if err != nil {
		p.err = fmt.Errorf("parse %s %q: %w", field, value, err)
		return decimal.Zero
	}
	return out
}

func (p *parser) timestamp(value string, mctx dispatch.MessageContext) time.Time {
	if p.err != nil || value == "" {
		return mctx.ReceivedAt()
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		p.err = fmt.Errorf("parse time %q: %w", value, err)
		return time.Time{}
	}
	return ts.UTC()
}

func (p *parser) levels(field string, raw [][]string) []schema.PriceLevel {
	out := make([]schema.PriceLevel, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			if p.err == nil {
				p.err = fmt.Errorf("parse %s: level has %d fields", field, len(level))
			}
			return nil
		}
		out = append(out, schema.PriceLevel{
			Price:    p.number(field+" price", level[0]),
			Quantity: p.number(field+" size", level[1]),
		})
	}
	return out
}

// changes splits l2update rows of [side, price, size] into bid and ask levels.
func (p *parser) changes(raw [][]string) (bids, asks []schema.PriceLevel) {
	for _, change := range raw {
		if len(change) < 3 {
			if p.err == nil {
				p.err = fmt.Errorf("parse change: row has %d fields", len(change))
			}
			return nil, nil
		}
		level := schema.PriceLevel{
			Price:    p.number("change price", change[1]),
			Quantity: p.number("change size", change[2]),
		}
		if strings.EqualFold(change[0], "buy") {
			bids = append(bids, level)
		} else {
			asks = append(asks, level)
		}
	}
	return bids, asks
}
