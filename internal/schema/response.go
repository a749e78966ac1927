// Package schema defines the normalised payloads produced by exchange processors and the connection
// parameters shared by URL builders.
package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/feedlink/errs"
)

// Kind identifies a processor response variant.
type Kind uint8

const (
	// KindMarketData marks ticker and order book snapshots.
	KindMarketData Kind = iota + 1
	// KindMarketDataBatch marks array frames carrying several tickers.
	KindMarketDataBatch
	// KindTradeData marks executed trades.
	KindTradeData
	// KindOrderData marks order lifecycle updates.
	KindOrderData
	// KindAccountData marks balance updates.
	KindAccountData
	// KindErrorData marks error frames reported by the exchange.
	KindErrorData
)

func (k Kind) String() string {
	switch k {
	case KindMarketData:
		return "MARKET_DATA"
	case KindMarketDataBatch:
		return "MARKET_DATA_BATCH"
	case KindTradeData:
		return "TRADE_DATA"
	case KindOrderData:
		return "ORDER_DATA"
	case KindAccountData:
		return "ACCOUNT_DATA"
	case KindErrorData:
		return "ERROR_DATA"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Response is the closed set of normalised payloads. Only types in this package implement it.
type Response interface {
	Kind() Kind
	isResponse()
}

// Side is the aggressor or order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceLevel is one level of an order book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// MarketData carries ticker, book ticker and depth updates. Fields an exchange does not send stay zero.
type MarketData struct {
	Exchange           string          `json:"exchange"`
	Symbol             string          `json:"symbol"`
	Channel            string          `json:"channel"`
	Price              decimal.Decimal `json:"price"`
	BidPrice           decimal.Decimal `json:"bidPrice"`
	BidQuantity        decimal.Decimal `json:"bidQuantity"`
	AskPrice           decimal.Decimal `json:"askPrice"`
	AskQuantity        decimal.Decimal `json:"askQuantity"`
	Open               decimal.Decimal `json:"open"`
	High               decimal.Decimal `json:"high"`
	Low                decimal.Decimal `json:"low"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	Bids               []PriceLevel    `json:"bids,omitempty"`
	Asks               []PriceLevel    `json:"asks,omitempty"`
	Sequence           int64           `json:"sequence,omitempty"`
	EventTime          time.Time       `json:"eventTime"`
}

// Kind implements Response.
func (MarketData) Kind() Kind { return KindMarketData }
func (MarketData) isResponse() {}

// BestBid returns the top bid, preferring the explicit field over the first book level.
func (m MarketData) BestBid() (decimal.Decimal, bool) {
	if m.BidPrice.IsPositive() {
		return m.BidPrice, true
	}
	if len(m.Bids) > 0 && m.Bids[0].Price.IsPositive() {
		return m.Bids[0].Price, true
	}
	return decimal.Zero, false
}

// BestAsk returns the top ask, preferring the explicit field over the first book level.
func (m MarketData) BestAsk() (decimal.Decimal, bool) {
	if m.AskPrice.IsPositive() {
		return m.AskPrice, true
	}
	if len(m.Asks) > 0 && m.Asks[0].Price.IsPositive() {
		return m.Asks[0].Price, true
	}
	return decimal.Zero, false
}

// Spread returns ask minus bid when both sides are known.
func (m MarketData) Spread() (decimal.Decimal, bool) {
	bid, okBid := m.BestBid()
	ask, okAsk := m.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// MidPrice returns the midpoint of the best bid and ask when both are known.
func (m MarketData) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := m.BestBid()
	ask, okAsk := m.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Crossed reports a book whose best bid is above its best ask.
func (m MarketData) Crossed() bool {
	spread, ok := m.Spread()
	return ok && spread.IsNegative()
}

// MarketDataBatch carries several tickers decoded from one frame.
type MarketDataBatch struct {
	Exchange string       `json:"exchange"`
	Items    []MarketData `json:"items"`
}

// Kind implements Response.
func (MarketDataBatch) Kind() Kind { return KindMarketDataBatch }
func (MarketDataBatch) isResponse() {}

// TradeData is a single executed trade.
type TradeData struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	TradeID   string          `json:"tradeId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      Side            `json:"side"`
	Aggregate bool            `json:"aggregate,omitempty"`
	TradeTime time.Time       `json:"tradeTime"`
}

// Kind implements Response.
func (TradeData) Kind() Kind { return KindTradeData }
func (TradeData) isResponse() {}

// Notional returns price times quantity.
func (t TradeData) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// OrderData is an order lifecycle update from a user data stream.
type OrderData struct {
	Exchange       string          `json:"exchange"`
	Symbol         string          `json:"symbol"`
	OrderID        string          `json:"orderId"`
	ClientOrderID  string          `json:"clientOrderId,omitempty"`
	Side           Side            `json:"side"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	ExecutionType  string          `json:"executionType,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	LastFillPrice  decimal.Decimal `json:"lastFillPrice"`
	EventTime      time.Time       `json:"eventTime"`
}

// Kind implements Response.
func (OrderData) Kind() Kind { return KindOrderData }
func (OrderData) isResponse() {}

// Balance is the free and locked amount of one asset.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// AccountData is a balance snapshot or delta.
type AccountData struct {
	Exchange  string    `json:"exchange"`
	Balances  []Balance `json:"balances"`
	EventTime time.Time `json:"eventTime"`
}

// Kind implements Response.
func (AccountData) Kind() Kind { return KindAccountData }
func (AccountData) isResponse() {}

// ErrorData is an error frame reported by the exchange.
type ErrorData struct {
	Exchange string `json:"exchange"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Kind implements Response.
func (ErrorData) Kind() Kind { return KindErrorData }
func (ErrorData) isResponse() {}

// Err renders the frame as an exchange error carrying the raw code and message.
func (d ErrorData) Err() *errs.E {
	return errs.New(d.Exchange, errs.CodeExchange,
		errs.WithMessage("exchange reported an error"),
		errs.WithRawCode(d.Code),
		errs.WithRawMessage(d.Message),
	)
}
