package binance

import (
	json "github.com/goccy/go-json"
)

// Binance payloads reuse single-letter keys that differ only by case (e/E, c/C, ...). The decoder
// falls back to case-insensitive matching, so every struct declares both members of each pair it
// touches; the unused twin is kept as a RawMessage.

type tickerPayload struct {
	EventType          string          `json:"e"`
	EventTime          int64           `json:"E"`
	Symbol             string          `json:"s"`
	PriceChange        json.RawMessage `json:"p"`
	PriceChangePercent string          `json:"P"`
	LastPrice          string          `json:"c"`
	CloseTime          json.RawMessage `json:"C"`
	LastQuantity       json.RawMessage `json:"Q"`
	QuoteVolume        string          `json:"q"`
	BidPrice           string          `json:"b"`
	BidQuantity        string          `json:"B"`
	AskPrice           string          `json:"a"`
	AskQuantity        string          `json:"A"`
	OpenPrice          string          `json:"o"`
	OpenTime           json.RawMessage `json:"O"`
	HighPrice          string          `json:"h"`
	LowPrice           string          `json:"l"`
	LastTradeID        json.RawMessage `json:"L"`
	Volume             string          `json:"v"`
}

type bookTickerPayload struct {
	UpdateID    int64  `json:"u"`
	Symbol      string `json:"s"`
	BidPrice    string `json:"b"`
	BidQuantity string `json:"B"`
	AskPrice    string `json:"a"`
	AskQuantity string `json:"A"`
}

type partialDepthPayload struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type diffDepthPayload struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type tradePayload struct {
	EventType    string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	TradeID      int64           `json:"t"`
	TradeTime    int64           `json:"T"`
	Price        string          `json:"p"`
	Quantity     string          `json:"q"`
	IsBuyerMaker bool            `json:"m"`
	Ignore       json.RawMessage `json:"M"`
}

type aggTradePayload struct {
	EventType    string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	AggregateID  int64           `json:"a"`
	Price        string          `json:"p"`
	Quantity     string          `json:"q"`
	TradeTime    int64           `json:"T"`
	IsBuyerMaker bool            `json:"m"`
	Ignore       json.RawMessage `json:"M"`
}

type executionReportPayload struct {
	EventType           string          `json:"e"`
	EventTime           int64           `json:"E"`
	Symbol              string          `json:"s"`
	Side                string          `json:"S"`
	ClientOrderID       string          `json:"c"`
	OrigClientOrderID   json.RawMessage `json:"C"`
	OrderType           string          `json:"o"`
	OrderCreationTime   json.RawMessage `json:"O"`
	Quantity            string          `json:"q"`
	QuoteOrderQuantity  json.RawMessage `json:"Q"`
	Price               string          `json:"p"`
	StopPrice           json.RawMessage `json:"P"`
	ExecutionType       string          `json:"x"`
	OrderStatus         string          `json:"X"`
	OrderID             int64           `json:"i"`
	Ignore              json.RawMessage `json:"I"`
	LastFilledQuantity  json.RawMessage `json:"l"`
	LastFilledPrice     string          `json:"L"`
	CumulativeFilled    string          `json:"z"`
	CumulativeQuoteCost json.RawMessage `json:"Z"`
	TradeID             json.RawMessage `json:"t"`
	TransactionTime     int64           `json:"T"`
}

type accountPositionPayload struct {
	EventType      string           `json:"e"`
	EventTime      int64            `json:"E"`
	LastUpdateTime int64            `json:"u"`
	Balances       []balancePayload `json:"B"`
	Ignore         json.RawMessage  `json:"b"`
}

type balancePayload struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

type errorPayload struct {
	Code  json.RawMessage `json:"code"`
	Msg   string          `json:"msg"`
	Error *ControlError   `json:"error"`
	ID    json.RawMessage `json:"id"`
}
