package binance

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/feedlink/internal/dispatch"
	"github.com/coachpo/feedlink/internal/schema"
)

const (
	eventTicker          = "24hrTicker"
	eventMiniTicker      = "24hrMiniTicker"
	eventBookTicker      = "bookTicker"
	eventDepthUpdate     = "depthUpdate"
	eventTrade           = "trade"
	eventAggTrade        = "aggTrade"
	eventExecutionReport = "executionReport"
	eventAccountPosition = "outboundAccountPosition"
)

// processor adapts a frame matcher and handler to dispatch.Processor. Both sniff the combined
// envelope and the bare payload through parseFrame, which decodes only the frame header.
type processor struct {
	name   string
	match  func(frame) bool
	handle func(frame, dispatch.MessageContext) dispatch.Result[schema.Response]
}

func (p processor) Name() string { return p.name }

func (p processor) CanProcess(raw []byte) bool {
	f, ok := parseFrame(raw)
	return ok && p.match(f)
}

func (p processor) Process(raw []byte, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	f, ok := parseFrame(raw)
	if !ok {
		return dispatch.Failure[schema.Response](mctx, "unparseable frame", nil)
	}
	return p.handle(f, mctx)
}

// Processors returns the Binance processor chain in match order.
func Processors() []dispatch.Processor {
	return []dispatch.Processor{
		processor{name: "binance.error", match: isErrorFrame, handle: handleError},
		processor{name: "binance.ticker", match: eventIs(eventTicker), handle: handleTicker},
		processor{name: "binance.miniTicker", match: eventIs(eventMiniTicker), handle: handleTicker},
		processor{name: "binance.tickerArray", match: func(f frame) bool { return f.array }, handle: handleTickerArray},
		processor{name: "binance.bookTicker", match: isBookTicker, handle: handleBookTicker},
		processor{name: "binance.partialDepth", match: isPartialDepth, handle: handlePartialDepth},
		processor{name: "binance.diffDepth", match: eventIs(eventDepthUpdate), handle: handleDiffDepth},
		processor{name: "binance.trade", match: eventIs(eventTrade), handle: handleTrade},
		processor{name: "binance.aggTrade", match: eventIs(eventAggTrade), handle: handleAggTrade},
		processor{name: "binance.executionReport", match: eventIs(eventExecutionReport), handle: handleExecutionReport},
		processor{name: "binance.accountPosition", match: eventIs(eventAccountPosition), handle: handleAccountPosition},
	}
}

func eventIs(event string) func(frame) bool {
	return func(f frame) bool {
		return f.object() && f.head.Event == event
	}
}

func isErrorFrame(f frame) bool {
	if !f.object() {
		return false
	}
	return bool(f.head.Error || (f.head.Code && f.head.Msg))
}

func isBookTicker(f frame) bool {
	if !f.object() {
		return false
	}
	h := f.head
	switch h.Event {
	case eventBookTicker:
		return true
	case "":
		return bool(h.UpdateID && h.Symbol && h.BidPrice && h.BidQuantity && h.AskPrice && h.AskQuantity)
	default:
		return false
	}
}

func isPartialDepth(f frame) bool {
	return f.object() && bool(f.head.LastUpdateID && f.head.Bids && f.head.Asks)
}

func handleError(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload errorPayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "error", err)
	}
	out := schema.ErrorData{Exchange: Name, Code: rawCode(payload.Code), Message: payload.Msg}
	if payload.Error != nil {
		out.Code = strconv.Itoa(payload.Error.Code)
		out.Message = payload.Error.Msg
	}
	return dispatch.Success[schema.Response](mctx, out)
}

func handleTicker(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload tickerPayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "ticker", err)
	}
	md, err := tickerToMarketData(payload, f, mctx)
	if err != nil {
		return decodeFailure(mctx, "ticker", err)
	}
	return bookResult(mctx, md)
}

func handleTickerArray(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payloads []tickerPayload
	if err := json.Unmarshal(f.payload, &payloads); err != nil {
		return decodeFailure(mctx, "ticker array", err)
	}
	batch := schema.MarketDataBatch{Exchange: Name, Items: make([]schema.MarketData, 0, len(payloads))}
	for _, payload := range payloads {
		md, err := tickerToMarketData(payload, frame{}, mctx)
		if err != nil {
			return decodeFailure(mctx, "ticker array", err)
		}
		batch.Items = append(batch.Items, md)
	}
	return dispatch.Success[schema.Response](mctx, batch)
}

func tickerToMarketData(payload tickerPayload, f frame, mctx dispatch.MessageContext) (schema.MarketData, error) {
	channel := "ticker"
	if payload.EventType == eventMiniTicker {
		channel = "miniTicker"
	}
	var d decimals
	md := schema.MarketData{
		Exchange:           Name,
		Symbol:             symbolOr(payload.Symbol, f, mctx),
		Channel:            channel,
		Price:              d.parse("last price", payload.LastPrice),
		BidPrice:           d.parse("bid price", payload.BidPrice),
		BidQuantity:        d.parse("bid quantity", payload.BidQuantity),
		AskPrice:           d.parse("ask price", payload.AskPrice),
		AskQuantity:        d.parse("ask quantity", payload.AskQuantity),
		Open:               d.parse("open price", payload.OpenPrice),
		High:               d.parse("high price", payload.HighPrice),
		Low:                d.parse("low price", payload.LowPrice),
		Volume:             d.parse("volume", payload.Volume),
		QuoteVolume:        d.parse("quote volume", payload.QuoteVolume),
		PriceChangePercent: d.parse("price change percent", payload.PriceChangePercent),
		EventTime:          millis(payload.EventTime),
	}
	return md, d.err
}

func handleBookTicker(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload bookTickerPayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "book ticker", err)
	}
	var d decimals
	md := schema.MarketData{
		Exchange:    Name,
		Symbol:      symbolOr(payload.Symbol, f, mctx),
		Channel:     "bookTicker",
		BidPrice:    d.parse("bid price", payload.BidPrice),
		BidQuantity: d.parse("bid quantity", payload.BidQuantity),
		AskPrice:    d.parse("ask price", payload.AskPrice),
		AskQuantity: d.parse("ask quantity", payload.AskQuantity),
		Sequence:    payload.UpdateID,
		EventTime:   mctx.ReceivedAt(),
	}
	if d.err != nil {
		return decodeFailure(mctx, "book ticker", d.err)
	}
	if mid, ok := md.MidPrice(); ok {
		md.Price = mid
	}
	return bookResult(mctx, md)
}

func handlePartialDepth(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload partialDepthPayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "partial depth", err)
	}
	channel := f.streamChannel()
	if channel == "" {
		channel = "depth"
	}
	var d decimals
	md := schema.MarketData{
		Exchange:  Name,
		Symbol:    symbolOr("", f, mctx),
		Channel:   channel,
		Bids:      d.levels("bid", payload.Bids),
		Asks:      d.levels("ask", payload.Asks),
		Sequence:  payload.LastUpdateID,
		EventTime: mctx.ReceivedAt(),
	}
	if d.err != nil {
		return decodeFailure(mctx, "partial depth", d.err)
	}
	fillTopOfBook(&md)
	return bookResult(mctx, md)
}

func handleDiffDepth(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload diffDepthPayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "depth update", err)
	}
	var d decimals
	md := schema.MarketData{
		Exchange:  Name,
		Symbol:    symbolOr(payload.Symbol, f, mctx),
		Channel:   "depthUpdate",
		Bids:      d.levels("bid", payload.Bids),
		Asks:      d.levels("ask", payload.Asks),
		Sequence:  payload.FinalUpdateID,
		EventTime: millis(payload.EventTime),
	}
	if d.err != nil {
		return decodeFailure(mctx, "depth update", d.err)
	}
	// Deltas carry changed levels only, so a crossed pair here says nothing about the book.
	return dispatch.Success[schema.Response](mctx, md)
}

func handleTrade(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload tradePayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "trade", err)
	}
	var d decimals
	trade := schema.TradeData{
		Exchange:  Name,
		Symbol:    symbolOr(payload.Symbol, f, mctx),
		TradeID:   strconv.FormatInt(payload.TradeID, 10),
		Price:     d.parse("price", payload.Price),
		Quantity:  d.parse("quantity", payload.Quantity),
		Side:      aggressorSide(payload.IsBuyerMaker),
		TradeTime: millis(payload.TradeTime),
	}
	if d.err != nil {
		return decodeFailure(mctx, "trade", d.err)
	}
	return dispatch.Success[schema.Response](mctx, trade)
}

func handleAggTrade(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload aggTradePayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "aggregate trade", err)
	}
	var d decimals
	trade := schema.TradeData{
		Exchange:  Name,
		Symbol:    symbolOr(payload.Symbol, f, mctx),
		TradeID:   strconv.FormatInt(payload.AggregateID, 10),
		Price:     d.parse("price", payload.Price),
		Quantity:  d.parse("quantity", payload.Quantity),
		Side:      aggressorSide(payload.IsBuyerMaker),
		Aggregate: true,
		TradeTime: millis(payload.TradeTime),
	}
	if d.err != nil {
		return decodeFailure(mctx, "aggregate trade", d.err)
	}
	return dispatch.Success[schema.Response](mctx, trade)
}

func handleExecutionReport(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload executionReportPayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "execution report", err)
	}
	var d decimals
	order := schema.OrderData{
		Exchange:       Name,
		Symbol:         symbolOr(payload.Symbol, f, mctx),
		OrderID:        strconv.FormatInt(payload.OrderID, 10),
		ClientOrderID:  payload.ClientOrderID,
		Side:           schema.Side(strings.ToUpper(payload.Side)),
		Type:           payload.OrderType,
		Status:         payload.OrderStatus,
		ExecutionType:  payload.ExecutionType,
		Price:          d.parse("price", payload.Price),
		Quantity:       d.parse("quantity", payload.Quantity),
		FilledQuantity: d.parse("filled quantity", payload.CumulativeFilled),
		LastFillPrice:  d.parse("last fill price", payload.LastFilledPrice),
		EventTime:      millis(payload.EventTime),
	}
	if d.err != nil {
		return decodeFailure(mctx, "execution report", d.err)
	}
	return dispatch.Success[schema.Response](mctx, order)
}

func handleAccountPosition(f frame, mctx dispatch.MessageContext) dispatch.Result[schema.Response] {
	var payload accountPositionPayload
	if err := json.Unmarshal(f.payload, &payload); err != nil {
		return decodeFailure(mctx, "account position", err)
	}
	var d decimals
	account := schema.AccountData{
		Exchange:  Name,
		Balances:  make([]schema.Balance, 0, len(payload.Balances)),
		EventTime: millis(payload.EventTime),
	}
	for _, balance := range payload.Balances {
		account.Balances = append(account.Balances, schema.Balance{
			Asset:  balance.Asset,
			Free:   d.parse("free", balance.Free),
			Locked: d.parse("locked", balance.Locked),
		})
	}
	if d.err != nil {
		return decodeFailure(mctx, "account position", d.err)
	}
	return dispatch.Success[schema.Response](mctx, account)
}

func aggressorSide(buyerIsMaker bool) schema.Side {
	if buyerIsMaker {
		return schema.SideSell
	}
	return schema.SideBuy
}

func fillTopOfBook(md *schema.MarketData) {
	if len(md.Bids) > 0 {
		md.BidPrice = md.Bids[0].Price
		md.BidQuantity = md.Bids[0].Quantity
	}
	if len(md.Asks) > 0 {
		md.AskPrice = md.Asks[0].Price
		md.AskQuantity = md.Asks[0].Quantity
	}
	if mid, ok := md.MidPrice(); ok {
		md.Price = mid
	}
}

func rawCode(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}
