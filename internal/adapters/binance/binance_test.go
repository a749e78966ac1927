package binance

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/feedlink/errs"
	"github.com/coachpo/feedlink/internal/dispatch"
	"github.com/coachpo/feedlink/internal/schema"
)

func TestBuildConnectionURL(t *testing.T) {
	builder := NewURLBuilder("")

	tests := []struct {
		name   string
		params schema.ConnectionParams
		want   string
	}{
		{
			name:   "single ticker",
			params: schema.ConnectionParams{BaseCurrency: "BTC", QuoteCurrency: "USDT"},
			want:   "wss://stream.binance.com:9443/ws/btcusdt@ticker",
		},
		{
			name: "combined streams",
			params: schema.ConnectionParams{
				StreamType:    schema.StreamTrade,
				BaseCurrency:  "BTC",
				QuoteCurrency: "USDT",
				Pairs:         []schema.Pair{{Base: "ETH", Quote: "USDT"}},
			},
			want: "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade",
		},
		{
			name:   "partial depth default levels",
			params: schema.ConnectionParams{StreamType: schema.StreamDepth, BaseCurrency: "btc", QuoteCurrency: "usdt"},
			want:   "wss://stream.binance.com:9443/ws/btcusdt@depth20",
		},
		{
			name:   "book ticker",
			params: schema.ConnectionParams{StreamType: schema.StreamBookTicker, BaseCurrency: "ETH", QuoteCurrency: "BTC"},
			want:   "wss://stream.binance.com:9443/ws/ethbtc@bookTicker",
		},
		{
			name:   "all tickers needs no pair",
			params: schema.ConnectionParams{StreamType: schema.StreamAllTickers},
			want:   "wss://stream.binance.com:9443/ws/!ticker@arr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := builder.BuildConnectionURL(tt.params)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBuildConnectionURLRejectsBadParams(t *testing.T) {
	builder := NewURLBuilder("ws://localhost:9000/")

	_, err := builder.BuildConnectionURL(schema.ConnectionParams{BaseCurrency: "BTC"})
	require.True(t, errs.IsCode(err, errs.CodeInvalid))

	_, err = builder.BuildConnectionURL(schema.ConnectionParams{
		StreamType: schema.StreamDepth, BaseCurrency: "BTC", QuoteCurrency: "USDT", DepthLevels: 7,
	})
	require.True(t, errs.IsCode(err, errs.CodeInvalid))

	url, err := builder.BuildConnectionURL(schema.ConnectionParams{BaseCurrency: "BTC", QuoteCurrency: "USDT"})
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:9000/ws/btcusdt@ticker", url)
}

func TestSubscriptionsCoverStreamsBeyondURL(t *testing.T) {
	pairs := make([]schema.Pair, 0, 180)
	for i := 0; i < 180; i++ {
		pairs = append(pairs, schema.Pair{Base: fmt.Sprintf("C%03d", i), Quote: "USDT"})
	}
	params := schema.ConnectionParams{Pairs: pairs}

	url, err := NewURLBuilder("").BuildConnectionURL(params)
	require.NoError(t, err)
	require.Equal(t, maxURLStreams, strings.Count(url, "@ticker"))

	frames, err := Subscriptions(params)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	first, err := DecodeSubscribeRequest(frames[0])
	require.NoError(t, err)
	second, err := DecodeSubscribeRequest(frames[1])
	require.NoError(t, err)
	require.Len(t, first.Params, 100)
	require.Len(t, second.Params, 30)
	require.Equal(t, "c050usdt@ticker", first.Params[0])
	require.NotEqual(t, first.ID, second.ID)

	none, err := Subscriptions(schema.ConnectionParams{BaseCurrency: "BTC", QuoteCurrency: "USDT"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSubscribeRequestRoundTrip(t *testing.T) {
	req := NewSubscribeRequest(MethodSubscribe, []string{"btcusdt", "ethusdt"})
	data, err := req.Encode()
	require.NoError(t, err)

	decoded, err := DecodeSubscribeRequest(data)
	require.NoError(t, err)
	require.Equal(t, MethodSubscribe, decoded.Method)
	require.Equal(t, []string{"btcusdt", "ethusdt"}, decoded.Params)
	require.Equal(t, req.ID, decoded.ID)

	_, err = DecodeSubscribeRequest([]byte(`{"id":"1","method":"subscribe","params":[]}`))
	require.Error(t, err)
	_, err = SubscribeRequest{Method: "PING"}.Encode()
	require.Error(t, err)
}

func TestIsControlFrame(t *testing.T) {
	require.True(t, IsControlFrame([]byte(`{"result":null,"id":"abc"}`)))
	require.True(t, IsControlFrame([]byte(` {"result":["btcusdt@ticker"],"id":3}`)))
	require.False(t, IsControlFrame([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":1}`)))
	require.False(t, IsControlFrame([]byte(`{"e":"trade"}`)))
	require.False(t, IsControlFrame([]byte(`[]`)))
}

func dispatchFrame(t *testing.T, raw string) (string, dispatch.Result[schema.Response], dispatch.MessageContext) {
	t.Helper()
	mctx := dispatch.NewMessageContext(Name, "conn-1", time.Unix(1_700_000_000, 0))
	for _, p := range Processors() {
		if p.CanProcess([]byte(raw)) {
			return p.Name(), p.Process([]byte(raw), mctx), mctx
		}
	}
	t.Fatalf("no processor accepted %s", raw)
	return "", dispatch.Result[schema.Response]{}, mctx
}

func TestTickerProcessor(t *testing.T) {
	name, result, mctx := dispatchFrame(t, `{"s":"BTCUSDT","c":"43250.00","e":"24hrTicker","P":"1.5"}`)
	require.Equal(t, "binance.ticker", name)
	require.True(t, result.IsSuccess())
	require.Equal(t, mctx.CorrelationID(), result.CorrelationID())

	data, ok := result.Data()
	require.True(t, ok)
	md := data.(schema.MarketData)
	require.Equal(t, "BTCUSDT", md.Symbol)
	require.True(t, md.Price.Equal(decimal.RequireFromString("43250.00")))
	require.True(t, md.PriceChangePercent.Equal(decimal.RequireFromString("1.5")))
}

func TestTickerProcessorHandlesCaseCollidingKeys(t *testing.T) {
	raw := `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1672515782136,"s":"BTCUSDT","p":"-12.5","P":"-0.03",` +
		`"w":"43000","x":"43262.5","c":"43250.00","Q":"0.01","b":"43249.99","B":"1.2","a":"43250.01","A":"0.8",` +
		`"o":"43262.5","h":"43500","l":"42900","v":"1234.5","q":"53000000","O":1672429382136,"C":1672515782136,` +
		`"F":1,"L":99,"n":99}}`
	name, result, _ := dispatchFrame(t, raw)
	require.Equal(t, "binance.ticker", name)
	require.True(t, result.IsSuccess(), result.Message())

	data, _ := result.Data()
	md := data.(schema.MarketData)
	require.True(t, md.Price.Equal(decimal.RequireFromString("43250")))
	require.True(t, md.BidQuantity.Equal(decimal.RequireFromString("1.2")))
	require.True(t, md.QuoteVolume.Equal(decimal.RequireFromString("53000000")))
	require.True(t, md.Low.Equal(decimal.RequireFromString("42900")))
	require.Equal(t, time.UnixMilli(1672515782136).UTC(), md.EventTime)
	spread, ok := md.Spread()
	require.True(t, ok)
	require.True(t, spread.Equal(decimal.RequireFromString("0.02")))
}

func TestMiniTickerAndArray(t *testing.T) {
	name, result, _ := dispatchFrame(t, `{"e":"24hrMiniTicker","E":1,"s":"ETHUSDT","c":"2000","o":"1900","h":"2100","l":"1800","v":"10","q":"20000"}`)
	require.Equal(t, "binance.miniTicker", name)
	data, _ := result.Data()
	require.Equal(t, "miniTicker", data.(schema.MarketData).Channel)

	name, result, _ = dispatchFrame(t, `{"stream":"!ticker@arr","data":[{"e":"24hrTicker","s":"BTCUSDT","c":"1"},{"e":"24hrTicker","s":"ETHUSDT","c":"2"}]}`)
	require.Equal(t, "binance.tickerArray", name)
	data, _ = result.Data()
	batch := data.(schema.MarketDataBatch)
	require.Len(t, batch.Items, 2)
	require.Equal(t, "ETHUSDT", batch.Items[1].Symbol)
	require.Equal(t, schema.KindMarketDataBatch, data.Kind())
}

func TestBookTickerCrossedBookWarns(t *testing.T) {
	name, result, _ := dispatchFrame(t, `{"u":400900217,"s":"BNBUSDT","b":"25.36","B":"31.21","a":"25.35","A":"40.66"}`)
	require.Equal(t, "binance.bookTicker", name)
	require.True(t, result.IsWarning())
	data, ok := result.Data()
	require.True(t, ok)
	require.True(t, data.(schema.MarketData).Crossed())

	_, result, _ = dispatchFrame(t, `{"u":1,"s":"BNBUSDT","b":"25.35","B":"1","a":"25.37","A":"1"}`)
	require.True(t, result.IsSuccess())
	data, _ = result.Data()
	require.True(t, data.(schema.MarketData).Price.Equal(decimal.RequireFromString("25.36")))
}

func TestPartialDepthUsesStreamSymbol(t *testing.T) {
	raw := `{"stream":"btcusdt@depth5","data":{"lastUpdateId":160,"bids":[["0.0024","10"]],"asks":[["0.0026","100"]]}}`
	name, result, _ := dispatchFrame(t, raw)
	require.Equal(t, "binance.partialDepth", name)
	require.True(t, result.IsSuccess())
	data, _ := result.Data()
	md := data.(schema.MarketData)
	require.Equal(t, "BTCUSDT", md.Symbol)
	require.Equal(t, "depth5", md.Channel)
	require.Equal(t, int64(160), md.Sequence)
	require.True(t, md.BidPrice.Equal(decimal.RequireFromString("0.0024")))

	mctx := dispatch.NewMessageContext(Name, "c", time.Now()).WithHeader("symbol", "ethbtc")
	bare := []byte(`{"lastUpdateId":1,"bids":[],"asks":[]}`)
	result = Processors()[5].Process(bare, mctx)
	data, _ = result.Data()
	require.Equal(t, "ETHBTC", data.(schema.MarketData).Symbol)
}

func TestDiffDepth(t *testing.T) {
	name, result, _ := dispatchFrame(t, `{"e":"depthUpdate","E":123456789,"s":"BNBBTC","U":157,"u":160,"b":[["0.0024","10"]],"a":[["0.0026","100"]]}`)
	require.Equal(t, "binance.diffDepth", name)
	data, _ := result.Data()
	md := data.(schema.MarketData)
	require.Equal(t, int64(160), md.Sequence)
	require.Len(t, md.Bids, 1)
	require.Len(t, md.Asks, 1)
}

func TestTradeProcessors(t *testing.T) {
	name, result, _ := dispatchFrame(t, `{"e":"trade","E":1672515782136,"s":"BTCUSDT","t":12345,"p":"0.001","q":"100","T":1672515783136,"m":true,"M":true}`)
	require.Equal(t, "binance.trade", name)
	data, _ := result.Data()
	trade := data.(schema.TradeData)
	require.Equal(t, "12345", trade.TradeID)
	require.Equal(t, schema.SideSell, trade.Side)
	require.Equal(t, time.UnixMilli(1672515783136).UTC(), trade.TradeTime)
	require.True(t, trade.Notional().Equal(decimal.RequireFromString("0.1")))

	name, result, _ = dispatchFrame(t, `{"e":"aggTrade","E":1,"s":"BTCUSDT","a":5933014,"p":"0.001","q":"100","f":100,"l":105,"T":2,"m":false,"M":true}`)
	require.Equal(t, "binance.aggTrade", name)
	data, _ = result.Data()
	trade = data.(schema.TradeData)
	require.True(t, trade.Aggregate)
	require.Equal(t, schema.SideBuy, trade.Side)
	require.Equal(t, "5933014", trade.TradeID)
}

func TestExecutionReportAndAccountPosition(t *testing.T) {
	report := `{"e":"executionReport","E":1499405658658,"s":"ETHBTC","c":"mUvoqJxFIILMdfAW5iGSOW","S":"BUY","o":"LIMIT",` +
		`"f":"GTC","q":"1.00000000","p":"0.10264410","P":"0.00000000","F":"0.00000000","g":-1,"C":"","x":"NEW","X":"NEW",` +
		`"r":"NONE","i":4293153,"l":"0.00000000","z":"0.00000000","L":"0.00000000","n":"0","N":null,"T":1499405658657,` +
		`"t":-1,"I":8641984,"w":true,"m":false,"M":false,"O":1499405658657,"Z":"0.00000000","Y":"0.00000000","Q":"0.00000000"}`
	name, result, _ := dispatchFrame(t, report)
	require.Equal(t, "binance.executionReport", name)
	require.True(t, result.IsSuccess(), result.Message())
	data, _ := result.Data()
	order := data.(schema.OrderData)
	require.Equal(t, "4293153", order.OrderID)
	require.Equal(t, "mUvoqJxFIILMdfAW5iGSOW", order.ClientOrderID)
	require.Equal(t, schema.SideBuy, order.Side)
	require.Equal(t, "NEW", order.Status)
	require.True(t, order.Price.Equal(decimal.RequireFromString("0.1026441")))

	position := `{"e":"outboundAccountPosition","E":1564034571105,"u":1564034571073,"B":[{"a":"ETH","f":"10000.000000","l":"1.000000"}]}`
	name, result, _ = dispatchFrame(t, position)
	require.Equal(t, "binance.accountPosition", name)
	data, _ = result.Data()
	account := data.(schema.AccountData)
	require.Len(t, account.Balances, 1)
	require.True(t, account.Balances[0].Total().Equal(decimal.RequireFromString("10001")))
}

func TestErrorFrames(t *testing.T) {
	name, result, _ := dispatchFrame(t, `{"error":{"code":2,"msg":"Invalid request: unknown variant"},"id":"x"}`)
	require.Equal(t, "binance.error", name)
	data, _ := result.Data()
	require.Equal(t, schema.ErrorData{Exchange: Name, Code: "2", Message: "Invalid request: unknown variant"}, data)

	_, result, _ = dispatchFrame(t, `{"code":-1121,"msg":"Invalid symbol."}`)
	data, _ = result.Data()
	require.Equal(t, "-1121", data.(schema.ErrorData).Code)
}

func TestMalformedNumbersBecomeErrors(t *testing.T) {
	_, result, _ := dispatchFrame(t, `{"e":"trade","s":"BTCUSDT","t":1,"p":"abc","q":"1","T":1,"m":false}`)
	require.True(t, result.IsError())
	require.Contains(t, result.Err().Error(), "price")
}

func TestUnknownFrameMatchesNothing(t *testing.T) {
	for _, p := range Processors() {
		require.False(t, p.CanProcess([]byte(`{"hello":"world"}`)), p.Name())
		require.False(t, p.CanProcess([]byte(`not json`)), p.Name())
	}
}

func TestParseFrameDecodesHeaderOnly(t *testing.T) {
	envelope := `{"stream":"btcusdt@bookTicker","data":{"u":400900217,"s":"BNBUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}}`
	f, ok := parseFrame([]byte(envelope))
	require.True(t, ok)
	require.Equal(t, "btcusdt@bookTicker", f.stream)
	require.Equal(t, `{"u":400900217,"s":"BNBUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}`, string(f.payload))
	require.Nil(t, f.head.Data)
	require.True(t, isBookTicker(f))

	f, ok = parseFrame([]byte(`{"e":"aggTrade","E":1,"s":"BTCUSDT","a":5933014,"p":"0.001","q":"100","T":2,"m":false}`))
	require.True(t, ok)
	require.Equal(t, eventAggTrade, f.head.Event)
	require.True(t, bool(f.head.EventTime))
	require.True(t, bool(f.head.AskPrice))
	require.False(t, bool(f.head.AskQuantity))
	require.False(t, isBookTicker(f))

	f, ok = parseFrame([]byte(`{"error":null,"code":0,"result":null,"id":1}`))
	require.True(t, ok)
	require.False(t, isErrorFrame(f))

	f, ok = parseFrame([]byte(`{"stream":"!ticker@arr","data":[{"e":"24hrTicker"}]}`))
	require.True(t, ok)
	require.True(t, f.array)
	require.Equal(t, "!ticker@arr", f.stream)

	_, ok = parseFrame([]byte(`{"e":`))
	require.False(t, ok)
}

func TestDispatcherRoutesAggTradeThroughChain(t *testing.T) {
	d := dispatch.NewDispatcher(Processors())
	mctx := dispatch.NewMessageContext(Name, "conn-1", time.Now())
	result := d.Dispatch([]byte(aggTradeFrame), mctx)
	require.True(t, result.IsSuccess(), result.Message())
	data, _ := result.Data()
	require.True(t, data.(schema.TradeData).Aggregate)
	require.False(t, IsControlFrame([]byte(aggTradeFrame)))
}

const aggTradeFrame = `{"e":"aggTrade","E":1672515782136,"s":"BTCUSDT","a":5933014,"p":"26500.10","q":"0.015",` +
	`"f":100,"l":105,"T":1672515782134,"m":true,"M":true}`

func BenchmarkDispatchAggTrade(b *testing.B) {
	d := dispatch.NewDispatcher(Processors())
	raw := []byte(aggTradeFrame)
	mctx := dispatch.NewMessageContext(Name, "conn-1", time.Now())
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if IsControlFrame(raw) {
			b.Fatal("aggTrade sniffed as control frame")
		}
		if result := d.Dispatch(raw, mctx); !result.IsSuccess() {
			b.Fatal(result.Message())
		}
	}
}
