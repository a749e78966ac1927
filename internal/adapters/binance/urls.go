// Package binance builds Binance spot stream URLs, encodes control requests and normalises stream
// payloads into schema responses.
package binance

import (
	"fmt"
	"strings"

	"github.com/coachpo/feedlink/errs"
	"github.com/coachpo/feedlink/internal/schema"
)

const (
	// Name is the catalogue key of the exchange.
	Name = "binance"
	// DefaultBaseURL is the public spot stream endpoint.
	DefaultBaseURL = "wss://stream.binance.com:9443"

	allTickersStream = "!ticker@arr"
	// Streams past this count are subscribed after connect instead of being encoded in the URL.
	maxURLStreams = 50
)

var depthLevels = map[int]struct{}{5: {}, 10: {}, 20: {}}

// URLBuilder derives connection URLs from connection parameters.
type URLBuilder struct {
	baseURL string
}

// NewURLBuilder creates a builder; a blank base URL selects DefaultBaseURL.
func NewURLBuilder(baseURL string) URLBuilder {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	return URLBuilder{baseURL: trimmed}
}

// BaseURL returns the endpoint the builder targets.
func (b URLBuilder) BaseURL() string { return b.baseURL }

// BuildConnectionURL returns the raw stream URL for a single stream or the combined stream URL for
// several.
func (b URLBuilder) BuildConnectionURL(params schema.ConnectionParams) (string, error) {
	streams, err := StreamNames(params)
	if err != nil {
		return "", err
	}
	if len(streams) > maxURLStreams {
		streams = streams[:maxURLStreams]
	}
	if len(streams) == 1 {
		return b.baseURL + "/ws/" + streams[0], nil
	}
	return b.baseURL + "/stream?streams=" + strings.Join(streams, "/"), nil
}

// Subscriptions returns the SUBSCRIBE requests for streams that did not fit in the connection URL.
func Subscriptions(params schema.ConnectionParams) ([][]byte, error) {
	streams, err := StreamNames(params)
	if err != nil {
		return nil, err
	}
	if len(streams) <= maxURLStreams {
		return nil, nil
	}
	requests := BatchRequests(MethodSubscribe, streams[maxURLStreams:])
	out := make([][]byte, 0, len(requests))
	for _, req := range requests {
		data, err := req.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// StreamNames lists the stream names the parameters resolve to, in pair order.
func StreamNames(params schema.ConnectionParams) ([]string, error) {
	streamType := params.StreamType
	if streamType == "" {
		streamType = schema.StreamTicker
	}
	if streamType == schema.StreamAllTickers {
		return []string{allTickersStream}, nil
	}

	channel, err := channelFor(streamType, params.Levels())
	if err != nil {
		return nil, err
	}
	pairs, err := params.ResolvePairs(Name)
	if err != nil {
		return nil, err
	}
	streams := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		streams = append(streams, Symbol(pair)+"@"+channel)
	}
	return streams, nil
}

// Symbol renders a pair in Binance stream notation, e.g. btcusdt.
func Symbol(pair schema.Pair) string {
	return strings.ToLower(pair.Base + pair.Quote)
}

func channelFor(streamType schema.StreamType, levels int) (string, error) {
	switch streamType {
	case schema.StreamTicker:
		return "ticker", nil
	case schema.StreamMiniTicker:
		return "miniTicker", nil
	case schema.StreamBookTicker:
		return "bookTicker", nil
	case schema.StreamTrade:
		return "trade", nil
	case schema.StreamAggTrade:
		return "aggTrade", nil
	case schema.StreamDepth:
		if _, ok := depthLevels[levels]; !ok {
			return "", errs.New(Name, errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("unsupported depth levels %d", levels)),
				errs.WithCanonicalCode(errs.CanonicalUnsupportedStream),
				errs.WithRemediation("use 5, 10 or 20 levels"),
			)
		}
		return fmt.Sprintf("depth%d", levels), nil
	default:
		return "", errs.New(Name, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unsupported stream type %q", streamType)),
			errs.WithCanonicalCode(errs.CanonicalUnsupportedStream),
		)
	}
}
