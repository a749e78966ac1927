// Package coinbase builds Coinbase Exchange feed URLs and subscribe messages and normalises feed
// messages into schema responses.
package coinbase

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/coachpo/feedlink/errs"
	"github.com/coachpo/feedlink/internal/schema"
)

const (
	// Name is the catalogue key of the exchange.
	Name = "coinbase"
	// DefaultBaseURL is the public market data feed.
	DefaultBaseURL = "wss://ws-feed.exchange.coinbase.com"
)

// URLBuilder derives the feed URL. Product ids travel as the symbols query parameter; channels are
// chosen by the subscribe message sent after connect.
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

// BuildConnectionURL returns the feed URL with the product ids attached.
func (b URLBuilder) BuildConnectionURL(params schema.ConnectionParams) (string, error) {
	if _, err := channelFor(params.StreamType); err != nil {
		return "", err
	}
	products, err := ProductIDs(params)
	if err != nil {
		return "", err
	}
	escaped := make([]string, len(products))
	for i, product := range products {
		escaped[i] = url.QueryEscape(product)
	}
	return b.baseURL + "?symbols=" + strings.Join(escaped, ","), nil
}

// ProductIDs renders the requested pairs as Coinbase product ids, e.g. BTC-USD.
func ProductIDs(params schema.ConnectionParams) ([]string, error) {
	pairs, err := params.ResolvePairs(Name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(pairs))
	for i, pair := range pairs {
		out[i] = ProductID(pair)
	}
	return out, nil
}

func channelFor(streamType schema.StreamType) (string, error) {
	switch streamType {
	case "", schema.StreamTicker, schema.StreamMiniTicker, schema.StreamBookTicker:
		return ChannelTicker, nil
	case schema.StreamTrade, schema.StreamAggTrade:
		return ChannelMatches, nil
	case schema.StreamDepth:
		return ChannelLevel2, nil
	default:
		return "", errs.New(Name, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unsupported stream type %q", streamType)),
			errs.WithCanonicalCode(errs.CanonicalUnsupportedStream),
		)
	}
}

// ProductID renders one pair as a Coinbase product id.
func ProductID(pair schema.Pair) string {
	return pair.Base + "-" + pair.Quote
}
