package schema

import (
	"strings"

	"github.com/coachpo/feedlink/errs"
)

// StreamType names the market data channel requested from an exchange.
type StreamType string

const (
	StreamTicker     StreamType = "ticker"
	StreamMiniTicker StreamType = "miniTicker"
	StreamAllTickers StreamType = "allTickers"
	StreamBookTicker StreamType = "bookTicker"
	StreamDepth      StreamType = "depth"
	StreamTrade      StreamType = "trade"
	StreamAggTrade   StreamType = "aggTrade"
)

// DefaultDepthLevels is the partial book depth used when none is configured.
const DefaultDepthLevels = 20

// ParseStreamType resolves a configured stream name; blank means ticker.
func ParseStreamType(name string) (StreamType, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return StreamTicker, true
	}
	for _, candidate := range []StreamType{
		StreamTicker, StreamMiniTicker, StreamAllTickers, StreamBookTicker,
		StreamDepth, StreamTrade, StreamAggTrade,
	} {
		if strings.EqualFold(string(candidate), trimmed) {
			return candidate, true
		}
	}
	return "", false
}

// Pair is a base/quote currency pair.
type Pair struct {
	Base  string `yaml:"base" json:"base"`
	Quote string `yaml:"quote" json:"quote"`
}

// Complete reports whether both currencies are set.
func (p Pair) Complete() bool {
	return strings.TrimSpace(p.Base) != "" && strings.TrimSpace(p.Quote) != ""
}

// ConnectionParams describe the feed a caller wants to open.
type ConnectionParams struct {
	StreamType    StreamType
	BaseCurrency  string
	QuoteCurrency string
	// Pairs lists extra pairs subscribed alongside BaseCurrency/QuoteCurrency.
	Pairs       []Pair
	DepthLevels int
}

// ResolvePairs returns the primary pair followed by the extra pairs, upper-cased and de-duplicated.
// It fails with an invalid-argument error attributed to exchange when any pair is incomplete or when
// no pair is given at all.
func (p ConnectionParams) ResolvePairs(exchange string) ([]Pair, error) {
	candidates := make([]Pair, 0, len(p.Pairs)+1)
	if p.BaseCurrency != "" || p.QuoteCurrency != "" || len(p.Pairs) == 0 {
		candidates = append(candidates, Pair{Base: p.BaseCurrency, Quote: p.QuoteCurrency})
	}
	candidates = append(candidates, p.Pairs...)

	seen := make(map[Pair]struct{}, len(candidates))
	out := make([]Pair, 0, len(candidates))
	for _, candidate := range candidates {
		if !candidate.Complete() {
			return nil, errs.New(exchange, errs.CodeInvalid,
				errs.WithMessage("base and quote currency are required"),
				errs.WithCanonicalCode(errs.CanonicalMissingCurrency),
				errs.WithField("base", candidate.Base),
				errs.WithField("quote", candidate.Quote),
			)
		}
		normalised := Pair{
			Base:  strings.ToUpper(strings.TrimSpace(candidate.Base)),
			Quote: strings.ToUpper(strings.TrimSpace(candidate.Quote)),
		}
		if _, dup := seen[normalised]; dup {
			continue
		}
		seen[normalised] = struct{}{}
		out = append(out, normalised)
	}
	return out, nil
}

// Levels returns the requested depth or the default.
func (p ConnectionParams) Levels() int {
	if p.DepthLevels > 0 {
		return p.DepthLevels
	}
	return DefaultDepthLevels
}
