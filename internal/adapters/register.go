// Package adapters wires the built-in exchange adapters into a catalogue keyed by exchange name.
package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coachpo/feedlink/errs"
	"github.com/coachpo/feedlink/internal/adapters/binance"
	"github.com/coachpo/feedlink/internal/adapters/coinbase"
	"github.com/coachpo/feedlink/internal/dispatch"
	"github.com/coachpo/feedlink/internal/schema"
)

// URLBuilder derives a connection URL from connection parameters.
type URLBuilder interface {
	BaseURL() string
	BuildConnectionURL(params schema.ConnectionParams) (string, error)
}

// Exchange bundles everything the transport needs to speak to one exchange.
type Exchange struct {
	Name string
	URLs URLBuilder
	// Subscriptions returns control frames to send right after connect.
	Subscriptions func(params schema.ConnectionParams) ([][]byte, error)
	// IsControl reports frames that must not reach the dispatcher.
	IsControl  func(raw []byte) bool
	Processors func() []dispatch.Processor
	// Symbol renders a pair the way the exchange names it in frames.
	Symbol func(pair schema.Pair) string
}

// Catalogue maps exchange names to adapters.
type Catalogue struct {
	exchanges map[string]Exchange
}

// NewCatalogue returns an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{exchanges: make(map[string]Exchange)}
}

// Register installs an adapter, replacing any previous one with the same name.
func (c *Catalogue) Register(exchange Exchange) error {
	name := strings.ToLower(strings.TrimSpace(exchange.Name))
	if name == "" {
		return errs.New("adapters", errs.CodeInvalid, errs.WithMessage("exchange name required"))
	}
	if exchange.URLs == nil || exchange.Processors == nil {
		return errs.New(name, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("adapter %s incomplete", name)))
	}
	if exchange.Subscriptions == nil {
		exchange.Subscriptions = func(schema.ConnectionParams) ([][]byte, error) { return nil, nil }
	}
	if exchange.IsControl == nil {
		exchange.IsControl = func([]byte) bool { return false }
	}
	if exchange.Symbol == nil {
		exchange.Symbol = func(pair schema.Pair) string { return pair.Base + pair.Quote }
	}
	exchange.Name = name
	c.exchanges[name] = exchange
	return nil
}

// Lookup finds an adapter by case-insensitive name.
func (c *Catalogue) Lookup(name string) (Exchange, bool) {
	exchange, ok := c.exchanges[strings.ToLower(strings.TrimSpace(name))]
	return exchange, ok
}

// Names lists registered exchanges in sorted order.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.exchanges))
	for name := range c.exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BaseURLs overrides default endpoints per exchange name.
type BaseURLs map[string]string

// RegisterAll installs every built-in adapter into the catalogue.
func RegisterAll(c *Catalogue, overrides BaseURLs) error {
	if c == nil {
		return nil
	}
	builtins := []Exchange{
		{
			Name:          binance.Name,
			URLs:          binance.NewURLBuilder(overrides[binance.Name]),
			Subscriptions: binance.Subscriptions,
			IsControl:     binance.IsControlFrame,
			Processors:    binance.Processors,
			Symbol:        binance.Symbol,
		},
		{
			Name:          coinbase.Name,
			URLs:          coinbase.NewURLBuilder(overrides[coinbase.Name]),
			Subscriptions: coinbase.Subscriptions,
			IsControl:     coinbase.IsControlFrame,
			Processors:    coinbase.Processors,
			Symbol:        coinbase.ProductID,
		},
	}
	for _, exchange := range builtins {
		if err := c.Register(exchange); err != nil {
			return err
		}
	}
	return nil
}
