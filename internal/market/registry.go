package market

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Options carries the settings of every provider; Name selects one.
type Options struct {
	Name          string
	CoinMarketCap CoinMarketCapOptions
	CoinGecko     CoinGeckoOptions
	Binance       BinanceOptions
	OnChain       OnChainOptions
}

type factory func(opts Options, logger zerolog.Logger) Provider

var factories = map[string]factory{
	coinMarketCapName: func(o Options, l zerolog.Logger) Provider { return NewCoinMarketCap(o.CoinMarketCap, l) },
	coinGeckoName:     func(o Options, l zerolog.Logger) Provider { return NewCoinGecko(o.CoinGecko, l) },
	binanceName:       func(o Options, l zerolog.Logger) Provider { return NewBinance(o.Binance, l) },
	onChainName:       func(o Options, l zerolog.Logger) Provider { return NewOnChain(o.OnChain, l) },
}

// New builds the provider named by opts.Name (case-insensitive).
func New(opts Options, logger zerolog.Logger) (Provider, error) {
	f, ok := factories[strings.ToLower(strings.TrimSpace(opts.Name))]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", opts.Name, strings.Join(Names(), ", "))
	}
	return f(opts, logger), nil
}

// Names lists supported provider names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
