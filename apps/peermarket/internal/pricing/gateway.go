// Package pricing derives fair-market reference prices from an oracle feed
// with an HTTP fallback source, and validates proposed offer prices against
// them. All monetary values leaving this package are fixed-point integers in
// the fiat's smallest unit.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/apperr"
	"peermarket/apps/peermarket/internal/assets"
)

// DefaultTolerance is the accepted relative deviation between a proposed
// price and the current fair price.
const DefaultTolerance = 0.05

// maxConfidenceRatio rejects feeds whose confidence interval exceeds 1% of
// the price: too wide to trust for settlement.
const maxConfidenceRatio = 100

type cachedPrice struct {
	price     int64 // smallest fiat unit per whole token
	fetchedAt time.Time
}

// Gateway produces a trustworthy reference price for an asset/fiat pair. The
// upstream feed connection is established on first use and released by
// Cleanup.
type Gateway struct {
	connect  func() FeedClient
	fallback FallbackSource
	registry *assets.AssetRegistry
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	feed  FeedClient
	cache map[string]cachedPrice
}

// NewGateway creates a new price gateway. connect is invoked once, on the
// first price lookup that needs the primary feed. fallback may be nil when
// no secondary source is configured.
func NewGateway(connect func() FeedClient, fallback FallbackSource, registry *assets.AssetRegistry, ttl time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{
		connect:  connect,
		fallback: fallback,
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]cachedPrice),
	}
}

// GetTokenPrice returns the current price of one whole token in the fiat's
// smallest unit, serving from the cache while entries are inside the TTL.
func (g *Gateway) GetTokenPrice(ctx context.Context, symbol, fiatCurrency string) (int64, error) {
	symbol = strings.ToUpper(symbol)
	fiatCurrency = strings.ToUpper(fiatCurrency)
	key := symbol + "-" + fiatCurrency

	g.mu.Lock()
	if entry, ok := g.cache[key]; ok && g.now().Sub(entry.fetchedAt) < g.ttl {
		g.mu.Unlock()
		return entry.price, nil
	}
	g.mu.Unlock()

	price, err := g.fetchPrice(ctx, symbol, fiatCurrency)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	g.cache[key] = cachedPrice{price: price, fetchedAt: g.now()}
	g.mu.Unlock()

	g.logger.Info("Fetched token price",
		zap.String("pair", key),
		zap.Int64("price", price))

	return price, nil
}

func (g *Gateway) fetchPrice(ctx context.Context, symbol, fiatCurrency string) (int64, error) {
	asset, ok := g.registry.GetBySymbol(symbol)
	if !ok {
		return 0, apperr.Newf(apperr.KindPrice, "unsupported asset %s", symbol)
	}

	feedID := asset.FeedIDs[fiatCurrency]
	if feedID == "" {
		return g.fetchFallbackPrice(ctx, symbol, fiatCurrency)
	}

	feeds, err := g.feedClient().GetLatestPriceFeeds(ctx, []string{feedID})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPrice,
			fmt.Sprintf("failed to fetch oracle price for %s/%s", symbol, fiatCurrency), err)
	}
	if len(feeds) == 0 {
		return 0, apperr.Newf(apperr.KindPrice, "no oracle feed returned for %s/%s", symbol, fiatCurrency)
	}

	feed := feeds[0]
	if feed.Status != FeedStatusTrading {
		return 0, apperr.Newf(apperr.KindPrice, "oracle feed for %s/%s is not trading (status %s)",
			symbol, fiatCurrency, feed.Status)
	}
	if feed.Price <= 0 {
		return 0, apperr.Newf(apperr.KindPrice, "oracle feed for %s/%s returned non-positive price", symbol, fiatCurrency)
	}

	// Confidence and price share the feed's exponent, so the 1% bound is a
	// pure integer comparison. Divide rather than multiply so an extreme
	// reported confidence cannot overflow past the check.
	if feed.Conf > uint64(feed.Price)/maxConfidenceRatio {
		return 0, apperr.Newf(apperr.KindPrice,
			"oracle confidence interval for %s/%s too wide (conf %d, price %d)",
			symbol, fiatCurrency, feed.Conf, feed.Price)
	}

	// Shift by the feed exponent into major units, then two more places into
	// the smallest fiat unit.
	price := decimal.New(feed.Price, feed.Expo).Shift(2).Round(0).IntPart()
	if price <= 0 {
		return 0, apperr.Newf(apperr.KindPrice, "oracle price for %s/%s rounds to zero", symbol, fiatCurrency)
	}

	return price, nil
}

func (g *Gateway) fetchFallbackPrice(ctx context.Context, symbol, fiatCurrency string) (int64, error) {
	if g.fallback == nil {
		return 0, apperr.Newf(apperr.KindPrice, "no price source configured for %s/%s", symbol, fiatCurrency)
	}

	major, err := g.fallback.GetPrice(ctx, symbol, fiatCurrency)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPrice,
			fmt.Sprintf("failed to fetch fallback price for %s/%s", symbol, fiatCurrency), err)
	}

	price := major.Shift(2).Round(0).IntPart()
	if price <= 0 {
		return 0, apperr.Newf(apperr.KindPrice, "fallback price for %s/%s rounds to zero", symbol, fiatCurrency)
	}

	return price, nil
}

// feedClient establishes the upstream feed connection once and reuses it.
func (g *Gateway) feedClient() FeedClient {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.feed == nil {
		g.feed = g.connect()
	}
	return g.feed
}

// CalculateOfferPrice returns the fair price for amount smallest token units,
// rounded to the fiat's smallest unit.
func (g *Gateway) CalculateOfferPrice(ctx context.Context, amount uint64, symbol, fiatCurrency string) (uint64, error) {
	asset, ok := g.registry.GetBySymbol(symbol)
	if !ok {
		return 0, apperr.Newf(apperr.KindPrice, "unsupported asset %s", symbol)
	}

	unitPrice, err := g.GetTokenPrice(ctx, symbol, fiatCurrency)
	if err != nil {
		return 0, err
	}

	total := decimal.NewFromInt(unitPrice).
		Mul(decimal.NewFromUint64(amount)).
		Div(decimal.New(1, int32(asset.Decimals))).
		Round(0)

	return uint64(total.IntPart()), nil
}

// ValidatePrice accepts a proposed price only if its absolute deviation from
// the current fair price is within tolerance. Pass tolerance <= 0 for the
// default.
func (g *Gateway) ValidatePrice(ctx context.Context, proposedPrice, amount uint64, symbol, fiatCurrency string, tolerance float64) (bool, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	fairPrice, err := g.CalculateOfferPrice(ctx, amount, symbol, fiatCurrency)
	if err != nil {
		return false, err
	}

	fair := decimal.NewFromUint64(fairPrice)
	deviation := decimal.NewFromUint64(proposedPrice).Sub(fair).Abs()
	limit := fair.Mul(decimal.NewFromFloat(tolerance))

	return deviation.LessThanOrEqual(limit), nil
}

// Cleanup tears down the upstream connection and clears the cache. Safe to
// call multiple times.
func (g *Gateway) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.feed != nil {
		if err := g.feed.Close(); err != nil {
			g.logger.Warn("Failed to close oracle feed client", zap.Error(err))
		}
		g.feed = nil
	}
	g.cache = make(map[string]cachedPrice)
}
