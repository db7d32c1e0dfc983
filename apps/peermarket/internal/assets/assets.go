package assets

import (
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Asset represents a tradeable token with its on-ledger properties
type Asset struct {
	Symbol   string           `json:"symbol"`
	Name     string           `json:"name"`
	Mint     solana.PublicKey `json:"mint"`
	Decimals int              `json:"decimals"`
	// FeedIDs maps a fiat currency code to the oracle price feed id for this
	// asset/fiat pair. Pairs without an entry fall back to the secondary
	// HTTP price source.
	FeedIDs map[string]string `json:"feed_ids"`
}

// AssetRegistry holds all supported assets
type AssetRegistry struct {
	assets map[string]*Asset
	byMint map[solana.PublicKey]*Asset
}

// NewAssetRegistry creates a new asset registry with all supported assets
func NewAssetRegistry() *AssetRegistry {
	registry := &AssetRegistry{
		assets: make(map[string]*Asset),
		byMint: make(map[solana.PublicKey]*Asset),
	}

	supportedAssets := []*Asset{
		{
			Symbol:   "SOL",
			Name:     "Wrapped SOL",
			Mint:     solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
			Decimals: 9,
			FeedIDs: map[string]string{
				"USD": "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
			},
		},
		{
			Symbol:   "USDC",
			Name:     "USD Coin",
			Mint:     solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
			Decimals: 6,
			FeedIDs: map[string]string{
				"USD": "eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a",
			},
		},
		{
			Symbol:   "USDT",
			Name:     "Tether USD",
			Mint:     solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"),
			Decimals: 6,
			FeedIDs: map[string]string{
				"USD": "2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b",
			},
		},
	}

	for _, asset := range supportedAssets {
		registry.assets[asset.Symbol] = asset
		registry.byMint[asset.Mint] = asset
	}

	return registry
}

// GetBySymbol returns an asset by its symbol (case-insensitive)
func (r *AssetRegistry) GetBySymbol(symbol string) (*Asset, bool) {
	if asset, exists := r.assets[symbol]; exists {
		return asset, true
	}

	upper := strings.ToUpper(symbol)
	if asset, exists := r.assets[upper]; exists {
		return asset, true
	}

	return nil, false
}

// GetByMint returns an asset by its mint address
func (r *AssetRegistry) GetByMint(mint solana.PublicKey) (*Asset, bool) {
	asset, exists := r.byMint[mint]
	return asset, exists
}

// GetAll returns all registered assets keyed by symbol
func (r *AssetRegistry) GetAll() map[string]*Asset {
	return r.assets
}

// GetAllAsArray returns all registered assets as a slice
func (r *AssetRegistry) GetAllAsArray() []*Asset {
	result := make([]*Asset, 0, len(r.assets))
	for _, asset := range r.assets {
		result = append(result, asset)
	}
	return result
}
