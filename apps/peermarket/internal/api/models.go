package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"peermarket/apps/peermarket/internal/assets"
	"peermarket/apps/peermarket/internal/model"
)

// CreateOfferRequest represents the request body for creating an offer.
// Amounts are human-readable token amounts (e.g. "1.5" SOL).
type CreateOfferRequest struct {
	OfferType    string `json:"offer_type" validate:"required,oneof=buy sell"`
	TokenSymbol  string `json:"token_symbol" validate:"required"`
	FiatCurrency string `json:"fiat_currency" validate:"required"`
	Amount       string `json:"amount" validate:"required"`
	MinAmount    string `json:"min_amount" validate:"required"`
	MaxAmount    string `json:"max_amount" validate:"required"`
}

// UpdateOfferRequest represents the request body for updating an offer.
// Omitted fields are left unchanged.
type UpdateOfferRequest struct {
	PricePerToken *string `json:"price_per_token,omitempty"`
	MinAmount     *string `json:"min_amount,omitempty"`
	MaxAmount     *string `json:"max_amount,omitempty"`
}

// OpenTradeRequest represents the request body for opening a trade
// against an offer.
type OpenTradeRequest struct {
	OfferAddress string `json:"offer_address" validate:"required"`
	Amount       string `json:"amount" validate:"required"`
}

// OfferResponse represents the API response for a single offer
type OfferResponse struct {
	Address       string    `json:"address"`
	Maker         string    `json:"maker"`
	TokenSymbol   string    `json:"token_symbol"`
	TokenMint     string    `json:"token_mint"`
	PricePerToken string    `json:"price_per_token"`
	MinAmount     string    `json:"min_amount"`
	MaxAmount     string    `json:"max_amount"`
	OfferType     string    `json:"offer_type"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TradeResponse represents the API response for a single trade
type TradeResponse struct {
	Address       string    `json:"address"`
	Maker         string    `json:"maker"`
	Taker         string    `json:"taker"`
	TokenSymbol   string    `json:"token_symbol"`
	TokenMint     string    `json:"token_mint"`
	Amount        string    `json:"amount"`
	Price         string    `json:"price"`
	EscrowAccount string    `json:"escrow_account"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SubmitResponse represents the response for a write operation
type SubmitResponse struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

// PriceResponse represents the API response for a token price quote
type PriceResponse struct {
	TokenSymbol  string `json:"token_symbol"`
	FiatCurrency string `json:"fiat_currency"`
	Price        string `json:"price"`
}

// AssetResponse represents one supported asset
type AssetResponse struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func offerToResponse(offer *model.Offer, asset *assets.Asset) OfferResponse {
	symbol := ""
	decimals := 0
	if asset != nil {
		symbol = asset.Symbol
		decimals = asset.Decimals
	}
	return OfferResponse{
		Address:       offer.Address.String(),
		Maker:         offer.Maker.String(),
		TokenSymbol:   symbol,
		TokenMint:     offer.TokenMint.String(),
		PricePerToken: fiatString(offer.PricePerToken),
		MinAmount:     tokenString(offer.MinAmount, decimals),
		MaxAmount:     tokenString(offer.MaxAmount, decimals),
		OfferType:     string(offer.OfferType),
		Status:        string(offer.Status),
		CreatedAt:     offer.CreatedAt,
		UpdatedAt:     offer.UpdatedAt,
	}
}

func tradeToResponse(trade *model.Trade, asset *assets.Asset) TradeResponse {
	symbol := ""
	decimals := 0
	if asset != nil {
		symbol = asset.Symbol
		decimals = asset.Decimals
	}
	return TradeResponse{
		Address:       trade.Address.String(),
		Maker:         trade.Maker.String(),
		Taker:         trade.Taker.String(),
		TokenSymbol:   symbol,
		TokenMint:     trade.TokenMint.String(),
		Amount:        tokenString(trade.Amount, decimals),
		Price:         fiatString(trade.Price),
		EscrowAccount: trade.EscrowAccount.String(),
		Status:        string(trade.Status),
		CreatedAt:     trade.CreatedAt,
		UpdatedAt:     trade.UpdatedAt,
	}
}

// tokenString renders a base-unit amount as a human token amount.
func tokenString(amount uint64, decimals int) string {
	return decimal.NewFromUint64(amount).Shift(int32(-decimals)).String()
}

// fiatString renders smallest fiat units (cents) as a currency amount.
func fiatString(amount uint64) string {
	return decimal.NewFromUint64(amount).Shift(-2).String()
}

// parseTokenAmount parses a human token amount into base units.
func parseTokenAmount(s string, decimals int) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	shifted := wholeUint64(d.Shift(int32(decimals)))
	if shifted == nil {
		return 0, fmt.Errorf("amount %q has more precision than %d decimals allow", s, decimals)
	}
	return *shifted, nil
}

// parseFiatAmount parses a currency amount into smallest fiat units.
func parseFiatAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	shifted := wholeUint64(d.Shift(2))
	if shifted == nil {
		return 0, fmt.Errorf("price %q is not a whole number of cents", s)
	}
	return *shifted, nil
}

// wholeUint64 returns the value as a uint64, or nil if it is fractional,
// negative, or out of range.
func wholeUint64(d decimal.Decimal) *uint64 {
	if !d.IsInteger() || d.IsNegative() {
		return nil
	}
	big := d.BigInt()
	if !big.IsUint64() {
		return nil
	}
	v := big.Uint64()
	return &v
}
