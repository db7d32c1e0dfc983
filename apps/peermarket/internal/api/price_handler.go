package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/assets"
	"peermarket/apps/peermarket/internal/pricing"
)

// PriceHandler handles price and asset API endpoints
type PriceHandler struct {
	gateway  *pricing.Gateway
	registry *assets.AssetRegistry
	logger   *zap.Logger
}

// NewPriceHandler creates a new PriceHandler
func NewPriceHandler(gateway *pricing.Gateway, registry *assets.AssetRegistry, logger *zap.Logger) *PriceHandler {
	return &PriceHandler{
		gateway:  gateway,
		registry: registry,
		logger:   logger,
	}
}

// GetPrice handles GET /api/prices/{symbol}?currency=USD
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := strings.ToUpper(vars["symbol"])

	if _, ok := h.registry.GetBySymbol(symbol); !ok {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "unsupported_asset", "Asset not supported. Supported assets: SOL, USDC, USDT")
		return
	}

	currency := strings.ToUpper(r.URL.Query().Get("currency"))
	if currency == "" {
		currency = "USD"
	}

	price, err := h.gateway.GetTokenPrice(r.Context(), symbol, currency)
	if err != nil {
		h.logger.Error("Failed to fetch price", zap.String("symbol", symbol), zap.String("currency", currency), zap.Error(err))
		writeAppError(h.logger, w, err)
		return
	}

	writeJSONResponse(h.logger, w, http.StatusOK, PriceResponse{
		TokenSymbol:  symbol,
		FiatCurrency: currency,
		Price:        decimal.New(price, -2).String(),
	})
}

// GetAssets handles GET /api/assets
func (h *PriceHandler) GetAssets(w http.ResponseWriter, r *http.Request) {
	all := h.registry.GetAllAsArray()

	response := make([]AssetResponse, 0, len(all))
	for _, asset := range all {
		response = append(response, AssetResponse{
			Symbol:   asset.Symbol,
			Name:     asset.Name,
			Mint:     asset.Mint.String(),
			Decimals: asset.Decimals,
		})
	}

	writeJSONResponse(h.logger, w, http.StatusOK, response)
}
