package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/assets"
	"peermarket/apps/peermarket/internal/escrow"
	"peermarket/apps/peermarket/internal/model"
)

// OfferHandler handles offer-related API endpoints
type OfferHandler struct {
	orchestrator *escrow.Orchestrator
	registry     *assets.AssetRegistry
	logger       *zap.Logger
}

// NewOfferHandler creates a new OfferHandler
func NewOfferHandler(orchestrator *escrow.Orchestrator, registry *assets.AssetRegistry, logger *zap.Logger) *OfferHandler {
	return &OfferHandler{
		orchestrator: orchestrator,
		registry:     registry,
		logger:       logger,
	}
}

// ListOffers handles GET /api/offers. With no query parameters it returns
// every offer; ?active=true narrows to active offers, ?owner=<address>
// narrows to one maker.
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	var offers []*model.Offer
	var err error

	switch {
	case r.URL.Query().Get("owner") != "":
		owner, parseErr := solana.PublicKeyFromBase58(r.URL.Query().Get("owner"))
		if parseErr != nil {
			writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_owner", "Owner is not a valid address")
			return
		}
		offers, err = h.orchestrator.GetMyOffers(r.Context(), owner)
	case r.URL.Query().Get("active") == "true":
		offers, err = h.orchestrator.GetActiveOffers(r.Context())
	default:
		offers, err = h.orchestrator.GetOffers(r.Context())
	}

	if err != nil {
		h.logger.Error("Failed to list offers", zap.Error(err))
		writeAppError(h.logger, w, err)
		return
	}

	response := make([]OfferResponse, 0, len(offers))
	for _, offer := range offers {
		asset, _ := h.registry.GetByMint(offer.TokenMint)
		response = append(response, offerToResponse(offer, asset))
	}

	writeJSONResponse(h.logger, w, http.StatusOK, response)
}

// GetOffer handles GET /api/offers/{address}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}

	offer, err := h.orchestrator.GetOffer(r.Context(), address)
	if err != nil {
		writeAppError(h.logger, w, err)
		return
	}

	asset, _ := h.registry.GetByMint(offer.TokenMint)
	writeJSONResponse(h.logger, w, http.StatusOK, offerToResponse(offer, asset))
}

// CreateOffer handles POST /api/offers
func (h *OfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if req.Amount == "" || req.MinAmount == "" || req.MaxAmount == "" {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "missing_amount", "Amount, min amount and max amount are required")
		return
	}

	symbol := strings.ToUpper(req.TokenSymbol)
	asset, ok := h.registry.GetBySymbol(symbol)
	if !ok {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "unsupported_asset", "Asset not supported. Supported assets: SOL, USDC, USDT")
		return
	}

	fiatCurrency := strings.ToUpper(req.FiatCurrency)
	if fiatCurrency == "" {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "missing_fiat_currency", "Fiat currency is required")
		return
	}

	amount, err := parseTokenAmount(req.Amount, asset.Decimals)
	if err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}

	minAmount, err := parseTokenAmount(req.MinAmount, asset.Decimals)
	if err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_min_amount", err.Error())
		return
	}

	maxAmount, err := parseTokenAmount(req.MaxAmount, asset.Decimals)
	if err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_max_amount", err.Error())
		return
	}

	offerAddress, err := h.orchestrator.CreateOffer(r.Context(), model.OfferType(req.OfferType), amount, minAmount, maxAmount, fiatCurrency, symbol)
	if err != nil {
		h.logger.Error("Failed to create offer", zap.Error(err))
		writeAppError(h.logger, w, err)
		return
	}

	h.logger.Info("Created offer",
		zap.String("offer_address", offerAddress.String()),
		zap.String("token_symbol", symbol),
		zap.String("offer_type", req.OfferType))

	writeJSONResponse(h.logger, w, http.StatusCreated, SubmitResponse{
		Address: offerAddress.String(),
		Status:  "submitted",
	})
}

// UpdateOffer handles PUT /api/offers/{address}
func (h *OfferHandler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}

	var req UpdateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if req.PricePerToken == nil && req.MinAmount == nil && req.MaxAmount == nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "empty_update", "At least one field must be provided")
		return
	}

	// Amount fields are denominated in the offer's token, so its decimals
	// come from the offer itself.
	offer, err := h.orchestrator.GetOffer(r.Context(), address)
	if err != nil {
		writeAppError(h.logger, w, err)
		return
	}

	asset, ok := h.registry.GetByMint(offer.TokenMint)
	if !ok {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "unsupported_asset", "Offer references an unsupported asset")
		return
	}

	var price, minAmount, maxAmount *uint64
	if req.PricePerToken != nil {
		v, err := parseFiatAmount(*req.PricePerToken)
		if err != nil {
			writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_price", err.Error())
			return
		}
		price = &v
	}
	if req.MinAmount != nil {
		v, err := parseTokenAmount(*req.MinAmount, asset.Decimals)
		if err != nil {
			writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_min_amount", err.Error())
			return
		}
		minAmount = &v
	}
	if req.MaxAmount != nil {
		v, err := parseTokenAmount(*req.MaxAmount, asset.Decimals)
		if err != nil {
			writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_max_amount", err.Error())
			return
		}
		maxAmount = &v
	}

	if err := h.orchestrator.UpdateOffer(r.Context(), address, price, minAmount, maxAmount); err != nil {
		h.logger.Error("Failed to update offer", zap.String("offer_address", address.String()), zap.Error(err))
		writeAppError(h.logger, w, err)
		return
	}

	writeJSONResponse(h.logger, w, http.StatusOK, SubmitResponse{
		Address: address.String(),
		Status:  "submitted",
	})
}

// PauseOffer handles POST /api/offers/{address}/pause
func (h *OfferHandler) PauseOffer(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.orchestrator.PauseOffer)
}

// ResumeOffer handles POST /api/offers/{address}/resume
func (h *OfferHandler) ResumeOffer(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.orchestrator.ResumeOffer)
}

// CancelOffer handles DELETE /api/offers/{address}
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.orchestrator.CancelOffer)
}

func (h *OfferHandler) statusChange(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, address solana.PublicKey) error) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}

	if err := op(r.Context(), address); err != nil {
		h.logger.Error("Failed to change offer status", zap.String("offer_address", address.String()), zap.Error(err))
		writeAppError(h.logger, w, err)
		return
	}

	writeJSONResponse(h.logger, w, http.StatusOK, SubmitResponse{
		Address: address.String(),
		Status:  "submitted",
	})
}

// pathAddress parses the {address} path variable.
func (h *OfferHandler) pathAddress(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	vars := mux.Vars(r)
	address, err := solana.PublicKeyFromBase58(vars["address"])
	if err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_address", "Address is not a valid account address")
		return solana.PublicKey{}, false
	}
	return address, true
}
