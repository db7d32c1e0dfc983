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

// TradeHandler handles trade-related API endpoints
type TradeHandler struct {
	orchestrator *escrow.Orchestrator
	registry     *assets.AssetRegistry
	logger       *zap.Logger
}

// NewTradeHandler creates a new TradeHandler
func NewTradeHandler(orchestrator *escrow.Orchestrator, registry *assets.AssetRegistry, logger *zap.Logger) *TradeHandler {
	return &TradeHandler{
		orchestrator: orchestrator,
		registry:     registry,
		logger:       logger,
	}
}

// ListTrades handles GET /api/trades?owner=<address>&status=open,disputed
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	ownerParam := r.URL.Query().Get("owner")
	if ownerParam == "" {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "missing_owner", "Owner is required")
		return
	}

	owner, err := solana.PublicKeyFromBase58(ownerParam)
	if err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_owner", "Owner is not a valid address")
		return
	}

	var trades []*model.Trade
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		var statuses []model.TradeStatus
		for _, raw := range strings.Split(statusParam, ",") {
			status, err := model.ParseTradeStatus(strings.TrimSpace(raw))
			if err != nil {
				writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_status", err.Error())
				return
			}
			statuses = append(statuses, status)
		}
		trades, err = h.orchestrator.GetTradesByStatus(r.Context(), owner, statuses)
	} else {
		trades, err = h.orchestrator.GetTrades(r.Context(), owner)
	}

	if err != nil {
		h.logger.Error("Failed to list trades", zap.String("owner", owner.String()), zap.Error(err))
		writeAppError(h.logger, w, err)
		return
	}

	response := make([]TradeResponse, 0, len(trades))
	for _, trade := range trades {
		asset, _ := h.registry.GetByMint(trade.TokenMint)
		response = append(response, tradeToResponse(trade, asset))
	}

	writeJSONResponse(h.logger, w, http.StatusOK, response)
}

// GetTrade handles GET /api/trades/{address}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}

	trade, err := h.orchestrator.GetTrade(r.Context(), address)
	if err != nil {
		writeAppError(h.logger, w, err)
		return
	}

	asset, _ := h.registry.GetByMint(trade.TokenMint)
	writeJSONResponse(h.logger, w, http.StatusOK, tradeToResponse(trade, asset))
}

// OpenTrade handles POST /api/trades
func (h *TradeHandler) OpenTrade(w http.ResponseWriter, r *http.Request) {
	var req OpenTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if req.OfferAddress == "" {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "missing_offer_address", "Offer address is required")
		return
	}

	if req.Amount == "" {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "missing_amount", "Amount is required")
		return
	}

	offerAddress, err := solana.PublicKeyFromBase58(req.OfferAddress)
	if err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_offer_address", "Offer address is not a valid account address")
		return
	}

	// The token decimals come from the offer being taken.
	offer, err := h.orchestrator.GetOffer(r.Context(), offerAddress)
	if err != nil {
		writeAppError(h.logger, w, err)
		return
	}

	asset, ok := h.registry.GetByMint(offer.TokenMint)
	if !ok {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "unsupported_asset", "Offer references an unsupported asset")
		return
	}

	amount, err := parseTokenAmount(req.Amount, asset.Decimals)
	if err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}

	tradeAddress, err := h.orchestrator.OpenTrade(r.Context(), offerAddress, amount)
	if err != nil {
		h.logger.Error("Failed to open trade", zap.String("offer_address", offerAddress.String()), zap.Error(err))
		writeAppError(h.logger, w, err)
		return
	}

	h.logger.Info("Opened trade",
		zap.String("trade_address", tradeAddress.String()),
		zap.String("offer_address", offerAddress.String()),
		zap.String("amount", req.Amount))

	writeJSONResponse(h.logger, w, http.StatusCreated, SubmitResponse{
		Address: tradeAddress.String(),
		Status:  "submitted",
	})
}

// FundTrade handles POST /api/trades/{address}/fund
func (h *TradeHandler) FundTrade(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.orchestrator.FundTrade)
}

// CompleteTrade handles POST /api/trades/{address}/complete
func (h *TradeHandler) CompleteTrade(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.orchestrator.CompleteTrade)
}

// CancelTrade handles POST /api/trades/{address}/cancel
func (h *TradeHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.orchestrator.CancelTrade)
}

// DisputeTrade handles POST /api/trades/{address}/dispute
func (h *TradeHandler) DisputeTrade(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.orchestrator.DisputeTrade)
}

func (h *TradeHandler) statusChange(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, address solana.PublicKey) error) {
	address, ok := h.pathAddress(w, r)
	if !ok {
		return
	}

	if err := op(r.Context(), address); err != nil {
		h.logger.Error("Failed to change trade status", zap.String("trade_address", address.String()), zap.Error(err))
		writeAppError(h.logger, w, err)
		return
	}

	writeJSONResponse(h.logger, w, http.StatusOK, SubmitResponse{
		Address: address.String(),
		Status:  "submitted",
	})
}

func (h *TradeHandler) pathAddress(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	vars := mux.Vars(r)
	address, err := solana.PublicKeyFromBase58(vars["address"])
	if err != nil {
		writeErrorResponse(h.logger, w, http.StatusBadRequest, "invalid_address", "Address is not a valid account address")
		return solana.PublicKey{}, false
	}
	return address, true
}
