// Package escrow drives the offer and trade lifecycle against the on-chain
// escrow programs. It is the sole writer of ledger state: every mutation is
// validated against fresh reads before an instruction is built, and the
// indexer cache is invalidated after every successful submission.
package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/apperr"
	"peermarket/apps/peermarket/internal/assets"
	"peermarket/apps/peermarket/internal/events"
	"peermarket/apps/peermarket/internal/indexer"
	"peermarket/apps/peermarket/internal/ledger"
	"peermarket/apps/peermarket/internal/model"
	"peermarket/apps/peermarket/internal/pricing"
)

// EventSink receives lifecycle events after successful mutations. A nil sink
// disables event delivery; sink failures are logged, never propagated.
type EventSink interface {
	Record(ctx context.Context, event events.MarketEvent) error
}

// Orchestrator is the only interface the presentation layer may use to
// mutate trading state.
type Orchestrator struct {
	client   ledger.Client
	signer   ledger.Signer
	indexer  *indexer.Indexer
	pricing  *pricing.Gateway
	registry *assets.AssetRegistry
	programs ProgramConfig
	sink     EventSink
	logger   *zap.Logger
}

// NewOrchestrator creates a new escrow orchestrator
func NewOrchestrator(client ledger.Client, signer ledger.Signer, ix *indexer.Indexer, gateway *pricing.Gateway, registry *assets.AssetRegistry, programs ProgramConfig, sink EventSink, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		client:   client,
		signer:   signer,
		indexer:  ix,
		pricing:  gateway,
		registry: registry,
		programs: programs,
		sink:     sink,
		logger:   logger,
	}
}

// CreateOffer validates the amount range and the caller's balance, derives
// the unit price from the oracle, and publishes a new offer. Returns the new
// offer's address.
func (o *Orchestrator) CreateOffer(ctx context.Context, offerType model.OfferType, amount, minAmount, maxAmount uint64, fiatCurrency, symbol string) (solana.PublicKey, error) {
	typeValue, err := offerType.WireValue()
	if err != nil {
		return solana.PublicKey{}, apperr.Wrap(apperr.KindValidation, "invalid offer type", err)
	}

	if minAmount > maxAmount {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation,
			"minimum amount %d exceeds maximum amount %d", minAmount, maxAmount)
	}

	asset, ok := o.registry.GetBySymbol(symbol)
	if !ok {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation, "unsupported asset %s", symbol)
	}

	pricePerToken, err := o.pricing.GetTokenPrice(ctx, symbol, fiatCurrency)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if pricePerToken <= 0 {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation, "derived price for %s/%s is not positive", symbol, fiatCurrency)
	}

	maker := o.signer.Identity()
	balance, err := o.client.GetTokenBalance(ctx, maker, asset.Mint)
	if err != nil {
		return solana.PublicKey{}, apperr.Translate(apperr.KindToken, "failed to check balance", err)
	}
	if balance < amount {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation,
			"insufficient balance: have %d, offer requires %d", balance, amount)
	}

	offerAddress, err := DeriveOfferAddress(o.programs.OfferProgram, maker, asset.Mint, offerType, minAmount, maxAmount)
	if err != nil {
		return solana.PublicKey{}, apperr.Wrap(apperr.KindOffer, "failed to derive offer address", err)
	}

	instruction, err := o.programs.createOfferInstruction(offerAddress, maker, asset.Mint, createOfferArgs{
		PricePerToken: uint64(pricePerToken),
		MinAmount:     minAmount,
		MaxAmount:     maxAmount,
		OfferType:     typeValue,
	})
	if err != nil {
		return solana.PublicKey{}, apperr.Wrap(apperr.KindOffer, "failed to build create instruction", err)
	}

	sig, err := o.submit(ctx, []solana.Instruction{instruction}, nil)
	if err != nil {
		return solana.PublicKey{}, apperr.Translate(apperr.KindOffer, "failed to create offer", err)
	}

	o.afterWrite(ctx, events.TypeOfferCreated, sig, offerAddress, map[string]interface{}{
		"offer_type":      string(offerType),
		"symbol":          asset.Symbol,
		"price_per_token": pricePerToken,
		"min_amount":      minAmount,
		"max_amount":      maxAmount,
	})

	o.logger.Info("Created offer",
		zap.String("offer", offerAddress.String()),
		zap.String("symbol", asset.Symbol),
		zap.Int64("price_per_token", pricePerToken))

	return offerAddress, nil
}

// UpdateOffer mutates the price and/or amount range of an offer. Only the
// creator may update; the resulting range is validated before submission.
func (o *Orchestrator) UpdateOffer(ctx context.Context, offerAddress solana.PublicKey, pricePerToken, minAmount, maxAmount *uint64) error {
	offer, err := o.freshOwnedOffer(ctx, offerAddress)
	if err != nil {
		return err
	}

	newMin := offer.MinAmount
	if minAmount != nil {
		newMin = *minAmount
	}
	newMax := offer.MaxAmount
	if maxAmount != nil {
		newMax = *maxAmount
	}
	if newMin > newMax {
		return apperr.Newf(apperr.KindValidation,
			"minimum amount %d exceeds maximum amount %d", newMin, newMax)
	}
	if pricePerToken != nil && *pricePerToken == 0 {
		return apperr.New(apperr.KindValidation, "price must be greater than zero")
	}

	instruction, err := o.programs.updateOfferInstruction(offerAddress, offer.Maker, updateOfferArgs{
		PricePerToken: pricePerToken,
		MinAmount:     minAmount,
		MaxAmount:     maxAmount,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindOffer, "failed to build update instruction", err)
	}

	sig, err := o.submit(ctx, []solana.Instruction{instruction}, nil)
	if err != nil {
		return apperr.Translate(apperr.KindOffer, "failed to update offer", err)
	}

	o.afterWrite(ctx, events.TypeOfferUpdated, sig, offerAddress, nil)
	return nil
}

// PauseOffer transitions an active offer to paused.
func (o *Orchestrator) PauseOffer(ctx context.Context, offerAddress solana.PublicKey) error {
	return o.offerStatusChange(ctx, offerAddress, "pause_offer", events.TypeOfferPaused)
}

// ResumeOffer transitions a paused offer back to active.
func (o *Orchestrator) ResumeOffer(ctx context.Context, offerAddress solana.PublicKey) error {
	return o.offerStatusChange(ctx, offerAddress, "resume_offer", events.TypeOfferResumed)
}

// CancelOffer closes an offer permanently. A second call against an
// already-closed offer surfaces the ledger's own failure as an offer error.
func (o *Orchestrator) CancelOffer(ctx context.Context, offerAddress solana.PublicKey) error {
	return o.offerStatusChange(ctx, offerAddress, "close_offer", events.TypeOfferClosed)
}

func (o *Orchestrator) offerStatusChange(ctx context.Context, offerAddress solana.PublicKey, instructionName, eventType string) error {
	offer, err := o.freshOwnedOffer(ctx, offerAddress)
	if err != nil {
		return err
	}

	instruction, err := o.programs.offerStatusInstruction(instructionName, offerAddress, offer.Maker)
	if err != nil {
		return apperr.Wrap(apperr.KindOffer, "failed to build instruction", err)
	}

	sig, err := o.submit(ctx, []solana.Instruction{instruction}, nil)
	if err != nil {
		return apperr.Translate(apperr.KindOffer, "failed to change offer status", err)
	}

	o.afterWrite(ctx, eventType, sig, offerAddress, nil)
	return nil
}

// freshOwnedOffer reads the offer directly from the ledger and verifies the
// caller is its creator. Mutating decisions never act on the snapshot cache.
func (o *Orchestrator) freshOwnedOffer(ctx context.Context, offerAddress solana.PublicKey) (*model.Offer, error) {
	offer, err := o.indexer.GetOffer(ctx, offerAddress)
	if err != nil {
		return nil, err
	}
	if !offer.Maker.Equals(o.signer.Identity()) {
		return nil, apperr.New(apperr.KindValidation, "only the offer creator may modify it")
	}
	return offer, nil
}

// OpenTrade accepts an offer: it validates the amount against the offer's
// range and the offer's price against the oracle, then creates the trade
// record together with its fresh escrow token account in one transaction.
// Escrow stays empty until the maker funds it via FundTrade; the trade is
// created pending that deposit.
func (o *Orchestrator) OpenTrade(ctx context.Context, offerAddress solana.PublicKey, amount uint64) (solana.PublicKey, error) {
	offer, err := o.indexer.GetOffer(ctx, offerAddress)
	if err != nil {
		return solana.PublicKey{}, err
	}

	if offer.Status != model.OfferStatusActive {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation, "offer is %s, not active", offer.Status)
	}
	if amount < offer.MinAmount || amount > offer.MaxAmount {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation,
			"amount %d outside offer range [%d, %d]", amount, offer.MinAmount, offer.MaxAmount)
	}

	taker := o.signer.Identity()
	if taker.Equals(offer.Maker) {
		return solana.PublicKey{}, apperr.New(apperr.KindValidation, "cannot open a trade against your own offer")
	}

	asset, ok := o.registry.GetByMint(offer.TokenMint)
	if !ok {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation, "offer references unsupported mint %s", offer.TokenMint)
	}

	totalPrice := tradePrice(offer.PricePerToken, amount, asset.Decimals)

	// Reject stale or manipulated offer pricing at acceptance time.
	ok, err = o.pricing.ValidatePrice(ctx, totalPrice, amount, asset.Symbol, "USD", pricing.DefaultTolerance)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if !ok {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation,
			"offer price %d deviates more than %.0f%% from the current market price",
			totalPrice, pricing.DefaultTolerance*100)
	}

	// The escrow asset is the maker's; reject trades the maker cannot back
	// before spending a write.
	balance, err := o.client.GetTokenBalance(ctx, offer.Maker, offer.TokenMint)
	if err != nil {
		return solana.PublicKey{}, apperr.Translate(apperr.KindToken, "failed to check maker balance", err)
	}
	if balance < amount {
		return solana.PublicKey{}, apperr.Newf(apperr.KindValidation,
			"maker balance %d cannot cover trade amount %d", balance, amount)
	}

	tradeAddress, err := DeriveTradeAddress(o.programs.TradeProgram, taker, offer.Maker, offer.TokenMint, amount)
	if err != nil {
		return solana.PublicKey{}, apperr.Wrap(apperr.KindTrade, "failed to derive trade address", err)
	}

	makerTokenAccount, _, err := solana.FindAssociatedTokenAddress(offer.Maker, offer.TokenMint)
	if err != nil {
		return solana.PublicKey{}, apperr.Wrap(apperr.KindToken, "failed to resolve maker token account", err)
	}

	// The escrow token account is a fresh ephemeral keypair; it signs its own
	// creation and nothing else. Only the maker may deposit into it, so the
	// escrow leg is left to FundTrade rather than bundled here.
	escrowWallet := solana.NewWallet()

	createIx, err := o.programs.createTradeInstruction(tradeAddress, offer.Maker, taker, offer.TokenMint,
		makerTokenAccount, escrowWallet.PublicKey(), createTradeArgs{Amount: amount, Price: totalPrice})
	if err != nil {
		return solana.PublicKey{}, apperr.Wrap(apperr.KindTrade, "failed to build create instruction", err)
	}

	sig, err := o.submit(ctx, []solana.Instruction{createIx}, []*solana.Wallet{escrowWallet})
	if err != nil {
		return solana.PublicKey{}, apperr.Translate(apperr.KindTrade, "failed to open trade", err)
	}

	o.afterWrite(ctx, events.TypeTradeOpened, sig, tradeAddress, map[string]interface{}{
		"offer":  offerAddress.String(),
		"amount": amount,
		"price":  totalPrice,
	})

	o.logger.Info("Opened trade",
		zap.String("trade", tradeAddress.String()),
		zap.String("offer", offerAddress.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("price", totalPrice))

	return tradeAddress, nil
}

// FundTrade deposits the trade amount into escrow from the maker's token
// account, moving the trade from created to open. The ledger program accepts
// deposits from the maker only.
func (o *Orchestrator) FundTrade(ctx context.Context, tradeAddress solana.PublicKey) error {
	trade, err := o.indexer.GetTrade(ctx, tradeAddress)
	if err != nil {
		return err
	}

	if trade.Status != model.TradeStatusCreated {
		return apperr.Newf(apperr.KindValidation, "trade is %s, escrow can only be funded while created", trade.Status)
	}

	depositor := o.signer.Identity()
	if !depositor.Equals(trade.Maker) {
		return apperr.New(apperr.KindValidation, "only the trade maker can fund escrow")
	}
	depositorTokenAccount, _, err := solana.FindAssociatedTokenAddress(depositor, trade.TokenMint)
	if err != nil {
		return apperr.Wrap(apperr.KindToken, "failed to resolve depositor token account", err)
	}

	balance, err := o.client.GetTokenBalance(ctx, depositor, trade.TokenMint)
	if err != nil {
		return apperr.Translate(apperr.KindToken, "failed to check balance", err)
	}
	if balance < trade.Amount {
		return apperr.Newf(apperr.KindValidation,
			"insufficient balance: have %d, escrow requires %d", balance, trade.Amount)
	}

	instruction, err := o.programs.depositEscrowInstruction(tradeAddress, trade.EscrowAccount, depositor,
		depositorTokenAccount, depositEscrowArgs{Amount: trade.Amount})
	if err != nil {
		return apperr.Wrap(apperr.KindTrade, "failed to build deposit instruction", err)
	}

	sig, err := o.submit(ctx, []solana.Instruction{instruction}, nil)
	if err != nil {
		return apperr.Translate(apperr.KindTrade, "failed to fund trade", err)
	}

	o.afterWrite(ctx, events.TypeTradeFunded, sig, tradeAddress, nil)
	return nil
}

// CompleteTrade releases escrow to the taker. Status preconditions are
// enforced by the ledger program; failures there are surfaced as trade
// errors.
func (o *Orchestrator) CompleteTrade(ctx context.Context, tradeAddress solana.PublicKey) error {
	trade, err := o.indexer.GetTrade(ctx, tradeAddress)
	if err != nil {
		return err
	}

	takerTokenAccount, _, err := solana.FindAssociatedTokenAddress(trade.Taker, trade.TokenMint)
	if err != nil {
		return apperr.Wrap(apperr.KindToken, "failed to resolve taker token account", err)
	}

	takerProfile, err := DeriveProfileAddress(o.programs.ProfileProgram, trade.Taker)
	if err != nil {
		return apperr.Wrap(apperr.KindTrade, "failed to derive taker profile", err)
	}
	makerProfile, err := DeriveProfileAddress(o.programs.ProfileProgram, trade.Maker)
	if err != nil {
		return apperr.Wrap(apperr.KindTrade, "failed to derive maker profile", err)
	}

	instruction, err := o.programs.completeTradeInstruction(tradeAddress, o.signer.Identity(), trade.Taker,
		trade.Maker, trade.EscrowAccount, takerTokenAccount, takerProfile, makerProfile)
	if err != nil {
		return apperr.Wrap(apperr.KindTrade, "failed to build complete instruction", err)
	}

	sig, err := o.submit(ctx, []solana.Instruction{instruction}, nil)
	if err != nil {
		return apperr.Translate(apperr.KindTrade, "failed to complete trade", err)
	}

	o.afterWrite(ctx, events.TypeTradeCompleted, sig, tradeAddress, nil)
	return nil
}

// CancelTrade releases escrow back to the depositor.
func (o *Orchestrator) CancelTrade(ctx context.Context, tradeAddress solana.PublicKey) error {
	instruction, err := o.programs.cancelTradeInstruction(tradeAddress, o.signer.Identity())
	if err != nil {
		return apperr.Wrap(apperr.KindTrade, "failed to build cancel instruction", err)
	}

	sig, err := o.submit(ctx, []solana.Instruction{instruction}, nil)
	if err != nil {
		return apperr.Translate(apperr.KindTrade, "failed to cancel trade", err)
	}

	o.afterWrite(ctx, events.TypeTradeCancelled, sig, tradeAddress, nil)
	return nil
}

// DisputeTrade flags a trade for arbitration, freezing further transitions.
// The program rejects disputes on terminal trades; that failure is surfaced,
// not duplicated here.
func (o *Orchestrator) DisputeTrade(ctx context.Context, tradeAddress solana.PublicKey) error {
	instruction, err := o.programs.disputeTradeInstruction(tradeAddress, o.signer.Identity())
	if err != nil {
		return apperr.Wrap(apperr.KindTrade, "failed to build dispute instruction", err)
	}

	sig, err := o.submit(ctx, []solana.Instruction{instruction}, nil)
	if err != nil {
		return apperr.Translate(apperr.KindTrade, "failed to dispute trade", err)
	}

	o.afterWrite(ctx, events.TypeTradeDisputed, sig, tradeAddress, nil)
	return nil
}

// GetOffers returns the full offer set.
func (o *Orchestrator) GetOffers(ctx context.Context) ([]*model.Offer, error) {
	return o.indexer.ScanOffers(ctx)
}

// GetActiveOffers returns currently accepting offers.
func (o *Orchestrator) GetActiveOffers(ctx context.Context) ([]*model.Offer, error) {
	return o.indexer.GetActiveOffers(ctx)
}

// GetMyOffers returns the offers created by owner.
func (o *Orchestrator) GetMyOffers(ctx context.Context, owner solana.PublicKey) ([]*model.Offer, error) {
	return o.indexer.GetOffersByOwner(ctx, owner)
}

// GetOffer returns one offer, bypassing the snapshot cache.
func (o *Orchestrator) GetOffer(ctx context.Context, address solana.PublicKey) (*model.Offer, error) {
	offer, err := o.indexer.GetOffer(ctx, address)
	if err != nil {
		return nil, apperr.Translate(apperr.KindOffer, "failed to load offer", err)
	}
	return offer, nil
}

// GetTrade returns one trade read directly from the ledger.
func (o *Orchestrator) GetTrade(ctx context.Context, address solana.PublicKey) (*model.Trade, error) {
	trade, err := o.indexer.GetTrade(ctx, address)
	if err != nil {
		return nil, apperr.Translate(apperr.KindTrade, "failed to load trade", err)
	}
	return trade, nil
}

// GetTrades returns the trades owner participates in.
func (o *Orchestrator) GetTrades(ctx context.Context, owner solana.PublicKey) ([]*model.Trade, error) {
	return o.indexer.ScanTrades(ctx, owner)
}

// GetTradesByStatus returns owner's trades filtered by status.
func (o *Orchestrator) GetTradesByStatus(ctx context.Context, owner solana.PublicKey, statuses []model.TradeStatus) ([]*model.Trade, error) {
	return o.indexer.GetTradesByStatus(ctx, owner, statuses)
}

// submit assembles, signs and sends one transaction. extraSigners partially
// sign before the caller's Signer capability adds the fee-payer signature.
func (o *Orchestrator) submit(ctx context.Context, instructions []solana.Instruction, extraSigners []*solana.Wallet) (solana.Signature, error) {
	blockhash, err := o.client.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(o.signer.Identity()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to assemble transaction: %w", err)
	}

	for _, wallet := range extraSigners {
		key := wallet.PrivateKey
		if _, err := tx.PartialSign(func(pub solana.PublicKey) *solana.PrivateKey {
			if pub.Equals(key.PublicKey()) {
				return &key
			}
			return nil
		}); err != nil {
			return solana.Signature{}, fmt.Errorf("failed to sign with ephemeral key: %w", err)
		}
	}

	if err := o.signer.SignTransaction(ctx, tx); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return o.client.Submit(ctx, tx)
}

// afterWrite invalidates the read cache and records a lifecycle event. The
// cache drop must happen on every successful mutation so the next read
// reflects the new state.
func (o *Orchestrator) afterWrite(ctx context.Context, eventType string, sig solana.Signature, account solana.PublicKey, payload map[string]interface{}) {
	o.indexer.ClearCache()

	if o.sink == nil {
		return
	}

	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			o.logger.Error("Failed to marshal event payload", zap.Error(err))
		} else {
			data = encoded
		}
	}

	event := events.MarketEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Signature:     sig.String(),
		Account:       account.String(),
		WalletAddress: o.signer.Identity().String(),
		EventData:     data,
		Timestamp:     time.Now().UTC(),
	}

	if err := o.sink.Record(ctx, event); err != nil {
		o.logger.Error("Failed to record lifecycle event",
			zap.String("event_type", eventType),
			zap.String("account", account.String()),
			zap.Error(err))
	}
}

// tradePrice converts a unit price (smallest fiat unit per whole token) and
// an amount in smallest token units into the trade's total fiat price,
// rounded to the fiat's smallest unit.
func tradePrice(pricePerToken, amount uint64, decimals int) uint64 {
	total := decimal.NewFromUint64(pricePerToken).
		Mul(decimal.NewFromUint64(amount)).
		Div(decimal.New(1, int32(decimals))).
		Round(0)
	return uint64(total.IntPart())
}
