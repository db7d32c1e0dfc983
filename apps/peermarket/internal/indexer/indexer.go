// Package indexer maintains a rate-limited local view of the program's offer
// and trade accounts so reads do not hit the ledger on every call.
package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/apperr"
	"peermarket/apps/peermarket/internal/ledger"
	"peermarket/apps/peermarket/internal/model"
)

// tradeMakerOffset and tradeTakerOffset locate the party identities inside a
// trade account: 8-byte discriminator, then maker and taker pubkeys.
const (
	tradeMakerOffset = 8
	tradeTakerOffset = 40
)

// Indexer scans offer and trade accounts and keeps an immutable offer
// snapshot. The snapshot is only ever replaced wholesale after a fully
// successful scan; a failed scan leaves the previous snapshot intact.
type Indexer struct {
	client         ledger.Client
	offerProgramID solana.PublicKey
	tradeProgramID solana.PublicKey
	scanInterval   time.Duration
	logger         *zap.Logger

	mu        sync.RWMutex
	offers    []*model.Offer
	scannedAt time.Time
}

// New creates a new Indexer
func New(client ledger.Client, offerProgramID, tradeProgramID solana.PublicKey, scanInterval time.Duration, logger *zap.Logger) *Indexer {
	return &Indexer{
		client:         client,
		offerProgramID: offerProgramID,
		tradeProgramID: tradeProgramID,
		scanInterval:   scanInterval,
		logger:         logger,
	}
}

// ScanOffers returns the cached offer snapshot if it is younger than the scan
// interval, otherwise issues a fresh filtered scan. A per-account decode
// failure skips that account and never aborts the scan.
func (ix *Indexer) ScanOffers(ctx context.Context) ([]*model.Offer, error) {
	ix.mu.RLock()
	if ix.offers != nil && time.Since(ix.scannedAt) < ix.scanInterval {
		snapshot := ix.offers
		ix.mu.RUnlock()
		return snapshot, nil
	}
	ix.mu.RUnlock()

	accounts, err := ix.client.GetProgramAccounts(ctx, ix.offerProgramID, []ledger.MemcmpFilter{
		{Offset: 0, Bytes: model.OfferDiscriminator},
	})
	if err != nil {
		return nil, apperr.Translate(apperr.KindOffer, "failed to scan offers", err)
	}

	offers := make([]*model.Offer, 0, len(accounts))
	for _, account := range accounts {
		offer, err := model.DecodeOffer(account.Address, account.Data)
		if err != nil {
			ix.logger.Warn("Skipping undecodable offer account",
				zap.String("address", account.Address.String()),
				zap.Error(err))
			continue
		}
		offers = append(offers, offer)
	}

	ix.mu.Lock()
	ix.offers = offers
	ix.scannedAt = time.Now()
	ix.mu.Unlock()

	ix.logger.Info("Refreshed offer snapshot",
		zap.Int("scanned", len(accounts)),
		zap.Int("decoded", len(offers)))

	return offers, nil
}

// GetOffersByOwner filters the offer snapshot by creator identity.
func (ix *Indexer) GetOffersByOwner(ctx context.Context, owner solana.PublicKey) ([]*model.Offer, error) {
	offers, err := ix.ScanOffers(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*model.Offer, 0)
	for _, offer := range offers {
		if offer.Maker.Equals(owner) {
			result = append(result, offer)
		}
	}
	return result, nil
}

// GetActiveOffers filters the offer snapshot by active status.
func (ix *Indexer) GetActiveOffers(ctx context.Context) ([]*model.Offer, error) {
	offers, err := ix.ScanOffers(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*model.Offer, 0)
	for _, offer := range offers {
		if offer.Status == model.OfferStatusActive {
			result = append(result, offer)
		}
	}
	return result, nil
}

// GetOffer fetches a single offer account directly, bypassing the snapshot.
// Mutating decisions must not act on snapshot entries, so the orchestrator
// reads through this before every write.
func (ix *Indexer) GetOffer(ctx context.Context, address solana.PublicKey) (*model.Offer, error) {
	data, err := ix.client.GetAccount(ctx, address)
	if err != nil {
		return nil, apperr.Translate(apperr.KindOffer, "failed to fetch offer", err)
	}

	offer, err := model.DecodeOffer(address, data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindOffer, "malformed offer account", err)
	}
	return offer, nil
}

// ScanTrades scans the trade accounts in which owner participates, as maker
// or taker. Trades are never time-cached: per-user trade sets are small and
// freshness matters more during active trading.
func (ix *Indexer) ScanTrades(ctx context.Context, owner solana.PublicKey) ([]*model.Trade, error) {
	seen := make(map[solana.PublicKey]bool)
	trades := make([]*model.Trade, 0)

	for _, offset := range []uint64{tradeTakerOffset, tradeMakerOffset} {
		accounts, err := ix.client.GetProgramAccounts(ctx, ix.tradeProgramID, []ledger.MemcmpFilter{
			{Offset: 0, Bytes: model.TradeDiscriminator},
			{Offset: offset, Bytes: owner.Bytes()},
		})
		if err != nil {
			return nil, apperr.Translate(apperr.KindTrade, "failed to scan trades", err)
		}

		for _, account := range accounts {
			if seen[account.Address] {
				continue
			}
			trade, err := model.DecodeTrade(account.Address, account.Data)
			if err != nil {
				ix.logger.Warn("Skipping undecodable trade account",
					zap.String("address", account.Address.String()),
					zap.Error(err))
				continue
			}
			seen[account.Address] = true
			trades = append(trades, trade)
		}
	}

	return trades, nil
}

// GetTradesByStatus filters owner's trades by a set of statuses.
func (ix *Indexer) GetTradesByStatus(ctx context.Context, owner solana.PublicKey, statuses []model.TradeStatus) ([]*model.Trade, error) {
	trades, err := ix.ScanTrades(ctx, owner)
	if err != nil {
		return nil, err
	}

	wanted := make(map[model.TradeStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	result := make([]*model.Trade, 0)
	for _, trade := range trades {
		if wanted[trade.Status] {
			result = append(result, trade)
		}
	}
	return result, nil
}

// GetTrade fetches a single trade account directly.
func (ix *Indexer) GetTrade(ctx context.Context, address solana.PublicKey) (*model.Trade, error) {
	data, err := ix.client.GetAccount(ctx, address)
	if err != nil {
		return nil, apperr.Translate(apperr.KindTrade, "failed to fetch trade", err)
	}

	trade, err := model.DecodeTrade(address, data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTrade, "malformed trade account", err)
	}
	return trade, nil
}

// ClearCache drops the offer snapshot and resets the scan timestamp. Called
// after any local write that could have invalidated it.
func (ix *Indexer) ClearCache() {
	ix.mu.Lock()
	ix.offers = nil
	ix.scannedAt = time.Time{}
	ix.mu.Unlock()
}
