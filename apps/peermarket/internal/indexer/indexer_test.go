package indexer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/ledger"
	"peermarket/apps/peermarket/internal/model"
)

// fakeClient serves canned program accounts and applies memcmp filters the
// way the ledger would.
type fakeClient struct {
	accounts map[solana.PublicKey][]ledger.KeyedAccount
	scans    int
	scanErr  error
}

func (f *fakeClient) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []ledger.MemcmpFilter) ([]ledger.KeyedAccount, error) {
	f.scans++
	if f.scanErr != nil {
		return nil, f.scanErr
	}

	var result []ledger.KeyedAccount
	for _, account := range f.accounts[programID] {
		matches := true
		for _, filter := range filters {
			end := filter.Offset + uint64(len(filter.Bytes))
			if end > uint64(len(account.Data)) || !bytes.Equal(account.Data[filter.Offset:end], filter.Bytes) {
				matches = false
				break
			}
		}
		if matches {
			result = append(result, account)
		}
	}
	return result, nil
}

func (f *fakeClient) GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	for _, accounts := range f.accounts {
		for _, account := range accounts {
			if account.Address.Equals(address) {
				return account.Data, nil
			}
		}
	}
	return nil, errors.New("AccountNotFound")
}

func (f *fakeClient) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	return 0, nil
}

func (f *fakeClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

func (f *fakeClient) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, nil
}

func offerData(maker, mint solana.PublicKey, price, min, max uint64, offerType, status uint8) []byte {
	data := append([]byte{}, model.OfferDiscriminator...)
	data = append(data, maker.Bytes()...)
	data = append(data, mint.Bytes()...)
	data = appendUint64(data, price)
	data = appendUint64(data, min)
	data = appendUint64(data, max)
	data = append(data, offerType, status)
	data = appendUint64(data, uint64(time.Now().Unix()))
	data = appendUint64(data, uint64(time.Now().Unix()))
	return data
}

func tradeData(maker, taker, mint, escrow solana.PublicKey, amount, price uint64, status uint8) []byte {
	data := append([]byte{}, model.TradeDiscriminator...)
	data = append(data, maker.Bytes()...)
	data = append(data, taker.Bytes()...)
	data = appendUint64(data, amount)
	data = appendUint64(data, price)
	data = append(data, mint.Bytes()...)
	data = append(data, escrow.Bytes()...)
	data = append(data, status)
	data = appendUint64(data, uint64(time.Now().Unix()))
	data = appendUint64(data, uint64(time.Now().Unix()))
	data = append(data, 255)
	return data
}

func appendUint64(data []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(data, buf[:]...)
}

func newTestIndexer(client *fakeClient, offerProgram, tradeProgram solana.PublicKey, interval time.Duration) *Indexer {
	return New(client, offerProgram, tradeProgram, interval, zap.NewNop())
}

func TestScanOffersCachesWithinInterval(t *testing.T) {
	offerProgram := solana.NewWallet().PublicKey()
	maker := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	client := &fakeClient{accounts: map[solana.PublicKey][]ledger.KeyedAccount{
		offerProgram: {
			{Address: solana.NewWallet().PublicKey(), Data: offerData(maker, mint, 15000, 1, 100, 0, 0)},
		},
	}}
	ix := newTestIndexer(client, offerProgram, solana.NewWallet().PublicKey(), 30*time.Second)

	first, err := ix.ScanOffers(context.Background())
	if err != nil {
		t.Fatalf("First scan failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("Expected 1 offer, got %d", len(first))
	}

	second, err := ix.ScanOffers(context.Background())
	if err != nil {
		t.Fatalf("Second scan failed: %v", err)
	}
	if client.scans != 1 {
		t.Errorf("Expected cached result without a second ledger scan, got %d scans", client.scans)
	}
	if first[0] != second[0] {
		t.Error("Expected the cached snapshot to be returned")
	}
}

func TestScanOffersRefreshesAfterClearCache(t *testing.T) {
	offerProgram := solana.NewWallet().PublicKey()
	client := &fakeClient{accounts: map[solana.PublicKey][]ledger.KeyedAccount{}}
	ix := newTestIndexer(client, offerProgram, solana.NewWallet().PublicKey(), 30*time.Second)

	if _, err := ix.ScanOffers(context.Background()); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}

	ix.ClearCache()

	if _, err := ix.ScanOffers(context.Background()); err != nil {
		t.Fatalf("Scan after cache clear failed: %v", err)
	}
	if client.scans != 2 {
		t.Errorf("Expected a fresh ledger scan after ClearCache, got %d scans", client.scans)
	}
}

func TestScanOffersSkipsUndecodableAccounts(t *testing.T) {
	offerProgram := solana.NewWallet().PublicKey()
	maker := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	corrupt := append([]byte{}, model.OfferDiscriminator...)
	corrupt = append(corrupt, 1, 2, 3) // truncated body

	client := &fakeClient{accounts: map[solana.PublicKey][]ledger.KeyedAccount{
		offerProgram: {
			{Address: solana.NewWallet().PublicKey(), Data: offerData(maker, mint, 15000, 1, 100, 0, 0)},
			{Address: solana.NewWallet().PublicKey(), Data: corrupt},
			{Address: solana.NewWallet().PublicKey(), Data: offerData(maker, mint, 16000, 1, 100, 1, 1)},
		},
	}}
	ix := newTestIndexer(client, offerProgram, solana.NewWallet().PublicKey(), 30*time.Second)

	offers, err := ix.ScanOffers(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(offers) != 2 {
		t.Errorf("Expected 2 decodable offers, got %d", len(offers))
	}
}

func TestGetActiveOffersFiltersStatus(t *testing.T) {
	offerProgram := solana.NewWallet().PublicKey()
	maker := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	client := &fakeClient{accounts: map[solana.PublicKey][]ledger.KeyedAccount{
		offerProgram: {
			{Address: solana.NewWallet().PublicKey(), Data: offerData(maker, mint, 15000, 1, 100, 0, 0)},
			{Address: solana.NewWallet().PublicKey(), Data: offerData(maker, mint, 15000, 1, 100, 0, 1)},
			{Address: solana.NewWallet().PublicKey(), Data: offerData(maker, mint, 15000, 1, 100, 0, 2)},
		},
	}}
	ix := newTestIndexer(client, offerProgram, solana.NewWallet().PublicKey(), 30*time.Second)

	active, err := ix.GetActiveOffers(context.Background())
	if err != nil {
		t.Fatalf("GetActiveOffers failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active offer, got %d", len(active))
	}
	if active[0].Status != model.OfferStatusActive {
		t.Errorf("Expected active status, got %s", active[0].Status)
	}
}

func TestGetOffersByOwner(t *testing.T) {
	offerProgram := solana.NewWallet().PublicKey()
	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	client := &fakeClient{accounts: map[solana.PublicKey][]ledger.KeyedAccount{
		offerProgram: {
			{Address: solana.NewWallet().PublicKey(), Data: offerData(alice, mint, 15000, 1, 100, 0, 0)},
			{Address: solana.NewWallet().PublicKey(), Data: offerData(bob, mint, 15000, 1, 100, 0, 0)},
		},
	}}
	ix := newTestIndexer(client, offerProgram, solana.NewWallet().PublicKey(), 30*time.Second)

	offers, err := ix.GetOffersByOwner(context.Background(), alice)
	if err != nil {
		t.Fatalf("GetOffersByOwner failed: %v", err)
	}
	if len(offers) != 1 || !offers[0].Maker.Equals(alice) {
		t.Errorf("Expected only alice's offer, got %d offers", len(offers))
	}
}

func TestScanTradesDeduplicatesSelfMatches(t *testing.T) {
	tradeProgram := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	escrow := solana.NewWallet().PublicKey()

	// owner is taker of the first trade, maker of the second, and both
	// parties of the third. The third must appear once.
	client := &fakeClient{accounts: map[solana.PublicKey][]ledger.KeyedAccount{
		tradeProgram: {
			{Address: solana.NewWallet().PublicKey(), Data: tradeData(other, owner, mint, escrow, 10, 100, 1)},
			{Address: solana.NewWallet().PublicKey(), Data: tradeData(owner, other, mint, escrow, 20, 200, 1)},
			{Address: solana.NewWallet().PublicKey(), Data: tradeData(owner, owner, mint, escrow, 30, 300, 1)},
			{Address: solana.NewWallet().PublicKey(), Data: tradeData(other, other, mint, escrow, 40, 400, 1)},
		},
	}}
	ix := newTestIndexer(client, solana.NewWallet().PublicKey(), tradeProgram, 30*time.Second)

	trades, err := ix.ScanTrades(context.Background(), owner)
	if err != nil {
		t.Fatalf("ScanTrades failed: %v", err)
	}
	if len(trades) != 3 {
		t.Errorf("Expected 3 trades for owner, got %d", len(trades))
	}
}

func TestGetTradesByStatus(t *testing.T) {
	tradeProgram := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	escrow := solana.NewWallet().PublicKey()

	client := &fakeClient{accounts: map[solana.PublicKey][]ledger.KeyedAccount{
		tradeProgram: {
			{Address: solana.NewWallet().PublicKey(), Data: tradeData(other, owner, mint, escrow, 10, 100, 1)},
			{Address: solana.NewWallet().PublicKey(), Data: tradeData(other, owner, mint, escrow, 20, 200, 3)},
			{Address: solana.NewWallet().PublicKey(), Data: tradeData(other, owner, mint, escrow, 30, 300, 4)},
		},
	}}
	ix := newTestIndexer(client, solana.NewWallet().PublicKey(), tradeProgram, 30*time.Second)

	trades, err := ix.GetTradesByStatus(context.Background(), owner,
		[]model.TradeStatus{model.TradeStatusOpen, model.TradeStatusDisputed})
	if err != nil {
		t.Fatalf("GetTradesByStatus failed: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("Expected 2 trades, got %d", len(trades))
	}
	for _, trade := range trades {
		if trade.Status != model.TradeStatusOpen && trade.Status != model.TradeStatusDisputed {
			t.Errorf("Unexpected status %s in filtered result", trade.Status)
		}
	}
}

func TestScanOffersKeepsSnapshotOnScanFailure(t *testing.T) {
	offerProgram := solana.NewWallet().PublicKey()
	maker := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	client := &fakeClient{accounts: map[solana.PublicKey][]ledger.KeyedAccount{
		offerProgram: {
			{Address: solana.NewWallet().PublicKey(), Data: offerData(maker, mint, 15000, 1, 100, 0, 0)},
		},
	}}
	ix := newTestIndexer(client, offerProgram, solana.NewWallet().PublicKey(), 30*time.Second)

	if _, err := ix.ScanOffers(context.Background()); err != nil {
		t.Fatalf("First scan failed: %v", err)
	}

	ix.ClearCache()
	client.scanErr = errors.New("rpc timeout")

	if _, err := ix.ScanOffers(context.Background()); err == nil {
		t.Fatal("Expected error from failed scan")
	}
}
