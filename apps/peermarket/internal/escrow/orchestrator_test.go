package escrow

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/apperr"
	"peermarket/apps/peermarket/internal/assets"
	"peermarket/apps/peermarket/internal/events"
	"peermarket/apps/peermarket/internal/indexer"
	"peermarket/apps/peermarket/internal/ledger"
	"peermarket/apps/peermarket/internal/model"
	"peermarket/apps/peermarket/internal/pricing"
)

type fakeLedger struct {
	accounts  map[solana.PublicKey][]byte
	balances  map[solana.PublicKey]uint64
	submitted []*solana.Transaction
	submitErr error
	scans     int
}

func (f *fakeLedger) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []ledger.MemcmpFilter) ([]ledger.KeyedAccount, error) {
	f.scans++
	return nil, nil
}

func (f *fakeLedger) GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	data, ok := f.accounts[address]
	if !ok {
		return nil, errors.New("AccountNotFound")
	}
	return data, nil
}

func (f *fakeLedger) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	return f.balances[owner], nil
}

func (f *fakeLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.HashFromBytes(make([]byte, 32)), nil
}

func (f *fakeLedger) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if f.submitErr != nil {
		return solana.Signature{}, f.submitErr
	}
	f.submitted = append(f.submitted, tx)
	return solana.Signature{}, nil
}

type fakeSink struct {
	recorded []events.MarketEvent
}

func (f *fakeSink) Record(ctx context.Context, event events.MarketEvent) error {
	f.recorded = append(f.recorded, event)
	return nil
}

type staticFeed struct {
	price int64
}

func (f *staticFeed) GetLatestPriceFeeds(ctx context.Context, feedIDs []string) ([]pricing.PriceFeed, error) {
	return []pricing.PriceFeed{{
		ID:          feedIDs[0],
		Status:      pricing.FeedStatusTrading,
		Price:       f.price,
		Expo:        0,
		PublishTime: time.Now(),
	}}, nil
}

func (f *staticFeed) Close() error { return nil }

type harness struct {
	orchestrator *Orchestrator
	client       *fakeLedger
	sink         *fakeSink
	signer       *ledger.KeypairSigner
	registry     *assets.AssetRegistry
	programs     ProgramConfig
}

// newHarness wires the orchestrator against fakes. The oracle quotes
// oraclePrice major fiat units per whole token for every pair.
func newHarness(t *testing.T, oraclePrice int64) *harness {
	t.Helper()

	client := &fakeLedger{
		accounts: make(map[solana.PublicKey][]byte),
		balances: make(map[solana.PublicKey]uint64),
	}
	sink := &fakeSink{}
	signer := ledger.NewKeypairSignerFromKey(solana.NewWallet().PrivateKey)
	registry := assets.NewAssetRegistry()
	programs := ProgramConfig{
		OfferProgram:   solana.NewWallet().PublicKey(),
		TradeProgram:   solana.NewWallet().PublicKey(),
		PriceProgram:   solana.NewWallet().PublicKey(),
		ProfileProgram: solana.NewWallet().PublicKey(),
		PriceState:     solana.NewWallet().PublicKey(),
	}

	logger := zap.NewNop()
	ix := indexer.New(client, programs.OfferProgram, programs.TradeProgram, 30*time.Second, logger)
	gateway := pricing.NewGateway(func() pricing.FeedClient {
		return &staticFeed{price: oraclePrice}
	}, nil, registry, time.Minute, logger)

	return &harness{
		orchestrator: NewOrchestrator(client, signer, ix, gateway, registry, programs, sink, logger),
		client:       client,
		sink:         sink,
		signer:       signer,
		registry:     registry,
		programs:     programs,
	}
}

func (h *harness) solMint(t *testing.T) solana.PublicKey {
	t.Helper()
	asset, ok := h.registry.GetBySymbol("SOL")
	if !ok {
		t.Fatal("SOL missing from registry")
	}
	return asset.Mint
}

// addOffer stores an encoded offer account and returns its address.
func (h *harness) addOffer(maker, mint solana.PublicKey, price, min, max uint64, offerType, status uint8) solana.PublicKey {
	address := solana.NewWallet().PublicKey()
	data := append([]byte{}, model.OfferDiscriminator...)
	data = append(data, maker.Bytes()...)
	data = append(data, mint.Bytes()...)
	data = appendU64(data, price)
	data = appendU64(data, min)
	data = appendU64(data, max)
	data = append(data, offerType, status)
	data = appendU64(data, uint64(time.Now().Unix()))
	data = appendU64(data, uint64(time.Now().Unix()))
	h.client.accounts[address] = data
	return address
}

// addTrade stores an encoded trade account and returns its address.
func (h *harness) addTrade(maker, taker, mint, escrow solana.PublicKey, amount, price uint64, status uint8) solana.PublicKey {
	address := solana.NewWallet().PublicKey()
	data := append([]byte{}, model.TradeDiscriminator...)
	data = append(data, maker.Bytes()...)
	data = append(data, taker.Bytes()...)
	data = appendU64(data, amount)
	data = appendU64(data, price)
	data = append(data, mint.Bytes()...)
	data = append(data, escrow.Bytes()...)
	data = append(data, status)
	data = appendU64(data, uint64(time.Now().Unix()))
	data = appendU64(data, uint64(time.Now().Unix()))
	data = append(data, 255)
	h.client.accounts[address] = data
	return address
}

func appendU64(data []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(data, buf[:]...)
}

func expectValidationError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("Expected validation error, got %s: %v", apperr.KindOf(err), err)
	}
}

func TestCreateOfferRejectsInvertedRange(t *testing.T) {
	h := newHarness(t, 150)

	_, err := h.orchestrator.CreateOffer(context.Background(), model.OfferTypeSell,
		1_000_000_000, 500, 100, "USD", "SOL")

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestCreateOfferRejectsUnknownType(t *testing.T) {
	h := newHarness(t, 150)

	_, err := h.orchestrator.CreateOffer(context.Background(), model.OfferType("lend"),
		1_000_000_000, 100, 500, "USD", "SOL")

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestCreateOfferRejectsInsufficientBalance(t *testing.T) {
	h := newHarness(t, 150)
	h.client.balances[h.signer.Identity()] = 1_000

	_, err := h.orchestrator.CreateOffer(context.Background(), model.OfferTypeSell,
		1_000_000_000, 100, 500, "USD", "SOL")

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestCreateOfferSubmitsAndRecordsEvent(t *testing.T) {
	h := newHarness(t, 150)
	maker := h.signer.Identity()
	h.client.balances[maker] = 10_000_000_000

	offerAddress, err := h.orchestrator.CreateOffer(context.Background(), model.OfferTypeSell,
		1_000_000_000, 100_000_000, 1_000_000_000, "USD", "SOL")
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	expected, err := DeriveOfferAddress(h.programs.OfferProgram, maker, h.solMint(t),
		model.OfferTypeSell, 100_000_000, 1_000_000_000)
	if err != nil {
		t.Fatalf("Failed to derive expected address: %v", err)
	}
	if !offerAddress.Equals(expected) {
		t.Errorf("Expected offer address %s, got %s", expected, offerAddress)
	}

	if len(h.client.submitted) != 1 {
		t.Fatalf("Expected one submitted transaction, got %d", len(h.client.submitted))
	}
	if len(h.sink.recorded) != 1 || h.sink.recorded[0].EventType != events.TypeOfferCreated {
		t.Fatalf("Expected one %s event, got %v", events.TypeOfferCreated, h.sink.recorded)
	}
	if h.sink.recorded[0].Account != offerAddress.String() {
		t.Errorf("Expected event account %s, got %s", offerAddress, h.sink.recorded[0].Account)
	}
}

func TestWriteInvalidatesOfferSnapshot(t *testing.T) {
	h := newHarness(t, 150)
	maker := h.signer.Identity()
	h.client.balances[maker] = 10_000_000_000

	// Warm the snapshot, then mutate. The next read must rescan.
	if _, err := h.orchestrator.GetOffers(context.Background()); err != nil {
		t.Fatalf("Warm-up scan failed: %v", err)
	}
	scansBefore := h.client.scans

	_, err := h.orchestrator.CreateOffer(context.Background(), model.OfferTypeSell,
		1_000_000_000, 100_000_000, 1_000_000_000, "USD", "SOL")
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	if _, err := h.orchestrator.GetOffers(context.Background()); err != nil {
		t.Fatalf("Post-write scan failed: %v", err)
	}
	if h.client.scans != scansBefore+1 {
		t.Errorf("Expected the snapshot to be invalidated by the write, scans went %d -> %d",
			scansBefore, h.client.scans)
	}
}

func TestUpdateOfferRejectsNonCreator(t *testing.T) {
	h := newHarness(t, 150)
	other := solana.NewWallet().PublicKey()
	offerAddress := h.addOffer(other, h.solMint(t), 15000, 100, 500, 1, 0)

	price := uint64(16000)
	err := h.orchestrator.UpdateOffer(context.Background(), offerAddress, &price, nil, nil)

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestUpdateOfferRejectsInvertedEffectiveRange(t *testing.T) {
	h := newHarness(t, 150)
	offerAddress := h.addOffer(h.signer.Identity(), h.solMint(t), 15000, 100, 500, 1, 0)

	// Raising only the minimum above the existing maximum must fail.
	min := uint64(600)
	err := h.orchestrator.UpdateOffer(context.Background(), offerAddress, nil, &min, nil)

	expectValidationError(t, err)
}

func TestPauseOfferSubmitsAndRecordsEvent(t *testing.T) {
	h := newHarness(t, 150)
	offerAddress := h.addOffer(h.signer.Identity(), h.solMint(t), 15000, 100, 500, 1, 0)

	if err := h.orchestrator.PauseOffer(context.Background(), offerAddress); err != nil {
		t.Fatalf("PauseOffer failed: %v", err)
	}

	if len(h.client.submitted) != 1 {
		t.Fatalf("Expected one submitted transaction, got %d", len(h.client.submitted))
	}
	if len(h.sink.recorded) != 1 || h.sink.recorded[0].EventType != events.TypeOfferPaused {
		t.Fatalf("Expected one %s event, got %v", events.TypeOfferPaused, h.sink.recorded)
	}
}

func TestOpenTradeRejectsInactiveOffer(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	offerAddress := h.addOffer(maker, h.solMint(t), 15000, 100, 500, 1, 1) // paused

	_, err := h.orchestrator.OpenTrade(context.Background(), offerAddress, 200)

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestOpenTradeRejectsAmountOutsideRange(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	offerAddress := h.addOffer(maker, h.solMint(t), 15000, 100, 500, 1, 0)

	for _, amount := range []uint64{99, 501} {
		_, err := h.orchestrator.OpenTrade(context.Background(), offerAddress, amount)
		expectValidationError(t, err)
	}
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestOpenTradeRejectsOwnOffer(t *testing.T) {
	h := newHarness(t, 150)
	offerAddress := h.addOffer(h.signer.Identity(), h.solMint(t), 15000, 100, 500, 1, 0)

	_, err := h.orchestrator.OpenTrade(context.Background(), offerAddress, 200)

	expectValidationError(t, err)
}

func TestOpenTradeRejectsStaleOfferPrice(t *testing.T) {
	// Oracle says 150.00, the offer was priced at 200.00 per token.
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	offerAddress := h.addOffer(maker, h.solMint(t), 20000, 100_000_000, 2_000_000_000, 1, 0)
	h.client.balances[maker] = 10_000_000_000

	_, err := h.orchestrator.OpenTrade(context.Background(), offerAddress, 1_000_000_000)

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestOpenTradeRejectsUnderfundedMaker(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	offerAddress := h.addOffer(maker, h.solMint(t), 15000, 100_000_000, 2_000_000_000, 1, 0)
	h.client.balances[maker] = 500_000_000

	_, err := h.orchestrator.OpenTrade(context.Background(), offerAddress, 1_000_000_000)

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestOpenTradeCreatesTradeWithEscrowAccount(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	taker := h.signer.Identity()
	offerAddress := h.addOffer(maker, h.solMint(t), 15000, 100_000_000, 2_000_000_000, 1, 0)
	h.client.balances[maker] = 10_000_000_000

	tradeAddress, err := h.orchestrator.OpenTrade(context.Background(), offerAddress, 1_000_000_000)
	if err != nil {
		t.Fatalf("OpenTrade failed: %v", err)
	}

	expected, err := DeriveTradeAddress(h.programs.TradeProgram, taker, maker, h.solMint(t), 1_000_000_000)
	if err != nil {
		t.Fatalf("Failed to derive expected address: %v", err)
	}
	if !tradeAddress.Equals(expected) {
		t.Errorf("Expected trade address %s, got %s", expected, tradeAddress)
	}

	if len(h.client.submitted) != 1 {
		t.Fatalf("Expected one submitted transaction, got %d", len(h.client.submitted))
	}

	tx := h.client.submitted[0]
	if len(tx.Message.Instructions) != 1 {
		t.Errorf("Expected a single create instruction, got %d", len(tx.Message.Instructions))
	}
	// Fee payer plus the ephemeral escrow keypair
	if len(tx.Signatures) != 2 {
		t.Errorf("Expected 2 signatures, got %d", len(tx.Signatures))
	}

	if len(h.sink.recorded) != 1 || h.sink.recorded[0].EventType != events.TypeTradeOpened {
		t.Fatalf("Expected one %s event, got %v", events.TypeTradeOpened, h.sink.recorded)
	}
}

func TestFundTradeRejectsNonCreatedStatus(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	escrow := solana.NewWallet().PublicKey()
	tradeAddress := h.addTrade(maker, h.signer.Identity(), h.solMint(t), escrow,
		1_000_000_000, 15000, 1) // already open

	err := h.orchestrator.FundTrade(context.Background(), tradeAddress)

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestFundTradeRejectsNonMaker(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	escrow := solana.NewWallet().PublicKey()
	// The signer is the taker here; only the maker may deposit.
	tradeAddress := h.addTrade(maker, h.signer.Identity(), h.solMint(t), escrow,
		1_000_000_000, 15000, 0)

	err := h.orchestrator.FundTrade(context.Background(), tradeAddress)

	expectValidationError(t, err)
	if len(h.client.submitted) != 0 {
		t.Errorf("Expected no instruction submission, got %d", len(h.client.submitted))
	}
}

func TestFundTradeDepositsAsMaker(t *testing.T) {
	h := newHarness(t, 150)
	taker := solana.NewWallet().PublicKey()
	escrow := solana.NewWallet().PublicKey()
	tradeAddress := h.addTrade(h.signer.Identity(), taker, h.solMint(t), escrow,
		1_000_000_000, 15000, 0)
	h.client.balances[h.signer.Identity()] = 10_000_000_000

	if err := h.orchestrator.FundTrade(context.Background(), tradeAddress); err != nil {
		t.Fatalf("FundTrade failed: %v", err)
	}

	if len(h.client.submitted) != 1 {
		t.Fatalf("Expected one submitted transaction, got %d", len(h.client.submitted))
	}
	if len(h.sink.recorded) != 1 || h.sink.recorded[0].EventType != events.TypeTradeFunded {
		t.Fatalf("Expected one %s event, got %v", events.TypeTradeFunded, h.sink.recorded)
	}
}

func TestCompleteTradeSubmitsAndRecordsEvent(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	escrow := solana.NewWallet().PublicKey()
	tradeAddress := h.addTrade(maker, h.signer.Identity(), h.solMint(t), escrow,
		1_000_000_000, 15000, 1)

	if err := h.orchestrator.CompleteTrade(context.Background(), tradeAddress); err != nil {
		t.Fatalf("CompleteTrade failed: %v", err)
	}

	if len(h.client.submitted) != 1 {
		t.Fatalf("Expected one submitted transaction, got %d", len(h.client.submitted))
	}
	if len(h.sink.recorded) != 1 || h.sink.recorded[0].EventType != events.TypeTradeCompleted {
		t.Fatalf("Expected one %s event, got %v", events.TypeTradeCompleted, h.sink.recorded)
	}
}

func TestCancelTradeTranslatesLedgerRejection(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	escrow := solana.NewWallet().PublicKey()
	tradeAddress := h.addTrade(maker, h.signer.Identity(), h.solMint(t), escrow,
		1_000_000_000, 15000, 1)
	h.client.submitErr = errors.New("custom program error: InvalidTradeStatus")

	err := h.orchestrator.CancelTrade(context.Background(), tradeAddress)
	if err == nil {
		t.Fatal("Expected error from rejected submission")
	}
	if apperr.KindOf(err) != apperr.KindTrade {
		t.Errorf("Expected trade error kind, got %s", apperr.KindOf(err))
	}
	if len(h.sink.recorded) != 0 {
		t.Errorf("Expected no event for a failed mutation, got %d", len(h.sink.recorded))
	}
}

func TestDisputeTradeSubmitsAndRecordsEvent(t *testing.T) {
	h := newHarness(t, 150)
	maker := solana.NewWallet().PublicKey()
	escrow := solana.NewWallet().PublicKey()
	tradeAddress := h.addTrade(maker, h.signer.Identity(), h.solMint(t), escrow,
		1_000_000_000, 15000, 1)

	if err := h.orchestrator.DisputeTrade(context.Background(), tradeAddress); err != nil {
		t.Fatalf("DisputeTrade failed: %v", err)
	}

	if len(h.sink.recorded) != 1 || h.sink.recorded[0].EventType != events.TypeTradeDisputed {
		t.Fatalf("Expected one %s event, got %v", events.TypeTradeDisputed, h.sink.recorded)
	}
}
