package model

import (
	"bytes"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

func encodeOfferData(t *testing.T, raw offerAccount) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(raw); err != nil {
		t.Fatalf("Failed to encode offer fixture: %v", err)
	}
	return append(append([]byte{}, OfferDiscriminator...), buf.Bytes()...)
}

func TestDecodeOffer(t *testing.T) {
	address := solana.NewWallet().PublicKey()
	maker := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	data := encodeOfferData(t, offerAccount{
		Maker:         maker,
		TokenMint:     mint,
		PricePerToken: 15000,
		MinAmount:     1_000_000,
		MaxAmount:     50_000_000,
		OfferType:     1,
		Status:        0,
		CreatedAt:     created.Unix(),
		UpdatedAt:     created.Add(time.Hour).Unix(),
	})

	offer, err := DecodeOffer(address, data)
	if err != nil {
		t.Fatalf("Failed to decode offer: %v", err)
	}

	if !offer.Address.Equals(address) {
		t.Errorf("Expected address %s, got %s", address, offer.Address)
	}
	if !offer.Maker.Equals(maker) {
		t.Errorf("Expected maker %s, got %s", maker, offer.Maker)
	}
	if offer.PricePerToken != 15000 {
		t.Errorf("Expected price 15000, got %d", offer.PricePerToken)
	}
	if offer.OfferType != OfferTypeSell {
		t.Errorf("Expected sell offer, got %s", offer.OfferType)
	}
	if offer.Status != OfferStatusActive {
		t.Errorf("Expected active status, got %s", offer.Status)
	}
	if !offer.CreatedAt.Equal(created) {
		t.Errorf("Expected created at %s, got %s", created, offer.CreatedAt)
	}
}

func TestDecodeOfferRejectsForeignDiscriminator(t *testing.T) {
	address := solana.NewWallet().PublicKey()

	data := encodeOfferData(t, offerAccount{})
	copy(data[:8], TradeDiscriminator)

	if _, err := DecodeOffer(address, data); err == nil {
		t.Error("Expected error for account with a foreign discriminator")
	}

	if _, err := DecodeOffer(address, []byte{1, 2, 3}); err == nil {
		t.Error("Expected error for truncated account data")
	}
}

func TestDecodeOfferRejectsUnknownEnumValues(t *testing.T) {
	address := solana.NewWallet().PublicKey()

	data := encodeOfferData(t, offerAccount{OfferType: 7})
	if _, err := DecodeOffer(address, data); err == nil {
		t.Error("Expected error for unknown offer type")
	}

	data = encodeOfferData(t, offerAccount{Status: 9})
	if _, err := DecodeOffer(address, data); err == nil {
		t.Error("Expected error for unknown offer status")
	}
}

func TestOfferTypeWireValue(t *testing.T) {
	if v, err := OfferTypeBuy.WireValue(); err != nil || v != 0 {
		t.Errorf("Expected buy to encode as 0, got %d (err %v)", v, err)
	}
	if v, err := OfferTypeSell.WireValue(); err != nil || v != 1 {
		t.Errorf("Expected sell to encode as 1, got %d (err %v)", v, err)
	}
	if _, err := OfferType("lend").WireValue(); err == nil {
		t.Error("Expected error for unknown offer type")
	}
}
