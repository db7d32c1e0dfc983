package model

import (
	"bytes"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type OfferType string

const (
	OfferTypeBuy  OfferType = "buy"
	OfferTypeSell OfferType = "sell"
)

type OfferStatus string

const (
	OfferStatusActive OfferStatus = "active"
	OfferStatusPaused OfferStatus = "paused"
	OfferStatusClosed OfferStatus = "closed"
)

// Offer is a standing buy/sell intent recorded on the ledger.
type Offer struct {
	Address       solana.PublicKey `json:"address"`
	Maker         solana.PublicKey `json:"maker"`
	TokenMint     solana.PublicKey `json:"token_mint"`
	PricePerToken uint64           `json:"price_per_token"` // smallest fiat unit per whole token
	MinAmount     uint64           `json:"min_amount"`      // smallest token units
	MaxAmount     uint64           `json:"max_amount"`      // smallest token units
	OfferType     OfferType        `json:"offer_type"`
	Status        OfferStatus      `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// offerAccount is the on-ledger layout after the 8-byte discriminator.
type offerAccount struct {
	Maker         solana.PublicKey
	TokenMint     solana.PublicKey
	PricePerToken uint64
	MinAmount     uint64
	MaxAmount     uint64
	OfferType     uint8
	Status        uint8
	CreatedAt     int64
	UpdatedAt     int64
}

// DecodeOffer decodes a raw offer account. The discriminator is verified
// before any field is read so foreign accounts caught by a loose scan filter
// are rejected cleanly.
func DecodeOffer(address solana.PublicKey, data []byte) (*Offer, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], OfferDiscriminator) {
		return nil, fmt.Errorf("account %s is not an offer account", address)
	}

	var raw offerAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode offer account %s: %w", address, err)
	}

	offerType, err := offerTypeFromWire(raw.OfferType)
	if err != nil {
		return nil, fmt.Errorf("offer account %s: %w", address, err)
	}

	status, err := offerStatusFromWire(raw.Status)
	if err != nil {
		return nil, fmt.Errorf("offer account %s: %w", address, err)
	}

	return &Offer{
		Address:       address,
		Maker:         raw.Maker,
		TokenMint:     raw.TokenMint,
		PricePerToken: raw.PricePerToken,
		MinAmount:     raw.MinAmount,
		MaxAmount:     raw.MaxAmount,
		OfferType:     offerType,
		Status:        status,
		CreatedAt:     time.Unix(raw.CreatedAt, 0).UTC(),
		UpdatedAt:     time.Unix(raw.UpdatedAt, 0).UTC(),
	}, nil
}

func offerTypeFromWire(v uint8) (OfferType, error) {
	switch v {
	case 0:
		return OfferTypeBuy, nil
	case 1:
		return OfferTypeSell, nil
	}
	return "", fmt.Errorf("unknown offer type %d", v)
}

// WireValue returns the on-ledger enum value; used both in instruction data
// and as a PDA seed.
func (t OfferType) WireValue() (uint8, error) {
	switch t {
	case OfferTypeBuy:
		return 0, nil
	case OfferTypeSell:
		return 1, nil
	}
	return 0, fmt.Errorf("unknown offer type %q", string(t))
}

func offerStatusFromWire(v uint8) (OfferStatus, error) {
	switch v {
	case 0:
		return OfferStatusActive, nil
	case 1:
		return OfferStatusPaused, nil
	case 2:
		return OfferStatusClosed, nil
	}
	return "", fmt.Errorf("unknown offer status %d", v)
}
