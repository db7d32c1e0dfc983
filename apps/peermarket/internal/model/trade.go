package model

import (
	"bytes"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type TradeStatus string

const (
	TradeStatusCreated   TradeStatus = "created"
	TradeStatusOpen      TradeStatus = "open" // escrow deposited
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusDisputed  TradeStatus = "disputed"

	// TradeStatusInProgress marks fiat payment as sent. The ledger program
	// tracks no such variant; it exists only as an API filter label and is
	// never decoded from account data.
	TradeStatusInProgress TradeStatus = "in_progress"
)

// Terminal reports whether no further status transition is possible without
// arbitration.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusCompleted, TradeStatusCancelled, TradeStatusDisputed:
		return true
	}
	return false
}

// Trade is one escrow-backed exchange opened against an offer.
type Trade struct {
	Address       solana.PublicKey `json:"address"`
	Maker         solana.PublicKey `json:"maker"`
	Taker         solana.PublicKey `json:"taker"`
	Amount        uint64           `json:"amount"` // smallest token units
	Price         uint64           `json:"price"`  // smallest fiat unit, whole trade
	TokenMint     solana.PublicKey `json:"token_mint"`
	EscrowAccount solana.PublicKey `json:"escrow_account"`
	Status        TradeStatus      `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Bump          uint8            `json:"-"`
}

// Parties returns the maker and taker identities.
func (t *Trade) Parties() []solana.PublicKey {
	return []solana.PublicKey{t.Maker, t.Taker}
}

// tradeAccount is the on-ledger layout after the 8-byte discriminator.
type tradeAccount struct {
	Maker         solana.PublicKey
	Taker         solana.PublicKey
	Amount        uint64
	Price         uint64
	TokenMint     solana.PublicKey
	EscrowAccount solana.PublicKey
	Status        uint8
	CreatedAt     int64
	UpdatedAt     int64
	Bump          uint8
}

// DecodeTrade decodes a raw trade account, verifying the discriminator first.
func DecodeTrade(address solana.PublicKey, data []byte) (*Trade, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], TradeDiscriminator) {
		return nil, fmt.Errorf("account %s is not a trade account", address)
	}

	var raw tradeAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode trade account %s: %w", address, err)
	}

	status, err := tradeStatusFromWire(raw.Status)
	if err != nil {
		return nil, fmt.Errorf("trade account %s: %w", address, err)
	}

	return &Trade{
		Address:       address,
		Maker:         raw.Maker,
		Taker:         raw.Taker,
		Amount:        raw.Amount,
		Price:         raw.Price,
		TokenMint:     raw.TokenMint,
		EscrowAccount: raw.EscrowAccount,
		Status:        status,
		CreatedAt:     time.Unix(raw.CreatedAt, 0).UTC(),
		UpdatedAt:     time.Unix(raw.UpdatedAt, 0).UTC(),
		Bump:          raw.Bump,
	}, nil
}

// tradeStatusFromWire maps the program's TradeStatus enum variants
// (Created, EscrowDeposited, Completed, Cancelled, Disputed) in declaration
// order.
func tradeStatusFromWire(v uint8) (TradeStatus, error) {
	switch v {
	case 0:
		return TradeStatusCreated, nil
	case 1:
		return TradeStatusOpen, nil
	case 2:
		return TradeStatusCompleted, nil
	case 3:
		return TradeStatusCancelled, nil
	case 4:
		return TradeStatusDisputed, nil
	}
	return "", fmt.Errorf("unknown trade status %d", v)
}

// ParseTradeStatus parses a status string from an API query.
func ParseTradeStatus(s string) (TradeStatus, error) {
	switch TradeStatus(s) {
	case TradeStatusCreated, TradeStatusOpen, TradeStatusInProgress,
		TradeStatusCompleted, TradeStatusCancelled, TradeStatusDisputed:
		return TradeStatus(s), nil
	}
	return "", fmt.Errorf("unknown trade status %q", s)
}
