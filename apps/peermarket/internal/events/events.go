package events

import (
	"encoding/json"
	"time"
)

// Lifecycle event types emitted after successful ledger mutations.
const (
	TypeOfferCreated   = "offer_created"
	TypeOfferUpdated   = "offer_updated"
	TypeOfferPaused    = "offer_paused"
	TypeOfferResumed   = "offer_resumed"
	TypeOfferClosed    = "offer_closed"
	TypeTradeOpened    = "trade_opened"
	TypeTradeFunded    = "trade_funded"
	TypeTradeCompleted = "trade_completed"
	TypeTradeCancelled = "trade_cancelled"
	TypeTradeDisputed  = "trade_disputed"
)

// MarketEvent is one offer/trade lifecycle notification. The ledger remains
// the source of truth; these exist so collaborators can react without
// polling.
type MarketEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Signature     string          `json:"signature"`
	Account       string          `json:"account"`
	WalletAddress string          `json:"wallet_address"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
}
