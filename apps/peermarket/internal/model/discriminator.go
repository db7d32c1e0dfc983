package model

import "crypto/sha256"

// Account discriminators are the fixed 8-byte prefixes the ledger program
// writes at the start of every account it owns: sha256("account:<Name>")[:8].
// Instruction discriminators use the "global:<snake_name>" namespace.

func AccountDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:8]
}

func InstructionDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

var (
	OfferDiscriminator = AccountDiscriminator("Offer")
	TradeDiscriminator = AccountDiscriminator("Trade")
)
