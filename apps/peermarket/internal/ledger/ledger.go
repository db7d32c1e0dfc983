package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// KeyedAccount is one raw account returned by a program scan.
type KeyedAccount struct {
	Address solana.PublicKey
	Data    []byte
}

// MemcmpFilter matches accounts whose data equals Bytes at Offset. The
// 8-byte record discriminator at offset 0 is the usual first filter.
type MemcmpFilter struct {
	Offset uint64
	Bytes  []byte
}

// Client executes read queries against the ledger and submits signed
// transactions. Implementations must be safe for concurrent use.
type Client interface {
	// GetProgramAccounts scans all accounts owned by programID matching
	// every filter.
	GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []MemcmpFilter) ([]KeyedAccount, error)

	// GetAccount fetches a single account's raw data.
	GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error)

	// GetTokenBalance returns owner's balance of mint in smallest token
	// units.
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)

	// LatestBlockhash returns a recent blockhash for transaction assembly.
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// Submit sends a fully signed transaction and returns its signature.
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Signer is the wallet capability supplied by the embedding application. The
// orchestrator never touches private key material directly.
type Signer interface {
	Identity() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}
