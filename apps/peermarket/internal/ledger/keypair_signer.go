package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// KeypairSigner is a local file-backed Signer for server-side deployments and
// development. Browser-wallet integrations supply their own Signer instead.
type KeypairSigner struct {
	key solana.PrivateKey
}

// NewKeypairSigner loads a keypair from a solana-keygen JSON file.
func NewKeypairSigner(path string) (*KeypairSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load signer keypair: %w", err)
	}
	return &KeypairSigner{key: key}, nil
}

// NewKeypairSignerFromKey wraps an in-memory private key; used in tests.
func NewKeypairSignerFromKey(key solana.PrivateKey) *KeypairSigner {
	return &KeypairSigner{key: key}
}

func (s *KeypairSigner) Identity() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *KeypairSigner) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
