package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// RPCClient implements Client against a Solana JSON-RPC endpoint.
type RPCClient struct {
	client *rpc.Client
	logger *zap.Logger
}

// NewRPCClient creates a new RPC-backed ledger client
func NewRPCClient(rpcURL string, logger *zap.Logger) *RPCClient {
	return &RPCClient{
		client: rpc.New(rpcURL),
		logger: logger,
	}
}

func (c *RPCClient) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []MemcmpFilter) ([]KeyedAccount, error) {
	opts := &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
	}
	for _, f := range filters {
		opts.Filters = append(opts.Filters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: f.Offset,
				Bytes:  solana.Base58(f.Bytes),
			},
		})
	}

	result, err := c.client.GetProgramAccountsWithOpts(ctx, programID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to scan program accounts: %w", err)
	}

	accounts := make([]KeyedAccount, 0, len(result))
	for _, keyed := range result {
		if keyed.Account == nil || keyed.Account.Data == nil {
			continue
		}
		accounts = append(accounts, KeyedAccount{
			Address: keyed.Pubkey,
			Data:    keyed.Account.Data.GetBinary(),
		})
	}

	c.logger.Debug("Scanned program accounts",
		zap.String("program", programID.String()),
		zap.Int("count", len(accounts)))

	return accounts, nil
}

func (c *RPCClient) GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	result, err := c.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", address, err)
	}
	if result.Value == nil || result.Value.Data == nil {
		return nil, fmt.Errorf("account %s not found", address)
	}

	return result.Value.Data.GetBinary(), nil
}

func (c *RPCClient) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	result, err := c.client.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch token balance: %w", err)
	}
	if result.Value == nil {
		return 0, fmt.Errorf("token account %s not found", tokenAccount)
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed token balance %q: %w", result.Value.Amount, err)
	}

	return amount, nil
}

func (c *RPCClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}
	return result.Value.Blockhash, nil
}

func (c *RPCClient) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to submit transaction: %w", err)
	}

	c.logger.Info("Submitted transaction", zap.String("signature", sig.String()))
	return sig, nil
}
