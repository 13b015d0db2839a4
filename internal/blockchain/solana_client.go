package blockchain

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

const privateKeyLength = 64

// SolanaClient handles Solana blockchain interactions for one fee-payer wallet
type SolanaClient struct {
	rpcClient      *rpc.Client
	endpoint       string
	wallet         *solana.Wallet
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger
}

// NewSolanaClient creates a new Solana client
func NewSolanaClient(endpoint string, wallet *solana.Wallet, confirmTimeout time.Duration, logger *zap.Logger) *SolanaClient {
	return &SolanaClient{
		rpcClient:      rpc.New(endpoint),
		endpoint:       endpoint,
		wallet:         wallet,
		confirmTimeout: confirmTimeout,
		pollInterval:   700 * time.Millisecond,
		logger:         logger,
	}
}

// LoadWallet parses a base58 private key, or generates a fresh wallet when key is empty
func LoadWallet(key string) (*solana.Wallet, error) {
	if key == "" {
		return solana.NewWallet(), nil
	}

	raw, err := base58.Decode(key)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet private key encoding: %w", err)
	}
	if len(raw) != privateKeyLength {
		return nil, fmt.Errorf("invalid wallet private key: %d bytes, want %d", len(raw), privateKeyLength)
	}

	wallet, err := solana.WalletFromPrivateKeyBase58(key)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet private key: %w", err)
	}
	return wallet, nil
}

// Endpoint returns the RPC URL this client talks to
func (s *SolanaClient) Endpoint() string {
	return s.endpoint
}

// WalletPublicKey returns the fee payer's address
func (s *SolanaClient) WalletPublicKey() solana.PublicKey {
	return s.wallet.PublicKey()
}

// Balance returns the lamport balance of an account
func (s *SolanaClient) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	resp, err := s.rpcClient.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", account, err)
	}
	return resp.Value, nil
}

// RequestAirdrop asks the cluster faucet for lamports. Only devnet/testnet/localnet serve it.
func (s *SolanaClient) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	sig, err := s.rpcClient.RequestAirdrop(ctx, account, lamports, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to request airdrop: %w", err)
	}
	return sig, nil
}

// MinimumBalanceForRentExemption returns the lamports an account of size bytes needs to stay alive
func (s *SolanaClient) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	lamports, err := s.rpcClient.GetMinimumBalanceForRentExemption(ctx, size, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get rent exemption for %d bytes: %w", size, err)
	}
	return lamports, nil
}

// LatestBlockhash gets the latest blockhash
func (s *SolanaClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	resp, err := s.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get recent blockhash: %w", err)
	}
	return resp.Value.Blockhash, nil
}

// SubmitTransaction builds a transaction paid for by the wallet, signs it with
// the wallet plus signers, and sends it
func (s *SolanaClient) SubmitTransaction(
	ctx context.Context,
	blockhash solana.Hash,
	instructions []solana.Instruction,
	signers ...solana.PrivateKey,
) (solana.Signature, error) {
	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(s.wallet.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	keys := append([]solana.PrivateKey{s.wallet.PrivateKey}, signers...)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(key) {
				return &keys[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := s.rpcClient.SendTransactionWithOpts(
		ctx,
		tx,
		rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		},
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// WaitForConfirmation polls the signature status until the cluster confirms
// it, the transaction fails, or the confirm timeout elapses
func (s *SolanaClient) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction %s not confirmed: %w", sig, ctx.Err())
		case <-ticker.C:
			result, err := s.rpcClient.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				s.logger.Debug("signature status poll failed", zap.Stringer("signature", sig), zap.Error(err))
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// SubmitAndConfirm sends a transaction and blocks until it is confirmed
func (s *SolanaClient) SubmitAndConfirm(
	ctx context.Context,
	blockhash solana.Hash,
	instructions []solana.Instruction,
	signers ...solana.PrivateKey,
) (solana.Signature, error) {
	sig, err := s.SubmitTransaction(ctx, blockhash, instructions, signers...)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := s.WaitForConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// ProgramAccounts lists every account owned by programID whose first byte is kind
func (s *SolanaClient) ProgramAccounts(ctx context.Context, programID solana.PublicKey, kind byte) ([]AccountNotification, error) {
	resp, err := s.rpcClient.GetProgramAccountsWithOpts(ctx, programID, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58{kind}}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list program accounts: %w", err)
	}

	accounts := make([]AccountNotification, 0, len(resp))
	for _, keyed := range resp {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		accounts = append(accounts, AccountNotification{
			Account: keyed.Pubkey,
			Data:    keyed.Account.Data.GetBinary(),
		})
	}
	return accounts, nil
}
