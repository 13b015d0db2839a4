package services

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Faucet is the slice of the ledger client the funder needs
type Faucet interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature) error
}

// FundingService tops up the fee payer from the cluster faucet when it runs low
type FundingService struct {
	faucet    Faucet
	wallet    solana.PublicKey
	enabled   bool
	threshold uint64
	amount    uint64
	logger    *zap.Logger
}

func NewFundingService(faucet Faucet, wallet solana.PublicKey, enabled bool, thresholdSOL, amountSOL decimal.Decimal, logger *zap.Logger) *FundingService {
	return &FundingService{
		faucet:    faucet,
		wallet:    wallet,
		enabled:   enabled,
		threshold: solToLamports(thresholdSOL),
		amount:    solToLamports(amountSOL),
		logger:    logger,
	}
}

// EnsureFunded requests an airdrop when the wallet balance is at or below the
// threshold and waits for it to confirm. The check is not atomic with spending.
func (s *FundingService) EnsureFunded(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	balance, err := s.faucet.Balance(ctx, s.wallet)
	if err != nil {
		return err
	}
	if balance > s.threshold {
		return nil
	}

	sig, err := s.faucet.RequestAirdrop(ctx, s.wallet, s.amount)
	if err != nil {
		return err
	}
	if err := s.faucet.WaitForConfirmation(ctx, sig); err != nil {
		return fmt.Errorf("airdrop not confirmed: %w", err)
	}

	s.logger.Info("airdrop confirmed",
		zap.Stringer("signature", sig),
		zap.Uint64("previous_balance", balance),
		zap.Uint64("lamports", s.amount),
	)
	return nil
}

func solToLamports(sol decimal.Decimal) uint64 {
	lamports := sol.Mul(decimal.NewFromInt(int64(solana.LAMPORTS_PER_SOL))).Floor()
	if lamports.IsNegative() {
		return 0
	}
	return uint64(lamports.IntPart())
}
