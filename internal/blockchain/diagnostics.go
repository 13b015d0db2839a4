package blockchain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// DiagnosticResult holds the result of a Solana connectivity diagnostic
type DiagnosticResult struct {
	RPCConnected      bool   `json:"rpc_connected"`
	RPCURL            string `json:"rpc_url"`
	RPCError          string `json:"rpc_error,omitempty"`
	LatestBlockhash   string `json:"latest_blockhash,omitempty"`
	WalletPubkey      string `json:"wallet_pubkey"`
	WalletBalance     uint64 `json:"wallet_balance_lamports"`
	BalanceError      string `json:"balance_error,omitempty"`
	ProgramID         string `json:"program_id"`
	MintAuthorityPDA  string `json:"mint_authority_pda,omitempty"`
	MintAuthorityBump uint8  `json:"mint_authority_bump,omitempty"`
	PDAError          string `json:"pda_error,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// RunDiagnostics checks RPC connectivity, the fee payer's balance and PDA derivation
func RunDiagnostics(ctx context.Context, client *SolanaClient, programID solana.PublicKey, logger *zap.Logger) *DiagnosticResult {
	result := &DiagnosticResult{
		Timestamp:    time.Now().Format(time.RFC3339),
		RPCURL:       client.Endpoint(),
		ProgramID:    programID.String(),
		WalletPubkey: client.WalletPublicKey().String(),
	}

	blockhash, err := client.LatestBlockhash(ctx)
	if err != nil {
		result.RPCError = err.Error()
		logger.Warn("rpc unreachable", zap.Error(err))
	} else {
		result.RPCConnected = true
		result.LatestBlockhash = blockhash.String()
	}

	balance, err := client.Balance(ctx, client.WalletPublicKey())
	if err != nil {
		result.BalanceError = err.Error()
		logger.Warn("wallet balance unavailable", zap.Error(err))
	} else {
		result.WalletBalance = balance
	}

	pda, bump, err := MintAuthorityAddress(programID)
	if err != nil {
		result.PDAError = err.Error()
		logger.Warn("mint authority derivation failed", zap.Error(err))
	} else {
		result.MintAuthorityPDA = pda.String()
		result.MintAuthorityBump = bump
	}

	return result
}
