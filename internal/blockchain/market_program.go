package blockchain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"search-market-agent/internal/codec"
)

// Sizes of SPL token program accounts.
const (
	MintAccountSize  = 82
	TokenAccountSize = 165
)

// MarketProgram builds instructions for the search market program
type MarketProgram struct {
	programID solana.PublicKey
}

// NewMarketProgram creates a market program instruction builder
func NewMarketProgram(programID solana.PublicKey) *MarketProgram {
	return &MarketProgram{programID: programID}
}

// ID returns the program ID
func (p *MarketProgram) ID() solana.PublicKey {
	return p.programID
}

// CreateResultAccounts lists the accounts CreateResult touches
type CreateResultAccounts struct {
	Result        solana.PublicKey
	Market        solana.PublicKey
	YesMint       solana.PublicKey
	NoMint        solana.PublicKey
	MintAuthority solana.PublicKey
}

// CreateResultInstruction initializes a result account and both outcome mints
func (p *MarketProgram) CreateResultInstruction(accounts CreateResultAccounts, args codec.CreateResult) (solana.Instruction, error) {
	data, err := codec.EncodeInstruction(&args)
	if err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Result, true, false),
		solana.NewAccountMeta(accounts.Market, false, false),
		solana.NewAccountMeta(accounts.YesMint, true, false),
		solana.NewAccountMeta(accounts.NoMint, true, false),
		solana.NewAccountMeta(accounts.MintAuthority, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(p.programID, metas, data), nil
}

// DepositAccounts lists the accounts Deposit touches
type DepositAccounts struct {
	Market        solana.PublicKey
	Result        solana.PublicKey
	Payer         solana.PublicKey
	MintAuthority solana.PublicKey
	YesMint       solana.PublicKey
	YesHolding    solana.PublicKey
	NoMint        solana.PublicKey
	NoHolding     solana.PublicKey
}

// DepositInstruction mints quantity yes and no shares into the payer's holding accounts
func (p *MarketProgram) DepositInstruction(accounts DepositAccounts, quantity uint64) (solana.Instruction, error) {
	data, err := codec.EncodeInstruction(&codec.Deposit{Quantity: quantity})
	if err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Market, false, false),
		solana.NewAccountMeta(accounts.Result, true, false),
		solana.NewAccountMeta(accounts.Payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(accounts.MintAuthority, true, false),
		solana.NewAccountMeta(accounts.YesMint, true, false),
		solana.NewAccountMeta(accounts.YesHolding, true, false),
		solana.NewAccountMeta(accounts.NoMint, true, false),
		solana.NewAccountMeta(accounts.NoHolding, true, false),
	}
	return solana.NewInstruction(p.programID, metas, data), nil
}

// CreateOrderAccounts lists the accounts CreateOrder touches
type CreateOrderAccounts struct {
	Order        solana.PublicKey
	Market       solana.PublicKey
	Result       solana.PublicKey
	Payer        solana.PublicKey
	TokenAccount solana.PublicKey
	Mint         solana.PublicKey
	Escrow       solana.PublicKey
}

// CreateOrderInstruction places an order whose tokens move from TokenAccount into Escrow
func (p *MarketProgram) CreateOrderInstruction(accounts CreateOrderAccounts, args codec.CreateOrder) (solana.Instruction, error) {
	data, err := codec.EncodeInstruction(&args)
	if err != nil {
		return nil, err
	}

	// The payer appears three times: lamport source, token owner and execution authority.
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Order, true, false),
		solana.NewAccountMeta(accounts.Market, false, false),
		solana.NewAccountMeta(accounts.Result, false, false),
		solana.NewAccountMeta(accounts.Payer, true, false),
		solana.NewAccountMeta(accounts.TokenAccount, true, false),
		solana.NewAccountMeta(accounts.Mint, false, false),
		solana.NewAccountMeta(accounts.Payer, false, true),
		solana.NewAccountMeta(accounts.Escrow, true, false),
		solana.NewAccountMeta(accounts.Payer, false, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(p.programID, metas, data), nil
}

// CreateAccountInstruction allocates a rent-exempt account of space bytes owned by owner
func CreateAccountInstruction(payer, newAccount, owner solana.PublicKey, lamports, space uint64) solana.Instruction {
	return system.NewCreateAccountInstruction(lamports, space, owner, payer, newAccount).Build()
}

// InitializeTokenAccountInstruction binds a token account to its mint and owner
func InitializeTokenAccountInstruction(account, mint, owner solana.PublicKey) solana.Instruction {
	return token.NewInitializeAccountInstruction(account, mint, owner, solana.SysVarRentPubkey).Build()
}
