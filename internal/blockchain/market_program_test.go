package blockchain

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"search-market-agent/internal/codec"
)

type metaWant struct {
	key      solana.PublicKey
	writable bool
	signer   bool
}

func checkMetas(t *testing.T, ix solana.Instruction, want []metaWant) {
	t.Helper()
	got := ix.Accounts()
	if len(got) != len(want) {
		t.Fatalf("accounts = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if !got[i].PublicKey.Equals(w.key) || got[i].IsWritable != w.writable || got[i].IsSigner != w.signer {
			t.Errorf("account %d = {%s w=%v s=%v}, want {%s w=%v s=%v}",
				i, got[i].PublicKey, got[i].IsWritable, got[i].IsSigner, w.key, w.writable, w.signer)
		}
	}
}

func TestCreateResultInstruction(t *testing.T) {
	program := NewMarketProgram(testProgramID)
	accounts := CreateResultAccounts{
		Result:        solana.NewWallet().PublicKey(),
		Market:        solana.NewWallet().PublicKey(),
		YesMint:       solana.NewWallet().PublicKey(),
		NoMint:        solana.NewWallet().PublicKey(),
		MintAuthority: solana.NewWallet().PublicKey(),
	}
	args := codec.CreateResult{URL: "https://example.com", Name: "Example", Snippet: "text", BumpSeed: 253}

	ix, err := program.CreateResultInstruction(accounts, args)
	if err != nil {
		t.Fatal(err)
	}
	if !ix.ProgramID().Equals(testProgramID) {
		t.Errorf("program = %s", ix.ProgramID())
	}

	checkMetas(t, ix, []metaWant{
		{accounts.Result, true, false},
		{accounts.Market, false, false},
		{accounts.YesMint, true, false},
		{accounts.NoMint, true, false},
		{accounts.MintAuthority, false, false},
		{solana.SysVarRentPubkey, false, false},
		{solana.TokenProgramID, false, false},
	})

	data, err := ix.Data()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := codec.DecodeInstruction(data)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := decoded.(*codec.CreateResult); !ok || *got != args {
		t.Errorf("decoded = %+v, want %+v", decoded, args)
	}
}

func TestDepositInstruction(t *testing.T) {
	program := NewMarketProgram(testProgramID)
	accounts := DepositAccounts{
		Market:        solana.NewWallet().PublicKey(),
		Result:        solana.NewWallet().PublicKey(),
		Payer:         solana.NewWallet().PublicKey(),
		MintAuthority: solana.NewWallet().PublicKey(),
		YesMint:       solana.NewWallet().PublicKey(),
		YesHolding:    solana.NewWallet().PublicKey(),
		NoMint:        solana.NewWallet().PublicKey(),
		NoHolding:     solana.NewWallet().PublicKey(),
	}

	ix, err := program.DepositInstruction(accounts, 1)
	if err != nil {
		t.Fatal(err)
	}

	checkMetas(t, ix, []metaWant{
		{accounts.Market, false, false},
		{accounts.Result, true, false},
		{accounts.Payer, true, true},
		{solana.SystemProgramID, false, false},
		{solana.TokenProgramID, false, false},
		{accounts.MintAuthority, true, false},
		{accounts.YesMint, true, false},
		{accounts.YesHolding, true, false},
		{accounts.NoMint, true, false},
		{accounts.NoHolding, true, false},
	})

	data, err := ix.Data()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 9 || data[0] != byte(codec.TagDeposit) || data[1] != 1 {
		t.Errorf("data = %v", data)
	}
}

func TestCreateOrderInstruction(t *testing.T) {
	program := NewMarketProgram(testProgramID)
	accounts := CreateOrderAccounts{
		Order:        solana.NewWallet().PublicKey(),
		Market:       solana.NewWallet().PublicKey(),
		Result:       solana.NewWallet().PublicKey(),
		Payer:        solana.NewWallet().PublicKey(),
		TokenAccount: solana.NewWallet().PublicKey(),
		Mint:         solana.NewWallet().PublicKey(),
		Escrow:       solana.NewWallet().PublicKey(),
	}
	args := codec.CreateOrder{Side: codec.SideSell, Price: 200_000_000, Quantity: 1, EscrowBumpSeed: 251}

	ix, err := program.CreateOrderInstruction(accounts, args)
	if err != nil {
		t.Fatal(err)
	}

	checkMetas(t, ix, []metaWant{
		{accounts.Order, true, false},
		{accounts.Market, false, false},
		{accounts.Result, false, false},
		{accounts.Payer, true, false},
		{accounts.TokenAccount, true, false},
		{accounts.Mint, false, false},
		{accounts.Payer, false, true},
		{accounts.Escrow, true, false},
		{accounts.Payer, false, true},
		{solana.TokenProgramID, false, false},
		{solana.SysVarRentPubkey, false, false},
		{solana.SystemProgramID, false, false},
	})

	data, err := ix.Data()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := codec.DecodeInstruction(data)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := decoded.(*codec.CreateOrder); !ok || *got != args {
		t.Errorf("decoded = %+v, want %+v", decoded, args)
	}
}

func TestTokenProgramHelpers(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	account := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	create := CreateAccountInstruction(payer, account, solana.TokenProgramID, 2_039_280, TokenAccountSize)
	if !create.ProgramID().Equals(solana.SystemProgramID) {
		t.Errorf("create account program = %s", create.ProgramID())
	}
	checkMetas(t, create, []metaWant{
		{payer, true, true},
		{account, true, true},
	})

	init := InitializeTokenAccountInstruction(account, mint, payer)
	if !init.ProgramID().Equals(solana.TokenProgramID) {
		t.Errorf("initialize account program = %s", init.ProgramID())
	}
	metas := init.Accounts()
	if len(metas) < 3 || !metas[0].PublicKey.Equals(account) || !metas[1].PublicKey.Equals(mint) || !metas[2].PublicKey.Equals(payer) {
		t.Errorf("initialize account metas = %v", metas)
	}
}
