package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"search-market-agent/internal/blockchain"
	"search-market-agent/internal/codec"
	"search-market-agent/internal/models"
	"search-market-agent/internal/repository"
)

var testProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

type submission struct {
	kinds        []string
	instructions []solana.Instruction
	signers      []solana.PublicKey
	blockhash    solana.Hash
}

// fakeLedger records every transaction and fails those whose last instruction
// matches failOn, as well as the failCall-th submission overall
type fakeLedger struct {
	mu          sync.Mutex
	wallet      solana.PublicKey
	blockhash   solana.Hash
	submissions []submission
	blockhashes int
	calls       int
	failOn      string
	failCall    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		wallet:    solana.NewWallet().PublicKey(),
		blockhash: solana.Hash{7, 7, 7},
	}
}

func (f *fakeLedger) WalletPublicKey() solana.PublicKey { return f.wallet }

func (f *fakeLedger) MinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	return 1000 + size, nil
}

func (f *fakeLedger) LatestBlockhash(context.Context) (solana.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockhashes++
	return f.blockhash, nil
}

func (f *fakeLedger) SubmitAndConfirm(
	_ context.Context,
	blockhash solana.Hash,
	instructions []solana.Instruction,
	signers ...solana.PrivateKey,
) (solana.Signature, error) {
	sub := submission{instructions: instructions, blockhash: blockhash}
	for _, ix := range instructions {
		sub.kinds = append(sub.kinds, instructionKind(ix))
	}
	for _, key := range signers {
		sub.signers = append(sub.signers, key.PublicKey())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failCall != 0 && f.calls == f.failCall {
		return solana.Signature{}, errors.New("simulated submission failure")
	}
	if f.failOn != "" && sub.kinds[len(sub.kinds)-1] == f.failOn {
		return solana.Signature{}, errors.New("simulated " + f.failOn + " failure")
	}
	f.submissions = append(f.submissions, sub)
	return solana.Signature{byte(len(f.submissions))}, nil
}

func (f *fakeLedger) recorded() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.submissions...)
}

func instructionKind(ix solana.Instruction) string {
	switch {
	case ix.ProgramID().Equals(solana.SystemProgramID):
		return "CreateAccount"
	case ix.ProgramID().Equals(solana.TokenProgramID):
		return "InitializeAccount"
	}
	data, err := ix.Data()
	if err != nil || len(data) == 0 {
		return "invalid"
	}
	return codec.InstructionTag(data[0]).String()
}

func newSettlementTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.SettlementTask{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func newTestSequencer(t *testing.T, ledger Ledger) (*SettlementSequencer, *repository.SettlementRepository) {
	t.Helper()
	repo := repository.NewSettlementRepository(newSettlementTestDB(t))
	ladder := NewPriceLadder(decimal.RequireFromString("0.2"), decimal.RequireFromString("0.01"), 1_000_000_000)
	return NewSettlementSequencer(ledger, blockchain.NewMarketProgram(testProgramID), repo, ladder, zap.NewNop()), repo
}

func countKinds(subs []submission) map[string]int {
	counts := map[string]int{}
	for _, sub := range subs {
		counts[sub.kinds[len(sub.kinds)-1]]++
	}
	return counts
}

func TestSettleSubmitsStepsInOrder(t *testing.T) {
	ledger := newFakeLedger()
	seq, repo := newTestSequencer(t, ledger)
	market := solana.NewWallet().PublicKey()

	task, err := seq.Settle(context.Background(), market, "query", 0, Candidate{
		URL:     "https://example.com",
		Name:    "Example",
		Snippet: "an example",
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	subs := ledger.recorded()
	if len(subs) != 6 {
		t.Fatalf("submitted %d transactions, want 6", len(subs))
	}

	// Three single-instruction account creations in any order, then the dependent steps.
	for i := 0; i < 3; i++ {
		if len(subs[i].kinds) != 1 || subs[i].kinds[0] != "CreateAccount" || len(subs[i].signers) != 1 {
			t.Errorf("submission %d = %v signers=%d, want lone CreateAccount with its own signer", i, subs[i].kinds, len(subs[i].signers))
		}
	}
	wantTail := [][]string{
		{"CreateResult"},
		{"CreateAccount", "InitializeAccount", "CreateAccount", "InitializeAccount", "Deposit"},
		{"CreateAccount", "CreateOrder"},
	}
	for i, want := range wantTail {
		got := subs[3+i].kinds
		if len(got) != len(want) {
			t.Fatalf("submission %d = %v, want %v", 3+i, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("submission %d = %v, want %v", 3+i, got, want)
				break
			}
		}
	}
	if n := len(subs[3].signers); n != 0 {
		t.Errorf("CreateResult extra signers = %d, want 0", n)
	}
	if n := len(subs[4].signers); n != 2 {
		t.Errorf("deposit extra signers = %d, want 2", n)
	}
	if n := len(subs[5].signers); n != 1 {
		t.Errorf("order extra signers = %d, want 1", n)
	}

	for i, sub := range subs {
		if sub.blockhash != ledger.blockhash {
			t.Errorf("submission %d used blockhash %s", i, sub.blockhash)
		}
	}
	if ledger.blockhashes != 1 {
		t.Errorf("fetched blockhash %d times, want 1", ledger.blockhashes)
	}

	// The order data carries the ladder price and the escrow bump derived from the order account.
	orderTx := subs[5]
	orderAccount := orderTx.signers[0]
	data, err := orderTx.instructions[1].Data()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := codec.DecodeInstruction(data)
	if err != nil {
		t.Fatal(err)
	}
	order := decoded.(*codec.CreateOrder)
	escrow, bump, err := blockchain.EscrowAddress(testProgramID, orderAccount)
	if err != nil {
		t.Fatal(err)
	}
	if order.Side != codec.SideSell || order.Price != 200_000_000 || order.Quantity != 1 || order.EscrowBumpSeed != bump {
		t.Errorf("order = %+v, want sell 1 @ 200000000 bump %d", order, bump)
	}
	if got := orderTx.instructions[1].Accounts()[7].PublicKey; !got.Equals(escrow) {
		t.Errorf("escrow account = %s, want %s", got, escrow)
	}

	stored, err := repo.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.SettlementStateOrderPlaced || stored.CompletedAt == nil {
		t.Errorf("stored state = %s completed=%v", stored.State, stored.CompletedAt)
	}
	if stored.OrderAddress != orderAccount.String() || stored.EscrowAddress != escrow.String() {
		t.Errorf("stored order/escrow = %s/%s", stored.OrderAddress, stored.EscrowAddress)
	}
	if stored.Price != 200_000_000 {
		t.Errorf("stored price = %d", stored.Price)
	}
}

func TestSettleUsesRecordedAccounts(t *testing.T) {
	ledger := newFakeLedger()
	seq, repo := newTestSequencer(t, ledger)

	task, err := seq.Settle(context.Background(), solana.NewWallet().PublicKey(), "q", 2, Candidate{URL: "https://a.example", Name: "A"})
	if err != nil {
		t.Fatal(err)
	}
	stored, err := repo.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}

	created := map[string]bool{}
	subs := ledger.recorded()
	for _, sub := range subs[:3] {
		created[sub.signers[0].String()] = true
	}
	for _, addr := range []string{stored.ResultAddress, stored.YesMint, stored.NoMint} {
		if !created[addr] {
			t.Errorf("recorded address %s was not created in the first step", addr)
		}
	}

	createResult := subs[3].instructions[0].Accounts()
	if createResult[0].PublicKey.String() != stored.ResultAddress ||
		createResult[2].PublicKey.String() != stored.YesMint ||
		createResult[3].PublicKey.String() != stored.NoMint {
		t.Error("CreateResult does not reference the accounts created before it")
	}

	deposit := subs[4].instructions[4].Accounts()
	if deposit[7].PublicKey.String() != stored.YesHolding || deposit[9].PublicKey.String() != stored.NoHolding {
		t.Error("Deposit does not reference the holding accounts created in the same transaction")
	}

	if stored.Price != 180_000_000 {
		t.Errorf("price at index 2 = %d, want 180000000", stored.Price)
	}
}

func TestSettleRejectsRepeatedCandidate(t *testing.T) {
	ledger := newFakeLedger()
	seq, _ := newTestSequencer(t, ledger)
	market := solana.NewWallet().PublicKey()
	candidate := Candidate{URL: "https://example.com", Name: "Example"}

	first, err := seq.Settle(context.Background(), market, "q", 0, candidate)
	if err != nil {
		t.Fatal(err)
	}
	before := len(ledger.recorded())

	existing, err := seq.Settle(context.Background(), market, "q", 0, candidate)
	if !errors.Is(err, ErrAlreadyAttempted) {
		t.Fatalf("second Settle err = %v, want ErrAlreadyAttempted", err)
	}
	if existing == nil || existing.ID != first.ID || existing.State != models.SettlementStateOrderPlaced {
		t.Errorf("second Settle returned %+v, want the first task", existing)
	}
	if after := len(ledger.recorded()); after != before {
		t.Errorf("second Settle submitted %d transactions", after-before)
	}
}

func TestSettleStopsAtFailedStepAndResumes(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failOn = "CreateResult"
	seq, repo := newTestSequencer(t, ledger)
	ctx := context.Background()

	task, err := seq.Settle(ctx, solana.NewWallet().PublicKey(), "q", 1, Candidate{URL: "https://example.com", Name: "Example"})
	if err == nil {
		t.Fatal("expected CreateResult failure")
	}

	counts := countKinds(ledger.recorded())
	if counts["CreateAccount"] != 3 || counts["Deposit"] != 0 || counts["CreateOrder"] != 0 {
		t.Fatalf("submitted %v, want only the three account creations", counts)
	}

	stored, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.SettlementStateFailed || stored.LastConfirmedState != models.SettlementStateAccountsCreated {
		t.Fatalf("state = %s last confirmed = %s", stored.State, stored.LastConfirmedState)
	}
	if stored.LastError == "" {
		t.Error("failure was not recorded")
	}

	ledger.mu.Lock()
	ledger.failOn = ""
	ledger.mu.Unlock()

	reopened, err := repo.ReopenFailed(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.Resume(ctx, reopened); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	counts = countKinds(ledger.recorded())
	if counts["CreateAccount"] != 3 {
		t.Errorf("resume recreated accounts: %v", counts)
	}
	if counts["CreateResult"] != 1 || counts["Deposit"] != 1 || counts["CreateOrder"] != 1 {
		t.Errorf("after resume submitted %v", counts)
	}

	stored, err = repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.SettlementStateOrderPlaced || stored.Attempts != 2 {
		t.Errorf("state = %s attempts = %d", stored.State, stored.Attempts)
	}
}

func TestSettleStopsWhenOneAccountCreationFails(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failCall = 2
	seq, repo := newTestSequencer(t, ledger)
	ctx := context.Background()

	task, err := seq.Settle(ctx, solana.NewWallet().PublicKey(), "q", 0, Candidate{URL: "https://example.com", Name: "Example"})
	if err == nil {
		t.Fatal("expected account creation failure")
	}

	ledger.mu.Lock()
	calls := ledger.calls
	ledger.mu.Unlock()
	if calls != 3 {
		t.Errorf("submitted %d transactions, want the three account creations only", calls)
	}
	for _, sub := range ledger.recorded() {
		if len(sub.kinds) != 1 || sub.kinds[0] != "CreateAccount" {
			t.Errorf("unexpected submission %v after a failed account creation", sub.kinds)
		}
	}

	stored, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.SettlementStateFailed || stored.LastConfirmedState != models.SettlementStatePending {
		t.Errorf("state = %s last confirmed = %s", stored.State, stored.LastConfirmedState)
	}
	if stored.ResultAddress != "" || stored.YesMint != "" || stored.NoMint != "" {
		t.Error("accounts of a failed creation step were recorded")
	}
}

func TestResumeChecksPriceBeforeSubmitting(t *testing.T) {
	ledger := newFakeLedger()
	seq, repo := newTestSequencer(t, ledger)
	ctx := context.Background()

	task, err := seq.Settle(ctx, solana.NewWallet().PublicKey(), "q", 20, Candidate{URL: "https://example.com", Name: "Example"})
	if !errors.Is(err, ErrNonPositivePrice) {
		t.Fatalf("Settle err = %v, want ErrNonPositivePrice", err)
	}

	reopened, err := repo.ReopenFailed(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.Resume(ctx, reopened); !errors.Is(err, ErrNonPositivePrice) {
		t.Fatalf("Resume err = %v, want ErrNonPositivePrice", err)
	}

	ledger.mu.Lock()
	calls, blockhashes := ledger.calls, ledger.blockhashes
	ledger.mu.Unlock()
	if calls != 0 || blockhashes != 0 {
		t.Errorf("ledger touched: %d submissions, %d blockhash fetches", calls, blockhashes)
	}

	stored, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.SettlementStateFailed || stored.LastConfirmedState != models.SettlementStatePending {
		t.Errorf("state = %s last confirmed = %s", stored.State, stored.LastConfirmedState)
	}
}

func TestSettleFailuresAreIndependentPerCandidate(t *testing.T) {
	ledger := newFakeLedger()
	seq, repo := newTestSequencer(t, ledger)
	market := solana.NewWallet().PublicKey()

	var wg sync.WaitGroup
	errs := make([]error, 25)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = seq.Settle(context.Background(), market, "q", i, Candidate{URL: "https://example.com", Name: "Example"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if i < 20 && err != nil {
			t.Errorf("candidate %d: %v", i, err)
		}
		if i >= 20 && !errors.Is(err, ErrNonPositivePrice) {
			t.Errorf("candidate %d err = %v, want ErrNonPositivePrice", i, err)
		}
	}

	counts, err := repo.CountByState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.SettlementStateOrderPlaced] != 20 || counts[models.SettlementStateFailed] != 5 {
		t.Errorf("counts = %v", counts)
	}
}
