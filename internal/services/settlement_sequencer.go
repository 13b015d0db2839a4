package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"search-market-agent/internal/blockchain"
	"search-market-agent/internal/codec"
	"search-market-agent/internal/models"
	"search-market-agent/internal/repository"
)

var ErrAlreadyAttempted = errors.New("candidate settlement already attempted")

// orderQuantity is the number of shares minted per outcome and offered for sale
const orderQuantity = 1

// Ledger is the slice of the ledger client the sequencer needs
type Ledger interface {
	WalletPublicKey() solana.PublicKey
	MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SubmitAndConfirm(ctx context.Context, blockhash solana.Hash, instructions []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error)
}

// SettlementSequencer commits the ordered ledger transactions that turn one
// search result into a tradable outcome with a standing sell order
type SettlementSequencer struct {
	ledger  Ledger
	program *blockchain.MarketProgram
	repo    *repository.SettlementRepository
	ladder  *PriceLadder
	logger  *zap.Logger
}

func NewSettlementSequencer(
	ledger Ledger,
	program *blockchain.MarketProgram,
	repo *repository.SettlementRepository,
	ladder *PriceLadder,
	logger *zap.Logger,
) *SettlementSequencer {
	return &SettlementSequencer{
		ledger:  ledger,
		program: program,
		repo:    repo,
		ladder:  ladder,
		logger:  logger,
	}
}

// settlementRun carries what one pass over the steps shares
type settlementRun struct {
	task          *models.SettlementTask
	market        solana.PublicKey
	blockhash     solana.Hash
	mintAuthority solana.PublicKey
	authorityBump uint8
	logger        *zap.Logger
}

// Settle records a settlement task for candidate index of market and runs it
// to completion. A candidate that already has a task is never touched again
// and yields the existing task with ErrAlreadyAttempted.
func (s *SettlementSequencer) Settle(
	ctx context.Context,
	market solana.PublicKey,
	searchString string,
	index int,
	candidate Candidate,
) (*models.SettlementTask, error) {
	task := &models.SettlementTask{
		MarketAddress:      market.String(),
		CandidateIndex:     index,
		SearchString:       searchString,
		URL:                candidate.URL,
		Name:               candidate.Name,
		Snippet:            candidate.Snippet,
		State:              models.SettlementStatePending,
		LastConfirmedState: models.SettlementStatePending,
	}

	created, err := s.repo.CreateIfAbsent(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to record settlement task: %w", err)
	}
	if !created {
		existing, lookupErr := s.repo.GetByCandidate(ctx, task.MarketAddress, index)
		if lookupErr != nil {
			s.logger.Warn("failed to load existing settlement task",
				zap.String("market", task.MarketAddress),
				zap.Int("index", index),
				zap.Error(lookupErr),
			)
			existing = nil
		}
		return existing, fmt.Errorf("%w: market %s candidate %d", ErrAlreadyAttempted, market, index)
	}

	return task, s.run(ctx, task)
}

// Resume continues a non-terminal task from its recorded state
func (s *SettlementSequencer) Resume(ctx context.Context, task *models.SettlementTask) error {
	if task.State.Terminal() {
		return fmt.Errorf("settlement task %s is %s", task.ID, task.State)
	}
	return s.run(ctx, task)
}

func (s *SettlementSequencer) run(ctx context.Context, task *models.SettlementTask) error {
	log := s.taskLogger(task)

	market, err := solana.PublicKeyFromBase58(task.MarketAddress)
	if err != nil {
		return s.fail(ctx, task, log, fmt.Errorf("invalid market address: %w", err))
	}

	// Price the order before anything is spent on the ledger.
	if task.Price == 0 {
		price, err := s.ladder.Price(task.CandidateIndex)
		if err != nil {
			return s.fail(ctx, task, log, err)
		}
		task.Price = price
	}

	task.Attempts++
	task.LastError = ""
	if err := s.repo.Save(ctx, task); err != nil {
		return fmt.Errorf("failed to save settlement task: %w", err)
	}

	authority, bump, err := blockchain.MintAuthorityAddress(s.program.ID())
	if err != nil {
		return s.fail(ctx, task, log, err)
	}

	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return s.fail(ctx, task, log, err)
	}

	r := &settlementRun{
		task:          task,
		market:        market,
		blockhash:     blockhash,
		mintAuthority: authority,
		authorityBump: bump,
		logger:        log,
	}

	for !task.State.Terminal() {
		var (
			next    models.SettlementState
			stepErr error
		)

		switch task.State {
		case models.SettlementStatePending:
			next, stepErr = models.SettlementStateAccountsCreated, s.createAccounts(ctx, r)
		case models.SettlementStateAccountsCreated:
			next, stepErr = models.SettlementStateResultInitialized, s.initializeResult(ctx, r)
		case models.SettlementStateResultInitialized:
			next, stepErr = models.SettlementStateFunded, s.fundHoldings(ctx, r)
		case models.SettlementStateFunded:
			next, stepErr = models.SettlementStateOrderPlaced, s.placeOrder(ctx, r)
		default:
			stepErr = fmt.Errorf("unknown settlement state %q", task.State)
		}

		if stepErr != nil {
			return s.fail(ctx, task, log.With(zap.String("step", string(task.State))), stepErr)
		}
		if err := s.advance(ctx, task, next); err != nil {
			return err
		}
		log.Info("settlement step confirmed", zap.String("state", string(next)))
	}

	return nil
}

// createAccounts allocates the result account and both outcome mints in
// parallel and waits for all three confirmations
func (s *SettlementSequencer) createAccounts(ctx context.Context, r *settlementRun) error {
	task := r.task

	// CreateResult must encode before any lamports are spent.
	if _, err := codec.EncodeInstruction(&codec.CreateResult{
		URL:      task.URL,
		Name:     task.Name,
		Snippet:  task.Snippet,
		BumpSeed: r.authorityBump,
	}); err != nil {
		return fmt.Errorf("failed to encode create result: %w", err)
	}

	resultData, err := codec.EncodeResultRecord(&codec.ResultRecord{
		SearchMarket: r.market,
		URL:          task.URL,
		Name:         task.Name,
		Snippet:      task.Snippet,
		BumpSeed:     r.authorityBump,
	})
	if err != nil {
		return fmt.Errorf("failed to size result record: %w", err)
	}
	resultSize := uint64(len(resultData))

	resultRent, err := s.ledger.MinimumBalanceForRentExemption(ctx, resultSize)
	if err != nil {
		return err
	}
	mintRent, err := s.ledger.MinimumBalanceForRentExemption(ctx, blockchain.MintAccountSize)
	if err != nil {
		return err
	}

	resultKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}
	yesMintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}
	noMintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}

	payer := s.ledger.WalletPublicKey()
	creations := []struct {
		key      solana.PrivateKey
		owner    solana.PublicKey
		lamports uint64
		space    uint64
	}{
		{resultKey, s.program.ID(), resultRent, resultSize},
		{yesMintKey, solana.TokenProgramID, mintRent, blockchain.MintAccountSize},
		{noMintKey, solana.TokenProgramID, mintRent, blockchain.MintAccountSize},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range creations {
		g.Go(func() error {
			ix := blockchain.CreateAccountInstruction(payer, c.key.PublicKey(), c.owner, c.lamports, c.space)
			sig, err := s.ledger.SubmitAndConfirm(gctx, r.blockhash, []solana.Instruction{ix}, c.key)
			if err != nil {
				return fmt.Errorf("failed to create account %s: %w", c.key.PublicKey(), err)
			}
			r.logger.Debug("account created", zap.Stringer("account", c.key.PublicKey()), zap.Stringer("signature", sig))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	task.ResultAddress = resultKey.PublicKey().String()
	task.YesMint = yesMintKey.PublicKey().String()
	task.NoMint = noMintKey.PublicKey().String()
	task.MintAuthorityBump = r.authorityBump
	return nil
}

// initializeResult runs CreateResult against the accounts created before
func (s *SettlementSequencer) initializeResult(ctx context.Context, r *settlementRun) error {
	task := r.task
	keys, err := parseKeys(task.ResultAddress, task.YesMint, task.NoMint)
	if err != nil {
		return err
	}
	result, yesMint, noMint := keys[0], keys[1], keys[2]

	ix, err := s.program.CreateResultInstruction(blockchain.CreateResultAccounts{
		Result:        result,
		Market:        r.market,
		YesMint:       yesMint,
		NoMint:        noMint,
		MintAuthority: r.mintAuthority,
	}, codec.CreateResult{
		URL:      task.URL,
		Name:     task.Name,
		Snippet:  task.Snippet,
		BumpSeed: r.authorityBump,
	})
	if err != nil {
		return err
	}

	sig, err := s.ledger.SubmitAndConfirm(ctx, r.blockhash, []solana.Instruction{ix})
	if err != nil {
		return fmt.Errorf("create result failed: %w", err)
	}

	task.ResultTxHash = sig.String()
	task.MintAuthorityBump = r.authorityBump
	return nil
}

// fundHoldings creates one holding account per outcome mint and deposits into
// both in a single transaction
func (s *SettlementSequencer) fundHoldings(ctx context.Context, r *settlementRun) error {
	task := r.task
	keys, err := parseKeys(task.ResultAddress, task.YesMint, task.NoMint)
	if err != nil {
		return err
	}
	result, yesMint, noMint := keys[0], keys[1], keys[2]

	tokenRent, err := s.ledger.MinimumBalanceForRentExemption(ctx, blockchain.TokenAccountSize)
	if err != nil {
		return err
	}

	yesHoldingKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}
	noHoldingKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}
	yesHolding, noHolding := yesHoldingKey.PublicKey(), noHoldingKey.PublicKey()

	payer := s.ledger.WalletPublicKey()
	deposit, err := s.program.DepositInstruction(blockchain.DepositAccounts{
		Market:        r.market,
		Result:        result,
		Payer:         payer,
		MintAuthority: r.mintAuthority,
		YesMint:       yesMint,
		YesHolding:    yesHolding,
		NoMint:        noMint,
		NoHolding:     noHolding,
	}, orderQuantity)
	if err != nil {
		return err
	}

	instructions := []solana.Instruction{
		blockchain.CreateAccountInstruction(payer, yesHolding, solana.TokenProgramID, tokenRent, blockchain.TokenAccountSize),
		blockchain.InitializeTokenAccountInstruction(yesHolding, yesMint, payer),
		blockchain.CreateAccountInstruction(payer, noHolding, solana.TokenProgramID, tokenRent, blockchain.TokenAccountSize),
		blockchain.InitializeTokenAccountInstruction(noHolding, noMint, payer),
		deposit,
	}

	sig, err := s.ledger.SubmitAndConfirm(ctx, r.blockhash, instructions, yesHoldingKey, noHoldingKey)
	if err != nil {
		return fmt.Errorf("deposit failed: %w", err)
	}

	task.YesHolding = yesHolding.String()
	task.NoHolding = noHolding.String()
	task.DepositTxHash = sig.String()
	return nil
}

// placeOrder creates the order account and a sell order for the yes shares
func (s *SettlementSequencer) placeOrder(ctx context.Context, r *settlementRun) error {
	task := r.task
	if task.Price == 0 {
		return ErrNonPositivePrice
	}
	keys, err := parseKeys(task.ResultAddress, task.YesMint, task.YesHolding)
	if err != nil {
		return err
	}
	result, yesMint, yesHolding := keys[0], keys[1], keys[2]

	orderKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}
	order := orderKey.PublicKey()

	escrow, escrowBump, err := blockchain.EscrowAddress(s.program.ID(), order)
	if err != nil {
		return err
	}

	payer := s.ledger.WalletPublicKey()
	orderData, err := codec.EncodeOrderRecord(&codec.OrderRecord{
		SearchMarket:       r.market,
		Result:             result,
		SolAccount:         payer,
		TokenAccount:       yesHolding,
		Side:               codec.SideSell,
		Price:              task.Price,
		Quantity:           orderQuantity,
		EscrowBumpSeed:     escrowBump,
		ExecutionAuthority: payer,
	})
	if err != nil {
		return fmt.Errorf("failed to size order record: %w", err)
	}
	orderSize := uint64(len(orderData))

	orderRent, err := s.ledger.MinimumBalanceForRentExemption(ctx, orderSize)
	if err != nil {
		return err
	}

	createOrder, err := s.program.CreateOrderInstruction(blockchain.CreateOrderAccounts{
		Order:        order,
		Market:       r.market,
		Result:       result,
		Payer:        payer,
		TokenAccount: yesHolding,
		Mint:         yesMint,
		Escrow:       escrow,
	}, codec.CreateOrder{
		Side:           codec.SideSell,
		Price:          task.Price,
		Quantity:       orderQuantity,
		EscrowBumpSeed: escrowBump,
	})
	if err != nil {
		return err
	}

	instructions := []solana.Instruction{
		blockchain.CreateAccountInstruction(payer, order, s.program.ID(), orderRent, orderSize),
		createOrder,
	}

	sig, err := s.ledger.SubmitAndConfirm(ctx, r.blockhash, instructions, orderKey)
	if err != nil {
		return fmt.Errorf("create order failed: %w", err)
	}

	task.OrderAddress = order.String()
	task.EscrowAddress = escrow.String()
	task.OrderTxHash = sig.String()
	return nil
}

func (s *SettlementSequencer) advance(ctx context.Context, task *models.SettlementTask, next models.SettlementState) error {
	task.State = next
	task.LastConfirmedState = next
	if next == models.SettlementStateOrderPlaced {
		now := time.Now()
		task.CompletedAt = &now
	}
	if err := s.repo.Save(ctx, task); err != nil {
		return fmt.Errorf("failed to save settlement task %s at %s: %w", task.ID, next, err)
	}
	return nil
}

// fail records err on the task. A task interrupted by shutdown keeps its state
// so the next start resumes it; anything else is parked as failed.
func (s *SettlementSequencer) fail(ctx context.Context, task *models.SettlementTask, log *zap.Logger, err error) error {
	task.LastError = err.Error()

	if ctx.Err() != nil {
		log.Warn("settlement interrupted", zap.Error(err))
	} else {
		if task.State != models.SettlementStateFailed {
			task.LastConfirmedState = task.State
		}
		task.State = models.SettlementStateFailed
		log.Error("settlement failed", zap.Error(err))
	}

	if saveErr := s.repo.Save(context.WithoutCancel(ctx), task); saveErr != nil {
		log.Error("failed to save settlement failure", zap.Error(saveErr))
	}
	return err
}

func (s *SettlementSequencer) taskLogger(task *models.SettlementTask) *zap.Logger {
	return s.logger.With(
		zap.String("market", task.MarketAddress),
		zap.Int("index", task.CandidateIndex),
		zap.String("task_id", task.ID.String()),
	)
}

func parseKeys(addresses ...string) ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, len(addresses))
	for i, address := range addresses {
		key, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			return nil, fmt.Errorf("invalid recorded address %q: %w", address, err)
		}
		keys[i] = key
	}
	return keys, nil
}
