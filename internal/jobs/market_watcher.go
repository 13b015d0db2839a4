package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"search-market-agent/internal/blockchain"
	"search-market-agent/internal/codec"
	"search-market-agent/internal/models"
	"search-market-agent/internal/reporting"
	"search-market-agent/internal/services"
)

// NotificationStream delivers program account changes until closed
type NotificationStream interface {
	Recv(ctx context.Context) (*blockchain.AccountNotification, error)
	Close()
}

// Subscriber opens a fresh notification stream
type Subscriber func(ctx context.Context) (NotificationStream, error)

type Resolver interface {
	Resolve(ctx context.Context, query string) ([]services.Candidate, error)
}

type Settler interface {
	Settle(ctx context.Context, market solana.PublicKey, searchString string, index int, candidate services.Candidate) (*models.SettlementTask, error)
}

type Funder interface {
	EnsureFunded(ctx context.Context) error
}

// AccountLister lists current program accounts of one kind
type AccountLister interface {
	ProgramAccounts(ctx context.Context, programID solana.PublicKey, kind byte) ([]blockchain.AccountNotification, error)
}

// MarketWatcher reacts to market account changes by resolving undecided
// markets and settling every candidate result
type MarketWatcher struct {
	subscribe      Subscriber
	resolver       Resolver
	settler        Settler
	funder         Funder
	reporter       reporting.Reporter
	logger         *zap.Logger
	reconnectDelay time.Duration
	inflight       sync.WaitGroup
	stopped        chan struct{}
}

// NewMarketWatcher creates a new market watcher job
func NewMarketWatcher(
	subscribe Subscriber,
	resolver Resolver,
	settler Settler,
	funder Funder,
	reporter reporting.Reporter,
	logger *zap.Logger,
) *MarketWatcher {
	return &MarketWatcher{
		subscribe:      subscribe,
		resolver:       resolver,
		settler:        settler,
		funder:         funder,
		reporter:       reporter,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
		stopped:        make(chan struct{}),
	}
}

// Start consumes notifications until ctx is cancelled, reopening the stream
// whenever it drops. Each notification is handled on its own goroutine.
func (w *MarketWatcher) Start(ctx context.Context) {
	defer close(w.stopped)
	w.logger.Info("starting market watcher")

	for {
		stream, err := w.subscribe(ctx)
		if err != nil {
			w.logger.Error("subscription failed", zap.Error(err), zap.Duration("retry_in", w.reconnectDelay))
			if !w.sleep(ctx) {
				break
			}
			continue
		}

		w.consume(ctx, stream)
		stream.Close()

		if ctx.Err() != nil {
			break
		}
		w.logger.Warn("subscription dropped, reconnecting", zap.Duration("retry_in", w.reconnectDelay))
		if !w.sleep(ctx) {
			break
		}
	}

	w.logger.Info("stopping market watcher")
}

// Wait blocks until Start has returned and every dispatched notification has
// been handled. It must only be called once Start has been launched.
func (w *MarketWatcher) Wait() {
	<-w.stopped
	w.inflight.Wait()
}

func (w *MarketWatcher) consume(ctx context.Context, stream NotificationStream) {
	for {
		notification, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("notification stream error", zap.Error(err))
			}
			return
		}
		w.dispatch(ctx, *notification)
	}
}

func (w *MarketWatcher) dispatch(ctx context.Context, notification blockchain.AccountNotification) {
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		w.HandleNotification(ctx, notification)
	}()
}

// Sweep feeds every existing market account through the notification path.
// Candidates settled before are skipped by the settler.
func (w *MarketWatcher) Sweep(ctx context.Context, lister AccountLister, programID solana.PublicKey) error {
	accounts, err := lister.ProgramAccounts(ctx, programID, byte(codec.KindMarket))
	if err != nil {
		return fmt.Errorf("failed to sweep markets: %w", err)
	}

	w.logger.Info("sweeping existing markets", zap.Int("accounts", len(accounts)))
	for _, account := range accounts {
		w.dispatch(ctx, account)
	}
	return nil
}

// HandleNotification processes one account change. Failures are logged and
// reported here and never reach the stream loop.
func (w *MarketWatcher) HandleNotification(ctx context.Context, notification blockchain.AccountNotification) {
	log := w.logger.With(zap.String("market", notification.Account.String()))

	if err := w.funder.EnsureFunded(ctx); err != nil {
		log.Warn("airdrop top-up failed", zap.Error(err))
	}

	if codec.IsZeroed(notification.Data) {
		return
	}
	if kind, err := codec.KindOf(notification.Data); err != nil || kind != codec.KindMarket {
		return
	}

	market, err := codec.DecodeMarketRecord(notification.Data)
	if err != nil {
		log.Debug("skipping undecodable market account", zap.Error(err))
		return
	}
	if market.Decided() {
		log.Debug("market decided, skipping", zap.Stringer("best_result", market.BestResult))
		return
	}

	candidates, err := w.resolver.Resolve(ctx, market.SearchString)
	if err != nil {
		w.fail(ctx, log, notification.Account, market, err)
		return
	}
	log.Info("settling candidates", zap.String("search_string", market.SearchString), zap.Int("candidates", len(candidates)))

	var wg sync.WaitGroup
	for index, candidate := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.settleCandidate(ctx, log, notification.Account, market, index, candidate)
		}()
	}
	wg.Wait()
}

func (w *MarketWatcher) settleCandidate(
	ctx context.Context,
	log *zap.Logger,
	account solana.PublicKey,
	market *codec.MarketRecord,
	index int,
	candidate services.Candidate,
) {
	log = log.With(zap.Int("index", index))

	task, err := w.settler.Settle(ctx, account, market.SearchString, index, candidate)
	if errors.Is(err, services.ErrAlreadyAttempted) {
		if task != nil {
			log = log.With(zap.String("task_id", task.ID.String()), zap.String("state", string(task.State)))
		}
		log.Debug("candidate already attempted")
		return
	}
	if err != nil {
		meta := marketMetadata(account, market)
		settlement := map[string]interface{}{"index": index, "url": candidate.URL}
		if task != nil {
			settlement["taskId"] = task.ID.String()
			settlement["lastConfirmedState"] = string(task.LastConfirmedState)
		}
		meta["settlement"] = settlement
		log.Error("candidate settlement failed", zap.Error(err))
		w.reporter.Report(ctx, err, meta)
		return
	}

	log.Info("candidate settled",
		zap.String("task_id", task.ID.String()),
		zap.String("order", task.OrderAddress),
	)
}

func (w *MarketWatcher) fail(ctx context.Context, log *zap.Logger, account solana.PublicKey, market *codec.MarketRecord, err error) {
	log.Error("market handling failed", zap.Error(err))
	w.reporter.Report(ctx, err, marketMetadata(account, market))
}

func (w *MarketWatcher) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.reconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func marketMetadata(account solana.PublicKey, market *codec.MarketRecord) reporting.Metadata {
	tab := map[string]interface{}{"searchMarketId": account.String()}
	if market != nil {
		tab["searchMarket"] = map[string]interface{}{
			"searchString": market.SearchString,
			"bestResult":   market.BestResult.String(),
		}
	}
	return reporting.Metadata{"market": tab}
}
