package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satoshis-endgame/sentinel/internal/adapters/config"
	"github.com/satoshis-endgame/sentinel/internal/adapters/providers"
	"github.com/satoshis-endgame/sentinel/internal/registry"
	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// ChainSource is the provider boundary consumed by the monitor. Satisfied by
// providers.Pool.
type ChainSource interface {
	LatestHeight(ctx context.Context) (int64, error)
	GetBlock(ctx context.Context, height int64) (*models.Block, error)
	AddressInfo(ctx context.Context, address string) (*models.AddressInfo, error)
}

// EventSink receives committed activity events, in log order.
type EventSink interface {
	Publish(events []models.ActivityEvent)
}

// Leader gates polling when several instances share one database. Nil leader
// means always active.
type Leader interface {
	TryAcquire(ctx context.Context) bool
}

// BlockMonitor polls for new blocks, matches transactions against the watched
// address registry and commits activity events atomically with the chain
// position. One cycle: POLL -> FETCH -> MATCH -> COMMIT, strictly sequential
// by height.
type BlockMonitor struct {
	source ChainSource
	reg    *registry.Registry
	store  Store
	sink   EventSink
	leader Leader
	cfg    config.MonitorConfig

	lastSeen int64
	tipHash  string
	loaded   bool
}

// New creates a block monitor.
func New(source ChainSource, reg *registry.Registry, store Store, sink EventSink, leader Leader, cfg config.MonitorConfig) *BlockMonitor {
	return &BlockMonitor{
		source: source,
		reg:    reg,
		store:  store,
		sink:   sink,
		leader: leader,
		cfg:    cfg,
	}
}

// Name implements worker.Worker.
func (m *BlockMonitor) Name() string {
	return "block_monitor"
}

// Run executes one poll cycle. Provider exhaustion abandons the cycle without
// advancing; only a persistent commit failure is surfaced as an error.
func (m *BlockMonitor) Run(ctx context.Context) error {
	if m.leader != nil && !m.leader.TryAcquire(ctx) {
		return nil // standby instance
	}

	if !m.loaded {
		if err := m.restore(ctx); err != nil {
			return err
		}
	}

	latest, err := m.source.LatestHeight(ctx)
	if err != nil {
		if errors.Is(err, providers.ErrProviderExhausted) {
			logger.Warn("all providers failed for tip height, skipping cycle", zap.Error(err))
			return nil
		}
		return err
	}

	if m.lastSeen == 0 {
		// Fresh start: adopt the current tip as baseline, emit nothing.
		return m.adoptBaseline(ctx, latest)
	}

	if latest <= m.lastSeen {
		return nil
	}

	from := m.lastSeen + 1
	if latest-m.lastSeen > m.cfg.MaxCatchUpBlocks {
		skippedTo := latest - m.cfg.MaxCatchUpBlocks
		logger.Warn("catch-up window exceeded, skipping block range",
			zap.Int64("gap_from", from),
			zap.Int64("gap_to", skippedTo),
			zap.Int64("skipped", skippedTo-from+1),
		)
		from = skippedTo + 1
		m.tipHash = "" // parent continuity broken across the gap
	}

	logger.Info("new blocks detected",
		zap.Int64("from", from),
		zap.Int64("to", latest),
		zap.Int64("count", latest-from+1),
	)

	for height := from; height <= latest; height++ {
		if ctx.Err() != nil {
			return nil
		}

		block, err := m.source.GetBlock(ctx, height)
		if err != nil {
			if errors.Is(err, providers.ErrProviderExhausted) {
				logger.Warn("all providers failed for block, abandoning cycle",
					zap.Int64("height", height),
					zap.Error(err),
				)
				return nil
			}
			return err
		}

		if m.tipHash != "" && block.PrevHash != m.tipHash {
			rewound, err := m.handleReorg(ctx, block)
			if err != nil {
				return err
			}
			if rewound >= 0 {
				height = rewound // continue from the common ancestor
				continue
			}
			// unresolved: adopt the new chain from this block onward
		}

		if err := m.processBlock(ctx, block); err != nil {
			return err
		}
	}

	return nil
}

// restore loads the committed position on first run.
func (m *BlockMonitor) restore(ctx context.Context) error {
	state, err := m.store.LoadChainState(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore chain state: %w", err)
	}
	if state != nil {
		m.lastSeen = state.LastSeenHeight
		m.tipHash = state.TipHash
		logger.Info("resuming from committed chain state",
			zap.Int64("height", m.lastSeen),
		)
	}
	m.loaded = true
	return nil
}

func (m *BlockMonitor) adoptBaseline(ctx context.Context, height int64) error {
	block, err := m.source.GetBlock(ctx, height)
	if err != nil {
		if errors.Is(err, providers.ErrProviderExhausted) {
			logger.Warn("all providers failed for baseline block", zap.Error(err))
			return nil
		}
		return err
	}
	if err := m.commit(ctx, models.BlockTip{Height: block.Height, Hash: block.Hash}, nil); err != nil {
		return err
	}
	logger.Info("baseline height adopted", zap.Int64("height", height))
	return nil
}

// handleReorg rewinds through stored tips looking for a common ancestor
// within the configured lookback. Returns the ancestor height to resume from,
// or -1 when the divergence is deeper than the lookback.
func (m *BlockMonitor) handleReorg(ctx context.Context, block *models.Block) (int64, error) {
	logger.Warn("chain reorg detected",
		zap.Int64("height", block.Height),
		zap.String("expected_parent", m.tipHash),
		zap.String("actual_parent", block.PrevHash),
	)

	tips, err := m.store.RecentTips(ctx, m.cfg.ReorgLookback)
	if err != nil {
		return -1, err
	}

	for _, tip := range tips {
		fetched, err := m.source.GetBlock(ctx, tip.Height)
		if err != nil {
			if errors.Is(err, providers.ErrProviderExhausted) {
				logger.Warn("providers exhausted during reorg rewind", zap.Error(err))
				return -1, nil
			}
			return -1, err
		}
		if fetched.Hash == tip.Hash {
			logger.Info("reorg common ancestor found",
				zap.Int64("ancestor", tip.Height),
				zap.Int64("rewound_blocks", m.lastSeen-tip.Height),
			)
			m.lastSeen = tip.Height
			m.tipHash = tip.Hash
			return tip.Height, nil
		}
	}

	logger.Error("unresolved reorg deeper than lookback, adopting new chain",
		zap.Int64("height", block.Height),
		zap.Int("lookback", m.cfg.ReorgLookback),
	)
	return -1, nil
}

// processBlock matches one block against the registry, fetches details for
// matches with bounded parallelism, and commits height + events atomically.
func (m *BlockMonitor) processBlock(ctx context.Context, block *models.Block) error {
	matched := m.matchBlock(block)

	var events []models.ActivityEvent
	if len(matched) > 0 {
		logger.Warn("watched address activity detected",
			zap.Int64("height", block.Height),
			zap.Int("addresses", len(matched)),
		)
		events = m.buildEvents(ctx, block, matched)
	}

	tip := models.BlockTip{Height: block.Height, Hash: block.Hash}
	if err := m.commit(ctx, tip, events); err != nil {
		return err
	}

	for _, ev := range events {
		ts := block.Timestamp
		m.reg.MarkActivity(ctx, ev.Address, ts, ev.BalanceSats, 0)
	}
	if len(events) > 0 && m.sink != nil {
		m.sink.Publish(events)
	}

	logger.Debug("block committed",
		zap.Int64("height", block.Height),
		zap.Int("transactions", len(block.Transactions)),
		zap.Int("events", len(events)),
	)
	return nil
}

// matchBlock intersects block addresses with the registry. Cost is
// proportional to addresses in the block, independent of registry size.
func (m *BlockMonitor) matchBlock(block *models.Block) map[string]struct{} {
	matched := make(map[string]struct{})
	for _, tx := range block.Transactions {
		for _, in := range tx.Inputs {
			if m.reg.Contains(in.Address) {
				matched[in.Address] = struct{}{}
			}
		}
		for _, out := range tx.Outputs {
			if m.reg.Contains(out.Address) {
				matched[out.Address] = struct{}{}
			}
		}
	}
	return matched
}

// buildEvents fetches address details with up to DetailWorkers in flight and
// assembles the block's events. Events are appended only after every fetch
// finished, keeping the per-block commit atomic; detail-fetch failure
// degrades to registry metadata instead of dropping the event.
func (m *BlockMonitor) buildEvents(ctx context.Context, block *models.Block, matched map[string]struct{}) []models.ActivityEvent {
	type detail struct {
		balance int64
		txCount int
	}
	details := make(map[string]detail, len(matched))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.DetailWorkers)
	for addr := range matched {
		addr := addr
		g.Go(func() error {
			info, err := m.source.AddressInfo(gctx, addr)
			if err != nil {
				logger.Warn("address detail fetch failed, using registry metadata",
					zap.String("address", addr),
					zap.Error(err),
				)
				if entry, ok := m.reg.Get(addr); ok {
					mu.Lock()
					details[addr] = detail{balance: entry.BalanceSats, txCount: entry.TxCount}
					mu.Unlock()
				}
				return nil
			}
			mu.Lock()
			details[addr] = detail{balance: info.BalanceSats, txCount: info.TxCount}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Events keep discovery order: transactions as the block lists them,
	// inputs before outputs within each.
	var events []models.ActivityEvent
	for _, tx := range block.Transactions {
		for _, in := range tx.Inputs {
			if _, ok := matched[in.Address]; ok {
				events = append(events, m.newEvent(block, tx.TxID, in.Address, in.ValueSats, "out", details[in.Address].balance))
			}
		}
		for _, out := range tx.Outputs {
			if _, ok := matched[out.Address]; ok {
				events = append(events, m.newEvent(block, tx.TxID, out.Address, out.ValueSats, "in", details[out.Address].balance))
			}
		}
	}
	return events
}

// Dormancy is measured as of the block timestamp, not wall clock, so catch-up
// and replay produce the same events.
func (m *BlockMonitor) newEvent(block *models.Block, txID, address string, amount int64, direction string, balance int64) models.ActivityEvent {
	dormancy, _ := m.reg.DormancyDays(address, block.Timestamp)
	return models.ActivityEvent{
		Address:             address,
		TxID:                txID,
		BlockHeight:         block.Height,
		AmountSats:          amount,
		BalanceSats:         balance,
		ObservedAt:          block.Timestamp,
		DormancyDaysAtEvent: dormancy,
		Direction:           direction,
	}
}

// commit persists atomically with bounded retries. The commit itself is
// shielded from cancellation so an in-flight block finishes during shutdown.
func (m *BlockMonitor) commit(ctx context.Context, tip models.BlockTip, events []models.ActivityEvent) error {
	commitCtx := context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt <= m.cfg.CommitRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying block commit",
				zap.Int64("height", tip.Height),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			select {
			case <-time.After(m.cfg.CommitBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("commit aborted at height %d: %w", tip.Height, err)
			}
		}
		if err = m.store.CommitBlock(commitCtx, tip, events); err == nil {
			m.lastSeen = tip.Height
			m.tipHash = tip.Hash
			return nil
		}
	}

	return fmt.Errorf("failed to commit block %d after %d attempts: %w",
		tip.Height, m.cfg.CommitRetries+1, err)
}
