package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
	"github.com/oasisprotocol/datapool/storage"
)

// DefaultPollInterval is the interval between two ledger polls.
const DefaultPollInterval = 150 * time.Second

// ListenerConfig selects the transactions a listener delivers.
type ListenerConfig struct {
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Pool is used for journaling only.
	Pool uint64
	// Tags every delivered transaction carries.
	Tags []common.Tag
	// Owners restricts delivery to transactions authored by these identities.
	Owners []string
}

// Listener tails the ledger for pool transactions. It remembers the last
// height it fully scanned and, on each poll, delivers every matching
// transaction above it in ascending height order.
//
// Delivery is at-least-once: a window is only advanced after all of its
// transactions were handed downstream, so a failed poll is retried as a
// whole on the next tick.
type Listener struct {
	client  Client
	cfg     ListenerConfig
	journal storage.Journal
	metrics *metrics.PoolMetrics
	logger  *log.Logger

	mu          sync.RWMutex
	window      common.LedgerWindow
	initialized bool
}

// NewListener creates a listener. The journal may be nil.
func NewListener(client Client, cfg ListenerConfig, journal storage.Journal, m *metrics.PoolMetrics, logger *log.Logger) *Listener {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if journal == nil {
		journal = storage.NewNopJournal()
	}
	return &Listener{
		client:  client,
		cfg:     cfg,
		journal: journal,
		metrics: m,
		logger:  logger.WithModule("listener"),
	}
}

// Window returns the current ledger window.
func (l *Listener) Window() common.LedgerWindow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.window
}

// Init anchors the window at the current ledger height. Transactions at or
// below it are never delivered.
func (l *Listener) Init(ctx context.Context) error {
	height, err := l.client.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("querying current height: %w", err)
	}
	l.mu.Lock()
	l.window = common.LedgerWindow{LastObserved: height, Current: height}
	l.initialized = true
	l.mu.Unlock()
	l.metrics.WindowHeight().Set(float64(height))
	l.logger.Info("listening for pool transactions", "height", height)
	return nil
}

// Start polls the ledger until ctx is canceled, delivering pool transactions
// to out. Start does not close out.
func (l *Listener) Start(ctx context.Context, out chan<- common.ObservedTransaction) error {
	backoff, err := common.NewBackoff(min(time.Second, l.cfg.PollInterval), l.cfg.PollInterval)
	if err != nil {
		return err
	}
	for {
		err := l.Init(ctx)
		if err == nil {
			break
		}
		l.metrics.Polls(metrics.StatusFailure).Inc()
		l.logger.Error("failed to initialize ledger window", "err", err, "retry_in", backoff.Timeout())
		if backoff.Wait(ctx) != nil {
			return nil
		}
	}

	for {
		select {
		case <-time.After(l.cfg.PollInterval):
		case <-ctx.Done():
			l.logger.Info("shutting down listener", "reason", ctx.Err(), "window", l.Window().LastObserved)
			return nil
		}
		if err := l.Poll(ctx, out); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("poll interrupted", "window", l.Window().LastObserved)
				return nil
			}
			l.logger.Error("ledger poll failed, retrying the window on next tick",
				"err", err,
				"window", l.Window().LastObserved,
			)
		}
	}
}

// Poll runs a single scan: it reads the ledger height and, if the ledger
// moved, delivers all pool transactions in (LastObserved, height].
// Ledger reads are not interrupted by ctx; only a blocked delivery is.
func (l *Listener) Poll(ctx context.Context, out chan<- common.ObservedTransaction) error {
	l.mu.RLock()
	initialized := l.initialized
	l.mu.RUnlock()
	if !initialized {
		return l.Init(ctx)
	}

	fetchCtx := context.WithoutCancel(ctx)
	height, err := l.client.CurrentHeight(fetchCtx)
	if err != nil {
		l.metrics.Polls(metrics.StatusFailure).Inc()
		return fmt.Errorf("querying current height: %w", err)
	}

	l.mu.Lock()
	last := l.window.LastObserved
	if height <= last {
		// The ledger did not move, or the gateway lags behind what we saw.
		l.mu.Unlock()
		l.metrics.Polls(metrics.StatusNoop).Inc()
		l.logger.Debug("ledger height unchanged", "height", height, "window", last)
		return nil
	}
	l.window.Current = height
	l.mu.Unlock()

	l.logger.Debug("scanning ledger window", "from", last+1, "to", height)
	txs, err := l.client.QueryTagged(fetchCtx, Query{
		Tags:        l.cfg.Tags,
		Owners:      l.cfg.Owners,
		MinHeight:   last + 1,
		MaxHeight:   height,
		IncludeData: true,
	})
	if err != nil {
		l.metrics.Polls(metrics.StatusFailure).Inc()
		return fmt.Errorf("querying window (%d, %d]: %w", last, height, err)
	}
	txs = windowed(txs, last, height)

	for _, tx := range txs {
		select {
		case out <- tx:
			l.metrics.Observed().Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	l.window.LastObserved = height
	window := l.window
	l.mu.Unlock()

	l.metrics.Polls(metrics.StatusSuccess).Inc()
	l.metrics.WindowHeight().Set(float64(height))
	if err := l.journal.RecordWindow(fetchCtx, l.cfg.Pool, window); err != nil {
		l.logger.Warn("failed to journal window", "err", err)
	}
	l.logger.Info("scanned ledger window", "to", height, "transactions", len(txs))
	return nil
}

// windowed drops transactions outside (from, to] and sorts the rest by
// height. Gateways are not trusted to honour the requested bounds.
func windowed(txs []common.ObservedTransaction, from, to uint64) []common.ObservedTransaction {
	res := make([]common.ObservedTransaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Height > from && tx.Height <= to {
			res = append(res, tx)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Height < res[j].Height
	})
	return res
}
