// Package node implements the pool runtime: it determines the node's role
// in a pool and runs the producer or verifier pipeline.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oasisprotocol/datapool/bundler"
	"github.com/oasisprotocol/datapool/cache/kvstore"
	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/contract"
	"github.com/oasisprotocol/datapool/ledger"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
	"github.com/oasisprotocol/datapool/storage"
)

const (
	moduleName = "node"

	// DefaultFinalityInterval is the interval between two status polls of a
	// contract action.
	DefaultFinalityInterval = 30 * time.Second
	// DefaultQueueSize is the capacity of the queues between pipeline stages.
	DefaultQueueSize = 16

	// Bounds the best-effort actions taken while shutting down.
	shutdownActionTimeout = time.Minute
)

// ErrRegistrationFailed is returned when a verifier cannot lock its stake or
// register with the pool.
var ErrRegistrationFailed = errors.New("registration failed")

// Role is the part a node plays in a pool.
type Role string

const (
	RoleProducer Role = "producer"
	RoleVerifier Role = "verifier"
)

// State is the lifecycle state of a node.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateRoleDetermined State = "role_determined"
	StateRegistering    State = "registering"
	StateActive         State = "active"
	StateTerminated     State = "terminated"
)

// DetermineRole returns the role of identity in pool. The pool's uploader
// is its producer; everybody else verifies.
func DetermineRole(identity string, pool *common.PoolConfig) Role {
	if identity == pool.Uploader {
		return RoleProducer
	}
	return RoleVerifier
}

// Config holds the tunables of a node.
type Config struct {
	// Stake is the stake a verifier wants locked. The pool's minimum stake
	// is locked if it is larger.
	Stake common.BigInt
	// Application is the value of the Application tag.
	Application string
	// PollInterval is the ledger polling interval of the verifier.
	PollInterval time.Duration
	// FinalityInterval is the polling interval of contract action statuses.
	FinalityInterval time.Duration
	// QueueSize is the capacity of the queues between pipeline stages.
	QueueSize int
}

// Dependencies are the collaborators of a node. Source is required to run
// as a producer, Validator to run as a verifier.
type Dependencies struct {
	Contract  *contract.Facade
	Ledger    ledger.Client
	Signer    ledger.Signer
	Source    Source
	Validator Validator

	// Journal defaults to a journal that discards everything.
	Journal storage.Journal
	// Cache backs the judged-transaction set; defaults to process memory.
	Cache kvstore.KVStore
	// Metrics defaults to the process-wide pool metrics.
	Metrics *metrics.PoolMetrics
}

// Node is a pool node. A node runs once.
type Node struct {
	cfg       Config
	contract  *contract.Facade
	ledger    ledger.Client
	signer    ledger.Signer
	source    Source
	validator Validator
	journal   storage.Journal
	cache     kvstore.KVStore
	metrics   *metrics.PoolMetrics
	logger    *log.Logger

	mu       sync.RWMutex
	state    State
	role     Role
	pool     *common.PoolConfig
	buffer   *bundler.Buffer
	listener *ledger.Listener

	pendingMu sync.Mutex
	pending   map[string]common.ObservedTransaction

	committed atomic.Uint64
	dropped   atomic.Uint64
	judged    atomic.Uint64
	invalid   atomic.Uint64
	disputes  atomic.Uint64
}

// New creates a node.
func New(cfg Config, deps Dependencies, logger *log.Logger) (*Node, error) {
	if deps.Contract == nil || deps.Ledger == nil || deps.Signer == nil {
		return nil, fmt.Errorf("contract, ledger and signer are required")
	}
	if cfg.Application == "" {
		cfg.Application = common.DefaultApplication
	}
	if cfg.FinalityInterval == 0 {
		cfg.FinalityInterval = DefaultFinalityInterval
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if deps.Journal == nil {
		deps.Journal = storage.NewNopJournal()
	}
	if deps.Metrics == nil {
		m := metrics.NewDefaultPoolMetrics("datapool")
		deps.Metrics = &m
	}
	if deps.Cache == nil {
		deps.Cache = kvstore.NewMemoryKVStore(deps.Metrics)
	}
	return &Node{
		cfg:       cfg,
		contract:  deps.Contract,
		ledger:    deps.Ledger,
		signer:    deps.Signer,
		source:    deps.Source,
		validator: deps.Validator,
		journal:   deps.Journal,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		logger:    logger.WithModule(moduleName).With("pool", deps.Contract.Pool()),
		state:     StateUninitialized,
		pending:   make(map[string]common.ObservedTransaction),
	}, nil
}

// State returns the lifecycle state of the node.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Role returns the role of the node, empty until it is determined.
func (n *Node) Role() Role {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	prev := n.state
	n.state = s
	n.mu.Unlock()
	n.logger.Debug("state transition", "from", prev, "to", s)
}

// Run joins the pool and runs the node's role until ctx is canceled. A
// verifier unregisters from the pool before Run returns; a producer waits
// for its in-flight commit.
func (n *Node) Run(ctx context.Context) error {
	defer n.setState(StateTerminated)

	pool, stake, err := n.readPoolState(ctx)
	if err != nil {
		return err
	}
	role := DetermineRole(n.signer.Address(), pool)
	n.mu.Lock()
	n.pool = pool
	n.role = role
	n.mu.Unlock()
	n.setState(StateRoleDetermined)
	n.logger.Info("found pool",
		"name", pool.Name,
		"architecture", pool.Architecture,
		"identity", n.signer.Address(),
		"role", role,
	)

	switch role {
	case RoleProducer:
		if n.source == nil {
			return fmt.Errorf("running as producer requires a data source")
		}
		n.logger.Info("running as an uploader")
		return n.runProducer(ctx, *pool)
	default:
		if n.validator == nil {
			return fmt.Errorf("running as verifier requires a validator")
		}
		stake.Required = common.Max(stake.Required, n.cfg.Stake)
		if err = n.register(ctx, stake); err != nil {
			return err
		}
		defer n.unregister(ctx)
		n.logger.Info("running as a validator")
		return n.runVerifier(ctx, *pool)
	}
}

// readPoolState reads the pool state, retrying while the contract is
// unavailable. Other errors are fatal.
func (n *Node) readPoolState(ctx context.Context) (*common.PoolConfig, *common.StakeState, error) {
	for {
		pool, stake, err := n.contract.ReadPoolState(ctx, n.signer.Address())
		switch {
		case err == nil:
			return pool, stake, nil
		case errors.Is(err, contract.ErrContractUnavailable) && ctx.Err() == nil:
			n.logger.Warn("contract unavailable, retrying", "err", err)
		default:
			return nil, nil, fmt.Errorf("reading pool state: %w", err)
		}
		select {
		case <-time.After(n.cfg.FinalityInterval):
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("reading pool state: %w", ctx.Err())
		}
	}
}

// PoolStatus summarizes the pool a node runs in.
type PoolStatus struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	Architecture string `json:"architecture"`
	Uploader     string `json:"uploader"`
	BundleSize   int    `json:"bundle_size"`
}

// Status is a point-in-time snapshot of a node.
type Status struct {
	Identity     string               `json:"identity"`
	Role         Role                 `json:"role,omitempty"`
	State        State                `json:"state"`
	Pool         *PoolStatus          `json:"pool,omitempty"`
	Window       *common.LedgerWindow `json:"window,omitempty"`
	BufferLength *int                 `json:"buffer_length,omitempty"`
	Committed    uint64               `json:"committed_bundles"`
	Dropped      uint64               `json:"dropped_records"`
	Judged       uint64               `json:"judged_transactions"`
	Invalid      uint64               `json:"invalid_transactions"`
	Disputes     uint64               `json:"disputes"`
}

// Status returns a snapshot of the node.
func (n *Node) Status() Status {
	n.mu.RLock()
	s := Status{
		Identity: n.signer.Address(),
		Role:     n.role,
		State:    n.state,
	}
	pool, buffer, listener := n.pool, n.buffer, n.listener
	n.mu.RUnlock()

	if pool != nil {
		s.Pool = &PoolStatus{
			ID:           pool.ID,
			Name:         pool.Name,
			Architecture: pool.Architecture,
			Uploader:     pool.Uploader,
			BundleSize:   pool.BundleSize,
		}
	}
	if buffer != nil {
		l := buffer.Len()
		s.BufferLength = &l
	}
	if listener != nil {
		w := listener.Window()
		s.Window = &w
	}
	s.Committed = n.committed.Load()
	s.Dropped = n.dropped.Load()
	s.Judged = n.judged.Load()
	s.Invalid = n.invalid.Load()
	s.Disputes = n.disputes.Load()
	return s
}
