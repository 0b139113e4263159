package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
)

// Facade exposes the operations of the governing contract that a pool node
// needs, scoped to a single pool.
type Facade struct {
	interactor Interactor
	contractID string
	pool       uint64
	metrics    *metrics.PoolMetrics
	logger     *log.Logger
}

// NewFacade creates a facade for the pool with index pool in the contract.
func NewFacade(interactor Interactor, contractID string, pool uint64, m *metrics.PoolMetrics, logger *log.Logger) *Facade {
	return &Facade{
		interactor: interactor,
		contractID: contractID,
		pool:       pool,
		metrics:    m,
		logger:     logger.WithModule("contract").With("pool", pool),
	}
}

// Pool returns the id of the pool the facade is scoped to.
func (f *Facade) Pool() uint64 {
	return f.pool
}

type rawState struct {
	Pools []json.RawMessage `json:"pools"`
}

type rawPool struct {
	Name         string                   `json:"name"`
	Architecture string                   `json:"architecture"`
	Uploader     string                   `json:"uploader"`
	BundleSize   *int                     `json:"bundleSize"`
	MinimumStake *common.BigInt           `json:"minimumStake"`
	Config       json.RawMessage          `json:"config"`
	Vault        map[string]common.BigInt `json:"vault"`
}

// ReadPoolState reads the pool's configuration and the stake identity has
// locked in it. The returned StakeState requires the pool's minimum stake.
func (f *Facade) ReadPoolState(ctx context.Context, identity string) (*common.PoolConfig, *common.StakeState, error) {
	raw, err := f.interactor.Read(ctx, f.contractID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading contract %s: %w", ErrContractUnavailable, f.contractID, err)
	}

	var state rawState
	if err = json.Unmarshal(raw, &state); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding contract state: %w", ErrMalformedPoolConfig, err)
	}
	if f.pool >= uint64(len(state.Pools)) {
		return nil, nil, fmt.Errorf("%w: no pool with id %d in contract %s", ErrPoolNotFound, f.pool, f.contractID)
	}

	var rp rawPool
	if err = json.Unmarshal(state.Pools[f.pool], &rp); err != nil {
		return nil, nil, fmt.Errorf("%w: pool %d: %w", ErrMalformedPoolConfig, f.pool, err)
	}
	pool, err := rp.toPoolConfig(f.pool)
	if err != nil {
		return nil, nil, err
	}

	stake := &common.StakeState{
		Locked:   common.NewBigInt(0),
		Required: pool.MinimumStake,
	}
	if locked, ok := rp.Vault[identity]; ok {
		stake.Locked = locked
	}

	f.logger.Info("read pool state",
		"name", pool.Name,
		"architecture", pool.Architecture,
		"uploader", pool.Uploader,
		"bundle_size", pool.BundleSize,
		"locked", stake.Locked.String(),
	)
	return pool, stake, nil
}

func (rp *rawPool) toPoolConfig(id uint64) (*common.PoolConfig, error) {
	malformed := func(format string, args ...any) error {
		return fmt.Errorf("%w: pool %d: %s", ErrMalformedPoolConfig, id, fmt.Sprintf(format, args...))
	}
	switch {
	case rp.Name == "":
		return nil, malformed("missing name")
	case rp.Architecture == "":
		return nil, malformed("missing architecture")
	case rp.Uploader == "":
		return nil, malformed("missing uploader")
	case rp.BundleSize == nil:
		return nil, malformed("missing bundle size")
	case *rp.BundleSize <= 0:
		return nil, malformed("bundle size %d is not positive", *rp.BundleSize)
	}
	minimum := common.NewBigInt(0)
	if rp.MinimumStake != nil {
		if rp.MinimumStake.Sign() < 0 {
			return nil, malformed("negative minimum stake")
		}
		minimum = *rp.MinimumStake
	}
	return &common.PoolConfig{
		ID:           id,
		Name:         rp.Name,
		Architecture: rp.Architecture,
		Uploader:     rp.Uploader,
		BundleSize:   *rp.BundleSize,
		MinimumStake: minimum,
		Config:       rp.Config,
	}, nil
}

// SubmitAction submits a pool action to the contract.
func (f *Facade) SubmitAction(ctx context.Context, kind ActionKind, payload Payload) (ActionRef, error) {
	input := Input{Function: kind, ID: f.pool}
	switch kind {
	case ActionRegister, ActionUnregister:
	case ActionLock:
		if payload.Amount == nil || payload.Amount.Sign() <= 0 {
			return "", fmt.Errorf("%w: lock requires a positive amount", ErrInvalidAction)
		}
		input.Qty = payload.Amount
	case ActionDeny:
		input.Transaction = payload.Transaction
	default:
		return "", fmt.Errorf("%w: unknown action '%s'", ErrInvalidAction, kind)
	}

	ref, err := f.interactor.Write(ctx, f.contractID, input)
	if err != nil {
		return "", fmt.Errorf("%w: submitting %s: %w", ErrContractUnavailable, kind, err)
	}
	f.logger.Info("submitted contract action", "action", kind, "ref", ref)
	return ref, nil
}

// AwaitFinality polls the status of ref every interval until it reaches one
// of the terminal statuses, confirmed if none are given. A rejected action
// always ends the wait with ErrActionRejected. Failed status queries are
// logged and retried; only ctx bounds the wait.
func (f *Facade) AwaitFinality(ctx context.Context, ref ActionRef, interval time.Duration, terminal ...ActionStatus) (ActionStatus, error) {
	if len(terminal) == 0 {
		terminal = []ActionStatus{ActionConfirmed}
	}
	for {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return "", ctx.Err()
		}

		status, err := f.interactor.Status(ctx, ref)
		if err != nil {
			f.metrics.FinalityPolls(metrics.StatusFailure).Inc()
			f.logger.Warn("failed to query action status", "ref", ref, "err", err)
			continue
		}
		f.metrics.FinalityPolls(string(status)).Inc()

		switch {
		case status == ActionRejected:
			return status, fmt.Errorf("%w: %s", ErrActionRejected, ref)
		case slices.Contains(terminal, status):
			return status, nil
		default:
			f.logger.Info("waiting for action to be finalized", "ref", ref, "status", status)
		}
	}
}
