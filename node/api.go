package node

import (
	"context"

	"github.com/oasisprotocol/datapool/common"
)

// Source produces the records a producer commits. Run must emit on emit
// until ctx is canceled and must not close emit.
type Source interface {
	Run(ctx context.Context, pool common.PoolConfig, emit chan<- common.Record) error
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context, pool common.PoolConfig, emit chan<- common.Record) error

func (f SourceFunc) Run(ctx context.Context, pool common.PoolConfig, emit chan<- common.Record) error {
	return f(ctx, pool, emit)
}

// Validator judges the transactions a verifier observes. It must push
// exactly one judgment per transaction received on in and return once in
// is closed.
type Validator interface {
	Validate(ctx context.Context, pool common.PoolConfig, in <-chan common.ObservedTransaction, out chan<- common.Judgment) error
}

// ValidatorFunc adapts a function to a Validator.
type ValidatorFunc func(ctx context.Context, pool common.PoolConfig, in <-chan common.ObservedTransaction, out chan<- common.Judgment) error

func (f ValidatorFunc) Validate(ctx context.Context, pool common.PoolConfig, in <-chan common.ObservedTransaction, out chan<- common.Judgment) error {
	return f(ctx, pool, in, out)
}
