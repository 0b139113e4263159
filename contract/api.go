// Package contract implements the facade over the pool's governing contract.
package contract

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/oasisprotocol/datapool/common"
)

var (
	// ErrContractUnavailable wraps transient failures talking to the contract.
	ErrContractUnavailable = errors.New("contract unavailable")
	// ErrPoolNotFound is returned when the contract has no pool with the
	// configured id.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrMalformedPoolConfig is returned when the pool's configuration in
	// the contract state is missing fields or cannot be parsed.
	ErrMalformedPoolConfig = errors.New("malformed pool config")
	// ErrActionRejected is returned when a submitted action is rejected.
	ErrActionRejected = errors.New("contract action rejected")
	// ErrInvalidAction is returned for actions that are never submitted.
	ErrInvalidAction = errors.New("invalid contract action")
)

// ActionKind is a contract function callable by pool members.
type ActionKind string

const (
	ActionRegister   ActionKind = "register"
	ActionUnregister ActionKind = "unregister"
	ActionLock       ActionKind = "lock"
	ActionDeny       ActionKind = "deny"
)

// ActionStatus is the finalization status of a submitted action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionConfirmed ActionStatus = "confirmed"
	ActionRejected  ActionStatus = "rejected"
)

// ActionRef identifies a submitted action.
type ActionRef string

// Input is the input of a contract interaction.
type Input struct {
	Function ActionKind `json:"function"`
	// ID is the pool the action applies to.
	ID  uint64         `json:"id"`
	Qty *common.BigInt `json:"qty,omitempty"`
	// Transaction is the disputed transaction of a deny action.
	Transaction string `json:"transaction,omitempty"`
}

// Payload carries the action-specific arguments of SubmitAction.
type Payload struct {
	// Amount is required by lock.
	Amount *common.BigInt
	// Transaction is referenced by deny.
	Transaction string
}

// Interactor reads and writes the governing contract.
type Interactor interface {
	// Read evaluates and returns the current contract state.
	Read(ctx context.Context, contractID string) (json.RawMessage, error)

	// Write submits an interaction with the contract.
	Write(ctx context.Context, contractID string, input Input) (ActionRef, error)

	// Status returns the finalization status of a submitted interaction.
	Status(ctx context.Context, ref ActionRef) (ActionStatus, error)
}
