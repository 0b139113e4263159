package node

import (
	"context"
	"fmt"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/contract"
)

// register locks the missing stake and registers the node as a verifier of
// the pool. Both actions must be confirmed before the node becomes active.
func (n *Node) register(ctx context.Context, stake *common.StakeState) error {
	n.setState(StateRegistering)

	if deficit := stake.Deficit(); deficit.Sign() > 0 {
		n.logger.Info("locking stake",
			"amount", deficit.String(),
			"locked", stake.Locked.String(),
			"required", stake.Required.String(),
		)
		if err := n.submitAndAwait(ctx, contract.ActionLock, contract.Payload{Amount: &deficit}); err != nil {
			return fmt.Errorf("%w: locking stake: %w", ErrRegistrationFailed, err)
		}
	}

	if err := n.submitAndAwait(ctx, contract.ActionRegister, contract.Payload{}); err != nil {
		return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	n.logger.Info("registered as a validator")
	return nil
}

func (n *Node) submitAndAwait(ctx context.Context, kind contract.ActionKind, payload contract.Payload) error {
	ref, err := n.contract.SubmitAction(ctx, kind, payload)
	if err != nil {
		return err
	}
	n.logger.Info("waiting for action to be mined", "action", kind, "ref", ref)
	if _, err = n.contract.AwaitFinality(ctx, ref, n.cfg.FinalityInterval, contract.ActionConfirmed); err != nil {
		return fmt.Errorf("%s %s: %w", kind, ref, err)
	}
	return nil
}

// unregister leaves the pool. It runs after ctx was canceled, so it uses a
// context of its own. Failures are only logged.
func (n *Node) unregister(ctx context.Context) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownActionTimeout)
	defer cancel()

	ref, err := n.contract.SubmitAction(uctx, contract.ActionUnregister, contract.Payload{})
	if err != nil {
		n.logger.Error("failed to unregister", "err", err)
		return
	}
	n.logger.Info("unregistered", "ref", ref)
}
