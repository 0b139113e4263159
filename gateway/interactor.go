package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/oasisprotocol/datapool/contract"
	"github.com/oasisprotocol/datapool/ledger"
)

// Tags of a contract interaction transaction.
const (
	TagAppName    = "App-Name"
	TagAppVersion = "App-Version"
	TagContract   = "Contract"
	TagInput      = "Input"

	InteractionAppName    = "SmartWeaveAction"
	InteractionAppVersion = "0.3.0"
)

// Interactor talks to a contract whose interactions are ledger
// transactions and whose state is evaluated by a state endpoint.
type Interactor struct {
	client        *Client
	signer        ledger.Signer
	stateEndpoint string
}

var _ contract.Interactor = (*Interactor)(nil)

// NewInteractor creates an interactor. Interactions are signed by signer
// and posted through client.
func NewInteractor(client *Client, signer ledger.Signer, stateEndpoint string) *Interactor {
	return &Interactor{
		client:        client,
		signer:        signer,
		stateEndpoint: strings.TrimSuffix(stateEndpoint, "/"),
	}
}

// Read implements contract.Interactor. The state endpoint may wrap the
// state in a {"state": ...} envelope.
func (i *Interactor) Read(ctx context.Context, contractID string) (json.RawMessage, error) {
	resp, err := i.client.getURL(ctx, i.stateEndpoint+"/contract?id="+url.QueryEscape(contractID))
	if err != nil {
		return nil, err
	}
	if err = responseOK(resp); err != nil {
		return nil, fmt.Errorf("contract state: %w", err)
	}
	var body json.RawMessage
	if err = decodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("contract state: %w", err)
	}

	var envelope struct {
		State json.RawMessage `json:"state"`
	}
	if err = json.Unmarshal(body, &envelope); err == nil && len(envelope.State) > 0 {
		return envelope.State, nil
	}
	return body, nil
}

// Write implements contract.Interactor.
func (i *Interactor) Write(ctx context.Context, contractID string, input contract.Input) (contract.ActionRef, error) {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encoding input: %w", err)
	}

	// Interactions carry no payload; the gateway rejects empty data.
	tx := &ledger.Transaction{Data: []byte("1")}
	tx.AddTag(TagAppName, InteractionAppName)
	tx.AddTag(TagAppVersion, InteractionAppVersion)
	tx.AddTag(TagContract, contractID)
	tx.AddTag(TagInput, string(encoded))

	if tx.Reward, err = i.client.Price(ctx, len(tx.Data)); err != nil {
		return "", err
	}
	if err = ledger.Sign(tx, i.signer); err != nil {
		return "", err
	}
	if err = i.client.Submit(ctx, tx); err != nil {
		return "", err
	}
	return contract.ActionRef(tx.ID), nil
}

// Status implements contract.Interactor.
func (i *Interactor) Status(ctx context.Context, ref contract.ActionRef) (contract.ActionStatus, error) {
	status, err := i.client.Status(ctx, string(ref))
	if err != nil {
		return "", err
	}
	switch status {
	case ledger.TxConfirmed:
		return contract.ActionConfirmed, nil
	case ledger.TxPending:
		return contract.ActionPending, nil
	default:
		return contract.ActionRejected, nil
	}
}
