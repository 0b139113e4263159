package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/ledger"
	"github.com/oasisprotocol/datapool/log"
)

var (
	// ErrBundlingFailed is returned when a batch cannot be packaged. No part
	// of the batch is submitted.
	ErrBundlingFailed = errors.New("bundling failed")
	// ErrSubmissionFailed is returned when the ledger could not price or
	// accept the bundle.
	ErrSubmissionFailed = errors.New("bundle submission failed")
)

// Tags of the ledger transaction carrying a bundle.
const (
	TagBundleFormat  = "Bundle-Format"
	TagBundleVersion = "Bundle-Version"
	TagContentType   = "Content-Type"

	BundleFormat  = "json"
	BundleVersion = "1.0.0"
	ContentType   = "application/json"
)

// Envelope is the JSON document stored in a bundle transaction.
type Envelope struct {
	Items []ledger.Transaction `json:"items"`
}

// CommitRef describes a submitted bundle.
type CommitRef struct {
	// ID is the id of the ledger transaction carrying the bundle.
	ID    string
	Items int
	// Fee paid for the bundle, in the ledger's smallest denomination.
	Fee common.BigInt
}

// Committer packages batches into bundles and submits them.
type Committer struct {
	client      ledger.Client
	signer      ledger.Signer
	pool        common.PoolConfig
	application string
	logger      *log.Logger
}

// NewCommitter creates a committer for pool.
func NewCommitter(client ledger.Client, signer ledger.Signer, pool common.PoolConfig, application string, logger *log.Logger) *Committer {
	return &Committer{
		client:      client,
		signer:      signer,
		pool:        pool,
		application: application,
		logger:      logger.WithModule("committer").With("pool", pool.ID),
	}
}

// Bundle packages batch into a signed bundle transaction without
// submitting it.
func (c *Committer) Bundle(ctx context.Context, batch common.Batch) (*ledger.Transaction, error) {
	if batch.Len() == 0 {
		return nil, fmt.Errorf("%w: batch %s is empty", ErrBundlingFailed, batch.ID)
	}

	baseTags := c.pool.CommitTags(c.application)
	items := make([]ledger.Transaction, 0, batch.Len())
	for i, r := range batch.Records {
		if !json.Valid(r.Data) {
			return nil, fmt.Errorf("%w: record %d of batch %s is not valid JSON", ErrBundlingFailed, i, batch.ID)
		}
		item := ledger.Transaction{
			Data: r.Data,
			Tags: make([]common.Tag, 0, len(baseTags)+len(r.Tags)),
		}
		item.Tags = append(item.Tags, baseTags...)
		item.Tags = append(item.Tags, r.Tags...)
		if err := ledger.Sign(&item, c.signer); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrBundlingFailed, i, err)
		}
		items = append(items, item)
	}

	data, err := json.Marshal(Envelope{Items: items})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding envelope: %w", ErrBundlingFailed, err)
	}
	fee, err := c.client.Price(ctx, len(data))
	if err != nil {
		return nil, fmt.Errorf("%w: pricing %d bytes: %w", ErrSubmissionFailed, len(data), err)
	}

	tx := &ledger.Transaction{Data: data, Reward: fee}
	tx.AddTag(TagBundleFormat, BundleFormat)
	tx.AddTag(TagBundleVersion, BundleVersion)
	tx.AddTag(TagContentType, ContentType)
	if err := ledger.Sign(tx, c.signer); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundlingFailed, err)
	}
	return tx, nil
}

// Commit bundles batch and submits it as a single ledger transaction.
func (c *Committer) Commit(ctx context.Context, batch common.Batch) (*CommitRef, error) {
	tx, err := c.Bundle(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := c.client.Submit(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	ref := &CommitRef{ID: tx.ID, Items: batch.Len(), Fee: tx.Reward}
	c.logger.Info("sent a bundle",
		"items", ref.Items,
		"tx_id", ref.ID,
		"cost", common.FormatAmount(ref.Fee, common.TokenDecimals),
	)
	return ref, nil
}
