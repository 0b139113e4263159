// Package gateway implements the ledger client and the contract interactor
// against an Arweave-style HTTP gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/ledger"
	"github.com/oasisprotocol/datapool/log"
)

// DefaultTimeout bounds a single gateway request.
const DefaultTimeout = 30 * time.Second

// Client is a ledger client for an HTTP gateway.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *log.Logger
}

var _ ledger.Client = (*Client)(nil)

// NewClient creates a client for the gateway at endpoint.
func NewClient(endpoint string, timeout time.Duration, logger *log.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint: %w", err)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
		logger:   logger.WithModule("gateway").With("endpoint", endpoint),
	}, nil
}

// CurrentHeight implements ledger.Client.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	resp, err := c.get(ctx, "/info")
	if err != nil {
		return 0, err
	}
	if err = responseOK(resp); err != nil {
		return 0, fmt.Errorf("network info: %w", err)
	}
	var info struct {
		Height uint64 `json:"height"`
	}
	if err = decodeJSON(resp, &info); err != nil {
		return 0, fmt.Errorf("network info: %w", err)
	}
	return info.Height, nil
}

// QueryTagged implements ledger.Client. Transactions that are not yet in a
// block are skipped.
func (c *Client) QueryTagged(ctx context.Context, q ledger.Query) ([]common.ObservedTransaction, error) {
	vars := map[string]any{
		"sort":  sortHeightAsc,
		"first": maxPageSize,
	}
	if q.Descending {
		vars["sort"] = sortHeightDesc
	}
	if len(q.Tags) > 0 {
		tags := make([]tagFilter, 0, len(q.Tags))
		for _, t := range q.Tags {
			tags = append(tags, tagFilter{Name: t.Name, Values: []string{t.Value}})
		}
		vars["tags"] = tags
	}
	if len(q.Owners) > 0 {
		vars["owners"] = q.Owners
	}
	if q.MinHeight != 0 || q.MaxHeight != 0 {
		var block blockFilter
		if q.MinHeight != 0 {
			block.Min = &q.MinHeight
		}
		if q.MaxHeight != 0 {
			block.Max = &q.MaxHeight
		}
		vars["block"] = block
	}
	if q.Limit > 0 && q.Limit < maxPageSize {
		vars["first"] = q.Limit
	}

	var txs []common.ObservedTransaction
	for {
		page, err := c.transactionsPage(ctx, vars)
		if err != nil {
			return nil, err
		}
		edges := page.Data.Transactions.Edges
		for _, e := range edges {
			if e.Node.Block == nil {
				continue
			}
			tx := common.ObservedTransaction{
				Ref:    e.Node.ID,
				Height: e.Node.Block.Height,
				Tags:   make([]common.Tag, 0, len(e.Node.Tags)),
			}
			for _, t := range e.Node.Tags {
				tx.Tags = append(tx.Tags, common.Tag{Name: t.Name, Value: t.Value})
			}
			txs = append(txs, tx)
			if q.Limit > 0 && len(txs) == q.Limit {
				break
			}
		}
		if !page.Data.Transactions.PageInfo.HasNextPage || len(edges) == 0 ||
			(q.Limit > 0 && len(txs) >= q.Limit) {
			break
		}
		vars["after"] = edges[len(edges)-1].Cursor
	}

	if q.IncludeData {
		for i := range txs {
			data, err := c.Data(ctx, txs[i].Ref)
			if err != nil {
				return nil, fmt.Errorf("fetching data of %s: %w", txs[i].Ref, err)
			}
			txs[i].Payload = data
		}
	}
	return txs, nil
}

func (c *Client) transactionsPage(ctx context.Context, vars map[string]any) (*transactionsResponse, error) {
	resp, err := c.postJSON(ctx, "/graphql", graphQLRequest{Query: transactionsQuery, Variables: vars})
	if err != nil {
		return nil, err
	}
	if err = responseOK(resp); err != nil {
		return nil, fmt.Errorf("graphql: %w", err)
	}
	var page transactionsResponse
	if err = decodeJSON(resp, &page); err != nil {
		return nil, fmt.Errorf("graphql: %w", err)
	}
	if len(page.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", page.Errors[0].Message)
	}
	return &page, nil
}

// Data implements ledger.Client.
func (c *Client) Data(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.get(ctx, "/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if err = responseOK(resp); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Price implements ledger.Client.
func (c *Client) Price(ctx context.Context, size int) (common.BigInt, error) {
	resp, err := c.get(ctx, "/price/"+strconv.Itoa(size))
	if err != nil {
		return common.BigInt{}, err
	}
	if err = responseOK(resp); err != nil {
		return common.BigInt{}, fmt.Errorf("price: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.BigInt{}, err
	}
	return common.ParseBigInt(string(raw))
}

// Submit implements ledger.Client.
func (c *Client) Submit(ctx context.Context, tx *ledger.Transaction) error {
	resp, err := c.postJSON(ctx, "/tx", tx)
	if err != nil {
		return err
	}
	// 208: the gateway already knows the transaction.
	if err = responseOK(resp, http.StatusAccepted, http.StatusAlreadyReported); err != nil {
		return fmt.Errorf("posting transaction %s: %w", tx.ID, err)
	}
	_ = resp.Body.Close()
	c.logger.Debug("posted transaction", "tx_id", tx.ID, "size", len(tx.Data))
	return nil
}

// Status implements ledger.Client. 200 is confirmed and 202 pending; any
// other non-transient status means the transaction was rejected.
func (c *Client) Status(ctx context.Context, id string) (ledger.TxStatus, error) {
	resp, err := c.get(ctx, "/tx/"+url.PathEscape(id)+"/status")
	if err != nil {
		return "", err
	}
	err = responseOK(resp, http.StatusAccepted)
	switch {
	case err == nil:
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusAccepted {
			return ledger.TxPending, nil
		}
		return ledger.TxConfirmed, nil
	case errors.Is(err, ResourceError{}):
		c.logger.Debug("transaction rejected", "tx_id", id, "err", err)
		return ledger.TxRejected, nil
	default:
		return "", fmt.Errorf("transaction status: %w", err)
	}
}
