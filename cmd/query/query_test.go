package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/ledger"
)

type fakeLedger struct {
	ledger.Client
	txs   []common.ObservedTransaction
	err   error
	query ledger.Query
}

func (f *fakeLedger) QueryTagged(_ context.Context, q ledger.Query) ([]common.ObservedTransaction, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	res := f.txs
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	if !q.IncludeData {
		stripped := make([]common.ObservedTransaction, len(res))
		for i, tx := range res {
			stripped[i] = common.ObservedTransaction{Ref: tx.Ref, Height: tx.Height, Tags: tx.Tags}
		}
		res = stripped
	}
	return res, nil
}

func TestQueryIDs(t *testing.T) {
	l := &fakeLedger{txs: []common.ObservedTransaction{
		{Ref: "tx-3", Height: 103, Payload: []byte(`{"n":3}`)},
		{Ref: "tx-2", Height: 102, Payload: []byte(`{"n":2}`)},
		{Ref: "tx-1", Height: 101, Payload: []byte(`{"n":1}`)},
	}}

	ids, err := Query(context.Background(), l, "KYVE - DEV", 3, 2, false)
	require.NoError(t, err)
	require.Equal(t, []string{"tx-3", "tx-2"}, ids)

	require.True(t, l.query.Descending)
	require.False(t, l.query.IncludeData)
	require.Equal(t, 2, l.query.Limit)
	require.Equal(t, []common.Tag{
		{Name: common.TagApplication, Value: "KYVE - DEV"},
		{Name: common.TagPool, Value: "3"},
	}, l.query.Tags)
}

func TestQueryDeref(t *testing.T) {
	l := &fakeLedger{txs: []common.ObservedTransaction{
		{Ref: "tx-1", Height: 101, Payload: []byte(`{"n":1}`)},
	}}

	data, err := Query(context.Background(), l, "app", 0, 0, true)
	require.NoError(t, err)
	require.Equal(t, []string{`{"n":1}`}, data)
	require.Equal(t, defaultLimit, l.query.Limit)
	require.True(t, l.query.IncludeData)
}

func TestQueryError(t *testing.T) {
	l := &fakeLedger{err: errors.New("gateway down")}
	_, err := Query(context.Background(), l, "app", 1, 10, false)
	require.ErrorContains(t, err, "gateway down")
}
