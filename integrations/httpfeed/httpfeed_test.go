package httpfeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/log"
)

func TestSource(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		switch n {
		case 2:
			// Not JSON; skipped.
			fmt.Fprint(w, "<html>")
		case 3:
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprintf(w, `{"call":%d}`, n)
		}
	}))
	defer srv.Close()

	s := NewSource("", time.Millisecond, log.NewDefaultLogger("test"))
	pool := common.PoolConfig{Config: []byte(fmt.Sprintf(`{"url":%q}`, srv.URL))}

	ctx, cancel := context.WithCancel(context.Background())
	emit := make(chan common.Record)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, pool, emit) }()

	first := <-emit
	require.JSONEq(t, `{"call":1}`, string(first.Data))
	require.Equal(t, []common.Tag{{Name: TagSourceURL, Value: srv.URL}}, first.Tags)
	second := <-emit
	require.JSONEq(t, `{"call":4}`, string(second.Data))

	cancel()
	require.NoError(t, <-done)
}

func TestSourceWithoutURL(t *testing.T) {
	s := NewSource("", 0, log.NewDefaultLogger("test"))
	err := s.Run(context.Background(), common.PoolConfig{Config: []byte(`{}`)}, make(chan common.Record))
	require.Error(t, err)
}

func TestValidator(t *testing.T) {
	pool := common.PoolConfig{ID: 5, Architecture: "evm"}
	other := common.PoolConfig{ID: 6, Architecture: "evm"}
	tags := pool.CommitTags(common.DefaultApplication)

	in := make(chan common.ObservedTransaction, 4)
	in <- common.ObservedTransaction{Ref: "ok", Tags: tags, Payload: []byte(`{"a":1}`)}
	in <- common.ObservedTransaction{Ref: "not-json", Tags: tags, Payload: []byte(`{`)}
	in <- common.ObservedTransaction{Ref: "wrong-pool", Tags: other.CommitTags(common.DefaultApplication), Payload: []byte(`{}`)}
	in <- common.ObservedTransaction{Ref: "untagged", Payload: []byte(`{}`)}
	close(in)

	out := make(chan common.Judgment, 4)
	v := NewValidator(common.DefaultApplication, log.NewDefaultLogger("test"))
	require.NoError(t, v.Validate(context.Background(), pool, in, out))
	close(out)

	var judgments []common.Judgment
	for j := range out {
		judgments = append(judgments, j)
	}
	require.Equal(t, []common.Judgment{
		{Valid: true, Ref: "ok"},
		{Valid: false, Ref: "not-json"},
		{Valid: false, Ref: "wrong-pool"},
		{Valid: false, Ref: "untagged"},
	}, judgments)
}
