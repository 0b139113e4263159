package node

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/datapool/bundler"
	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/contract"
	"github.com/oasisprotocol/datapool/ledger"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
)

const (
	producerAddr = "producer-addr"
	verifierAddr = "verifier-addr"
)

type testSigner struct {
	addr string
}

func (s testSigner) Address() string { return s.addr }

func (s testSigner) Owner() []byte { return []byte(s.addr) }

func (s testSigner) Sign(digest []byte) ([]byte, error) {
	sig := sha256.Sum256(append([]byte(s.addr), digest...))
	return sig[:], nil
}

func poolState(minimumStake int, locked int) string {
	return fmt.Sprintf(`{"pools":[{
		"name": "Test",
		"architecture": "evm",
		"uploader": %q,
		"bundleSize": 3,
		"minimumStake": %d,
		"config": {},
		"vault": {%q: %d}
	}]}`, producerAddr, minimumStake, verifierAddr, locked)
}

// fakeContract records submitted actions and resolves them with a
// per-action status.
type fakeContract struct {
	mu       sync.Mutex
	state    string
	inputs   []contract.Input
	statuses map[contract.ActionKind]contract.ActionStatus
}

func (f *fakeContract) Read(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(f.state), nil
}

func (f *fakeContract) Write(_ context.Context, _ string, input contract.Input) (contract.ActionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	return contract.ActionRef(fmt.Sprintf("%s-%d", input.Function, len(f.inputs))), nil
}

func (f *fakeContract) Status(_ context.Context, ref contract.ActionRef) (contract.ActionStatus, error) {
	kind, _, _ := strings.Cut(string(ref), "-")
	if s, ok := f.statuses[contract.ActionKind(kind)]; ok {
		return s, nil
	}
	return contract.ActionConfirmed, nil
}

func (f *fakeContract) actions(kind contract.ActionKind) []contract.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []contract.Input
	for _, in := range f.inputs {
		if in.Function == kind {
			res = append(res, in)
		}
	}
	return res
}

func (f *fakeContract) functions() []contract.ActionKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []contract.ActionKind
	for _, in := range f.inputs {
		res = append(res, in.Function)
	}
	return res
}

type fakeLedger struct {
	mu          sync.Mutex
	height      uint64
	txs         []common.ObservedTransaction
	submitted   []*ledger.Transaction
	heightCalls int
}

func (f *fakeLedger) setHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func (f *fakeLedger) CurrentHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heightCalls++
	return f.height, nil
}

func (f *fakeLedger) QueryTagged(_ context.Context, q ledger.Query) ([]common.ObservedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []common.ObservedTransaction
	for _, tx := range f.txs {
		if tx.Height >= q.MinHeight && tx.Height <= q.MaxHeight {
			res = append(res, tx)
		}
	}
	return res, nil
}

func (f *fakeLedger) Data(context.Context, string) ([]byte, error) { return nil, ledger.ErrNotFound }

func (f *fakeLedger) Price(context.Context, int) (common.BigInt, error) {
	return common.NewBigInt(1), nil
}

func (f *fakeLedger) Submit(_ context.Context, tx *ledger.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, tx)
	return nil
}

func (f *fakeLedger) Status(context.Context, string) (ledger.TxStatus, error) {
	return ledger.TxConfirmed, nil
}

func (f *fakeLedger) bundles() []*ledger.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ledger.Transaction(nil), f.submitted...)
}

func newTestNode(t *testing.T, identity string, c *fakeContract, l *fakeLedger, deps Dependencies, stake int64) *Node {
	m := metrics.NewDefaultPoolMetrics("node_test")
	logger := log.NewDefaultLogger("test")
	deps.Contract = contract.NewFacade(c, "contract", 0, &m, logger)
	deps.Ledger = l
	deps.Signer = testSigner{addr: identity}
	deps.Metrics = &m
	n, err := New(Config{
		Stake:            common.NewBigInt(stake),
		PollInterval:     10 * time.Millisecond,
		FinalityInterval: time.Millisecond,
	}, deps, logger)
	require.NoError(t, err)
	return n
}

// feedSource forwards records pushed by the test.
func feedSource(feed <-chan common.Record) Source {
	return SourceFunc(func(ctx context.Context, _ common.PoolConfig, emit chan<- common.Record) error {
		for {
			select {
			case r := <-feed:
				select {
				case emit <- r:
				case <-ctx.Done():
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// validIfNot judges every transaction valid except the ones in invalid.
func validIfNot(invalid ...string) Validator {
	return ValidatorFunc(func(_ context.Context, _ common.PoolConfig, in <-chan common.ObservedTransaction, out chan<- common.Judgment) error {
		for tx := range in {
			valid := true
			for _, ref := range invalid {
				if tx.Ref == ref {
					valid = false
				}
			}
			out <- common.Judgment{Valid: valid, Ref: tx.Ref}
		}
		return nil
	})
}

func runNode(n *Node) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
		return nil
	}
}

func record(i int) common.Record {
	return common.Record{Data: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))}
}

func TestDetermineRole(t *testing.T) {
	pool := &common.PoolConfig{Uploader: producerAddr}
	require.Equal(t, RoleProducer, DetermineRole(producerAddr, pool))
	require.Equal(t, RoleVerifier, DetermineRole(verifierAddr, pool))
	require.Equal(t, RoleVerifier, DetermineRole("", pool))
}

func TestProducerCommitsAtThreshold(t *testing.T) {
	c := &fakeContract{state: poolState(0, 0)}
	l := &fakeLedger{}
	feed := make(chan common.Record)
	n := newTestNode(t, producerAddr, c, l, Dependencies{Source: feedSource(feed)}, 0)
	require.Equal(t, StateUninitialized, n.State())

	cancel, done := runNode(n)
	defer cancel()

	feed <- record(1)
	feed <- record(2)
	require.Eventually(t, func() bool {
		s := n.Status()
		return s.BufferLength != nil && *s.BufferLength == 2
	}, time.Second, time.Millisecond)
	require.Empty(t, l.bundles(), "no commit below the threshold")
	require.Equal(t, StateActive, n.State())
	require.Equal(t, RoleProducer, n.Role())

	feed <- record(3)
	require.Eventually(t, func() bool { return len(l.bundles()) == 1 }, time.Second, time.Millisecond)

	var env bundler.Envelope
	require.NoError(t, json.Unmarshal(l.bundles()[0].Data, &env))
	require.Len(t, env.Items, 3)
	for i, item := range env.Items {
		require.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+1), string(item.Data))
	}
	require.Eventually(t, func() bool { return n.Status().Committed == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, done))
	require.Equal(t, StateTerminated, n.State())
	require.Len(t, l.bundles(), 1)
	require.Empty(t, c.inputs, "producers never touch the contract")
}

func TestProducerCommitsRecordsQueuedBeforeSourceEnds(t *testing.T) {
	c := &fakeContract{state: poolState(0, 0)}
	l := &fakeLedger{}
	source := SourceFunc(func(_ context.Context, _ common.PoolConfig, emit chan<- common.Record) error {
		for i := 1; i <= 7; i++ {
			emit <- record(i)
		}
		return nil
	})
	n := newTestNode(t, producerAddr, c, l, Dependencies{Source: source}, 0)

	require.NoError(t, n.Run(context.Background()))
	bundles := l.bundles()
	require.NotEmpty(t, bundles)

	// A flush takes the whole buffer, so batches may exceed the threshold.
	committed := 0
	for _, b := range bundles {
		var env bundler.Envelope
		require.NoError(t, json.Unmarshal(b.Data, &env))
		require.GreaterOrEqual(t, len(env.Items), 3)
		committed += len(env.Items)
	}
	dropped := n.Status().Dropped
	require.Less(t, dropped, uint64(3), "only a partial batch is dropped")
	require.EqualValues(t, 7, uint64(committed)+dropped)
}

func TestProducerSourceError(t *testing.T) {
	c := &fakeContract{state: poolState(0, 0)}
	source := SourceFunc(func(context.Context, common.PoolConfig, chan<- common.Record) error {
		return errors.New("feed unreachable")
	})
	n := newTestNode(t, producerAddr, c, &fakeLedger{}, Dependencies{Source: source}, 0)
	require.ErrorContains(t, n.Run(context.Background()), "feed unreachable")
	require.Equal(t, StateTerminated, n.State())
}

func TestVerifierDisputesInvalidTransaction(t *testing.T) {
	c := &fakeContract{state: poolState(100, 100)}
	l := &fakeLedger{
		height: 100,
		txs: []common.ObservedTransaction{
			{Ref: "good", Height: 101},
			{Ref: "bad", Height: 101},
		},
	}
	n := newTestNode(t, verifierAddr, c, l, Dependencies{Validator: validIfNot("bad")}, 0)
	cancel, done := runNode(n)
	defer cancel()

	require.Eventually(t, func() bool {
		s := n.Status()
		return s.State == StateActive && s.Window != nil && s.Window.LastObserved == 100
	}, time.Second, time.Millisecond)
	l.setHeight(101)

	require.Eventually(t, func() bool { return n.Status().Judged == 2 }, 2*time.Second, time.Millisecond)
	denies := c.actions(contract.ActionDeny)
	require.Len(t, denies, 1)
	require.Equal(t, "bad", denies[0].Transaction)
	require.EqualValues(t, 0, denies[0].ID)

	cancel()
	require.NoError(t, waitRun(t, done))
	require.Equal(t, []contract.ActionKind{
		contract.ActionRegister,
		contract.ActionDeny,
		contract.ActionUnregister,
	}, c.functions(), "enough stake is locked already, so no lock")

	s := n.Status()
	require.Equal(t, StateTerminated, s.State)
	require.EqualValues(t, 1, s.Invalid)
	require.EqualValues(t, 1, s.Disputes)
}

func TestRegistrationLocksStakeDeficit(t *testing.T) {
	for _, tc := range []struct {
		name    string
		minimum int
		locked  int
		stake   int64
		lock    string
	}{
		{"minimum stake", 100, 40, 60, "60"},
		{"configured stake", 100, 40, 150, "110"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeContract{state: poolState(tc.minimum, tc.locked)}
			l := &fakeLedger{height: 10}
			n := newTestNode(t, verifierAddr, c, l, Dependencies{Validator: validIfNot()}, tc.stake)
			cancel, done := runNode(n)

			require.Eventually(t, func() bool { return n.State() == StateActive }, time.Second, time.Millisecond)
			cancel()
			require.NoError(t, waitRun(t, done))

			locks := c.actions(contract.ActionLock)
			require.Len(t, locks, 1)
			require.Equal(t, tc.lock, locks[0].Qty.String())
			require.Equal(t, []contract.ActionKind{
				contract.ActionLock,
				contract.ActionRegister,
				contract.ActionUnregister,
			}, c.functions())
		})
	}
}

func TestRegistrationRejected(t *testing.T) {
	c := &fakeContract{
		state:    poolState(0, 0),
		statuses: map[contract.ActionKind]contract.ActionStatus{contract.ActionRegister: contract.ActionRejected},
	}
	l := &fakeLedger{height: 10}
	validated := false
	validator := ValidatorFunc(func(context.Context, common.PoolConfig, <-chan common.ObservedTransaction, chan<- common.Judgment) error {
		validated = true
		return nil
	})
	n := newTestNode(t, verifierAddr, c, l, Dependencies{Validator: validator}, 0)

	err := n.Run(context.Background())
	require.ErrorIs(t, err, ErrRegistrationFailed)
	require.ErrorIs(t, err, contract.ErrActionRejected)
	require.Equal(t, StateTerminated, n.State())
	require.False(t, validated)
	require.Zero(t, l.heightCalls, "the listener never starts")
	require.Nil(t, n.Status().Window)
	require.Equal(t, []contract.ActionKind{contract.ActionRegister}, c.functions(), "no unregister without registration")
}

func TestRunFatalPoolErrors(t *testing.T) {
	for _, tc := range []struct {
		state string
		err   error
	}{
		{`{"pools":[]}`, contract.ErrPoolNotFound},
		{`{"pools":[{"name":"x","architecture":"evm","uploader":"p","bundleSize":-1}]}`, contract.ErrMalformedPoolConfig},
	} {
		n := newTestNode(t, verifierAddr, &fakeContract{state: tc.state}, &fakeLedger{}, Dependencies{Validator: validIfNot()}, 0)
		require.ErrorIs(t, n.Run(context.Background()), tc.err)
		require.Empty(t, n.Role())
	}
}

func TestVerifyJudgesEachTransactionOnce(t *testing.T) {
	c := &fakeContract{state: poolState(0, 0)}
	n := newTestNode(t, verifierAddr, c, &fakeLedger{}, Dependencies{Validator: validIfNot("bad")}, 0)
	pool := common.PoolConfig{ID: 0, Uploader: producerAddr}

	observed := make(chan common.ObservedTransaction, 8)
	for _, ref := range []string{"bad", "good", "bad", "good", "bad"} {
		observed <- common.ObservedTransaction{Ref: ref, Height: 101}
	}
	close(observed)
	require.NoError(t, n.verify(context.Background(), pool, observed))
	require.Len(t, c.actions(contract.ActionDeny), 1)
	require.EqualValues(t, 2, n.Status().Judged)

	// Re-delivery in a later window.
	observed = make(chan common.ObservedTransaction, 1)
	observed <- common.ObservedTransaction{Ref: "bad", Height: 101}
	close(observed)
	require.NoError(t, n.verify(context.Background(), pool, observed))
	require.Len(t, c.actions(contract.ActionDeny), 1)
}

func TestVerifyPropagatesValidatorError(t *testing.T) {
	c := &fakeContract{state: poolState(0, 0)}
	validator := ValidatorFunc(func(context.Context, common.PoolConfig, <-chan common.ObservedTransaction, chan<- common.Judgment) error {
		return errors.New("model crashed")
	})
	n := newTestNode(t, verifierAddr, c, &fakeLedger{}, Dependencies{Validator: validator}, 0)

	observed := make(chan common.ObservedTransaction)
	close(observed)
	require.ErrorContains(t, n.verify(context.Background(), common.PoolConfig{}, observed), "model crashed")
}
