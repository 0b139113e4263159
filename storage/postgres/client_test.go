package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/storage"
	"github.com/oasisprotocol/datapool/storage/postgres"
	"github.com/oasisprotocol/datapool/storage/postgres/testutil"
)

func TestInvalidConnect(t *testing.T) {
	_, err := postgres.NewClient("an invalid connstring", log.NewDefaultLogger("postgres-test"))
	require.Error(t, err)
}

func setupJournal(t *testing.T) *postgres.Client {
	testutil.SkipUnlessDatabase(t)
	client := testutil.NewTestClient(t)
	require.NoError(t, client.Wipe(context.Background()))
	require.NoError(t, postgres.RunMigrations(
		"file://../migrations",
		os.Getenv("CI_TEST_CONN_STRING"),
		log.NewDefaultLogger("postgres-test"),
	))
	return client
}

func TestRecordCommit(t *testing.T) {
	client := setupJournal(t)
	defer client.Close()
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, client.RecordCommit(ctx, storage.CommitEntry{
		Pool:    3,
		BatchID: id,
		Ref:     "bundle-1",
		Records: 5,
		Fee:     common.NewBigInt(1_000_000),
		Status:  storage.CommitStatusCommitted,
		At:      time.Now(),
	}))
	require.NoError(t, client.RecordCommit(ctx, storage.CommitEntry{
		Pool:    3,
		BatchID: uuid.New(),
		Records: 5,
		Status:  storage.CommitStatusDropped,
		Error:   "submission failed",
		At:      time.Now(),
	}))

	var ref, fee string
	require.NoError(t, client.QueryRow(ctx,
		`SELECT ref, fee::text FROM commits WHERE batch_id = $1`, id,
	).Scan(&ref, &fee))
	require.Equal(t, "bundle-1", ref)
	require.Equal(t, "1000000", fee)

	var dropped int
	require.NoError(t, client.QueryRow(ctx,
		`SELECT count(*) FROM commits WHERE status = 'dropped' AND ref IS NULL`,
	).Scan(&dropped))
	require.Equal(t, 1, dropped)
}

func TestRecordDispute(t *testing.T) {
	client := setupJournal(t)
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.RecordDispute(ctx, 1, common.DisputeRecord{
		ActionRef:      "deny-1",
		TransactionRef: "tx-1",
		Height:         42,
		RaisedAt:       time.Now(),
	}))

	var height int64
	require.NoError(t, client.QueryRow(ctx,
		`SELECT height FROM disputes WHERE transaction_ref = 'tx-1'`,
	).Scan(&height))
	require.EqualValues(t, 42, height)
}

func TestRecordWindowNeverMovesBack(t *testing.T) {
	client := setupJournal(t)
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.RecordWindow(ctx, 1, common.LedgerWindow{LastObserved: 110, Current: 110}))
	require.NoError(t, client.RecordWindow(ctx, 1, common.LedgerWindow{LastObserved: 100, Current: 100}))

	last, err := client.LastWindow(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 110, last)
}
