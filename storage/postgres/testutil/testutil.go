package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/storage/postgres"
)

// SkipUnlessDatabase skips tests that need a live PostgreSQL instance.
func SkipUnlessDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode")
	}
	if os.Getenv("CI_TEST_CONN_STRING") == "" {
		t.Skip("CI_TEST_CONN_STRING not set")
	}
}

// NewTestClient returns a postgres client used in CI tests.
func NewTestClient(t *testing.T) *postgres.Client {
	connString := os.Getenv("CI_TEST_CONN_STRING")
	logger, err := log.NewLogger("postgres-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.Nil(t, err, "log.NewLogger")

	client, err := postgres.NewClient(connString, logger)
	require.Nil(t, err, "postgres.NewClient")
	return client
}
