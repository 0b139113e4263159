// Package query implements the query sub-command.
package query

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cmdCommon "github.com/oasisprotocol/datapool/cmd/common"
	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/config"
	"github.com/oasisprotocol/datapool/gateway"
	"github.com/oasisprotocol/datapool/ledger"
	"github.com/oasisprotocol/datapool/log"
)

const defaultLimit = 100

var (
	// Path to the configuration file.
	configFile string
	limit      int
	deref      bool

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "List the most recent transactions committed to the pool",
		Run:   runQuery,
	}
)

func runQuery(cmd *cobra.Command, args []string) {
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	if err = cmdCommon.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := cmdCommon.RootLogger().WithModule("query")
	if cfg.Node == nil {
		logger.Error("node config not provided")
		os.Exit(1)
	}

	client, err := gateway.NewClient(cfg.Node.Ledger.Endpoint, cfg.Node.Ledger.Timeout, logger)
	if err != nil {
		logger.Error("failed to create gateway client", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	items, err := Query(ctx, client, cfg.Node.ApplicationTag(), cfg.Node.Pool, limit, deref)
	if err != nil {
		logger.Error("query failed", "err", err)
		os.Exit(1)
	}
	for _, item := range items {
		fmt.Fprintln(cmd.OutOrStdout(), item)
	}
}

// Query returns the ids of the most recent transactions committed to pool,
// newest first. With deref, the transaction payloads are returned instead.
func Query(ctx context.Context, client ledger.Client, application string, pool uint64, limit int, deref bool) ([]string, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	txs, err := client.QueryTagged(ctx, ledger.Query{
		Tags: []common.Tag{
			{Name: common.TagApplication, Value: application},
			{Name: common.TagPool, Value: fmt.Sprintf("%d", pool)},
		},
		Limit:       limit,
		Descending:  true,
		IncludeData: deref,
	})
	if err != nil {
		return nil, err
	}

	items := make([]string, 0, len(txs))
	for _, tx := range txs {
		if deref {
			items = append(items, string(tx.Payload))
		} else {
			items = append(items, tx.Ref)
		}
	}
	return items, nil
}

// Register registers the query sub-command.
func Register(parentCmd *cobra.Command) {
	queryCmd.Flags().StringVar(&configFile, "config", "./conf/node.yml", "path to the config.yml file")
	queryCmd.Flags().IntVar(&limit, "limit", defaultLimit, "maximum number of transactions to list")
	queryCmd.Flags().BoolVar(&deref, "deref", false, "print transaction data instead of ids")
	parentCmd.AddCommand(queryCmd)
}
