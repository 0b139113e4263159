// Package node implements the run sub-command.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/datapool/api"
	"github.com/oasisprotocol/datapool/cache/kvstore"
	cmdCommon "github.com/oasisprotocol/datapool/cmd/common"
	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/config"
	"github.com/oasisprotocol/datapool/contract"
	"github.com/oasisprotocol/datapool/gateway"
	"github.com/oasisprotocol/datapool/integrations/httpfeed"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
	"github.com/oasisprotocol/datapool/node"
	"github.com/oasisprotocol/datapool/storage"
	"github.com/oasisprotocol/datapool/wallet"
)

const (
	moduleName = "run"
)

var (
	// Path to the configuration file.
	configFile string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a pool node",
		Run:   runNode,
	}
)

func runNode(cmd *cobra.Command, args []string) {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := Run(ctx, cfg); err != nil {
		os.Exit(1)
	}
}

// Run initializes a node from cfg and runs it until ctx is canceled or the
// node stops. A canceled context is a clean shutdown.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := cmdCommon.RootLogger()
	if cfg.Node == nil {
		logger.Error("node config not provided")
		return fmt.Errorf("node config not provided")
	}

	service, err := NewService(cfg)
	if err != nil {
		logger.Error("service failed to start", "error", err)
		return err
	}
	defer service.Close()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("node terminated", "error", err)
		return err
	}
	logger.Info("node stopped")
	return nil
}

// Service is a pool node together with its ambient servers.
type Service struct {
	node    *node.Node
	cache   kvstore.KVStore
	journal storage.Journal
	server  *http.Server
	pull    *metrics.PullService
	logger  *log.Logger
}

// NewService wires a node from configuration.
func NewService(cfg *config.Config) (*Service, error) {
	logger := cmdCommon.RootLogger().WithModule(moduleName)
	nc := cfg.Node

	keyType := nc.Wallet.KeyType
	if keyType == "" {
		keyType = wallet.KindEd25519
	}
	signer, err := wallet.LoadSigner(nc.Wallet.KeyFile, keyType)
	if err != nil {
		return nil, fmt.Errorf("loading wallet: %w", err)
	}
	logger.Info("loaded wallet", "address", signer.Address(), "key_type", signer.Kind())

	gw, err := gateway.NewClient(nc.Ledger.Endpoint, nc.Ledger.Timeout, logger)
	if err != nil {
		return nil, err
	}
	m := metrics.NewDefaultPoolMetrics("datapool")
	facade := contract.NewFacade(
		gateway.NewInteractor(gw, signer, nc.Contract.StateEndpoint),
		nc.ContractID,
		nc.Pool,
		&m,
		logger,
	)

	cache, err := cmdCommon.NewCache(nc.Cache, &m, logger)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	journal, err := cmdCommon.NewJournal(nc.Storage, logger)
	if err != nil {
		common.CloseOrLog(cache, logger)
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	deps := node.Dependencies{
		Contract:  facade,
		Ledger:    gw,
		Signer:    signer,
		Validator: httpfeed.NewValidator(nc.ApplicationTag(), logger),
		Journal:   journal,
		Cache:     cache,
		Metrics:   &m,
	}
	var feedURL string
	var feedInterval time.Duration
	if nc.Integration != nil {
		feedURL, feedInterval = nc.Integration.URL, nc.Integration.Interval
	}
	deps.Source = httpfeed.NewSource(feedURL, feedInterval, logger)

	n, err := node.New(node.Config{
		Stake:            nc.StakeAmount(),
		Application:      nc.ApplicationTag(),
		PollInterval:     nc.PollInterval,
		FinalityInterval: nc.FinalityInterval,
		QueueSize:        nc.QueueSize,
	}, deps, logger)
	if err != nil {
		common.CloseOrLog(cache, logger)
		journal.Close()
		return nil, err
	}

	s := &Service{
		node:    n,
		cache:   cache,
		journal: journal,
		logger:  logger,
	}
	if cfg.Server != nil {
		s.server = &http.Server{
			Addr:           cfg.Server.Endpoint,
			Handler:        api.NewRouter(n, metrics.NewDefaultRequestMetrics("datapool_api"), logger),
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
	}
	if cfg.Metrics != nil {
		if s.pull, err = metrics.NewPullService(cfg.Metrics.PullEndpoint, logger); err != nil {
			common.CloseOrLog(cache, logger)
			journal.Close()
			return nil, err
		}
	}
	return s, nil
}

// Run runs the node and its servers. The servers are shut down once the
// node stops.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.node.Run(ctx)
	})
	if s.server != nil {
		g.Go(func() error {
			return common.RunServer(ctx, s.server, s.logger.WithModule("api"))
		})
	}
	if s.pull != nil {
		g.Go(func() error {
			return s.pull.Run(ctx)
		})
	}
	return g.Wait()
}

// Close releases the cache and the journal.
func (s *Service) Close() {
	common.CloseOrLog(s.cache, s.logger)
	s.journal.Close()
}

// Register registers the run sub-command.
func Register(parentCmd *cobra.Command) {
	runCmd.Flags().StringVar(&configFile, "config", "./conf/node.yml", "path to the config.yml file")
	parentCmd.AddCommand(runCmd)
}
