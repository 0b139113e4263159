// Package common implements common datapool command options.
package common

import (
	"fmt"
	"io"
	stdLog "log"
	"os"

	"github.com/akrylysov/pogreb"

	"github.com/oasisprotocol/datapool/cache/kvstore"
	"github.com/oasisprotocol/datapool/config"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/metrics"
	"github.com/oasisprotocol/datapool/storage"
	"github.com/oasisprotocol/datapool/storage/postgres"
)

var rootLogger = log.NewDefaultLogger("datapool")

// Init initializes the common environment.
func Init(cfg *config.Config) error {
	var w io.Writer = os.Stdout
	format := log.FmtJSON
	level := log.LevelDebug

	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if err := format.Set(cfg.Log.Format); err != nil {
			return err
		}
		if err := level.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger, err := log.NewLogger("datapool", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger

	// Initialize pogreb logging.
	pogreb.SetLogger(stdLog.New(log.WriterIntoLogger(*RootLogger().WithModule("pogreb")), "", 0))

	if cfg.Metrics != nil && cfg.Metrics.PprofEndpoint != "" {
		startPprof(cfg.Metrics.PprofEndpoint)
	}
	return nil
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

func getLoggingStream(cfg *config.LogConfig) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return os.Stdout, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewJournal opens the activity journal, migrating the schema first. Without
// storage configuration, activity is not journaled.
func NewJournal(cfg *config.StorageConfig, logger *log.Logger) (storage.Journal, error) {
	if cfg == nil {
		return storage.NewNopJournal(), nil
	}
	if err := postgres.RunMigrations(cfg.Migrations, cfg.Endpoint, logger); err != nil {
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	client, err := postgres.NewClient(cfg.Endpoint, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewCache opens the judged-transaction cache. Without a cache directory,
// judgments are only remembered for the lifetime of the process.
func NewCache(cfg *config.CacheConfig, m *metrics.PoolMetrics, logger *log.Logger) (kvstore.KVStore, error) {
	if cfg == nil {
		return kvstore.NewMemoryKVStore(m), nil
	}
	return kvstore.OpenKVStore(logger, cfg.CacheDir, m)
}
