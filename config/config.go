// Package config enables config file parsing.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/log"
)

// Config contains the CLI configuration.
type Config struct {
	Node    *NodeConfig    `koanf:"node"`
	Server  *ServerConfig  `koanf:"server"`
	Log     *LogConfig     `koanf:"log"`
	Metrics *MetricsConfig `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Node != nil {
		if err := cfg.Node.Validate(); err != nil {
			return fmt.Errorf("node: %w", err)
		}
	}
	if cfg.Server != nil {
		if err := cfg.Server.Validate(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// NodeConfig is the configuration of a pool node.
type NodeConfig struct {
	// ContractID identifies the governing contract.
	ContractID string `koanf:"contract_id"`

	// Pool is the index of the pool in the contract state.
	Pool uint64 `koanf:"pool"`

	// Stake is the stake this node wants locked in the pool, in the
	// ledger's smallest denomination. Only used when running as a verifier.
	Stake string `koanf:"stake"`

	// Application is the value of the Application tag. Producers and
	// verifiers of a pool must agree on it.
	Application string `koanf:"application"`

	Wallet   WalletConfig   `koanf:"wallet"`
	Ledger   GatewayConfig  `koanf:"ledger"`
	Contract ContractConfig `koanf:"contract"`

	// PollInterval is the ledger polling interval of the verifier's listener.
	PollInterval time.Duration `koanf:"poll_interval"`

	// FinalityInterval is the polling interval while waiting for contract
	// actions to be finalized.
	FinalityInterval time.Duration `koanf:"finality_interval"`

	// QueueSize is the capacity of the queues between pipeline stages.
	QueueSize int `koanf:"queue_size"`

	Integration *IntegrationConfig `koanf:"integration"`

	// Cache holds the configuration for the judged-transaction cache.
	Cache *CacheConfig `koanf:"cache"`

	// Storage holds the configuration for the activity journal.
	Storage *StorageConfig `koanf:"storage"`
}

// Validate validates the node configuration.
func (cfg *NodeConfig) Validate() error {
	if cfg.ContractID == "" {
		return fmt.Errorf("contract_id not configured")
	}
	if cfg.Stake != "" {
		stake, err := common.ParseBigInt(cfg.Stake)
		if err != nil {
			return fmt.Errorf("stake: %w", err)
		}
		if stake.Sign() < 0 {
			return fmt.Errorf("stake must not be negative")
		}
	}
	if err := cfg.Wallet.Validate(); err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	if err := cfg.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := cfg.Contract.Validate(); err != nil {
		return fmt.Errorf("contract: %w", err)
	}
	if cfg.PollInterval != 0 && cfg.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s")
	}
	if cfg.FinalityInterval != 0 && cfg.FinalityInterval < 100*time.Millisecond {
		return fmt.Errorf("finality_interval must be at least 100ms")
	}
	if cfg.QueueSize < 0 {
		return fmt.Errorf("queue_size must not be negative")
	}
	if cfg.Integration != nil {
		if err := cfg.Integration.Validate(); err != nil {
			return fmt.Errorf("integration: %w", err)
		}
	}
	if cfg.Cache != nil {
		if err := cfg.Cache.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if cfg.Storage != nil {
		if err := cfg.Storage.Validate(); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}
	return nil
}

// StakeAmount returns the configured stake, zero if unset.
func (cfg *NodeConfig) StakeAmount() common.BigInt {
	if cfg.Stake == "" {
		return common.NewBigInt(0)
	}
	stake, _ := common.ParseBigInt(cfg.Stake) // Checked by Validate.
	return stake
}

// ApplicationTag returns the configured Application tag value or the default.
func (cfg *NodeConfig) ApplicationTag() string {
	if cfg.Application == "" {
		return common.DefaultApplication
	}
	return cfg.Application
}

// WalletConfig locates the node's signing key.
type WalletConfig struct {
	// KeyFile is the path to a file holding the hex-encoded key.
	KeyFile string `koanf:"key_file"`
	// KeyType is one of "ed25519" and "secp256k1".
	KeyType string `koanf:"key_type"`
}

// Validate validates the wallet configuration.
func (cfg *WalletConfig) Validate() error {
	if cfg.KeyFile == "" {
		return fmt.Errorf("key_file not configured")
	}
	switch cfg.KeyType {
	case "", "ed25519", "secp256k1":
		return nil
	default:
		return fmt.Errorf("unsupported key_type '%s'", cfg.KeyType)
	}
}

// GatewayConfig is information about the ledger gateway to connect to.
type GatewayConfig struct {
	// Endpoint is the gateway base URL.
	Endpoint string `koanf:"endpoint"`
	// Timeout bounds each request to the gateway.
	Timeout time.Duration `koanf:"timeout"`
}

// Validate validates the gateway configuration.
func (cfg *GatewayConfig) Validate() error {
	return validateURL(cfg.Endpoint)
}

// ContractConfig is information about the contract state evaluator.
type ContractConfig struct {
	// StateEndpoint is the base URL of the contract state evaluation service.
	StateEndpoint string `koanf:"state_endpoint"`
}

// Validate validates the contract configuration.
func (cfg *ContractConfig) Validate() error {
	return validateURL(cfg.StateEndpoint)
}

// IntegrationConfig configures the built-in HTTP feed data source and
// validator.
type IntegrationConfig struct {
	// URL is the feed polled by producers.
	URL string `koanf:"url"`
	// Interval is the feed polling interval.
	Interval time.Duration `koanf:"interval"`
}

// Validate validates the integration configuration.
func (cfg *IntegrationConfig) Validate() error {
	if cfg.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	if cfg.URL == "" {
		// Verifier-only nodes need no feed.
		return nil
	}
	return validateURL(cfg.URL)
}

type CacheConfig struct {
	// CacheDir is the directory where the cache data is stored.
	CacheDir string `koanf:"cache_dir"`
}

func (cfg *CacheConfig) Validate() error {
	if cfg.CacheDir == "" {
		return fmt.Errorf("invalid cache filepath")
	}
	return nil
}

// StorageConfig contains the journal storage configuration.
type StorageConfig struct {
	// Endpoint is the PostgreSQL connection string.
	Endpoint string `koanf:"endpoint"`

	// Migrations is the directory containing schema migrations.
	Migrations string `koanf:"migrations"`
}

// Validate validates the storage configuration.
func (cfg *StorageConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed storage endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Migrations == "" {
		return fmt.Errorf("invalid path to migrations '%s'", cfg.Migrations)
	}
	return nil
}

// ServerConfig contains the status API server configuration.
type ServerConfig struct {
	// Endpoint is the service endpoint from which to serve the API.
	Endpoint string `koanf:"endpoint"`
}

// Validate validates the server configuration.
func (cfg *ServerConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed server endpoint '%s'", cfg.Endpoint)
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`

	// PprofEndpoint optionally serves the runtime profiler.
	PprofEndpoint string `koanf:"pprof_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("endpoint not configured")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed endpoint '%s': %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("malformed endpoint '%s': unsupported scheme", raw)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	return initConfig(file.Provider(f))
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
