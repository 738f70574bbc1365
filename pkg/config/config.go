package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Config represents the bridge runtime configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Evm        EvmConfig        `yaml:"evm"`
	Bitcoin    BitcoinConfig    `yaml:"bitcoin"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Signer     SignerConfig     `yaml:"signer"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server settings for the control plane
type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port int    `yaml:"port" default:"8080"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// GetConnectionString renders the lib/pq DSN for this database.
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// EvmLinkKind selects how the runtime reaches the destination EVM chain.
type EvmLinkKind string

const (
	EvmLinkDirect     EvmLinkKind = "direct"     // single ethclient.Dial endpoint
	EvmLinkHTTP       EvmLinkKind = "http"       // ethclient over a plain HTTP RPC proxy
	EvmLinkAggregator EvmLinkKind = "aggregator" // multiple endpoints, each call sent to one picked at random, results not cross-checked
)

// EvmConfig contains destination-chain EVM link settings
type EvmConfig struct {
	LinkKind           EvmLinkKind   `yaml:"link_kind"`
	RPCURL             string        `yaml:"rpc_url"`
	RPCURLs            []string      `yaml:"rpc_urls"` // used when link_kind=aggregator
	ChainID            int64         `yaml:"chain_id"`
	BridgeContract     string        `yaml:"bridge_contract"`
	ConfirmationBlocks int           `yaml:"confirmation_blocks"`
	GasLimit           uint64        `yaml:"gas_limit"`
	MaxFeePerGasWei     string        `yaml:"max_fee_per_gas_wei"`
	PriorityFeeWei     string        `yaml:"priority_fee_wei"`
	PollingInterval    time.Duration `yaml:"polling_interval"`
	StartBlock         int64         `yaml:"start_block"`
	LookbackBlocks     int64         `yaml:"lookback_blocks"`
	LogBatchSize       uint64        `yaml:"log_batch_size"`
	ParamsRefreshEvery time.Duration `yaml:"params_refresh_every"`
}

// BitcoinConfig contains settings for the Bitcoin/BRC-20/Rune source-chain adapter
type BitcoinConfig struct {
	AdapterAddr     string        `yaml:"adapter_addr"` // bitcoin-adapter gRPC endpoint
	Network         string        `yaml:"network"`      // mainnet|testnet|regtest
	MinConfirmations int          `yaml:"min_confirmations"`
	MempoolTimeout  time.Duration `yaml:"mempool_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// LedgerConfig contains settings for the allowance-ledger sidecar that
// backs ICRC-2-shaped deposits. Empty AdapterAddr disables the variant.
type LedgerConfig struct {
	AdapterAddr   string    `yaml:"adapter_addr"`
	BridgeAccount string    `yaml:"bridge_account"`
	TLS           TLSConfig `yaml:"tls"`
}

// IndexerConfig contains BRC-20/Rune indexer consensus settings
type IndexerConfig struct {
	URLs          []string      `yaml:"urls"`
	Threshold     int           `yaml:"threshold"` // k-of-n agreement required
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SignerBackend selects how private keys are held.
type SignerBackend string

const (
	SignerBackendLocal    SignerBackend = "local"    // AES-256-GCM-sealed master key in this process
	SignerBackendPlatform SignerBackend = "platform" // remote signing sidecar over HTTP
)

// SignerConfig contains the bridge's own signing-key settings
type SignerConfig struct {
	Backend        SignerBackend `yaml:"backend"`
	MasterKeyEnv   string        `yaml:"master_key_env"`   // env var holding the base64 AES-256-GCM key, local backend
	SidecarURL     string        `yaml:"sidecar_url"`      // platform backend
	SidecarTimeout time.Duration `yaml:"sidecar_timeout"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// AuthConfig holds JWT auth configuration for the owner-gated control plane
type AuthConfig struct {
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// BackoffKind mirrors pkg/operation.BackoffKind for YAML configuration.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// SchedulerConfig contains scheduler defaults for task retry policy
type SchedulerConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	DefaultBackoff    BackoffKind   `yaml:"default_backoff"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	Multiplier        float64       `yaml:"multiplier"`
	DefaultMaxRetries int           `yaml:"default_max_retries"` // -1 means infinite
	LeaseDuration     time.Duration `yaml:"lease_duration"`
	MaxTasksPerTick   int           `yaml:"max_tasks_per_tick"` // fairness cap per scheduler tick
}

// BridgeConfig contains bridge operation settings
type BridgeConfig struct {
	Owner              string        `yaml:"owner"` // EVM address allowed to call owner-gated endpoints
	Auth               AuthConfig    `yaml:"auth"`
	MaxTransferAmount  string        `yaml:"max_transfer_amount"`
	MinTransferAmount  string        `yaml:"min_transfer_amount"`
	RateLimitPerHour   int           `yaml:"rate_limit_per_hour"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	ProcessingInterval time.Duration `yaml:"processing_interval"`
	MintBatchMaxSize   int           `yaml:"mint_batch_max_size"`
	MintBatchMaxWait   time.Duration `yaml:"mint_batch_max_wait"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MetricsPort    int    `yaml:"metrics_port" default:"9090"`
	HealthCheckURL string `yaml:"health_check_url"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(&config)
	overrideEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(config *Config) {
	// Tag-driven defaults cover the flat sections; the conditional
	// defaults below cover fields whose zero value is meaningful.
	_ = defaults.Set(config)

	if config.Evm.LinkKind == "" {
		config.Evm.LinkKind = EvmLinkDirect
	}
	if config.Evm.ConfirmationBlocks == 0 {
		config.Evm.ConfirmationBlocks = 12
	}
	if config.Evm.GasLimit == 0 {
		config.Evm.GasLimit = 500_000
	}
	if config.Evm.PriorityFeeWei == "" {
		config.Evm.PriorityFeeWei = "2000000000" // 2 gwei
	}
	if config.Evm.PollingInterval == 0 {
		config.Evm.PollingInterval = 15 * time.Second
	}
	if config.Evm.LogBatchSize == 0 {
		config.Evm.LogBatchSize = 1000
	}
	if config.Evm.ParamsRefreshEvery == 0 {
		config.Evm.ParamsRefreshEvery = time.Minute
	}

	if config.Bitcoin.Network == "" {
		config.Bitcoin.Network = "mainnet"
	}
	if config.Bitcoin.MinConfirmations == 0 {
		config.Bitcoin.MinConfirmations = 1
	}
	if config.Bitcoin.MempoolTimeout == 0 {
		config.Bitcoin.MempoolTimeout = time.Hour // MEMPOOL_TIMEOUT default, 3600s
	}

	if config.Indexer.Threshold == 0 {
		config.Indexer.Threshold = 1
	}
	if config.Indexer.RequestTimeout == 0 {
		config.Indexer.RequestTimeout = 10 * time.Second
	}

	if config.Signer.Backend == "" {
		config.Signer.Backend = SignerBackendLocal
	}
	if config.Signer.MasterKeyEnv == "" {
		config.Signer.MasterKeyEnv = "BRIDGE_MASTER_KEY"
	}
	if config.Signer.SidecarTimeout == 0 {
		config.Signer.SidecarTimeout = 5 * time.Second
	}

	if config.Scheduler.TickInterval == 0 {
		config.Scheduler.TickInterval = time.Second
	}
	if config.Scheduler.DefaultBackoff == "" {
		config.Scheduler.DefaultBackoff = BackoffExponential
	}
	if config.Scheduler.InitialDelay == 0 {
		config.Scheduler.InitialDelay = 5 * time.Second
	}
	if config.Scheduler.Multiplier == 0 {
		config.Scheduler.Multiplier = 2.0
	}
	if config.Scheduler.DefaultMaxRetries == 0 {
		config.Scheduler.DefaultMaxRetries = -1
	}
	if config.Scheduler.LeaseDuration == 0 {
		config.Scheduler.LeaseDuration = 30 * time.Second
	}
	if config.Scheduler.MaxTasksPerTick == 0 {
		config.Scheduler.MaxTasksPerTick = 32
	}

	if config.Bridge.MaxRetries == 0 {
		config.Bridge.MaxRetries = 10
	}
	if config.Bridge.RetryDelay == 0 {
		config.Bridge.RetryDelay = 5 * time.Second
	}
	if config.Bridge.ProcessingInterval == 0 {
		config.Bridge.ProcessingInterval = time.Second
	}
	if config.Bridge.MintBatchMaxSize == 0 {
		config.Bridge.MintBatchMaxSize = 20
	}
	if config.Bridge.MintBatchMaxWait == 0 {
		config.Bridge.MintBatchMaxWait = 10 * time.Second
	}

}

func overrideEnv(config *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}

	if v := os.Getenv("DATABASE_HOST"); v != "" {
		config.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Database.Port = port
		}
	}
	if v := os.Getenv("DATABASE_USER"); v != "" {
		config.Database.User = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		config.Database.Password = v
	}
	if v := os.Getenv("DATABASE_DATABASE"); v != "" {
		config.Database.Database = v
	}
	if v := os.Getenv("DATABASE_SSL_MODE"); v != "" {
		config.Database.SSLMode = v
	}

	if v := os.Getenv("EVM_RPC_URL"); v != "" {
		config.Evm.RPCURL = v
	}
	if v := os.Getenv("EVM_BRIDGE_CONTRACT"); v != "" {
		config.Evm.BridgeContract = v
	}
	if v := os.Getenv("BRIDGE_OWNER"); v != "" {
		config.Bridge.Owner = v
	}

	if v := os.Getenv("LOGGING_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	switch config.Evm.LinkKind {
	case EvmLinkAggregator:
		if len(config.Evm.RPCURLs) == 0 {
			return fmt.Errorf("evm.rpc_urls is required when evm.link_kind is aggregator")
		}
	default:
		if config.Evm.RPCURL == "" {
			return fmt.Errorf("evm.rpc_url is required")
		}
	}
	if config.Indexer.Threshold > len(config.Indexer.URLs) && len(config.Indexer.URLs) > 0 {
		return fmt.Errorf("indexer.threshold cannot exceed the number of configured indexer.urls")
	}
	return nil
}
