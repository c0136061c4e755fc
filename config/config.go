package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultNodeDir   = ".nearsyncd"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration for a sync node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Sync            *SyncConfig            `mapstructure:"sync"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a sync node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Sync:            DefaultSyncConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Sync:            TestSyncConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [sync] section")
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [instrumentation] section")
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a sync node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// ValidatorAccount is the account id this node validates with, if any.
	// Validators pre-fetch next-epoch shard state through catchup.
	ValidatorAccount string `mapstructure:"validator_account"`

	// Archive nodes keep all historical data and never purge chain data
	// ahead of a state sync.
	Archive bool `mapstructure:"archive"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`
}

// DefaultBaseConfig returns a default base configuration for a sync node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   defaultMoniker,
		Archive:   false,
		LogLevel:  "info",
		LogFormat: LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing a sync node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "localnode"
	return cfg
}

// ConfigFilePath returns the full path of the config file
func (cfg BaseConfig) ConfigFilePath() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(defaultDataDir, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig defines the configuration for the sync coordinator, including
// the catchup job validators run for upcoming epochs.
type SyncConfig struct {
	// Minimum number of active peers before the first sync tick runs.
	MinNumPeers int `mapstructure:"min_num_peers"`

	// Skip waiting for the minimum peer count. Intended for single-node
	// networks and tests.
	SkipSyncWait bool `mapstructure:"skip_sync_wait"`

	// How often to check whether we need to sync, while caught up.
	SyncCheckPeriod time.Duration `mapstructure:"sync_check_period"`

	// Delay between sync ticks while actively syncing.
	SyncStepPeriod time.Duration `mapstructure:"sync_step_period"`

	// How far a peer's reported height must exceed ours before sync starts.
	SyncHeightThreshold uint64 `mapstructure:"sync_height_threshold"`

	// Block sync only runs when the header head is within this many blocks
	// of the highest peer height.
	BlockHeaderFetchHorizon uint64 `mapstructure:"block_header_fetch_horizon"`

	// How many blocks to walk back from the header head before resolving the
	// state sync anchor, to avoid anchoring on a fork tip.
	StateFetchHorizon uint64 `mapstructure:"state_fetch_horizon"`

	// Delay between catchup passes.
	CatchupStepPeriod time.Duration `mapstructure:"catchup_step_period"`

	// How long the state sync driver waits before re-requesting a part.
	StateSyncTimeout time.Duration `mapstructure:"state_sync_timeout"`
}

// DefaultSyncConfig returns a default configuration for the sync service
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		MinNumPeers:             3,
		SkipSyncWait:            false,
		SyncCheckPeriod:         10 * time.Second,
		SyncStepPeriod:          10 * time.Millisecond,
		SyncHeightThreshold:     1,
		BlockHeaderFetchHorizon: 50,
		StateFetchHorizon:       5,
		CatchupStepPeriod:       100 * time.Millisecond,
		StateSyncTimeout:        60 * time.Second,
	}
}

// TestSyncConfig returns a configuration for testing the sync service
func TestSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.MinNumPeers = 1
	cfg.SkipSyncWait = true
	cfg.SyncCheckPeriod = 100 * time.Millisecond
	cfg.SyncStepPeriod = 10 * time.Millisecond
	cfg.CatchupStepPeriod = 10 * time.Millisecond
	cfg.StateSyncTimeout = 2 * time.Second
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.MinNumPeers < 0 {
		return errors.New("min_num_peers can't be negative")
	}
	if cfg.SyncCheckPeriod <= 0 {
		return errors.New("sync_check_period must be positive")
	}
	if cfg.SyncStepPeriod <= 0 {
		return errors.New("sync_step_period must be positive")
	}
	if cfg.CatchupStepPeriod <= 0 {
		return errors.New("catchup_step_period must be positive")
	}
	if cfg.StateSyncTimeout <= 0 {
		return errors.New("state_sync_timeout must be positive")
	}
	if cfg.BlockHeaderFetchHorizon == 0 {
		return errors.New("block_header_fetch_horizon must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "nearsync",
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Namespace == "" {
		return errors.New("namespace can't be empty")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and panics if it fails.
func EnsureRoot(rootDir string) {
	if err := ensureDir(rootDir); err != nil {
		panic(err.Error())
	}
	if err := ensureDir(filepath.Join(rootDir, defaultConfigDir)); err != nil {
		panic(err.Error())
	}
	if err := ensureDir(filepath.Join(rootDir, defaultDataDir)); err != nil {
		panic(err.Error())
	}
}

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0o700

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return fmt.Errorf("could not create directory %q: %w", dir, err)
	}
	return nil
}
