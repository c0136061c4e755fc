package config

import (
	"bytes"
	"os"
	"text/template"
)

var configTemplate *template.Template

func init() {
	var err error
	if configTemplate, err = template.New("configFileTemplate").Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// WriteConfigFile renders config using the template and writes it to
// configFilePath.
func WriteConfigFile(configFilePath string, config *Config) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, config); err != nil {
		return err
	}

	return os.WriteFile(configFilePath, buffer.Bytes(), 0o600)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/myawesomeapp/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.nearsyncd" by default, but could be changed via $NEARSYNCDHOME env
# variable or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# The account id this node validates with, if any. Validators pre-fetch
# next-epoch shard state through catchup.
validator_account = "{{ .BaseConfig.ValidatorAccount }}"

# Archive nodes keep all historical data and never purge chain data ahead of
# a state sync.
archive = {{ .BaseConfig.Archive }}

# Output level for logging, including package level options
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###              Sync Configuration Options         ###
#######################################################
[sync]

# Minimum number of active peers before the first sync tick runs
min_num_peers = {{ .Sync.MinNumPeers }}

# Skip waiting for the minimum peer count. Intended for single-node networks
# and tests.
skip_sync_wait = {{ .Sync.SkipSyncWait }}

# How often to check whether we need to sync, while caught up
sync_check_period = "{{ .Sync.SyncCheckPeriod }}"

# Delay between sync ticks while actively syncing
sync_step_period = "{{ .Sync.SyncStepPeriod }}"

# How far a peer's reported height must exceed ours before sync starts
sync_height_threshold = {{ .Sync.SyncHeightThreshold }}

# Block sync only runs when the header head is within this many blocks of the
# highest peer height
block_header_fetch_horizon = {{ .Sync.BlockHeaderFetchHorizon }}

# How many blocks to walk back from the header head before resolving the
# state sync anchor
state_fetch_horizon = {{ .Sync.StateFetchHorizon }}

# Delay between catchup passes
catchup_step_period = "{{ .Sync.CatchupStepPeriod }}"

# How long the state sync driver waits before re-requesting a part
state_sync_timeout = "{{ .Sync.StateSyncTimeout }}"

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
