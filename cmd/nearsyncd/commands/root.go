package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/pmnoxx/nearcore/config"
	"github.com/pmnoxx/nearcore/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.MustNewDefaultLogger(log.LogFormatPlain, "info")
)

func init() {
	RootCmd.PersistentFlags().String("home",
		os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultNodeDir)),
		"directory for config and data")
	RootCmd.PersistentFlags().String("log_level", config.LogLevel, "log level")
	RootCmd.PersistentFlags().String("log_format", config.LogFormat,
		"log format (plain|json)")
}

// ParseConfig retrieves the default environment configuration, layers the
// config file and any flag/env overrides on top, sets up the root directory
// and validates the result.
func ParseConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)
	cfg.EnsureRoot(conf.RootDir)
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCmd is the root command. Every other command runs with the
// configuration it loads.
var RootCmd = &cobra.Command{
	Use:   "nearsyncd",
	Short: "Sharded chain state sync daemon",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		if err := bindConfig(cmd); err != nil {
			return err
		}

		config, err = ParseConfig()
		if err != nil {
			return err
		}

		logger, err = log.NewDefaultLogger(config.LogFormat, config.LogLevel)
		if err != nil {
			return err
		}

		logger = logger.With("module", "main")
		return nil
	},
}

// bindConfig binds the command flags and environment into viper and reads
// the config file, if one exists yet.
func bindConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	homeDir := viper.GetString("home")
	viper.Set("home", homeDir)
	viper.SetConfigName("config")
	viper.AddConfigPath(homeDir)
	viper.AddConfigPath(filepath.Join(homeDir, "config"))

	viper.SetEnvPrefix("NEARSYNCD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// stderr, so if we redirect output to json file, this doesn't appear
		fmt.Fprintln(os.Stderr, "No config file found, using defaults")
	}
	return nil
}
