package commands

import (
	"os"

	"github.com/spf13/cobra"

	cfg "github.com/pmnoxx/nearcore/config"
)

// InitFilesCmd initializes the home directory and writes a default config
// file, if one does not exist yet.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the home directory",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	configFilePath := config.ConfigFilePath()
	if fileExists(configFilePath) {
		logger.Info("Found config file", "path", configFilePath)
		return nil
	}

	if err := cfg.WriteConfigFile(configFilePath, config); err != nil {
		return err
	}
	logger.Info("Generated config file", "path", configFilePath)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
