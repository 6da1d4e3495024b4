// Package cmd implements the stcl-host CLI: one subcommand per fleet
// operation, each loading the same hosts.yaml topology and settings
// directory.
package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/langengroup/stcl/host"
	"github.com/langengroup/stcl/settings"
)

// RootCmd is stcl-host's entry point.
var RootCmd = &cobra.Command{
	Use:   "stcl-host",
	Short: "fleet controller for a scanning transfer cavity lock",
}

var (
	configPath  string
	settingsDir string
	nodeLabel   string
	masterLabel string
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "hosts.yaml", "path to the fleet topology file")
	RootCmd.PersistentFlags().StringVar(&settingsDir, "settingsdir", "", "directory of persisted node settings (overrides the config file's settings_dir)")
}

// Execute runs the selected subcommand.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// newController loads hosts.yaml and returns a ready Controller.
func newController() *host.Controller {
	cfg, err := host.ReadFleetConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	dir := settingsDir
	if dir == "" {
		dir = cfg.SettingsDir
	}
	return host.NewController(cfg, settings.NewFileStore(dir))
}
