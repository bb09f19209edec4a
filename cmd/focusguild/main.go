package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/focusguild/focusguild/internal/common/version"
)

const defaultConfigFile = "/etc/focusguild/focusguild.conf"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "focusguild",
	Short: "Presence-driven study tracking daemon",
	Long: `focusguild tracks member presence in study rooms, accrues time and
coin rewards, and manages bookable hour slots with live room activation.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigFile, "path to the config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	// Environment overrides (DB credentials in particular) may come from a
	// local .env file; a missing file is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
