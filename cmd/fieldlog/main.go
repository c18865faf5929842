package main

import (
	"errors"
	"os"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/config"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	logFormat string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fieldlog",
		Short:         "Offline-first fisheries data collection",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd); err != nil {
				return err
			}
			return initConfig()
		},
	}

	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, console)")

	rootCmd.AddCommand(
		newServeCommand(defaults),
		newTokenCommand(defaults),
		newSyncCommand(defaults),
		newListCommand(defaults),
		newTerminateCommand(defaults),
		newPmfmsCommand(defaults),
		newTrackCommand(defaults),
	)
	return rootCmd
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":           "log.level",
	"http-address":        "http.address",
	"allowed-origins":     "http.allowed_origins",
	"database-path":       "database.path",
	"signing-secret":      "auth.signing_secret",
	"token-ttl-minutes":   "auth.token_ttl_minutes",
	"local-database-path": "local.database_path",
	"remote-base-url":     "remote.base_url",
	"remote-token":        "remote.token",
	"fix-path":            "device_position.fix_path",
	"mobile":              "device_position.mobile",
	"enable":              "device_position.enable",
	"check-interval":      "device_position.check_interval",
	"save-interval":       "device_position.save_interval",
}

// bindFlags binds the flags of the running command only, since several
// subcommands declare the same flag.
func bindFlags(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		key, ok := flagKeys[flag.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = viper.BindPFlag(key, flag)
	})
	return bindErr
}

// clientFlags registers the device connection flags shared by client commands.
func clientFlags(cmd *cobra.Command, defaults *viper.Viper) {
	cmd.Flags().String("local-database-path", defaults.GetString("local.database_path"), "Device SQLite database path")
	cmd.Flags().String("remote-base-url", defaults.GetString("remote.base_url"), "Server base URL")
	cmd.Flags().String("remote-token", "", "Session token (overrides env)")
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(strings.TrimSpace(logFormat), "console") {
		return logging.NewDevelopmentLogger(level)
	}
	return logging.NewLogger(level)
}
