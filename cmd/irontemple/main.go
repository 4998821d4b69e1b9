package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/irontemple/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "irontemple",
		Short:         "Offline-first workout log with background sync",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newLogCommand(),
		newListCommand(),
		newShowCommand(),
		newEditCommand(),
		newDeleteCommand(),
		newExerciseCommand(),
		newSetCommand(),
		newStatsCommand(),
		newStatusCommand(),
		newSyncCommand(),
		newRetryCommand(),
		newClearQueueCommand(),
		newStorageCommand(),
		newGuestCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newWatchCommand(),
		newRemoteCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Storage backend (memory, file, sqlite)")
	cmd.PersistentFlags().String("storage-path", defaults.GetString("storage.path"), "Storage file or database path")
	cmd.PersistentFlags().Int64("storage-quota-bytes", defaults.GetInt64("storage.quota_bytes"), "Storage quota in bytes (0 disables)")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote authority base URL")
	cmd.PersistentFlags().Int("remote-timeout-seconds", defaults.GetInt("remote.timeout_seconds"), "Remote call timeout in seconds")
	cmd.PersistentFlags().Int("max-retry", defaults.GetInt("sync.max_retry"), "Failed attempts before an entry needs a manual retry")
	cmd.PersistentFlags().Int("poll-interval-seconds", defaults.GetInt("sync.poll_interval_seconds"), "Status poll interval in seconds")
	cmd.PersistentFlags().Int("weeks-window", defaults.GetInt("stats.weeks_window"), "Weeks used to average workouts per week")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.path", "storage-path")
	bindFlag(cmd, "storage.quota_bytes", "storage-quota-bytes")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.timeout_seconds", "remote-timeout-seconds")
	bindFlag(cmd, "sync.max_retry", "max-retry")
	bindFlag(cmd, "sync.poll_interval_seconds", "poll-interval-seconds")
	bindFlag(cmd, "stats.weeks_window", "weeks-window")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
