package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	verboseFlag       = "verbose"
	profileFlag       = "profile"
	profilesFlag      = "profiles"
	urlFlag           = "url"
	usernameFlag      = "username"
	passwordFlag      = "password"
	dataDirFlag       = "data-dir"
	attemptsFlag      = "attempts"
	systemRootsFlag   = "system-roots"
	cacheTTLFlag      = "cache-ttl"
	cacheMaxBytesFlag = "cache-max-bytes"
)

var rootCmd = &cobra.Command{
	Use:   "tremote",
	Short: "Resilient remote control for Transmission-style daemons",
	Long: `Control a remote download daemon over its JSON RPC API, with certificate pinning and an offline cache.

Find more information at:
https://github.com/pojntfx/tremote`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix("")
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

		if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}

		zerolog.SetGlobalLevel(logLevel(viper.GetInt(verboseFlag)))

		return nil
	},
}

// logLevels maps -v to zerolog levels; anything above the table is trace.
var logLevels = []zerolog.Level{
	zerolog.Disabled,
	zerolog.PanicLevel,
	zerolog.FatalLevel,
	zerolog.ErrorLevel,
	zerolog.WarnLevel,
	zerolog.InfoLevel,
	zerolog.DebugLevel,
}

func logLevel(verbosity int) zerolog.Level {
	if verbosity < 0 {
		return zerolog.Disabled
	}
	if verbosity >= len(logLevels) {
		return zerolog.TraceLevel
	}

	return logLevels[verbosity]
}

func Execute() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	rootCmd.PersistentFlags().IntP(verboseFlag, "v", 5, "Verbosity level (0 is disabled, default is info, 7 is trace)")
	rootCmd.PersistentFlags().StringP(profileFlag, "P", "default", "Name of the server profile to use")
	rootCmd.PersistentFlags().String(profilesFlag, filepath.Join(home, ".config", "tremote", "profiles.toml"), "Path to the server profiles file")
	rootCmd.PersistentFlags().StringP(urlFlag, "r", "", "Daemon URL (i.e. https://nas:9091/transmission/rpc); overrides the profile's address")
	rootCmd.PersistentFlags().StringP(usernameFlag, "u", "", "Username for the daemon (can also be set using the USERNAME env variable)")
	rootCmd.PersistentFlags().StringP(passwordFlag, "p", "", "Password for the daemon (can also be set using the PASSWORD env variable). Falls back to the stored credentials.")
	rootCmd.PersistentFlags().String(dataDirFlag, filepath.Join(home, ".local", "share", "tremote"), "Directory for pinned certificates, credentials and the offline cache")
	rootCmd.PersistentFlags().Int(attemptsFlag, 3, "Maximum attempts per request")
	rootCmd.PersistentFlags().Bool(systemRootsFlag, false, "Accept certificates signed by the system roots without prompting")
	rootCmd.PersistentFlags().Duration(cacheTTLFlag, 0, "Maximum age of offline cache entries (0 uses the default of 7 days)")
	rootCmd.PersistentFlags().Int(cacheMaxBytesFlag, 0, "Maximum offline cache size per server in bytes (0 uses the default of 8 MiB)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	viper.AutomaticEnv()

	return rootCmd.Execute()
}
