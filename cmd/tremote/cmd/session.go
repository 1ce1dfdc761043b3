package cmd

import (
	"context"

	"github.com/pojntfx/tremote/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	downloadDirFlag           = "download-dir"
	speedLimitDownFlag        = "speed-limit-down"
	speedLimitDownEnabledFlag = "speed-limit-down-enabled"
	speedLimitUpFlag          = "speed-limit-up"
	speedLimitUpEnabledFlag   = "speed-limit-up-enabled"
	altSpeedEnabledFlag       = "alt-speed-enabled"
	downloadQueueSizeFlag     = "download-queue-size"
	seedQueueSizeFlag         = "seed-queue-size"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"s"},
	Short:   "Show the daemon's session, or change it with any of the setting flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		update := sessionUpdate(cmd)

		return run(func(ctx context.Context, r *remote) error {
			if update != nil {
				if _, err := r.manager.Connect(ctx); err != nil {
					return err
				}

				if err := r.client.SessionSet(ctx, *update); err != nil {
					return err
				}
			}

			session, err := r.manager.Session(ctx)
			if err := cacheOnly(err); err != nil {
				return err
			}

			return printYAML(session)
		})
	},
}

// sessionUpdate collects the explicitly set flags, or returns nil if there
// are none.
func sessionUpdate(cmd *cobra.Command) *client.SessionUpdate {
	var (
		u       client.SessionUpdate
		changed bool
	)

	str := func(flag string, dst **string) {
		if cmd.Flags().Changed(flag) {
			v := viper.GetString(flag)
			*dst, changed = &v, true
		}
	}
	num := func(flag string, dst **int64) {
		if cmd.Flags().Changed(flag) {
			v := viper.GetInt64(flag)
			*dst, changed = &v, true
		}
	}
	toggle := func(flag string, dst **bool) {
		if cmd.Flags().Changed(flag) {
			v := viper.GetBool(flag)
			*dst, changed = &v, true
		}
	}

	str(downloadDirFlag, &u.DownloadDir)
	num(speedLimitDownFlag, &u.SpeedLimitDown)
	toggle(speedLimitDownEnabledFlag, &u.SpeedLimitDownEnabled)
	num(speedLimitUpFlag, &u.SpeedLimitUp)
	toggle(speedLimitUpEnabledFlag, &u.SpeedLimitUpEnabled)
	toggle(altSpeedEnabledFlag, &u.AltSpeedEnabled)
	num(downloadQueueSizeFlag, &u.DownloadQueueSize)
	num(seedQueueSizeFlag, &u.SeedQueueSize)

	if !changed {
		return nil
	}

	return &u
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show current and lifetime transfer statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, r *remote) error {
			if _, err := r.manager.Connect(ctx); err != nil {
				return err
			}

			stats, err := r.client.SessionStats(ctx)
			if err != nil {
				return err
			}

			return printYAML(stats)
		})
	},
}

var freeSpaceCmd = &cobra.Command{
	Use:   "free-space [PATH]",
	Short: "Show free space in a directory on the daemon (defaults to the download directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, r *remote) error {
			if _, err := r.manager.Connect(ctx); err != nil {
				return err
			}

			var path string
			if len(args) > 0 {
				path = args[0]
			} else {
				session, err := r.client.SessionGet(ctx)
				if err != nil {
					return err
				}
				path = session.DownloadDir
			}

			storage, err := r.client.FreeSpace(ctx, path)
			if err != nil {
				return err
			}

			return printYAML(storage)
		})
	},
}

func init() {
	sessionCmd.Flags().String(downloadDirFlag, "", "Default download directory")
	sessionCmd.Flags().Int64(speedLimitDownFlag, 0, "Download speed limit in KB/s")
	sessionCmd.Flags().Bool(speedLimitDownEnabledFlag, false, "Enable the download speed limit")
	sessionCmd.Flags().Int64(speedLimitUpFlag, 0, "Upload speed limit in KB/s")
	sessionCmd.Flags().Bool(speedLimitUpEnabledFlag, false, "Enable the upload speed limit")
	sessionCmd.Flags().Bool(altSpeedEnabledFlag, false, "Enable the alternative speed limits")
	sessionCmd.Flags().Int64(downloadQueueSizeFlag, 0, "Number of concurrent downloads")
	sessionCmd.Flags().Int64(seedQueueSizeFlag, 0, "Number of concurrently seeding torrents")

	viper.AutomaticEnv()

	rootCmd.AddCommand(sessionCmd, statsCmd, freeSpaceCmd)
}
