package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pojntfx/tremote/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	pausedFlag     = "paused"
	deleteDataFlag = "delete-data"
)

var errMissingTorrent = errors.New("missing magnet link, URL or .torrent file")

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}

			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid torrent id %q", part)
			}

			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return nil, client.ErrMissingIDs
	}

	return ids, nil
}

var torrentsCmd = &cobra.Command{
	Use:     "torrents [ID]",
	Aliases: []string{"t", "ls"},
	Short:   "List torrents, or show one torrent with its files and trackers",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, r *remote) error {
			if len(args) == 0 {
				torrents, err := r.manager.Torrents(ctx)
				if err := cacheOnly(err); err != nil {
					return err
				}

				return printYAML(torrents)
			}

			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			if _, err := r.manager.Connect(ctx); err != nil {
				return err
			}

			torrent, err := r.client.TorrentDetails(ctx, ids[0])
			if err != nil {
				return err
			}

			return printYAML(torrent)
		})
	},
}

var addCmd = &cobra.Command{
	Use:     "add MAGNET|URL|FILE",
	Aliases: []string{"a"},
	Short:   "Add a torrent by magnet link, URL or local .torrent file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		source := strings.TrimSpace(args[0])
		if source == "" {
			return errMissingTorrent
		}

		req := client.AddRequest{
			DownloadDir: viper.GetString(downloadDirFlag),
			Paused:      viper.GetBool(pausedFlag),
		}

		if metainfo, err := os.ReadFile(source); err == nil {
			req.Metainfo = metainfo
		} else if errors.Is(err, os.ErrNotExist) {
			req.Filename = source
		} else {
			return err
		}

		return run(func(ctx context.Context, r *remote) error {
			if _, err := r.manager.Connect(ctx); err != nil {
				return err
			}

			res, err := r.client.TorrentAdd(ctx, req)
			if err != nil {
				return err
			}

			return printYAML(res)
		})
	},
}

func actionCmd(action client.Action, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			return run(func(ctx context.Context, r *remote) error {
				if _, err := r.manager.Connect(ctx); err != nil {
					return err
				}

				return r.client.TorrentAction(ctx, action, ids...)
			})
		},
	}
}

var removeCmd = &cobra.Command{
	Use:     "remove ID...",
	Aliases: []string{"rm"},
	Short:   "Remove torrents, optionally deleting their downloaded data",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}

		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		return run(func(ctx context.Context, r *remote) error {
			if _, err := r.manager.Connect(ctx); err != nil {
				return err
			}

			return r.client.TorrentRemove(ctx, viper.GetBool(deleteDataFlag), ids...)
		})
	},
}

func init() {
	addCmd.Flags().String(downloadDirFlag, "", "Download directory (defaults to the session's)")
	addCmd.Flags().Bool(pausedFlag, false, "Add the torrent without starting it")

	removeCmd.Flags().Bool(deleteDataFlag, false, "Also delete downloaded data")

	viper.AutomaticEnv()

	rootCmd.AddCommand(
		torrentsCmd,
		addCmd,
		actionCmd(client.ActionStart, "start", "Start torrents"),
		actionCmd(client.ActionStartNow, "start-now", "Start torrents, bypassing the queue"),
		actionCmd(client.ActionStop, "stop", "Stop torrents"),
		actionCmd(client.ActionVerify, "verify", "Verify downloaded data of torrents"),
		actionCmd(client.ActionReannounce, "reannounce", "Ask trackers for more peers"),
		removeCmd,
	)
}
