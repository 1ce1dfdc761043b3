package cmd

import (
	"errors"
	"strings"

	"github.com/pojntfx/tremote/pkg/credentials"
	"github.com/pojntfx/tremote/pkg/profiles"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage server profiles",
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List server profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := profiles.NewStore(viper.GetString(profilesFlag))
		if err != nil {
			return err
		}

		list, err := store.List()
		if err != nil {
			return err
		}

		return printYAML(list)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set NAME URL",
	Short: "Create or update a server profile; --password is stored in the credentials file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := profiles.NewStore(viper.GetString(profilesFlag))
		if err != nil {
			return err
		}

		p, err := profiles.FromURL(args[0], args[1])
		if err != nil {
			return err
		}
		if username := strings.TrimSpace(viper.GetString(usernameFlag)); username != "" {
			p.Username = username
		}

		if err := store.Upsert(p); err != nil {
			return err
		}

		if pw := viper.GetString(passwordFlag); pw != "" {
			if p.Username == "" {
				return errors.New("a password needs a username")
			}

			if err := credentialStore().Save(credentials.Credentials{Key: p.CredentialsKey(), Password: pw}); err != nil {
				return err
			}
		}

		log.Info().
			Str("profile", p.Name).
			Str("endpoint", p.Endpoint()).
			Msg("Saved profile")

		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:     "delete NAME",
	Aliases: []string{"rm"},
	Short:   "Delete a server profile and its stored password",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := profiles.NewStore(viper.GetString(profilesFlag))
		if err != nil {
			return err
		}

		p, err := store.Get(args[0])
		if err != nil {
			return err
		}

		if err := store.Delete(p.Name); err != nil {
			return err
		}

		if p.Username != "" {
			if err := credentialStore().Delete(p.CredentialsKey()); err != nil && !errors.Is(err, credentials.ErrNotFound) {
				return err
			}
		}

		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd, profileSetCmd, profileDeleteCmd)

	rootCmd.AddCommand(profileCmd)
}
