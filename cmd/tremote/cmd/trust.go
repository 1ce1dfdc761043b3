package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pojntfx/tremote/pkg/trust"
	"github.com/spf13/cobra"
)

var errUnknownPin = errors.New("no pinned certificate for server")

type pin struct {
	Server      string            `yaml:"server"`
	Certificate trust.Certificate `yaml:"certificate"`
}

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage pinned server certificates",
}

var trustListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List pinned certificates",
	RunE: func(cmd *cobra.Command, args []string) error {
		certs, err := trustStore().List()
		if err != nil {
			return err
		}

		pins := make([]pin, 0, len(certs))
		for server, cert := range certs {
			pins = append(pins, pin{Server: server, Certificate: cert})
		}
		sort.Slice(pins, func(i, j int) bool { return pins[i].Server < pins[j].Server })

		return printYAML(pins)
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:     "remove HOST:PORT",
	Aliases: []string{"rm"},
	Short:   "Forget the pinned certificate of a server",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := trust.IdentityFromAddr(args[0], true)
		if err != nil {
			return err
		}

		store := trustStore()
		if _, ok, err := store.Load(id); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %s", errUnknownPin, id.ID())
		}

		return store.Remove(id)
	},
}

func init() {
	trustCmd.AddCommand(trustListCmd, trustRemoveCmd)

	rootCmd.AddCommand(trustCmd)
}
