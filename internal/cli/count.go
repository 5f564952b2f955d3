package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCountCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of knowledge entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := store.CountKnowledge(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
}
