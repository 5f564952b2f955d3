package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"church-assistant/internal/domain"
	"church-assistant/internal/knowledge"
)

func newSeedCmd(opts *options) *cobra.Command {
	var (
		file  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the knowledge base if it is empty",
		Long:  "Load entries from a YAML seed file (or the built-in base) and write them when the store is empty. --force writes them anyway.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				entries []domain.KnowledgeEntry
				err     error
			)
			if file != "" {
				entries, err = knowledge.LoadFile(file)
			} else {
				entries, err = knowledge.Default()
			}
			if err != nil {
				return err
			}

			store, closeFn, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			seeder, err := knowledge.NewSeeder(store, logger)
			if err != nil {
				return err
			}
			res, err := seeder.Seed(cmd.Context(), entries, force)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file (default: built-in knowledge base)")
	cmd.Flags().BoolVar(&force, "force", false, "Write entries even if the store is not empty")
	return cmd
}
