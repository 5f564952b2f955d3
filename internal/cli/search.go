package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"church-assistant/internal/retrieval"
)

type searchResult struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Score int      `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

func newSearchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search [message]",
		Short: "Preview the context a chat message would retrieve",
		Long:  "Run retrieval for a message exactly as a chat turn would and print the scored entries.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			store, closeFn, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			retriever, err := retrieval.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}

			results := []searchResult{}
			for _, se := range retriever.Retrieve(cmd.Context(), query) {
				results = append(results, searchResult{
					ID:    se.Entry.ID,
					Title: se.Entry.Title,
					Score: se.Score,
					Tags:  se.Entry.Tags,
				})
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
}
