// Package cli implements the kbctl knowledge base commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"church-assistant/internal/domain"
	"church-assistant/internal/repository"
)

// knowledgeStore is what every kbctl command needs from a backend.
type knowledgeStore interface {
	CountKnowledge(ctx context.Context) (int, error)
	PutKnowledge(ctx context.Context, entries []domain.KnowledgeEntry) error
	SearchKnowledge(ctx context.Context, query string, limit int) ([]domain.KnowledgeEntry, error)
}

type options struct {
	backend string
	dbPath  string
	table   string
}

// NewRootCmd builds the kbctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "kbctl",
		Short:         "Manage the church assistant knowledge base",
		Long:          "Seed, count and preview retrieval over the knowledge base used to ground chat replies.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.backend, "store", "s", "sqlite", "Backend: sqlite or dynamodb")
	root.PersistentFlags().StringVarP(&opts.dbPath, "db", "d", envOr("SQLITE_PATH", "data/church-assistant.db"), "SQLite database path")
	root.PersistentFlags().StringVarP(&opts.table, "table", "t", os.Getenv("STATE_TABLE"), "DynamoDB table name")

	root.AddCommand(newSeedCmd(opts), newSearchCmd(opts), newCountCmd(opts))
	return root
}

// open returns the selected backend and a func releasing it.
func (o *options) open(ctx context.Context) (knowledgeStore, func() error, error) {
	switch strings.ToLower(o.backend) {
	case "sqlite":
		s, err := repository.NewSQLiteStore(o.dbPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		c, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), o.table)
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want sqlite or dynamodb)", o.backend)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
