package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/ignore"
	"github.com/fyrsmithlabs/tutord/internal/retrieval"
)

var (
	chunkSize    int
	chunkOverlap int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Index course files for retrieval",
	Long: `Chunk every markdown and text file under dir and upsert the chunks into the
collection named by retrieval.backend (chromem or qdrant). Re-ingesting a file
overwrites its earlier chunks. Paths listed in .tutordignore or .gitignore at
the root of dir are skipped.

Examples:
  tutord ingest ./course/notes
  tutord ingest --chunk-size 1200 --overlap 100 ./course`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args[0])
	},
}

func init() {
	ingestCmd.Flags().IntVar(&chunkSize, "chunk-size", retrieval.DefaultChunkSize, "characters per chunk")
	ingestCmd.Flags().IntVar(&chunkOverlap, "overlap", retrieval.DefaultChunkOverlap, "characters shared by neighbouring chunks")
}

func runIngest(ctx context.Context, dir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	store, err := a.store()
	if err != nil {
		return err
	}
	ingester, err := retrieval.NewIngester(store, chunkSize, chunkOverlap, a.logger)
	if err != nil {
		return err
	}
	skip, err := ignore.Load(dir, ignore.DefaultFiles, ignore.DefaultPatterns)
	if err != nil {
		return fmt.Errorf("reading ignore files: %w", err)
	}
	ingester.SetIgnore(skip)

	start := time.Now()
	n, err := ingester.IngestDir(ctx, dir)
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "ingest complete",
		zap.String("dir", dir),
		zap.String("backend", a.cfg.Retrieval.Backend),
		zap.Int("chunks", n),
		zap.Duration("duration", time.Since(start)),
	)
	fmt.Fprintf(rootCmd.OutOrStdout(), "ingested %d chunks from %s\n", n, dir)
	return nil
}
