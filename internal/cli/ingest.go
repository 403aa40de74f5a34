package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ccp-pamplona/ccpbot/internal/embed"
	"github.com/ccp-pamplona/ccpbot/internal/ingest"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

var (
	ingestDir         string
	ingestBackend     string
	ingestModel       string
	ingestChunkSize   int
	ingestOverlap     int
	ingestReset       bool
	ingestConcurrency int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the knowledge base into the vector store",
	Long: `Reads every PDF, HTML, Markdown and text file under --dir, splits it into
overlapping chunks, embeds them and upserts them into the configured
collection. Prints a JSON report when done.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "knowledge/ccp", "knowledge base directory")
	ingestCmd.Flags().StringVar(&ingestBackend, "backend", "", "embedding backend: hf, openai or ollama (default from EMBED_BACKEND)")
	ingestCmd.Flags().StringVar(&ingestModel, "model", "", "embedding model (default depends on the backend)")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", ingest.DefaultChunkSize, "words per chunk")
	ingestCmd.Flags().IntVar(&ingestOverlap, "chunk-overlap", ingest.DefaultChunkOverlap, "words shared by consecutive chunks")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "empty the collection before writing")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", ingest.DefaultConcurrency, "embedding requests in flight")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.SetEmbedding(ingestBackend, ingestModel)
	if err := cfg.ValidateIngest(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.VectorStore, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close vector store: %v", err)
		}
	}()

	pipeline := ingest.NewPipeline(ingest.NewLoader(), embedder, store)
	pipeline.SetConcurrency(ingestConcurrency)

	report, err := pipeline.Run(ctx, ingest.Options{
		Dir:          ingestDir,
		ChunkSize:    ingestChunkSize,
		ChunkOverlap: ingestOverlap,
		Reset:        ingestReset,
		Backend:      string(cfg.Embedding.Backend),
		Model:        embed.ModelName(cfg.Embedding),
	})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
