package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccp-pamplona/ccpbot/internal/assistant"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/llm"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the assistant a question",
	Long: `Answers questions with the same retrieval and generation path the
WhatsApp channel uses. With no argument it reads questions from stdin until
"salir", "exit" or end of input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateAsk(); err != nil {
		return err
	}

	persona, err := llm.LoadPersona(cfg.PersonaFile)
	if err != nil {
		return err
	}
	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
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

	a := assistant.New(embedder, store, newCompleter(cfg.LLM),
		llm.NewPromptGenerator(persona), assistant.OptionsFromConfig(cfg.Retrieval))

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		fmt.Fprintln(out, a.Answer(ctx, args[0]))
		return nil
	}
	return askLoop(ctx, a, cmd.InOrStdin(), out)
}

func askLoop(ctx context.Context, a core.Answerer, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Prueba de RAG para Cámara de Comercio de Pamplona")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nPregunta (o 'salir'): ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "salir", "exit":
			return nil
		case "":
			continue
		}
		fmt.Fprintf(out, "\nRespuesta:\n%s\n---\n", a.Answer(ctx, question))
	}
}
