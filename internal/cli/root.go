// Package cli implements the ccpctl operator commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/embed"
	"github.com/ccp-pamplona/ccpbot/internal/llm"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
	"github.com/ccp-pamplona/ccpbot/internal/rag"
)

var debug bool

// Dependency constructors, replaced in tests.
var (
	loadConfig   = defaultLoadConfig
	newEmbedder  = embed.New
	openStore    = rag.New
	newCompleter = func(cfg config.LLM) llm.Completer {
		return llm.NewChatService(cfg, nil)
	}
)

var rootCmd = &cobra.Command{
	Use:   "ccpctl",
	Short: "Operate the Cámara de Comercio assistant",
	Long: `ccpctl ingests the knowledge base into the vector store and lets an
operator try questions against it without going through WhatsApp.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

// initLogging loads .env first so LOG_LEVEL and LOG_FORMAT set there apply.
func initLogging() {
	loaded := config.LoadDotEnv()
	logger.Init(debug)
	if loaded {
		logger.Debug("Loaded .env")
	}
}

func defaultLoadConfig() (*config.Config, error) {
	return config.FromEnv()
}
