package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ccp-pamplona/ccpbot/internal/assistant"
	"github.com/ccp-pamplona/ccpbot/internal/auth"
	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/dedupe"
	"github.com/ccp-pamplona/ccpbot/internal/dispatch"
	"github.com/ccp-pamplona/ccpbot/internal/embed"
	"github.com/ccp-pamplona/ccpbot/internal/llm"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
	"github.com/ccp-pamplona/ccpbot/internal/rag"
	"github.com/ccp-pamplona/ccpbot/internal/telegram"
	"github.com/ccp-pamplona/ccpbot/internal/whatsapp"
)

// replyTimeout bounds one background reply: embed, retrieve, generate, send.
const replyTimeout = 3 * time.Minute

func main() {
	// Parse command line flags
	debug := flag.Bool("debug", false, "Enable debug logging")
	personaFile := flag.String("persona", "", "Path to a persona YAML file")
	flag.Parse()

	// .env may carry LOG_LEVEL and LOG_FORMAT, so load it before the logger.
	loadedEnv := config.LoadDotEnv()
	logger.Init(*debug)
	defer logger.Sync()

	if loadedEnv {
		logger.Info("Loaded .env")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fatal("Invalid configuration: %v", err)
	}
	if *personaFile != "" {
		cfg.PersonaFile = *personaFile
	}
	if err := cfg.ValidateServer(); err != nil {
		fatal("Invalid configuration: %v", err)
	}

	if logger.IsDebugEnabled() {
		logger.Debug("Configuration loaded: addr=%s store=%s collection=%s embed=%s/%s llm=%s telegram=%t redis=%t",
			cfg.HTTPAddr, cfg.VectorStore.Mode, cfg.VectorStore.Collection, cfg.Embedding.Backend,
			embed.ModelName(cfg.Embedding), cfg.LLM.Model, cfg.TelegramToken != "", cfg.RedisURL != "")
	}

	persona, err := llm.LoadPersona(cfg.PersonaFile)
	if err != nil {
		fatal("Failed to load persona: %v", err)
	}
	logger.Info("Persona '%s' loaded", persona.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Initializing services...")

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		fatal("Failed to initialize embeddings: %v", err)
	}
	store, err := rag.New(ctx, cfg.VectorStore, cfg.Embedding.Dimension)
	if err != nil {
		fatal("Failed to open vector store: %v", err)
	}
	chat := llm.NewChatService(cfg.LLM, nil)
	answerer := assistant.New(embedder, store, chat, llm.NewPromptGenerator(persona),
		assistant.OptionsFromConfig(cfg.Retrieval))

	dispatcher := dispatch.New(replyTimeout)
	seen, err := dedupe.New(ctx, cfg.RedisURL, dedupe.DefaultTTL)
	if err != nil {
		fatal("Failed to initialize de-duplication: %v", err)
	}
	policy := auth.NewPolicyService(cfg.AdminSenderIDs, cfg.AllowedSenderIDs)

	gin.SetMode(gin.ReleaseMode)
	if *debug {
		gin.SetMode(gin.DebugMode)
	}
	handler := whatsapp.NewHandler(whatsapp.HandlerConfig{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		Sender:      whatsapp.NewClient(cfg.WhatsApp, nil),
		Answerer:    answerer,
		Policy:      policy,
		Dedupe:      seen,
		Dispatcher:  dispatcher,
	})
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: whatsapp.NewRouter(handler),
	}

	go func() {
		logger.Info("Listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			cancel()
		}
	}()

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(telegram.Config{
			Token:      cfg.TelegramToken,
			Answerer:   answerer,
			Policy:     policy,
			Dispatcher: dispatcher,
			Store:      store,
			Greeting:   persona.Replies.Greeting,
		})
		if err != nil {
			fatal("Failed to initialize Telegram bot: %v", err)
		}
		go bot.Start(ctx)
	}

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Pending replies abandoned: %v", err)
	}
	if err := seen.Close(); err != nil {
		logger.Warn("Failed to close de-duplication store: %v", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("Failed to close vector store: %v", err)
	}

	logger.Info("Bot has been shut down")
}

func fatal(format string, v ...interface{}) {
	logger.Error(format, v...)
	logger.Sync()
	os.Exit(1)
}
