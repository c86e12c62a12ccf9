package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github/itish2003/pointer/config"
	"github/itish2003/pointer/controller"
	"github/itish2003/pointer/logger"
	"github/itish2003/pointer/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

func main() {
	cfg := config.LoadServer()
	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer log.Sync()

	if cfg.APISecret == "" {
		log.Warn("API_SECRET is empty; every authenticated request will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 5 * time.Minute}

	var geminiClient *genai.Client
	if cfg.Chat.Provider == "gemini" || cfg.Embedding.Provider == "gemini" {
		var err error
		geminiClient, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			log.Fatal("failed to create Gemini client; make sure GEMINI_API_KEY is set", zap.Error(err))
		}
		log.Info("connected to Google Gemini")
	}

	embedder, err := newEmbedder(cfg, httpClient, geminiClient)
	if err != nil {
		log.Fatal("failed to build embedder", zap.Error(err))
	}
	if cfg.EmbedCacheTTL > 0 {
		embedder = services.NewCachedEmbedder(embedder, cfg.EmbedCacheTTL, log)
	}

	chatModel, err := newChatModel(cfg, httpClient, geminiClient)
	if err != nil {
		log.Fatal("failed to build chat model", zap.Error(err))
	}

	index, closeIndex, err := newVectorIndex(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open vector index", zap.Error(err))
	}
	defer closeIndex()

	splitter, err := services.NewSplitter(cfg.ChunkStrategy, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatal("invalid chunking configuration", zap.Error(err))
	}

	memoryService := services.NewMemoryService(splitter, embedder, index, cfg.DefaultTopK, log)
	chatService := services.NewChatService(chatModel, memoryService, cfg.Chat.Model, cfg.SystemPrompt, log)

	if cfg.WatchDir != "" {
		if err := services.SetPDFLicense(cfg.UnidocLicenseKey); err != nil {
			log.Warn("PDF extraction disabled", zap.Error(err))
		}
		watcher := services.NewDirectoryWatcher(memoryService, log)
		go func() {
			watcher.ScanDirectory(ctx, cfg.WatchDir)
			if err := watcher.Watch(ctx, cfg.WatchDir); err != nil {
				log.Error("directory watcher stopped", zap.Error(err))
			}
		}()
	}

	gin.SetMode(cfg.GinMode)
	router := controller.NewRouter(
		controller.NewChatController(chatService, log),
		controller.NewMemoryController(memoryService, log),
		controller.RouterOptions{
			APISecret:      cfg.APISecret,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			Logger:         log,
		},
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("backend listening",
			zap.String("addr", srv.Addr),
			zap.String("chat", cfg.Chat.Provider+"/"+cfg.Chat.Model),
			zap.String("embeddings", cfg.Embedding.Provider+"/"+cfg.Embedding.Model),
			zap.String("vector_store", cfg.VectorStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newEmbedder(cfg *config.ServerConfig, httpClient *http.Client, geminiClient *genai.Client) (services.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "ollama":
		return services.NewOllamaEmbedder(httpClient, cfg.OllamaURL, cfg.Embedding.Model), nil
	case "gemini":
		return services.NewGeminiEmbedder(geminiClient, cfg.Embedding.Model), nil
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.Embedding.Provider)
	}
}

func newChatModel(cfg *config.ServerConfig, httpClient *http.Client, geminiClient *genai.Client) (services.ChatModel, error) {
	switch cfg.Chat.Provider {
	case "ollama":
		return services.NewOllamaChat(httpClient, cfg.OllamaURL), nil
	case "gemini":
		return services.NewGeminiChat(geminiClient), nil
	default:
		return nil, fmt.Errorf("unknown CHAT_PROVIDER %q", cfg.Chat.Provider)
	}
}

// newVectorIndex opens the configured store and returns its release func.
func newVectorIndex(ctx context.Context, cfg *config.ServerConfig, log *zap.Logger) (services.VectorIndex, func(), error) {
	switch cfg.VectorStore {
	case "memory":
		return services.NewMemoryIndex(), func() {}, nil
	case "sqlite":
		idx, err := services.NewSQLiteIndex(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return idx, func() {
			if err := idx.Close(); err != nil {
				log.Warn("failed to close sqlite index", zap.Error(err))
			}
		}, nil
	case "chroma":
		client, collection, err := services.OpenChromaCollection(ctx, cfg.ChromaURL, cfg.ChromaCollection)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using chroma collection", zap.String("collection", cfg.ChromaCollection))
		return services.NewChromaIndex(collection, log), func() {
			if err := client.Close(); err != nil {
				log.Warn("failed to close chroma client", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown VECTOR_STORE %q", cfg.VectorStore)
	}
}
