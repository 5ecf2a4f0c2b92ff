// Package main provides the document Q&A API server and its one-shot
// ingestion command.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docqa-server/internal/answer"
	"github.com/bull/docqa-server/internal/docloader"
	"github.com/bull/docqa-server/internal/embedding"
	"github.com/bull/docqa-server/internal/filestore"
	"github.com/bull/docqa-server/internal/httpapi"
	"github.com/bull/docqa-server/internal/ingest"
	"github.com/bull/docqa-server/internal/registry"
	"github.com/bull/docqa-server/internal/retrieval"
	"github.com/bull/docqa-server/internal/splitter"
	"github.com/bull/docqa-server/internal/vectorindex"
)

var rootCmd = &cobra.Command{
	Use:   "docqa-server",
	Short: "PDF document Q&A service",
	Long:  "Uploads PDF documents, indexes them for semantic retrieval, and answers questions about them",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the background ingestion scheduler",
	Long: `Starts the HTTP API and the periodic ingestion job.

Environment variables:
  HTTP_ADDR                Listen address (default :8080)
  REGISTRY_PATH            SQLite database path (default data/registry.db)
  UPLOAD_FOLDER            Directory for raw uploads (default uploads)
  QDRANT_HOST              Qdrant hostname (default localhost)
  QDRANT_PORT              Qdrant gRPC port (default 6334)
  OPENAI_API_KEY           OpenAI API key (required)
  PROCESS_INTERVAL_SECONDS Ingestion scheduler interval (default 60)`,
	RunE: runServe,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process at most one pending upload and exit",
	RunE:  runProcess,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
}

func main() {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps is the process-wide dependency object, built once at startup and
// passed into the scheduler, retrieval, and answer paths explicitly.
type deps struct {
	registry  *registry.Store
	files     *filestore.Store
	index     *vectorindex.Index
	cache     *retrieval.Cache
	pipeline  *ingest.Pipeline
	assembler *answer.Assembler
	logger    *slog.Logger
}

func buildDeps() (*deps, error) {
	logger := slog.Default()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable is required")
	}

	reg, err := registry.Open(getEnv("REGISTRY_PATH", "data/registry.db"))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	files, err := filestore.New(getEnv("UPLOAD_FOLDER", "uploads"))
	if err != nil {
		reg.Close()
		return nil, err
	}

	embedder, err := embedding.New(apiKey, 0)
	if err != nil {
		reg.Close()
		return nil, err
	}

	index, err := vectorindex.New(
		getEnv("QDRANT_HOST", "localhost"),
		getEnvInt("QDRANT_PORT", 6334),
		embedder,
		logger,
	)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	cache, err := retrieval.New(index, retrieval.DefaultCapacity, retrieval.DefaultTopK)
	if err != nil {
		reg.Close()
		index.Close()
		return nil, err
	}

	split, err := splitter.New(splitter.DefaultConfig())
	if err != nil {
		reg.Close()
		index.Close()
		return nil, err
	}

	pipeline := ingest.NewPipeline(reg, files, docloader.NewPDFLoader(), split, index, cache, logger)
	assembler := answer.New(cache, answer.NewOpenAIModel(embedder.Client()), 0, logger)

	return &deps{
		registry:  reg,
		files:     files,
		index:     index,
		cache:     cache,
		pipeline:  pipeline,
		assembler: assembler,
		logger:    logger,
	}, nil
}

func (d *deps) close() {
	d.index.Close()
	d.registry.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(getEnvInt("PROCESS_INTERVAL_SECONDS", 60)) * time.Second
	scheduler := ingest.NewScheduler(d.pipeline, interval, d.logger)
	go scheduler.Run(ctx)

	api := httpapi.New(d.registry, d.files, d.index, d.cache, d.assembler, d.logger)
	server := &http.Server{
		Addr:    getEnv("HTTP_ADDR", ":8080"),
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("http server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	d.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runProcess(cmd *cobra.Command, args []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	processed, err := d.pipeline.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	if !processed {
		fmt.Println("No files in 'Uploaded' state")
		return nil
	}
	fmt.Println("Processed one file")
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
