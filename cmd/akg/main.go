// Command akg builds and maintains a knowledge graph from local documents.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/akg"
)

var (
	configPath string
	logFormat  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "akg",
	Short: "Build a knowledge graph from documents",
	Long: `akg extracts entities and relationships from documents and reconciles
them into a deduplicated knowledge graph stored in SQLite or Neo4j.

Configuration is read from --config (YAML or JSON), AKG_* environment
variables and a .env file in the working directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format override: json or text")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	rootCmd.AddCommand(ingestCmd, watchCmd, sweepCmd, mergeCmd, typesCmd, statsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// session is an opened engine plus the config and logger it was built from.
type session struct {
	cfg    akg.Config
	log    *slog.Logger
	engine akg.Engine
	closer io.Closer
}

func (s *session) Close() {
	if err := s.engine.Close(); err != nil && !errors.Is(err, akg.ErrStoreClosed) {
		s.log.Warn("closing engine", "error", err)
	}
	s.closer.Close()
}

func loadConfig() (akg.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return akg.Config{}, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := akg.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closer, err := akg.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	engine, err := akg.New(cfg, akg.WithLogger(logger))
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &session{cfg: cfg, log: logger, engine: engine, closer: closer}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
