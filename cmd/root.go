package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"knowthecode/internal/ingest"
)

var (
	flagHome       string
	flagOllama     string
	flagEmbedModel string
	flagChatModel  string
	flagDimensions int
)

var rootCmd = &cobra.Command{
	Use:   "knowthecode",
	Short: "Ask questions about any repository, powered by RAG",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "data directory (default ~/.knowthecode)")
	rootCmd.PersistentFlags().StringVar(&flagOllama, "ollama", "http://localhost:11434", "ollama base URL")
	rootCmd.PersistentFlags().StringVar(&flagEmbedModel, "embed-model", "nomic-embed-text", "embedding model")
	rootCmd.PersistentFlags().StringVar(&flagChatModel, "chat-model", "qwen3:8b", "generative model for answers")
	rootCmd.PersistentFlags().IntVar(&flagDimensions, "dimensions", 768, "embedding vector dimensionality")
}

// homeDir resolves the data directory, creating it if needed.
func homeDir() (string, error) {
	dir := flagHome
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".knowthecode")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// baseConfig assembles the orchestrator configuration shared by commands.
func baseConfig() (ingest.Config, error) {
	home, err := homeDir()
	if err != nil {
		return ingest.Config{}, err
	}
	return ingest.Config{
		HomeDir:    home,
		OllamaURL:  flagOllama,
		EmbedModel: flagEmbedModel,
		Dimensions: flagDimensions,
	}, nil
}
