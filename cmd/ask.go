package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"knowthecode/internal/embedder"
	"knowthecode/internal/llm"
	"knowthecode/internal/rag"
	"knowthecode/internal/store"
)

var flagTopK int

var askCmd = &cobra.Command{
	Use:   "ask <repo-id> <question...>",
	Short: "Ask a one-shot question about an ingested repository",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID := args[0]
		question := strings.Join(args[1:], " ")

		home, err := homeDir()
		if err != nil {
			return err
		}
		st, err := store.Open(filepath.Join(home, "index.db"), flagDimensions)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer st.Close()

		exists, err := st.NamespaceExists(repoID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("repository %q is not indexed\nRun 'knowthecode ingest <url>' first, or 'knowthecode repos' to list what is", repoID)
		}

		coord := rag.NewCoordinator(
			st,
			embedder.NewOllamaEmbedder(flagOllama, flagEmbedModel),
			llm.NewOllamaChat(flagOllama, flagChatModel),
			rag.DefaultOptions(),
		)

		ans, err := coord.Answer(cmd.Context(), repoID, question, flagTopK)
		if err != nil {
			return err
		}

		fmt.Println(ans.Text)
		if len(ans.Chunks) > 0 {
			fmt.Println("\nSources:")
			for _, c := range ans.Chunks {
				fmt.Printf("  %s:%d-%d (score %.3f)\n",
					c.Chunk.Path, c.Chunk.StartLine, c.Chunk.EndLine, c.Score)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().IntVar(&flagTopK, "k", 5, "number of chunks to retrieve")
	rootCmd.AddCommand(askCmd)
}
