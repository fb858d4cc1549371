package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"knowthecode/internal/store"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List ingested repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := homeDir()
		if err != nil {
			return err
		}
		st, err := store.Open(filepath.Join(home, "index.db"), flagDimensions)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer st.Close()

		repos, err := st.ListRepos()
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("No repositories ingested yet. Run 'knowthecode ingest <url>' to add one.")
			return nil
		}

		for _, r := range repos {
			fmt.Printf("%-40s %6d chunks  indexed %s\n",
				r.ID, r.ChunkCount, r.IndexedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reposCmd)
}
