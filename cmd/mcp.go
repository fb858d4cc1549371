package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"knowthecode/internal/embedder"
	"knowthecode/internal/ingest"
	"knowthecode/internal/llm"
	"knowthecode/internal/rag"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing repository ingestion and Q&A tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := baseConfig()
	if err != nil {
		return err
	}

	ing, err := ingest.New(cfg)
	if err != nil {
		return err
	}
	defer ing.Close()

	coord := rag.NewCoordinator(
		ing.Store(),
		embedder.NewOllamaEmbedder(flagOllama, flagEmbedModel),
		llm.NewOllamaChat(flagOllama, flagChatModel),
		rag.DefaultOptions(),
	)

	s := mcpserver.NewMCPServer("knowthecode", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(ingestRepositoryTool(), makeIngestHandler(ing))
	s.AddTool(askRepositoryTool(), makeAskHandler(coord))
	s.AddTool(listRepositoriesTool(), makeListReposHandler(ing))

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func ingestRepositoryTool() mcp.Tool {
	return mcp.NewTool("ingest_repository",
		mcp.WithDescription("Clone and index a repository so it can be queried. Skips repositories whose content is already indexed. Returns the repository id to use with ask_repository."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Git URL or local path of the repository"),
		),
	)
}

func askRepositoryTool() mcp.Tool {
	return mcp.NewTool("ask_repository",
		mcp.WithDescription("Answer a natural-language question about an ingested repository using retrieved code context. Returns the answer with cited source locations."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("repo_id",
			mcp.Required(),
			mcp.Description("Repository id as returned by ingest_repository or list_repositories"),
		),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural language question about the repository"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to retrieve (default 5)"),
		),
	)
}

func listRepositoriesTool() mcp.Tool {
	return mcp.NewTool("list_repositories",
		mcp.WithDescription("List ingested repositories with their chunk counts and indexing timestamps."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

func makeIngestHandler(ing *ingest.Ingestor) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url := req.GetString("url", "")
		if url == "" {
			return mcp.NewToolResultError("url is required"), nil
		}

		res, err := ing.Ingest(ctx, url, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ingestion failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Repository id: %s\n", res.RepoID)
		if res.Skipped {
			sb.WriteString("Already indexed: fingerprint matched, nothing re-embedded.\n")
		} else {
			fmt.Fprintf(&sb, "Files: %d selected, %d unreadable\n", res.FilesTotal, res.FilesFailed)
			fmt.Fprintf(&sb, "Chunks: %d stored / %d total\n", res.StoredChunks, res.TotalChunks)
			if res.FailedBatches > 0 {
				fmt.Fprintf(&sb, "WARNING: %d of %d batches failed; re-run ingest_repository to retry\n",
					res.FailedBatches, res.TotalBatches)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeAskHandler(coord *rag.Coordinator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repoID := req.GetString("repo_id", "")
		question := req.GetString("question", "")
		if repoID == "" || question == "" {
			return mcp.NewToolResultError("repo_id and question are required"), nil
		}
		k := req.GetInt("k", 0)

		ans, err := coord.Answer(ctx, repoID, question, k)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("answer failed: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString(ans.Text)
		if len(ans.Chunks) > 0 {
			sb.WriteString("\n\nSources:\n")
			for _, c := range ans.Chunks {
				fmt.Fprintf(&sb, "- %s:%d-%d (score %.3f)\n",
					c.Chunk.Path, c.Chunk.StartLine, c.Chunk.EndLine, c.Score)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeListReposHandler(ing *ingest.Ingestor) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repos, err := ing.Store().ListRepos()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list repositories failed: %v", err)), nil
		}
		if len(repos) == 0 {
			return mcp.NewToolResultText("No repositories ingested yet. Call ingest_repository first."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Ingested repositories (%d)\n\n", len(repos))
		for _, r := range repos {
			fmt.Fprintf(&sb, "- **%s**: %d chunks, indexed %s\n",
				r.ID, r.ChunkCount, r.IndexedAt.Format("2006-01-02 15:04"))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
