package cmd

import (
	"knowthecode/internal/tui"
)

func runTUI() error {
	cfg, err := baseConfig()
	if err != nil {
		return err
	}

	return tui.Run(tui.Config{
		Ingest:    cfg,
		OllamaURL: flagOllama,
		Model:     flagEmbedModel,
		ChatModel: flagChatModel,
	})
}
