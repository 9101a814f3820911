package dispatcher

import (
	"context"

	"github.com/vinaes/succ-amanstore/internal/config"
	"github.com/vinaes/succ-amanstore/internal/embed"
)

// NewEmbedder builds the embedding provider C1 describes (§4.1): whichever
// provider cfg.Provider names; an empty or unrecognised value selects Ollama,
// and an unavailable Ollama is returned as an error rather than falling back
// to the static embedder. embed.NewEmbedder
// already wraps the result in a content-hash LRU cache (unless
// AMANMCP_EMBED_CACHE disables it), so identical text returns the same
// vector within a run without a second round trip to the provider. Callers
// that don't already own an embed.Embedder should build one with this and
// set it on Dependencies.Embedder before calling New, the same way
// NewWithFileLogging hands New a logger it built.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (embed.Embedder, error) {
	return embed.NewEmbedder(ctx, embed.ProviderType(cfg.Provider), cfg.Model)
}
