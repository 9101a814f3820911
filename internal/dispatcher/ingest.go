package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/vinaes/succ-amanstore/internal/chunk"
	"github.com/vinaes/succ-amanstore/internal/embed"
	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
	"github.com/vinaes/succ-amanstore/internal/freshness"
	"github.com/vinaes/succ-amanstore/internal/relstore"
)

// codeExtensions routes a file extension to the code chunker and the
// tree-sitter language name it should parse as; everything markdown-shaped
// goes through the markdown chunker, and anything else is unsupported.
var codeExtensions = map[string]string{
	".go":  "go",
	".ts":  "typescript",
	".tsx": "typescript",
	".js":  "javascript",
	".jsx": "javascript",
	".py":  "python",
}

var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdx":      true,
}

// IngestResult summarizes one IngestFile call.
type IngestResult struct {
	// Skipped is true when the file's content hash matched the last indexed
	// hash and no chunking or storage work was done.
	Skipped bool
	// Unsupported is true when the file is binary or has no chunker for its
	// extension.
	Unsupported bool
	Chunks      int
	DocumentIDs []int64
}

// IngestFile chunks a single file's content, embeds each chunk (when
// embedder is non-nil) and upserts the resulting rows through
// UpsertDocumentsBatchWithHashes. Grounded on the deleted
// internal/index.Coordinator.indexFile's stat-hash-chunk-save sequence,
// generalized from a filesystem-watcher callback into a direct per-file call
// so any caller (a watcher, a bulk reindex, an MCP tool) can drive it
// without owning a coordinator.
//
// relPath is project-relative and may use either path separator; a code
// file's chunks are stored under relstore's "code:" FilePath-prefix
// convention so the dispatcher routes them to the code vector/lexical
// collaborators instead of the docs ones.
//
// embedder overrides the Dispatcher's own embedder (built via NewEmbedder
// and wired through Dependencies.Embedder) for this call; pass nil to use
// whichever embedder the Dispatcher was constructed with, which may itself
// be nil (embedding skipped, matching SaveMemory's pre-embedded-row
// convention).
func (d *Dispatcher) IngestFile(ctx context.Context, projectID, relPath string, content []byte, embedder embed.Embedder) (*IngestResult, error) {
	relPath = strings.ReplaceAll(relPath, "\\", "/")
	if embedder == nil {
		embedder = d.embedder
	}

	if isBinaryContent(content) {
		return &IngestResult{Unsupported: true}, nil
	}

	hash := freshness.HashContent(content)
	var existing *relstore.FileHash
	err := withRetry(ctx, func() error {
		var lookupErr error
		existing, lookupErr = d.store.GetFileHash(ctx, projectID, relPath)
		if errors.Is(lookupErr, relstore.ErrNotFound) {
			return nil
		}
		return lookupErr
	})
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "ingest_file_hash_lookup_failed", err)
	}
	if existing != nil && existing.Hash == hash {
		return &IngestResult{Skipped: true}, nil
	}

	chunker, language, isCode := chunkerFor(relPath)
	if chunker == nil {
		return &IngestResult{Unsupported: true}, nil
	}

	var chunks []*chunk.Chunk
	err = withRetry(ctx, func() error {
		var chunkErr error
		chunks, chunkErr = chunker.Chunk(ctx, &chunk.FileInput{Path: relPath, Content: content, Language: language})
		return chunkErr
	})
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "ingest_file_chunk_failed", err)
	}

	storedPath := relPath
	if isCode {
		storedPath = "code:" + relPath
	}

	docs := make([]*relstore.Document, 0, len(chunks))
	for i, ch := range chunks {
		docs = append(docs, &relstore.Document{
			ProjectID:  projectID,
			FilePath:   storedPath,
			ChunkIndex: i,
			Content:    ch.Content,
			StartLine:  ch.StartLine,
			EndLine:    ch.EndLine,
		})
	}

	if embedder != nil && len(docs) > 0 {
		texts := make([]string, len(docs))
		for i, doc := range docs {
			texts[i] = doc.Content
		}
		var vectors [][]float32
		embedErr := withRetry(ctx, func() error {
			var batchErr error
			vectors, batchErr = embedder.EmbedBatch(ctx, texts)
			return batchErr
		})
		if embedErr != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "ingest_file_embed_failed", embedErr)
		}
		for i, v := range vectors {
			docs[i].Embedding = v
		}
	}

	fileHash := &relstore.FileHash{ProjectID: projectID, FilePath: relPath, Hash: hash}

	var ids []int64
	if len(docs) > 0 {
		ids, err = d.UpsertDocumentsBatchWithHashes(ctx, docs, []*relstore.FileHash{fileHash}, nil)
		if err != nil {
			return nil, err
		}
	} else if err := withRetry(ctx, func() error { return d.store.SaveFileHash(ctx, fileHash) }); err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "ingest_file_save_hash_failed", err)
	}

	return &IngestResult{Chunks: len(chunks), DocumentIDs: ids}, nil
}

// RemoveFile deletes a file's indexed chunks (both under its plain and
// "code:"-prefixed stored paths, since the caller may not know which corpus
// it was ingested into) and its tracked content hash. Mirrors the deleted
// internal/index.Coordinator.removeFile's delete-then-untrack sequence.
func (d *Dispatcher) RemoveFile(ctx context.Context, projectID, relPath string) error {
	relPath = strings.ReplaceAll(relPath, "\\", "/")
	for _, storedPath := range []string{relPath, "code:" + relPath} {
		if err := d.deleteDocumentsForPath(ctx, projectID, storedPath); err != nil {
			return err
		}
	}
	if err := withRetry(ctx, func() error { return d.store.DeleteFileHash(ctx, projectID, relPath) }); err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "remove_file_delete_hash_failed", err)
	}
	return nil
}

func chunkerFor(relPath string) (chunk.Chunker, string, bool) {
	ext := strings.ToLower(filepath.Ext(relPath))
	if lang, ok := codeExtensions[ext]; ok {
		return codeChunker, lang, true
	}
	if markdownExtensions[ext] {
		return mdChunker, "", false
	}
	return nil, "", false
}

var (
	codeChunker = chunk.NewCodeChunker()
	mdChunker   = chunk.NewMarkdownChunker()
)

// isBinaryContent is a cheap NUL-byte heuristic matching the deleted
// internal/index.Coordinator's binary-file skip.
func isBinaryContent(content []byte) bool {
	probe := content
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) != -1
}
