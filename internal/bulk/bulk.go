// Package bulk implements the three checkpoint/migration pathways (C9):
// export to a versioned envelope, destructive import with id remapping,
// transactional restore (destructive or additive), and vector-index backfill
// from the relational store. Grounded on the teacher's checkpoint
// conventions (store.IndexCheckpoint, StateKeyIndexDimension) and
// session/storage.go's CopyIndexFiles, adapted here as CopyIndexArtifacts.
package bulk

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
	"github.com/vinaes/succ-amanstore/internal/relstore"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

// EnvelopeVersion is the format version written by Export and expected by
// Import/Restore; a mismatched major version is a ValidationError.
const EnvelopeVersion = "1.0"

// Envelope is the versioned checkpoint document (§6).
type Envelope struct {
	Version    string             `json:"version"`
	ExportedAt string             `json:"exported_at"`
	Metadata   EnvelopeMetadata   `json:"metadata"`
	Documents  []*relstore.Document   `json:"documents"`
	FileHashes []*relstore.FileHash   `json:"file_hashes"`
	Memories   []*relstore.Memory     `json:"memories"`
	MemoryLinks []*relstore.MemoryLink `json:"memory_links"`
	Centrality []*relstore.Centrality `json:"centrality"`
	GlobalMemories []*relstore.Memory `json:"global_memories"`
	TokenFrequencies map[string]map[string]int `json:"token_frequencies"`
	TokenStats []*relstore.TokenStat  `json:"token_stats"`
}

// EnvelopeMetadata carries backend identity so a restore can detect a
// cross-backend migration.
type EnvelopeMetadata struct {
	Backend           string `json:"backend"`
	EmbeddingModel    string `json:"embedding_model"`
	EmbeddingDimension int   `json:"embedding_dimension"`
}

// ExportOptions narrows which project's rows are exported. The global-memory
// namespace is always exported; an empty ProjectID is passed through to
// relstore, which treats an empty project filter as "no per-project
// restriction", so every project's memories are exported — callers that want
// a single project's checkpoint must pass it explicitly.
type ExportOptions struct {
	ProjectID          string
	Backend            string
	EmbeddingModel     string
	EmbeddingDimension int
	TokenScopes        []string // scopes to pull from token_frequencies/token_stats
}

// Export reads every exportable table for the given project (and the global
// namespace) into one Envelope. Embeddings are serialized as plain float
// arrays by encoding/json, which is loss-free within float32 precision
// because Go's json package round-trips float32 values exactly through their
// shortest decimal representation.
func Export(ctx context.Context, store relstore.Store, opts ExportOptions, now func() string) (*Envelope, error) {
	env := &Envelope{
		Version:    EnvelopeVersion,
		ExportedAt: now(),
		Metadata: EnvelopeMetadata{
			Backend:            opts.Backend,
			EmbeddingModel:     opts.EmbeddingModel,
			EmbeddingDimension: opts.EmbeddingDimension,
		},
		TokenFrequencies: make(map[string]map[string]int),
	}

	var err error
	if env.FileHashes, err = store.ListFileHashes(ctx, opts.ProjectID); err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "export_file_hashes_failed", err)
	}

	memFilter := relstore.MemoryFilter{ProjectID: opts.ProjectID, IncludeInvalid: true}
	if env.Memories, err = store.ListMemories(ctx, memFilter); err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "export_memories_failed", err)
	}
	if env.GlobalMemories, err = store.ListGlobalMemories(ctx, relstore.MemoryFilter{IncludeInvalid: true}); err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "export_global_memories_failed", err)
	}

	seenLinks := make(map[int64]bool)
	for _, m := range env.Memories {
		links, err := store.ListLinks(ctx, m.ID, nil)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "export_links_failed", err)
		}
		for _, l := range links {
			if seenLinks[l.ID] {
				continue
			}
			seenLinks[l.ID] = true
			env.MemoryLinks = append(env.MemoryLinks, l)
		}
		c, err := store.GetCentrality(ctx, m.ID)
		if err != nil && err != relstore.ErrNotFound {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "export_centrality_failed", err)
		}
		if c != nil {
			env.Centrality = append(env.Centrality, c)
		}
	}

	for _, scope := range opts.TokenScopes {
		freqs, err := store.GetTokenFrequencies(ctx, scope)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "export_token_frequencies_failed", err)
		}
		if len(freqs) > 0 {
			env.TokenFrequencies[scope] = freqs
		}
		stat, err := store.GetTokenStat(ctx, scope)
		if err != nil && err != relstore.ErrNotFound {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "export_token_stat_failed", err)
		}
		if stat != nil {
			env.TokenStats = append(env.TokenStats, stat)
		}
	}

	// Documents aren't filtered by FilePath here, so pull them via their
	// FileHash siblings (one GetDocumentsByPath call per tracked file).
	for _, fh := range env.FileHashes {
		docs, err := store.GetDocumentsByPath(ctx, opts.ProjectID, fh.FilePath)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "export_documents_failed", err)
		}
		env.Documents = append(env.Documents, docs...)
	}

	return env, nil
}

// WriteEnvelope serializes env to w as JSON, gzip-compressing when path ends
// in ".gz" (§6: "gzip is optional and indicated by file extension").
func WriteEnvelope(env *Envelope, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "envelope_create_failed", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(env); err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "envelope_encode_failed", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return storeerrors.Wrap(storeerrors.KindTransientBackend, "envelope_gzip_close_failed", err)
		}
	}
	return nil
}

// ReadEnvelope deserializes an envelope previously written by WriteEnvelope,
// transparently gzip-decoding by file extension.
func ReadEnvelope(path string) (*Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "envelope_open_failed", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindValidation, "envelope_gzip_open_failed", err)
		}
		defer gz.Close()
		r = gz
	}

	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindValidation, "envelope_decode_failed", err)
	}
	if !strings.HasPrefix(env.Version, "1.") {
		return nil, storeerrors.Validation("unsupported_envelope_version", fmt.Sprintf("unsupported envelope version %q", env.Version))
	}
	return &env, nil
}

// ImportResult maps the old (pre-import) ids to the freshly assigned ids, so
// a caller can remap any out-of-envelope references (e.g. an external
// vector-engine payload's id field).
type ImportResult struct {
	MemoryIDRemap         map[int64]int64
	GlobalMemoryIDRemap   map[int64]int64
	DocumentIDRemap       map[int64]int64
}

// Import destructively clears the project's documents and memories, then
// reinserts the envelope's rows in their original relative order, assigning
// fresh ids (§4.9: "preserving relative ordering but not original ids"). The
// envelope's file hashes are saved over existing rows for the same paths;
// existing file hashes for other paths are not cleared. Links and centrality
// rows are remapped through the
// returned id maps before being reinserted; any row whose endpoint has no
// mapping (because the original memory no longer exists in the envelope) is
// dropped rather than failing the whole import.
func Import(ctx context.Context, store relstore.Store, projectID string, env *Envelope, logger *slog.Logger) (*ImportResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	result := &ImportResult{
		MemoryIDRemap:       make(map[int64]int64),
		GlobalMemoryIDRemap: make(map[int64]int64),
		DocumentIDRemap:     make(map[int64]int64),
	}

	err := store.WithTx(ctx, func(tx relstore.Store) error {
		if err := tx.DeleteDocumentsByProject(ctx, projectID); err != nil {
			return err
		}
		if err := tx.DeleteMemoriesByProject(ctx, projectID); err != nil {
			return err
		}

		for _, d := range env.Documents {
			old := d.ID
			cp := *d
			cp.ID = 0
			cp.ProjectID = projectID
			newID, err := tx.UpsertDocuments(ctx, []*relstore.Document{&cp})
			if err != nil {
				return err
			}
			result.DocumentIDRemap[old] = newID[0]
		}

		for _, fh := range env.FileHashes {
			cp := *fh
			cp.ProjectID = projectID
			if err := tx.SaveFileHash(ctx, &cp); err != nil {
				return err
			}
		}

		for _, m := range env.Memories {
			old := m.ID
			cp := *m
			cp.ID = 0
			cp.ProjectID = projectID
			cp.InvalidatedBy = nil // resolved below, once all new ids are known
			newID, err := tx.SaveMemory(ctx, &cp)
			if err != nil {
				return err
			}
			result.MemoryIDRemap[old] = newID
		}

		// Second pass: restore invalidated_by now that every memory has a new id.
		for _, m := range env.Memories {
			if m.InvalidatedBy == nil {
				continue
			}
			newSupersededBy, ok := result.MemoryIDRemap[*m.InvalidatedBy]
			if !ok {
				continue
			}
			newID := result.MemoryIDRemap[m.ID]
			if err := tx.InvalidateMemory(ctx, newID, newSupersededBy); err != nil {
				return err
			}
		}

		for _, g := range env.GlobalMemories {
			old := g.ID
			cp := *g
			cp.ID = 0
			cp.ProjectID = ""
			newID, err := tx.SaveGlobalMemory(ctx, &cp)
			if err != nil {
				return err
			}
			result.GlobalMemoryIDRemap[old] = newID
		}

		for _, l := range env.MemoryLinks {
			srcNew, srcOK := result.MemoryIDRemap[l.SourceID]
			dstNew, dstOK := result.MemoryIDRemap[l.TargetID]
			if !srcOK || !dstOK {
				logger.Warn("bulk import: dropping link with unmapped endpoint", "source", l.SourceID, "target", l.TargetID)
				continue
			}
			cp := *l
			cp.ID = 0
			cp.SourceID = srcNew
			cp.TargetID = dstNew
			if _, _, err := tx.CreateLink(ctx, &cp); err != nil {
				return err
			}
		}

		var centralityRows []*relstore.Centrality
		for _, c := range env.Centrality {
			newID, ok := result.MemoryIDRemap[c.MemoryID]
			if !ok {
				continue
			}
			cp := *c
			cp.MemoryID = newID
			centralityRows = append(centralityRows, &cp)
		}
		if len(centralityRows) > 0 {
			if err := tx.SaveCentrality(ctx, centralityRows); err != nil {
				return err
			}
		}

		for scope, freqs := range env.TokenFrequencies {
			if err := tx.SaveTokenFrequencies(ctx, scope, freqs); err != nil {
				return err
			}
		}
		for _, stat := range env.TokenStats {
			if err := tx.SaveTokenStat(ctx, stat); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "import_transaction_failed", err)
	}

	return result, nil
}

// Restore reinserts an envelope's rows, optionally clearing the project's
// existing rows first (destructive=true) or layering on top of them
// (destructive=false, additive — ids are NOT remapped in this mode, so the
// envelope must originate from the same backend/id-space, e.g. a same-backend
// periodic checkpoint rather than a cross-backend migration). The whole
// operation runs in one transaction; any row failure rolls everything back.
func Restore(ctx context.Context, store relstore.Store, projectID string, env *Envelope, destructive bool) error {
	return store.WithTx(ctx, func(tx relstore.Store) error {
		if destructive {
			if err := tx.DeleteDocumentsByProject(ctx, projectID); err != nil {
				return err
			}
			if err := tx.DeleteMemoriesByProject(ctx, projectID); err != nil {
				return err
			}
		}

		if len(env.Documents) > 0 {
			if _, err := tx.UpsertDocuments(ctx, env.Documents); err != nil {
				return err
			}
		}
		for _, fh := range env.FileHashes {
			if err := tx.SaveFileHash(ctx, fh); err != nil {
				return err
			}
		}
		if len(env.Memories) > 0 {
			if _, err := tx.SaveMemoriesBatch(ctx, env.Memories); err != nil {
				return err
			}
		}
		for _, g := range env.GlobalMemories {
			if _, err := tx.SaveGlobalMemory(ctx, g); err != nil {
				return err
			}
		}
		for _, l := range env.MemoryLinks {
			if _, _, err := tx.CreateLink(ctx, l); err != nil {
				return err
			}
		}
		if len(env.Centrality) > 0 {
			if err := tx.SaveCentrality(ctx, env.Centrality); err != nil {
				return err
			}
		}
		for scope, freqs := range env.TokenFrequencies {
			if err := tx.SaveTokenFrequencies(ctx, scope, freqs); err != nil {
				return err
			}
		}
		for _, stat := range env.TokenStats {
			if err := tx.SaveTokenStat(ctx, stat); err != nil {
				return err
			}
		}
		return nil
	})
}

// BackfillCollection names which vector collection a Backfill call targets.
type BackfillCollection string

const (
	CollectionDocuments      BackfillCollection = "documents"
	CollectionMemories       BackfillCollection = "memories"
	CollectionGlobalMemories BackfillCollection = "global_memories"
	CollectionAll            BackfillCollection = "all"
)

// BackfillStats reports how many rows were processed/skipped; in dry-run
// mode these are the only output (no vector writes happen).
type BackfillStats struct {
	Upserted int
	Skipped  int // rows with no embedding
}

// Backfill streams a project's rows with embeddings into the given vector
// store, skipping rows without an embedding (§4.9). DryRun counts rows
// without writing to the vector store, for a size estimate ahead of a real
// backfill.
func Backfill(ctx context.Context, store relstore.Store, vector vectorindex.Store, projectID string, collection BackfillCollection, dryRun bool) (*BackfillStats, error) {
	stats := &BackfillStats{}

	switch collection {
	case CollectionDocuments:
		hashes, err := store.ListFileHashes(ctx, projectID)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "backfill_list_hashes_failed", err)
		}
		for _, fh := range hashes {
			docs, err := store.GetDocumentsByPath(ctx, projectID, fh.FilePath)
			if err != nil {
				return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "backfill_get_documents_failed", err)
			}
			if err := backfillRows(ctx, vector, dryRun, stats, docMapToIDEmbedding(docs)); err != nil {
				return nil, err
			}
		}
	case CollectionMemories:
		memories, err := store.ListMemories(ctx, relstore.MemoryFilter{ProjectID: projectID, IncludeInvalid: true})
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "backfill_list_memories_failed", err)
		}
		if err := backfillRows(ctx, vector, dryRun, stats, memMapToIDEmbedding(memories)); err != nil {
			return nil, err
		}
	case CollectionGlobalMemories:
		memories, err := store.ListGlobalMemories(ctx, relstore.MemoryFilter{IncludeInvalid: true})
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "backfill_list_global_memories_failed", err)
		}
		if err := backfillRows(ctx, vector, dryRun, stats, memMapToIDEmbedding(memories)); err != nil {
			return nil, err
		}
	case CollectionAll:
		for _, c := range []BackfillCollection{CollectionDocuments, CollectionMemories, CollectionGlobalMemories} {
			sub, err := Backfill(ctx, store, vector, projectID, c, dryRun)
			if err != nil {
				return nil, err
			}
			stats.Upserted += sub.Upserted
			stats.Skipped += sub.Skipped
		}
	default:
		return nil, storeerrors.Validation("unknown_backfill_collection", fmt.Sprintf("unknown backfill collection: %q", collection))
	}

	return stats, nil
}

type idEmbedding struct {
	id        string
	embedding []float32
}

func docMapToIDEmbedding(docs []*relstore.Document) []idEmbedding {
	out := make([]idEmbedding, 0, len(docs))
	for _, d := range docs {
		out = append(out, idEmbedding{id: fmt.Sprintf("%d", d.ID), embedding: d.Embedding})
	}
	return out
}

func memMapToIDEmbedding(mems []*relstore.Memory) []idEmbedding {
	out := make([]idEmbedding, 0, len(mems))
	for _, m := range mems {
		out = append(out, idEmbedding{id: fmt.Sprintf("%d", m.ID), embedding: m.Embedding})
	}
	return out
}

func backfillRows(ctx context.Context, vector vectorindex.Store, dryRun bool, stats *BackfillStats, rows []idEmbedding) error {
	var ids []string
	var vectors [][]float32
	for _, r := range rows {
		if len(r.embedding) == 0 {
			stats.Skipped++
			continue
		}
		stats.Upserted++
		if !dryRun {
			ids = append(ids, r.id)
			vectors = append(vectors, r.embedding)
		}
	}
	if dryRun || len(ids) == 0 {
		return nil
	}
	if err := vector.Add(ctx, ids, vectors); err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "backfill_vector_add_failed", err)
	}
	return nil
}

// CopyIndexArtifacts copies one on-disk index file (for example the SQLite
// database or an HNSW sidecar file) from oldPath to newPath, used during a backend migration
// (e.g. switching storage.backend from embedded to networked-sql, or
// reindexing into a new storage.vector target). Adapted from the teacher's
// session/storage.go CopyIndexFiles helper.
func CopyIndexArtifacts(oldPath, newPath string) error {
	src, err := os.Open(oldPath)
	if err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "copy_artifacts_open_failed", err)
	}
	defer src.Close()

	dst, err := os.Create(newPath)
	if err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "copy_artifacts_create_failed", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "copy_artifacts_copy_failed", err)
	}
	return dst.Sync()
}
