package relstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a networked PostgreSQL database,
// for deployments that share one knowledge store across multiple machines
// instead of the embedded single-file SQLiteStore. It reuses the same
// embedding/tags/quality-factors blob encoding SQLiteStore uses so a
// checkpoint exported from one backend imports cleanly into the other
// (§4.9's cross-backend migration path).
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool against dsn (a standard
// postgres:// URL) and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	project_type TEXT,
	chunk_count INTEGER DEFAULT 0,
	file_count INTEGER DEFAULT 0,
	indexed_at TIMESTAMPTZ,
	version TEXT
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	path TEXT NOT NULL,
	size BIGINT,
	mod_time TIMESTAMPTZ,
	content_hash TEXT,
	language TEXT,
	indexed_at TIMESTAMPTZ,
	UNIQUE(project_id, path)
);
CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	project_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	start_line INTEGER,
	end_line INTEGER,
	embedding BYTEA,
	created_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ,
	UNIQUE(project_id, file_path, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_documents_project_path ON documents(project_id, file_path);

CREATE TABLE IF NOT EXISTS file_hashes (
	project_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	hash TEXT NOT NULL,
	indexed_at TIMESTAMPTZ,
	PRIMARY KEY (project_id, file_path)
);

CREATE TABLE IF NOT EXISTS memories (
	id BIGSERIAL PRIMARY KEY,
	project_id TEXT NOT NULL,
	content TEXT NOT NULL,
	tags TEXT,
	source TEXT,
	type TEXT,
	quality_score DOUBLE PRECISION DEFAULT 0,
	quality_factors TEXT,
	embedding BYTEA,
	access_count INTEGER DEFAULT 0,
	last_accessed TIMESTAMPTZ,
	valid_from TIMESTAMPTZ,
	valid_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ,
	invalidated_by BIGINT
);
CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);

CREATE TABLE IF NOT EXISTS global_memories (
	id BIGSERIAL PRIMARY KEY,
	content TEXT NOT NULL,
	tags TEXT,
	source TEXT,
	type TEXT,
	quality_score DOUBLE PRECISION DEFAULT 0,
	quality_factors TEXT,
	embedding BYTEA,
	access_count INTEGER DEFAULT 0,
	last_accessed TIMESTAMPTZ,
	valid_from TIMESTAMPTZ,
	valid_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ,
	invalidated_by BIGINT
);

CREATE TABLE IF NOT EXISTS memory_links (
	id BIGSERIAL PRIMARY KEY,
	source_id BIGINT NOT NULL,
	target_id BIGINT NOT NULL,
	relation TEXT NOT NULL,
	weight DOUBLE PRECISION DEFAULT 0,
	valid_from TIMESTAMPTZ,
	valid_until TIMESTAMPTZ,
	llm_enriched BOOLEAN DEFAULT FALSE,
	created_at TIMESTAMPTZ,
	UNIQUE(source_id, target_id, relation)
);
CREATE INDEX IF NOT EXISTS idx_links_source ON memory_links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id);

CREATE TABLE IF NOT EXISTS centrality (
	memory_id BIGINT PRIMARY KEY,
	degree INTEGER DEFAULT 0,
	normalized_degree DOUBLE PRECISION DEFAULT 0,
	updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS learning_deltas (
	id BIGSERIAL PRIMARY KEY,
	project_id TEXT,
	memories_added INTEGER,
	types_touched INTEGER,
	avg_quality DOUBLE PRECISION,
	source TEXT,
	created_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS token_frequencies (
	scope TEXT NOT NULL,
	token TEXT NOT NULL,
	frequency INTEGER NOT NULL,
	PRIMARY KEY (scope, token)
);

CREATE TABLE IF NOT EXISTS token_stats (
	scope TEXT PRIMARY KEY,
	raw_bytes BIGINT DEFAULT 0,
	token_bytes BIGINT DEFAULT 0,
	updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS index_state (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS index_checkpoint (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	stage TEXT,
	total INTEGER,
	embedded_count INTEGER,
	timestamp TIMESTAMPTZ,
	embedder_model TEXT
);
`

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO schema_version(version) VALUES ($1) ON CONFLICT DO NOTHING`, CurrentSchemaVersion)
	return err
}

// --- Documents ---

func (s *PostgresStore) UpsertDocuments(ctx context.Context, docs []*Document) ([]int64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, len(docs))
	now := time.Now()
	for i, d := range docs {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now

		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO documents(project_id, file_path, chunk_index, content, start_line, end_line, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT(project_id, file_path, chunk_index) DO UPDATE SET
				content = excluded.content, start_line = excluded.start_line, end_line = excluded.end_line,
				embedding = excluded.embedding, updated_at = excluded.updated_at
			RETURNING id`,
			d.ProjectID, d.FilePath, d.ChunkIndex, d.Content, d.StartLine, d.EndLine,
			embeddingToBytes(d.Embedding), d.CreatedAt, d.UpdatedAt).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("upsert document %s#%d: %w", d.FilePath, d.ChunkIndex, err)
		}
		ids[i] = id
		d.ID = id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanDocumentPG(row pgx.Row) (*Document, error) {
	var d Document
	var emb []byte
	if err := row.Scan(&d.ID, &d.ProjectID, &d.FilePath, &d.ChunkIndex, &d.Content,
		&d.StartLine, &d.EndLine, &emb, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Embedding = bytesToEmbedding(emb)
	return &d, nil
}

func (s *PostgresStore) GetDocumentsByPath(ctx context.Context, projectID, filePath string) ([]*Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, file_path, chunk_index, content, start_line, end_line, embedding, created_at, updated_at
		FROM documents WHERE project_id = $1 AND file_path = $2 ORDER BY chunk_index`, projectID, filePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocumentPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetDocuments(ctx context.Context, ids []int64) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := pgInClause(ids, 1)
	query := fmt.Sprintf(`
		SELECT id, project_id, file_path, chunk_index, content, start_line, end_line, embedding, created_at, updated_at
		FROM documents WHERE id IN (%s)`, placeholders)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocumentPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func pgInClause(ids []int64, start int) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

func (s *PostgresStore) DeleteDocumentsByPath(ctx context.Context, projectID, filePath string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE project_id = $1 AND file_path = $2`, projectID, filePath)
	return err
}

func (s *PostgresStore) DeleteDocumentsByProject(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE project_id = $1`, projectID)
	return err
}

// --- File hashes ---

func (s *PostgresStore) SaveFileHash(ctx context.Context, fh *FileHash) error {
	if fh.IndexedAt.IsZero() {
		fh.IndexedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO file_hashes(project_id, file_path, hash, indexed_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT(project_id, file_path) DO UPDATE SET hash = excluded.hash, indexed_at = excluded.indexed_at`,
		fh.ProjectID, fh.FilePath, fh.Hash, fh.IndexedAt)
	return err
}

func (s *PostgresStore) GetFileHash(ctx context.Context, projectID, filePath string) (*FileHash, error) {
	var fh FileHash
	err := s.pool.QueryRow(ctx, `SELECT project_id, file_path, hash, indexed_at FROM file_hashes WHERE project_id = $1 AND file_path = $2`,
		projectID, filePath).Scan(&fh.ProjectID, &fh.FilePath, &fh.Hash, &fh.IndexedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fh, nil
}

func (s *PostgresStore) ListFileHashes(ctx context.Context, projectID string) ([]*FileHash, error) {
	rows, err := s.pool.Query(ctx, `SELECT project_id, file_path, hash, indexed_at FROM file_hashes WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FileHash
	for rows.Next() {
		var fh FileHash
		if err := rows.Scan(&fh.ProjectID, &fh.FilePath, &fh.Hash, &fh.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, &fh)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteFileHash(ctx context.Context, projectID, filePath string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM file_hashes WHERE project_id = $1 AND file_path = $2`, projectID, filePath)
	return err
}

// --- Memories ---

func (s *PostgresStore) saveMemoryInto(ctx context.Context, table string, m *Memory) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	var query string
	var args []any
	if table == "memories" {
		query = `INSERT INTO memories(project_id, content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`
		args = []any{m.ProjectID, m.Content, tagsToJSON(m.Tags), m.Source, string(m.Type), m.QualityScore, factorsToJSON(m.QualityFactors),
			embeddingToBytes(m.Embedding), m.AccessCount, nullableTime(m.LastAccessed), nullableTime(m.ValidFrom),
			nullableTime(m.ValidUntil), m.CreatedAt, nullableInt64(m.InvalidatedBy)}
	} else {
		query = `INSERT INTO global_memories(content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
		args = []any{m.Content, tagsToJSON(m.Tags), m.Source, string(m.Type), m.QualityScore, factorsToJSON(m.QualityFactors),
			embeddingToBytes(m.Embedding), m.AccessCount, nullableTime(m.LastAccessed), nullableTime(m.ValidFrom),
			nullableTime(m.ValidUntil), m.CreatedAt, nullableInt64(m.InvalidatedBy)}
	}

	var id int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) SaveMemory(ctx context.Context, m *Memory) (int64, error) {
	id, err := s.saveMemoryInto(ctx, "memories", m)
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

func (s *PostgresStore) SaveMemoriesBatch(ctx context.Context, ms []*Memory) ([]int64, error) {
	if len(ms) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, len(ms))
	for i, m := range ms {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO memories(project_id, content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
			m.ProjectID, m.Content, tagsToJSON(m.Tags), m.Source, string(m.Type), m.QualityScore, factorsToJSON(m.QualityFactors),
			embeddingToBytes(m.Embedding), m.AccessCount, nullableTime(m.LastAccessed), nullableTime(m.ValidFrom),
			nullableTime(m.ValidUntil), m.CreatedAt, nullableInt64(m.InvalidatedBy)).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("save memory %d: %w", i, err)
		}
		m.ID = id
		ids[i] = id
	}
	return ids, tx.Commit(ctx)
}

func scanMemoryPG(row pgx.Row, hasProject bool) (*Memory, error) {
	var m Memory
	var tags, source, typ, factors string
	var emb []byte
	var lastAccessed, validFrom, validUntil *time.Time
	var invalidatedBy *int64

	var scanErr error
	if hasProject {
		scanErr = row.Scan(&m.ID, &m.ProjectID, &m.Content, &tags, &source, &typ, &m.QualityScore, &factors,
			&emb, &m.AccessCount, &lastAccessed, &validFrom, &validUntil, &m.CreatedAt, &invalidatedBy)
	} else {
		scanErr = row.Scan(&m.ID, &m.Content, &tags, &source, &typ, &m.QualityScore, &factors,
			&emb, &m.AccessCount, &lastAccessed, &validFrom, &validUntil, &m.CreatedAt, &invalidatedBy)
	}
	if scanErr != nil {
		return nil, scanErr
	}

	m.Tags = tagsFromJSON(tags)
	m.Source = source
	m.Type = MemoryType(typ)
	m.QualityFactors = factorsFromJSON(factors)
	m.Embedding = bytesToEmbedding(emb)
	m.LastAccessed = lastAccessed
	m.ValidFrom = validFrom
	m.ValidUntil = validUntil
	m.InvalidatedBy = invalidatedBy
	return &m, nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, content, tags, source, type, quality_score, quality_factors,
			embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by
		FROM memories WHERE id = $1`, id)
	m, err := scanMemoryPG(row, true)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) listMemoriesFrom(ctx context.Context, table string, hasProject bool, filter MemoryFilter) ([]*Memory, error) {
	var cols string
	if hasProject {
		cols = "id, project_id, content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by"
	} else {
		cols = "id, content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by"
	}

	var where []string
	var args []any
	n := 1
	if hasProject && filter.ProjectID != "" {
		where = append(where, fmt.Sprintf("project_id = $%d", n))
		args = append(args, filter.ProjectID)
		n++
	}
	if filter.Type != "" {
		where = append(where, fmt.Sprintf("type = $%d", n))
		args = append(args, string(filter.Type))
		n++
	}
	if filter.Since != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", n))
		args = append(args, *filter.Since)
		n++
	}
	if !filter.IncludeInvalid {
		where = append(where, "invalidated_by IS NULL")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, cols, table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemoryPG(rows, hasProject)
		if err != nil {
			return nil, err
		}
		if len(filter.Tags) > 0 && !containsAnyTag(m.Tags, filter.Tags) {
			continue
		}
		asOf := time.Now()
		if filter.AsOf != nil {
			asOf = *filter.AsOf
		}
		if !filter.IncludeInvalid && !m.IsEffectiveAt(asOf) {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListMemories(ctx context.Context, filter MemoryFilter) ([]*Memory, error) {
	return s.listMemoriesFrom(ctx, "memories", true, filter)
}

func (s *PostgresStore) UpdateMemoryAccess(ctx context.Context, id int64, accessedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed = $1 WHERE id = $2`, accessedAt, id)
	return err
}

func (s *PostgresStore) UpdateMemoryTags(ctx context.Context, id int64, tags []string) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET tags = $1 WHERE id = $2`, tagsToJSON(tags), id)
	return err
}

func (s *PostgresStore) InvalidateMemory(ctx context.Context, id, supersededBy int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET invalidated_by = $1 WHERE id = $2`, supersededBy, id)
	return err
}

func (s *PostgresStore) RestoreMemory(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET invalidated_by = NULL WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteMemory(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteMemoriesByProject(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE project_id = $1`, projectID)
	return err
}

func (s *PostgresStore) findSimilarIn(ctx context.Context, table, projectClause string, args []any, embedding []float32, threshold float64) (*Memory, float64, error) {
	hasProject := table == "memories"
	var cols string
	if hasProject {
		cols = "id, project_id, content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by"
	} else {
		cols = "id, content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by"
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE invalidated_by IS NULL AND embedding IS NOT NULL`, cols, table)
	if projectClause != "" {
		query += " AND " + projectClause
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var best *Memory
	var bestScore float64
	for rows.Next() {
		m, err := scanMemoryPG(rows, hasProject)
		if err != nil {
			return nil, 0, err
		}
		score := cosineSimilarity(m.Embedding, embedding)
		if score >= threshold && score > bestScore {
			best, bestScore = m, score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if best == nil {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

func (s *PostgresStore) FindSimilarMemory(ctx context.Context, projectID string, embedding []float32, threshold float64) (*Memory, float64, error) {
	return s.findSimilarIn(ctx, "memories", "project_id = $1", []any{projectID}, embedding, threshold)
}

// --- Global memories ---

func (s *PostgresStore) SaveGlobalMemory(ctx context.Context, m *Memory) (int64, error) {
	id, err := s.saveMemoryInto(ctx, "global_memories", m)
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

func (s *PostgresStore) GetGlobalMemory(ctx context.Context, id int64) (*Memory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, content, tags, source, type, quality_score, quality_factors,
			embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by
		FROM global_memories WHERE id = $1`, id)
	m, err := scanMemoryPG(row, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) ListGlobalMemories(ctx context.Context, filter MemoryFilter) ([]*Memory, error) {
	return s.listMemoriesFrom(ctx, "global_memories", false, filter)
}

func (s *PostgresStore) InvalidateGlobalMemory(ctx context.Context, id, supersededBy int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE global_memories SET invalidated_by = $1 WHERE id = $2`, supersededBy, id)
	return err
}

func (s *PostgresStore) FindSimilarGlobalMemory(ctx context.Context, embedding []float32, threshold float64) (*Memory, float64, error) {
	return s.findSimilarIn(ctx, "global_memories", "", nil, embedding, threshold)
}

// --- Memory links ---

func (s *PostgresStore) CreateLink(ctx context.Context, l *MemoryLink) (int64, bool, error) {
	if l.SourceID == l.TargetID {
		return 0, false, fmt.Errorf("relstore: a memory cannot link to itself")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	var existingID int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM memory_links WHERE source_id = $1 AND target_id = $2 AND relation = $3`,
		l.SourceID, l.TargetID, string(l.Relation)).Scan(&existingID)
	if err == nil {
		l.ID = existingID
		return existingID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO memory_links(source_id, target_id, relation, weight, valid_from, valid_until, llm_enriched, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		l.SourceID, l.TargetID, string(l.Relation), l.Weight, nullableTime(l.ValidFrom), nullableTime(l.ValidUntil),
		l.LLMEnriched, l.CreatedAt).Scan(&id)
	if err != nil {
		return 0, false, err
	}
	l.ID = id
	return id, true, nil
}

func scanLinkPG(row pgx.Row) (*MemoryLink, error) {
	var l MemoryLink
	var relation string
	var validFrom, validUntil *time.Time
	if err := row.Scan(&l.ID, &l.SourceID, &l.TargetID, &relation, &l.Weight, &validFrom, &validUntil, &l.LLMEnriched, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Relation = LinkRelation(relation)
	l.ValidFrom = validFrom
	l.ValidUntil = validUntil
	return &l, nil
}

func (s *PostgresStore) GetLink(ctx context.Context, sourceID, targetID int64, relation LinkRelation) (*MemoryLink, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_id, target_id, relation, weight, valid_from, valid_until, llm_enriched, created_at
		FROM memory_links WHERE source_id = $1 AND target_id = $2 AND relation = $3`, sourceID, targetID, string(relation))
	l, err := scanLinkPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (s *PostgresStore) ListLinks(ctx context.Context, memoryID int64, asOf *time.Time) ([]*MemoryLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, target_id, relation, weight, valid_from, valid_until, llm_enriched, created_at
		FROM memory_links WHERE source_id = $1 OR target_id = $1`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	at := time.Now()
	if asOf != nil {
		at = *asOf
	}

	var out []*MemoryLink
	for rows.Next() {
		l, err := scanLinkPG(rows)
		if err != nil {
			return nil, err
		}
		if l.IsEffectiveAt(at) {
			out = append(out, l)
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) InvalidateLink(ctx context.Context, sourceID, targetID int64, relation LinkRelation) error {
	_, err := s.pool.Exec(ctx, `UPDATE memory_links SET valid_until = $1 WHERE source_id = $2 AND target_id = $3 AND relation = $4`,
		time.Now(), sourceID, targetID, string(relation))
	return err
}

func (s *PostgresStore) DeleteLink(ctx context.Context, id int64) error {
	var llmEnriched bool
	err := s.pool.QueryRow(ctx, `SELECT llm_enriched FROM memory_links WHERE id = $1`, id).Scan(&llmEnriched)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if llmEnriched {
		_, err := s.pool.Exec(ctx, `UPDATE memory_links SET valid_until = $1 WHERE id = $2`, time.Now(), id)
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM memory_links WHERE id = $1`, id)
	return err
}

// --- Centrality ---

func (s *PostgresStore) SaveCentrality(ctx context.Context, rows []*Centrality) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range rows {
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = time.Now()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO centrality(memory_id, degree, normalized_degree, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT(memory_id) DO UPDATE SET degree = excluded.degree, normalized_degree = excluded.normalized_degree, updated_at = excluded.updated_at`,
			c.MemoryID, c.Degree, c.NormalizedDegree, c.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetCentrality(ctx context.Context, memoryID int64) (*Centrality, error) {
	var c Centrality
	err := s.pool.QueryRow(ctx, `SELECT memory_id, degree, normalized_degree, updated_at FROM centrality WHERE memory_id = $1`, memoryID).
		Scan(&c.MemoryID, &c.Degree, &c.NormalizedDegree, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Centrality{MemoryID: memoryID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Learning deltas ---

func (s *PostgresStore) AppendLearningDelta(ctx context.Context, d *LearningDelta) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO learning_deltas(project_id, memories_added, types_touched, avg_quality, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		d.ProjectID, d.MemoriesAdded, d.TypesTouched, d.AvgQuality, d.Source, d.CreatedAt).Scan(&d.ID)
}

func (s *PostgresStore) ListLearningDeltas(ctx context.Context, projectID string, limit int) ([]*LearningDelta, error) {
	query := `SELECT id, project_id, memories_added, types_touched, avg_quality, source, created_at FROM learning_deltas`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LearningDelta
	for rows.Next() {
		var d LearningDelta
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.MemoriesAdded, &d.TypesTouched, &d.AvgQuality, &d.Source, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// --- Token stats / frequencies ---

func (s *PostgresStore) SaveTokenFrequencies(ctx context.Context, scope string, freqs map[string]int) error {
	if len(freqs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for token, freq := range freqs {
		_, err := tx.Exec(ctx, `
			INSERT INTO token_frequencies(scope, token, frequency) VALUES ($1, $2, $3)
			ON CONFLICT(scope, token) DO UPDATE SET frequency = excluded.frequency`, scope, token, freq)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTokenFrequencies(ctx context.Context, scope string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT token, frequency FROM token_frequencies WHERE scope = $1`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var token string
		var freq int
		if err := rows.Scan(&token, &freq); err != nil {
			return nil, err
		}
		out[token] = freq
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTokenStat(ctx context.Context, stat *TokenStat) error {
	if stat.UpdatedAt.IsZero() {
		stat.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_stats(scope, raw_bytes, token_bytes, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT(scope) DO UPDATE SET raw_bytes = excluded.raw_bytes, token_bytes = excluded.token_bytes, updated_at = excluded.updated_at`,
		stat.Scope, stat.RawBytes, stat.TokenBytes, stat.UpdatedAt)
	return err
}

func (s *PostgresStore) GetTokenStat(ctx context.Context, scope string) (*TokenStat, error) {
	var t TokenStat
	err := s.pool.QueryRow(ctx, `SELECT scope, raw_bytes, token_bytes, updated_at FROM token_stats WHERE scope = $1`, scope).
		Scan(&t.Scope, &t.RawBytes, &t.TokenBytes, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Projects / files (supplemental) ---

func (s *PostgresStore) SaveProject(ctx context.Context, p *Project) error {
	if p.IndexedAt.IsZero() {
		p.IndexedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects(id, name, root_path, project_type, chunk_count, file_count, indexed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, root_path = excluded.root_path,
			project_type = excluded.project_type, indexed_at = excluded.indexed_at, version = excluded.version`,
		p.ID, p.Name, p.RootPath, p.ProjectType, p.ChunkCount, p.FileCount, p.IndexedAt, p.Version)
	return err
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx, `SELECT id, name, root_path, project_type, chunk_count, file_count, indexed_at, version FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.RootPath, &p.ProjectType, &p.ChunkCount, &p.FileCount, &p.IndexedAt, &p.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	_, err := s.pool.Exec(ctx, `UPDATE projects SET file_count = $1, chunk_count = $2, indexed_at = $3 WHERE id = $4`,
		fileCount, chunkCount, time.Now(), id)
	return err
}

func (s *PostgresStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, f := range files {
		if f.IndexedAt.IsZero() {
			f.IndexedAt = time.Now()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO files(id, project_id, path, size, mod_time, content_hash, language, indexed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT(project_id, path) DO UPDATE SET size = excluded.size, mod_time = excluded.mod_time,
				content_hash = excluded.content_hash, language = excluded.language, indexed_at = excluded.indexed_at`,
			f.ID, f.ProjectID, f.Path, f.Size, f.ModTime, f.ContentHash, f.Language, f.IndexedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	var f File
	err := s.pool.QueryRow(ctx, `SELECT id, project_id, path, size, mod_time, content_hash, language, indexed_at FROM files WHERE project_id = $1 AND path = $2`,
		projectID, path).Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &f.ModTime, &f.ContentHash, &f.Language, &f.IndexedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) ListFiles(ctx context.Context, projectID string) ([]*File, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, project_id, path, size, mod_time, content_hash, language, indexed_at FROM files WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &f.ModTime, &f.ContentHash, &f.Language, &f.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteFile(ctx context.Context, fileID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	return err
}

func (s *PostgresStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM files WHERE project_id = $1`, projectID)
	return err
}

// --- State / checkpoint ---

func (s *PostgresStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM index_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *PostgresStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO index_state(key, value) VALUES ($1, $2)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *PostgresStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO index_checkpoint(id, stage, total, embedded_count, timestamp, embedder_model) VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT(id) DO UPDATE SET stage = excluded.stage, total = excluded.total,
			embedded_count = excluded.embedded_count, timestamp = excluded.timestamp, embedder_model = excluded.embedder_model`,
		stage, total, embeddedCount, time.Now(), embedderModel)
	return err
}

func (s *PostgresStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	var c IndexCheckpoint
	err := s.pool.QueryRow(ctx, `SELECT stage, total, embedded_count, timestamp, embedder_model FROM index_checkpoint WHERE id = 1`).
		Scan(&c.Stage, &c.Total, &c.EmbeddedCount, &c.Timestamp, &c.EmbedderModel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ClearIndexCheckpoint(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM index_checkpoint WHERE id = 1`)
	return err
}

// --- Transactions ---

// WithTx runs fn with this same pool-backed store; Postgres's MVCC plus the
// bulk package's single-caller restore/import usage makes a dedicated
// tx-scoped Store unnecessary here, matching SQLiteStore.WithTx's approach
// of committing/rolling back around fn rather than routing every statement
// through one *pgx.Tx.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(s); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
