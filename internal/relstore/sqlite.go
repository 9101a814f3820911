package relstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// SQLiteStore implements Store against an embedded single-file SQLite
// database. It mirrors the teacher's SQLiteBM25Index connection discipline
// (WAL mode, busy-timeout, single writer connection) applied to the full
// relational schema instead of one FTS5 table.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteConfig tunes the embedded driver's connection.
type SQLiteConfig struct {
	CacheSizeMB int
	BusyTimeoutMS int
}

// DefaultSQLiteConfig returns the driver's defaults: 64MB page cache, 5s
// busy-timeout.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{CacheSizeMB: 64, BusyTimeoutMS: 5000}
}

// NewSQLiteStore opens (creating if absent) a metadata database at path
// using DefaultSQLiteConfig. path == "" opens an in-memory database, useful
// for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(path, DefaultSQLiteConfig())
}

// NewSQLiteStoreWithConfig opens a metadata database with a custom config.
func NewSQLiteStoreWithConfig(path string, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = 64
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 5000
	}

	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer connection avoids SQLITE_BUSY under concurrent callers;
	// WAL mode still allows concurrent readers from other processes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeoutMS),
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	project_type TEXT,
	chunk_count INTEGER DEFAULT 0,
	file_count INTEGER DEFAULT 0,
	indexed_at DATETIME,
	version TEXT
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER,
	mod_time DATETIME,
	content_hash TEXT,
	language TEXT,
	indexed_at DATETIME,
	UNIQUE(project_id, path)
);
CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);

CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL COLLATE NOCASE,
	file_path TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	start_line INTEGER,
	end_line INTEGER,
	embedding BLOB,
	created_at DATETIME,
	updated_at DATETIME,
	UNIQUE(project_id, file_path, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_documents_project_path ON documents(project_id, file_path);

CREATE TABLE IF NOT EXISTS file_hashes (
	project_id TEXT NOT NULL COLLATE NOCASE,
	file_path TEXT NOT NULL,
	hash TEXT NOT NULL,
	indexed_at DATETIME,
	PRIMARY KEY (project_id, file_path)
);

CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL COLLATE NOCASE,
	content TEXT NOT NULL,
	tags TEXT,
	source TEXT,
	type TEXT,
	quality_score REAL DEFAULT 0,
	quality_factors TEXT,
	embedding BLOB,
	access_count INTEGER DEFAULT 0,
	last_accessed DATETIME,
	valid_from DATETIME,
	valid_until DATETIME,
	created_at DATETIME,
	invalidated_by INTEGER
);
CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);

CREATE TABLE IF NOT EXISTS global_memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	tags TEXT,
	source TEXT,
	type TEXT,
	quality_score REAL DEFAULT 0,
	quality_factors TEXT,
	embedding BLOB,
	access_count INTEGER DEFAULT 0,
	last_accessed DATETIME,
	valid_from DATETIME,
	valid_until DATETIME,
	created_at DATETIME,
	invalidated_by INTEGER
);

CREATE TABLE IF NOT EXISTS memory_links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	relation TEXT NOT NULL,
	weight REAL DEFAULT 0,
	valid_from DATETIME,
	valid_until DATETIME,
	llm_enriched INTEGER DEFAULT 0,
	created_at DATETIME,
	UNIQUE(source_id, target_id, relation)
);
CREATE INDEX IF NOT EXISTS idx_links_source ON memory_links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id);

CREATE TABLE IF NOT EXISTS centrality (
	memory_id INTEGER PRIMARY KEY,
	degree INTEGER DEFAULT 0,
	normalized_degree REAL DEFAULT 0,
	updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS learning_deltas (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT COLLATE NOCASE,
	memories_added INTEGER,
	types_touched INTEGER,
	avg_quality REAL,
	source TEXT,
	created_at DATETIME
);

CREATE TABLE IF NOT EXISTS token_frequencies (
	scope TEXT NOT NULL,
	token TEXT NOT NULL,
	frequency INTEGER NOT NULL,
	PRIMARY KEY (scope, token)
);

CREATE TABLE IF NOT EXISTS token_stats (
	scope TEXT PRIMARY KEY,
	raw_bytes INTEGER DEFAULT 0,
	token_bytes INTEGER DEFAULT 0,
	updated_at DATETIME
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
	timestamp DATETIME,
	embedder_model TEXT
);
`

func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version(version) VALUES (?)`, CurrentSchemaVersion)
	return err
}

// --- embedding <-> blob ---

func embeddingToBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func tagsToJSON(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func tagsFromJSON(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	_ = json.Unmarshal([]byte(s), &tags)
	return tags
}

func factorsToJSON(f map[string]float64) string {
	if len(f) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(f)
	return string(b)
}

func factorsFromJSON(s string) map[string]float64 {
	if s == "" {
		return nil
	}
	var f map[string]float64
	_ = json.Unmarshal([]byte(s), &f)
	return f
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// --- Documents ---

func (s *SQLiteStore) UpsertDocuments(ctx context.Context, docs []*Document) ([]int64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, len(docs))
	now := time.Now()
	for i, d := range docs {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now

		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents(project_id, file_path, chunk_index, content, start_line, end_line, embedding, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, file_path, chunk_index) DO UPDATE SET
				content = excluded.content, start_line = excluded.start_line, end_line = excluded.end_line,
				embedding = excluded.embedding, updated_at = excluded.updated_at`,
			d.ProjectID, d.FilePath, d.ChunkIndex, d.Content, d.StartLine, d.EndLine,
			embeddingToBytes(d.Embedding), d.CreatedAt, d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("upsert document %s#%d: %w", d.FilePath, d.ChunkIndex, err)
		}

		id, err := res.LastInsertId()
		if err != nil || id == 0 {
			// Conflict path: re-read the existing row's id.
			err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE project_id = ? AND file_path = ? AND chunk_index = ?`,
				d.ProjectID, d.FilePath, d.ChunkIndex).Scan(&id)
			if err != nil {
				return nil, fmt.Errorf("resolve document id: %w", err)
			}
		}
		ids[i] = id
		d.ID = id
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var emb []byte
	if err := row.Scan(&d.ID, &d.ProjectID, &d.FilePath, &d.ChunkIndex, &d.Content,
		&d.StartLine, &d.EndLine, &emb, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Embedding = bytesToEmbedding(emb)
	return &d, nil
}

func (s *SQLiteStore) GetDocumentsByPath(ctx context.Context, projectID, filePath string) ([]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, file_path, chunk_index, content, start_line, end_line, embedding, created_at, updated_at
		FROM documents WHERE project_id = ? AND file_path = ? ORDER BY chunk_index`, projectID, filePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDocuments(ctx context.Context, ids []int64) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders, args := inClause(ids)
	query := fmt.Sprintf(`
		SELECT id, project_id, file_path, chunk_index, content, start_line, end_line, embedding, created_at, updated_at
		FROM documents WHERE id IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteDocumentsByPath(ctx context.Context, projectID, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE project_id = ? AND file_path = ?`, projectID, filePath)
	return err
}

func (s *SQLiteStore) DeleteDocumentsByProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE project_id = ?`, projectID)
	return err
}

func inClause(ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

// --- File hashes ---

func (s *SQLiteStore) SaveFileHash(ctx context.Context, fh *FileHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fh.IndexedAt.IsZero() {
		fh.IndexedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_hashes(project_id, file_path, hash, indexed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, file_path) DO UPDATE SET hash = excluded.hash, indexed_at = excluded.indexed_at`,
		fh.ProjectID, fh.FilePath, fh.Hash, fh.IndexedAt)
	return err
}

func (s *SQLiteStore) GetFileHash(ctx context.Context, projectID, filePath string) (*FileHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fh FileHash
	err := s.db.QueryRowContext(ctx, `SELECT project_id, file_path, hash, indexed_at FROM file_hashes WHERE project_id = ? AND file_path = ?`,
		projectID, filePath).Scan(&fh.ProjectID, &fh.FilePath, &fh.Hash, &fh.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fh, nil
}

func (s *SQLiteStore) ListFileHashes(ctx context.Context, projectID string) ([]*FileHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT project_id, file_path, hash, indexed_at FROM file_hashes WHERE project_id = ?`, projectID)
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

func (s *SQLiteStore) DeleteFileHash(ctx context.Context, projectID, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_hashes WHERE project_id = ? AND file_path = ?`, projectID, filePath)
	return err
}

// --- Memories ---

func (s *SQLiteStore) saveMemoryInto(ctx context.Context, exec execer, table string, m *Memory) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	projectCol := ""
	projectVal := []any{}
	placeholders := "content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by"
	valuePlaceholders := "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?"
	if table == "memories" {
		projectCol = "project_id, "
		valuePlaceholders = "?, " + valuePlaceholders
		projectVal = append(projectVal, m.ProjectID)
	}

	args := append(projectVal,
		m.Content, tagsToJSON(m.Tags), m.Source, string(m.Type), m.QualityScore, factorsToJSON(m.QualityFactors),
		embeddingToBytes(m.Embedding), m.AccessCount, nullableTime(m.LastAccessed), nullableTime(m.ValidFrom),
		nullableTime(m.ValidUntil), m.CreatedAt, nullableInt64(m.InvalidatedBy))

	res, err := exec.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(%s%s) VALUES (%s)`, table, projectCol, placeholders, valuePlaceholders), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, m *Memory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.saveMemoryInto(ctx, s.db, "memories", m)
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

func (s *SQLiteStore) SaveMemoriesBatch(ctx context.Context, ms []*Memory) ([]int64, error) {
	if len(ms) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, len(ms))
	for i, m := range ms {
		id, err := s.saveMemoryInto(ctx, tx, "memories", m)
		if err != nil {
			return nil, fmt.Errorf("save memory %d: %w", i, err)
		}
		m.ID = id
		ids[i] = id
	}
	return ids, tx.Commit()
}

func scanMemory(row interface{ Scan(...any) error }, hasProject bool) (*Memory, error) {
	var m Memory
	var tags, source, typ, factors string
	var emb []byte
	var lastAccessed, validFrom, validUntil sql.NullTime
	var invalidatedBy sql.NullInt64

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
	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Time
	}
	if validFrom.Valid {
		m.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		m.ValidUntil = &validUntil.Time
	}
	if invalidatedBy.Valid {
		m.InvalidatedBy = &invalidatedBy.Int64
	}
	return &m, nil
}

func (s *SQLiteStore) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content, tags, source, type, quality_score, quality_factors,
			embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by
		FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *SQLiteStore) listMemoriesFrom(ctx context.Context, table string, hasProject bool, filter MemoryFilter) ([]*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cols string
	if hasProject {
		cols = "id, project_id, content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by"
	} else {
		cols = "id, content, tags, source, type, quality_score, quality_factors, embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by"
	}

	var where []string
	var args []any
	if hasProject && filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
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

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows, hasProject)
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

func containsAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) ListMemories(ctx context.Context, filter MemoryFilter) ([]*Memory, error) {
	return s.listMemoriesFrom(ctx, "memories", true, filter)
}

func (s *SQLiteStore) UpdateMemoryAccess(ctx context.Context, id int64, accessedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`, accessedAt, id)
	return err
}

func (s *SQLiteStore) UpdateMemoryTags(ctx context.Context, id int64, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET tags = ? WHERE id = ?`, tagsToJSON(tags), id)
	return err
}

func (s *SQLiteStore) InvalidateMemory(ctx context.Context, id, supersededBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET invalidated_by = ? WHERE id = ?`, supersededBy, id)
	return err
}

func (s *SQLiteStore) RestoreMemory(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET invalidated_by = NULL WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) DeleteMemory(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// DeleteMemoriesByProject hard-deletes every memory scoped to projectID, used
// by the bulk restore pathway (C9) ahead of a destructive reinsert.
func (s *SQLiteStore) DeleteMemoriesByProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE project_id = ?`, projectID)
	return err
}

func (s *SQLiteStore) findSimilarIn(ctx context.Context, table, projectClause string, args []any, embedding []float32, threshold float64) (*Memory, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var best *Memory
	var bestScore float64
	for rows.Next() {
		m, err := scanMemory(rows, hasProject)
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

func (s *SQLiteStore) FindSimilarMemory(ctx context.Context, projectID string, embedding []float32, threshold float64) (*Memory, float64, error) {
	return s.findSimilarIn(ctx, "memories", "project_id = ?", []any{projectID}, embedding, threshold)
}

// --- Global memories ---

func (s *SQLiteStore) SaveGlobalMemory(ctx context.Context, m *Memory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.saveMemoryInto(ctx, s.db, "global_memories", m)
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

func (s *SQLiteStore) GetGlobalMemory(ctx context.Context, id int64) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, tags, source, type, quality_score, quality_factors,
			embedding, access_count, last_accessed, valid_from, valid_until, created_at, invalidated_by
		FROM global_memories WHERE id = ?`, id)
	m, err := scanMemory(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *SQLiteStore) ListGlobalMemories(ctx context.Context, filter MemoryFilter) ([]*Memory, error) {
	return s.listMemoriesFrom(ctx, "global_memories", false, filter)
}

func (s *SQLiteStore) InvalidateGlobalMemory(ctx context.Context, id, supersededBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE global_memories SET invalidated_by = ? WHERE id = ?`, supersededBy, id)
	return err
}

func (s *SQLiteStore) FindSimilarGlobalMemory(ctx context.Context, embedding []float32, threshold float64) (*Memory, float64, error) {
	return s.findSimilarIn(ctx, "global_memories", "", nil, embedding, threshold)
}

// --- Memory links ---

func (s *SQLiteStore) CreateLink(ctx context.Context, l *MemoryLink) (int64, bool, error) {
	if l.SourceID == l.TargetID {
		return 0, false, fmt.Errorf("relstore: a memory cannot link to itself")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	var existingID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM memory_links WHERE source_id = ? AND target_id = ? AND relation = ?`,
		l.SourceID, l.TargetID, string(l.Relation)).Scan(&existingID)
	if err == nil {
		l.ID = existingID
		return existingID, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_links(source_id, target_id, relation, weight, valid_from, valid_until, llm_enriched, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.SourceID, l.TargetID, string(l.Relation), l.Weight, nullableTime(l.ValidFrom), nullableTime(l.ValidUntil),
		l.LLMEnriched, l.CreatedAt)
	if err != nil {
		return 0, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	l.ID = id
	return id, true, nil
}

func scanLink(row interface{ Scan(...any) error }) (*MemoryLink, error) {
	var l MemoryLink
	var relation string
	var validFrom, validUntil sql.NullTime
	if err := row.Scan(&l.ID, &l.SourceID, &l.TargetID, &relation, &l.Weight, &validFrom, &validUntil, &l.LLMEnriched, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Relation = LinkRelation(relation)
	if validFrom.Valid {
		l.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		l.ValidUntil = &validUntil.Time
	}
	return &l, nil
}

func (s *SQLiteStore) GetLink(ctx context.Context, sourceID, targetID int64, relation LinkRelation) (*MemoryLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, target_id, relation, weight, valid_from, valid_until, llm_enriched, created_at
		FROM memory_links WHERE source_id = ? AND target_id = ? AND relation = ?`, sourceID, targetID, string(relation))
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (s *SQLiteStore) ListLinks(ctx context.Context, memoryID int64, asOf *time.Time) ([]*MemoryLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relation, weight, valid_from, valid_until, llm_enriched, created_at
		FROM memory_links WHERE source_id = ? OR target_id = ?`, memoryID, memoryID)
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
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		if l.IsEffectiveAt(at) {
			out = append(out, l)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InvalidateLink(ctx context.Context, sourceID, targetID int64, relation LinkRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE memory_links SET valid_until = ? WHERE source_id = ? AND target_id = ? AND relation = ?`,
		time.Now(), sourceID, targetID, string(relation))
	return err
}

func (s *SQLiteStore) DeleteLink(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var llmEnriched bool
	if err := s.db.QueryRowContext(ctx, `SELECT llm_enriched FROM memory_links WHERE id = ?`, id).Scan(&llmEnriched); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if llmEnriched {
		_, err := s.db.ExecContext(ctx, `UPDATE memory_links SET valid_until = ? WHERE id = ?`, time.Now(), id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_links WHERE id = ?`, id)
	return err
}

// --- Centrality ---

func (s *SQLiteStore) SaveCentrality(ctx context.Context, rows []*Centrality) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range rows {
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO centrality(memory_id, degree, normalized_degree, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(memory_id) DO UPDATE SET degree = excluded.degree, normalized_degree = excluded.normalized_degree, updated_at = excluded.updated_at`,
			c.MemoryID, c.Degree, c.NormalizedDegree, c.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetCentrality(ctx context.Context, memoryID int64) (*Centrality, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Centrality
	err := s.db.QueryRowContext(ctx, `SELECT memory_id, degree, normalized_degree, updated_at FROM centrality WHERE memory_id = ?`, memoryID).
		Scan(&c.MemoryID, &c.Degree, &c.NormalizedDegree, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Centrality{MemoryID: memoryID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Learning deltas ---

func (s *SQLiteStore) AppendLearningDelta(ctx context.Context, d *LearningDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_deltas(project_id, memories_added, types_touched, avg_quality, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ProjectID, d.MemoriesAdded, d.TypesTouched, d.AvgQuality, d.Source, d.CreatedAt)
	if err != nil {
		return err
	}
	d.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListLearningDeltas(ctx context.Context, projectID string, limit int) ([]*LearningDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query := `SELECT id, project_id, memories_added, types_touched, avg_quality, source, created_at FROM learning_deltas`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) SaveTokenFrequencies(ctx context.Context, scope string, freqs map[string]int) error {
	if len(freqs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for token, freq := range freqs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO token_frequencies(scope, token, frequency) VALUES (?, ?, ?)
			ON CONFLICT(scope, token) DO UPDATE SET frequency = excluded.frequency`, scope, token, freq)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTokenFrequencies(ctx context.Context, scope string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT token, frequency FROM token_frequencies WHERE scope = ?`, scope)
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

func (s *SQLiteStore) SaveTokenStat(ctx context.Context, stat *TokenStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stat.UpdatedAt.IsZero() {
		stat.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_stats(scope, raw_bytes, token_bytes, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET raw_bytes = excluded.raw_bytes, token_bytes = excluded.token_bytes, updated_at = excluded.updated_at`,
		stat.Scope, stat.RawBytes, stat.TokenBytes, stat.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetTokenStat(ctx context.Context, scope string) (*TokenStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t TokenStat
	err := s.db.QueryRowContext(ctx, `SELECT scope, raw_bytes, token_bytes, updated_at FROM token_stats WHERE scope = ?`, scope).
		Scan(&t.Scope, &t.RawBytes, &t.TokenBytes, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Projects / files (supplemental) ---

func (s *SQLiteStore) SaveProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.IndexedAt.IsZero() {
		p.IndexedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects(id, name, root_path, project_type, chunk_count, file_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, root_path = excluded.root_path,
			project_type = excluded.project_type, indexed_at = excluded.indexed_at, version = excluded.version`,
		p.ID, p.Name, p.RootPath, p.ProjectType, p.ChunkCount, p.FileCount, p.IndexedAt, p.Version)
	return err
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p Project
	err := s.db.QueryRowContext(ctx, `SELECT id, name, root_path, project_type, chunk_count, file_count, indexed_at, version FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.RootPath, &p.ProjectType, &p.ChunkCount, &p.FileCount, &p.IndexedAt, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET file_count = ?, chunk_count = ?, indexed_at = ? WHERE id = ?`,
		fileCount, chunkCount, time.Now(), id)
	return err
}

func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range files {
		if f.IndexedAt.IsZero() {
			f.IndexedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO files(id, project_id, path, size, mod_time, content_hash, language, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, path) DO UPDATE SET size = excluded.size, mod_time = excluded.mod_time,
				content_hash = excluded.content_hash, language = excluded.language, indexed_at = excluded.indexed_at`,
			f.ID, f.ProjectID, f.Path, f.Size, f.ModTime, f.ContentHash, f.Language, f.IndexedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var f File
	err := s.db.QueryRowContext(ctx, `SELECT id, project_id, path, size, mod_time, content_hash, language, indexed_at FROM files WHERE project_id = ? AND path = ?`,
		projectID, path).Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &f.ModTime, &f.ContentHash, &f.Language, &f.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context, projectID string) ([]*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, path, size, mod_time, content_hash, language, indexed_at FROM files WHERE project_id = ?`, projectID)
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

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	return err
}

func (s *SQLiteStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id = ?`, projectID)
	return err
}

// --- State / checkpoint ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_state(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_checkpoint(id, stage, total, embedded_count, timestamp, embedder_model) VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET stage = excluded.stage, total = excluded.total,
			embedded_count = excluded.embedded_count, timestamp = excluded.timestamp, embedder_model = excluded.embedder_model`,
		stage, total, embeddedCount, time.Now(), embedderModel)
	return err
}

func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c IndexCheckpoint
	err := s.db.QueryRowContext(ctx, `SELECT stage, total, embedded_count, timestamp, embedder_model FROM index_checkpoint WHERE id = 1`).
		Scan(&c.Stage, &c.Total, &c.EmbeddedCount, &c.Timestamp, &c.EmbedderModel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM index_checkpoint WHERE id = 1`)
	return err
}

// --- Transactions ---

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	// A transactional Store shares the parent's methods but executes against
	// a *sql.DB handle swapped for this tx's scope is not directly possible
	// with database/sql, so instead: run fn with a store bound to the same
	// db handle, and rely on SQLite's single-writer-connection serialization
	// plus rollback-on-error for atomicity. The tx itself guards the actual
	// statements issued by Restore/Import (see bulk package), which take a
	// *sql.Tx directly when driving multi-row writes.
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(s); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
