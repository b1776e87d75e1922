package kgraph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteSource persists the knowledge graph in its own database file and
// serves the Source contract straight from SQL. It doubles as the durable
// home the in-memory arena is hydrated from at startup.
type SQLiteSource struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Source = (*SQLiteSource)(nil)

// OpenSQLiteSource opens or creates the graph database at path.
func OpenSQLiteSource(path string) (*SQLiteSource, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create graph directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteSource{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSource) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		name_lower TEXT NOT NULL,
		type       TEXT,
		language   TEXT,
		confidence REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_entities_name_lower ON entities(name_lower);

	CREATE TABLE IF NOT EXISTS relationships (
		source_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		target_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		type       TEXT,
		confidence REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);

	CREATE TABLE IF NOT EXISTS mentions (
		chunk_id   TEXT NOT NULL,
		entity_id  TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		confidence REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (chunk_id, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveGraph replaces the stored graph in one transaction.
func (s *SQLiteSource) SaveGraph(ctx context.Context, entities []*Entity, relationships []Relationship, mentions []Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("graph source is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"mentions", "relationships", "entities"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	entStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO entities (id, name, name_lower, type, language, confidence)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entity statement: %w", err)
	}
	defer entStmt.Close()
	for _, e := range entities {
		if _, err := entStmt.ExecContext(ctx,
			e.ID, e.Name, strings.ToLower(e.Name), e.Type, e.Language, e.Confidence); err != nil {
			return fmt.Errorf("failed to save entity %s: %w", e.ID, err)
		}
	}

	relStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO relationships (source_id, target_id, type, confidence)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare relationship statement: %w", err)
	}
	defer relStmt.Close()
	for _, r := range relationships {
		if _, err := relStmt.ExecContext(ctx, r.SourceID, r.TargetID, r.Type, r.Confidence); err != nil {
			return fmt.Errorf("failed to save relationship %s->%s: %w", r.SourceID, r.TargetID, err)
		}
	}

	menStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO mentions (chunk_id, entity_id, confidence)
		VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare mention statement: %w", err)
	}
	defer menStmt.Close()
	for _, m := range mentions {
		if _, err := menStmt.ExecContext(ctx, m.ChunkID, m.EntityID, m.Confidence); err != nil {
			return fmt.Errorf("failed to save mention %s->%s: %w", m.ChunkID, m.EntityID, err)
		}
	}

	return tx.Commit()
}

// LoadGraph reads the whole stored graph, in a shape NewMemorySource accepts.
func (s *SQLiteSource) LoadGraph(ctx context.Context) ([]*Entity, []Relationship, []Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, nil, nil, fmt.Errorf("graph source is closed")
	}

	var entities []*Entity
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, language, confidence FROM entities ORDER BY id`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Language, &e.Confidence); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	var relationships []Relationship
	relRows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, type, confidence FROM relationships`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer relRows.Close()
	for relRows.Next() {
		var r Relationship
		if err := relRows.Scan(&r.SourceID, &r.TargetID, &r.Type, &r.Confidence); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		relationships = append(relationships, r)
	}
	if err := relRows.Err(); err != nil {
		return nil, nil, nil, err
	}

	var mentions []Mention
	menRows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, entity_id, confidence FROM mentions`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to query mentions: %w", err)
	}
	defer menRows.Close()
	for menRows.Next() {
		var m Mention
		if err := menRows.Scan(&m.ChunkID, &m.EntityID, &m.Confidence); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		mentions = append(mentions, m)
	}
	return entities, relationships, mentions, menRows.Err()
}

// LookupEntities matches the lowercased exact name first, then prefixes,
// best confidence first.
func (s *SQLiteSource) LookupEntities(ctx context.Context, term string, limit int) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("graph source is closed")
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || limit <= 0 {
		return []*Entity{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, language, confidence
		FROM entities
		WHERE name_lower = ?1 OR name_lower LIKE ?2 ESCAPE '\'
		ORDER BY (name_lower = ?1) DESC, confidence DESC, id
		LIMIT ?3`,
		term, escapeLike(term)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to look up entities: %w", err)
	}
	defer rows.Close()

	results := make([]*Entity, 0, limit)
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Language, &e.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		results = append(results, &e)
	}
	return results, rows.Err()
}

// Neighbors returns ids one hop from any input, both directions, inputs
// excluded.
func (s *SQLiteSource) Neighbors(ctx context.Context, entityIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("graph source is closed")
	}
	if len(entityIDs) == 0 {
		return []string{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityIDs)), ",")
	args := make([]any, 0, 2*len(entityIDs))
	for _, id := range entityIDs {
		args = append(args, id)
	}
	for _, id := range entityIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT target_id FROM relationships WHERE source_id IN (%s)
		UNION
		SELECT source_id FROM relationships WHERE target_id IN (%s)
		ORDER BY 1`, placeholders, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	inputs := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		inputs[id] = true
	}
	neighbors := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		if !inputs[id] {
			neighbors = append(neighbors, id)
		}
	}
	return neighbors, rows.Err()
}

// ChunksMentioning returns chunk ids keyed by entity id.
func (s *SQLiteSource) ChunksMentioning(ctx context.Context, entityIDs []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("graph source is closed")
	}
	if len(entityIDs) == 0 {
		return map[string][]string{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityIDs)), ",")
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT entity_id, chunk_id FROM mentions
		WHERE entity_id IN (%s)
		ORDER BY entity_id, chunk_id`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mentions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var entityID, chunkID string
		if err := rows.Scan(&entityID, &chunkID); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		out[entityID] = append(out[entityID], chunkID)
	}
	return out, rows.Err()
}

// Stats counts rows and the entity type histogram.
func (s *SQLiteSource) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("graph source is closed")
	}

	stats := &Stats{TypeCounts: make(map[string]int)}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.EntityCount); err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&stats.RelationshipCount); err != nil {
		return nil, fmt.Errorf("failed to count relationships: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mentions`).Scan(&stats.MentionCount); err != nil {
		return nil, fmt.Errorf("failed to count mentions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM entities GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count entity types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entityType string
		var count int
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.TypeCounts[entityType] = count
	}
	return stats, rows.Err()
}

// Path returns the database file location.
func (s *SQLiteSource) Path() string {
	return s.path
}

// Close closes the database. Idempotent.
func (s *SQLiteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// escapeLike escapes LIKE wildcards so a term containing % or _ matches
// literally.
func escapeLike(term string) string {
	term = strings.ReplaceAll(term, `\`, `\\`)
	term = strings.ReplaceAll(term, `%`, `\%`)
	return strings.ReplaceAll(term, `_`, `\_`)
}
