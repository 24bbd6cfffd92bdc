package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim sizes the vec0
// table holding entity name embeddings.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Document registry with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    title TEXT,
    document_type TEXT,
    document_context TEXT,
    status TEXT DEFAULT 'pending',
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Canonical graph nodes. seq gives vec_entities a stable integer key.
CREATE TABLE IF NOT EXISTS entities (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    lower_name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    document_id TEXT,
    confidence REAL NOT NULL DEFAULT 0,
    properties JSON,
    aliases JSON,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Directed typed edges
CREATE TABLE IF NOT EXISTS relationships (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    source_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    document_id TEXT,
    confidence REAL NOT NULL DEFAULT 0,
    properties JSON,
    created_at TEXT NOT NULL
);

-- Entity name embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    entity_seq INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_entities_lower_name ON entities(lower_name);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_document ON entities(document_id);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);
CREATE INDEX IF NOT EXISTS idx_relationships_triple ON relationships(source_id, target_id, relation_type);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
`, embeddingDim)
}
