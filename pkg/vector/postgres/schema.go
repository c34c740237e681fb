package postgres

import (
	"context"
	"fmt"

	"github.com/mnemora-ai/mnemora/pkg/vector"
)

// ddlMemories returns the DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlMemories(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id        TEXT         PRIMARY KEY,
    user_id   TEXT         NOT NULL,
    chat_id   TEXT         NOT NULL DEFAULT '',
    sender    TEXT         NOT NULL DEFAULT '',
    content   TEXT         NOT NULL,
    embedding vector(%d),
    sent_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_user_id
    ON memories (user_id);

CREATE INDEX IF NOT EXISTS idx_memories_user_chat
    ON memories (user_id, chat_id);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// migrate creates or ensures the memories table and its indexes exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to run on every application start.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddlMemories(s.dims)); err != nil {
		return fmt.Errorf("apply ddl: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Control plane
//
// For the pgvector backend "index" provisioning is just the schema: the index
// exists once the memories table does, and it is ready immediately. These
// methods let the lifecycle manager treat both backends uniformly.
// ─────────────────────────────────────────────────────────────────────────────

// ListIndexes implements vector.ControlPlane. It reports the memories table
// when it exists.
func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT to_regclass('memories') IS NOT NULL`,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list indexes: %w", err)
	}
	if !exists {
		return []string{}, nil
	}
	return []string{"memories"}, nil
}

// CreateIndex implements vector.ControlPlane by running the idempotent schema
// setup. The spec's placement fields are meaningless for a self-hosted
// database and are ignored; a dimension mismatch is rejected.
func (s *Store) CreateIndex(ctx context.Context, spec vector.IndexSpec) error {
	if spec.Dimension != 0 && spec.Dimension != s.dims {
		return fmt.Errorf("postgres store: create index: dimension %d does not match store dimension %d", spec.Dimension, s.dims)
	}
	return s.migrate(ctx)
}

// DescribeIndex implements vector.ControlPlane. A present table is always
// ready; there is no asynchronous provisioning phase.
func (s *Store) DescribeIndex(ctx context.Context, name string) (*vector.IndexStatus, error) {
	names, err := s.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("postgres store: describe index: %q not found", name)
	}
	return &vector.IndexStatus{
		Name:      "memories",
		Dimension: s.dims,
		State:     "Ready",
		Ready:     true,
	}, nil
}
