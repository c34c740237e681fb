// Package postgres provides a pgvector-backed implementation of the Mnemora
// vector store for self-hosted deployments.
//
// Records live in a single memories table with typed metadata columns and a
// vector(N) embedding column under an HNSW cosine index. The pgvector
// extension must be available in the target database; the schema setup
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Upsert(ctx, records)
//	matches, _ := store.Query(ctx, vec, 10, vector.Filter{vector.MetaUserID: "u1"})
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mnemora-ai/mnemora/pkg/vector"
)

// DefaultMaxTopK caps how many matches a single query may request.
const DefaultMaxTopK = 10

// Compile-time interface checks.
var (
	_ vector.Store        = (*Store)(nil)
	_ vector.ControlPlane = (*Store)(nil)
)

// Store is the PostgreSQL-backed vector store. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	dims    int
	maxTopK int
}

// Option is a functional option for [New].
type Option func(*Store)

// WithMaxTopK overrides the query result cap. Defaults to 10.
func WithMaxTopK(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTopK = n
		}
	}
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and ensures
// the schema exists.
//
// dims must match the output dimension of the embedding provider (e.g., 1536
// for OpenAI text-embedding-3-small). Changing it after the first run
// requires a manual schema change.
func New(ctx context.Context, dsn string, dims int, opts ...Option) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("postgres store: dims must be positive, got %d", dims)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	s := &Store{pool: pool, dims: dims, maxTopK: DefaultMaxTopK}
	for _, o := range opts {
		o(s)
	}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return s, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Data plane
// ─────────────────────────────────────────────────────────────────────────────

// Upsert implements vector.Store. Re-inserting an existing ID replaces the
// whole record.
func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	const q = `
		INSERT INTO memories
		    (id, user_id, chat_id, sender, content, embedding, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    user_id   = EXCLUDED.user_id,
		    chat_id   = EXCLUDED.chat_id,
		    sender    = EXCLUDED.sender,
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    sent_at   = EXCLUDED.sent_at`

	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("postgres store: upsert: record %d has empty ID", i)
		}
		_, err := s.pool.Exec(ctx, q,
			r.ID,
			metaString(r.Metadata, vector.MetaUserID),
			metaString(r.Metadata, vector.MetaChatID),
			metaString(r.Metadata, vector.MetaSender),
			metaString(r.Metadata, vector.MetaContent),
			pgvector.NewVector(r.Values),
			metaTime(r.Metadata),
		)
		if err != nil {
			return fmt.Errorf("postgres store: upsert %q: %w", r.ID, err)
		}
	}
	return nil
}

// Query implements vector.Store. Cosine similarity is 1 - cosine distance;
// the SQL ORDER BY applies the timestamp tie-break directly.
func (s *Store) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	if !filter.UserScoped() {
		return nil, vector.ErrUserScopeRequired
	}
	if topK <= 0 || topK > s.maxTopK {
		topK = s.maxTopK
	}

	args := []any{pgvector.NewVector(vec)} // $1 = query vector
	conditions, err := buildConditions(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, user_id, chat_id, sender, content, sent_at,
		       embedding <=> $1 AS distance
		FROM   memories
		WHERE  %s
		ORDER  BY distance, sent_at DESC
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vector.Match, error) {
		var (
			m                              vector.Match
			userID, chatID, sender, content string
			sentAt                         time.Time
			distance                       float64
		)
		if err := row.Scan(&m.Record.ID, &userID, &chatID, &sender, &content, &sentAt, &distance); err != nil {
			return vector.Match{}, err
		}
		m.Record.Metadata = map[string]any{
			vector.MetaUserID:    userID,
			vector.MetaChatID:    chatID,
			vector.MetaSender:    sender,
			vector.MetaContent:   content,
			vector.MetaTimestamp: float64(sentAt.Unix()),
		}
		m.Score = 1 - distance
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []vector.Match{}
	}
	return matches, nil
}

// DeleteByFilter implements vector.Store.
func (s *Store) DeleteByFilter(ctx context.Context, filter vector.Filter) (int, error) {
	if !filter.UserScoped() {
		return 0, vector.ErrUserScopeRequired
	}

	var args []any
	conditions, err := buildConditions(filter, &args)
	if err != nil {
		return 0, fmt.Errorf("postgres store: delete: %w", err)
	}

	q := "DELETE FROM memories WHERE " + strings.Join(conditions, " AND ")
	ct, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres store: delete by filter: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// buildConditions renders the exact-match filter as SQL predicates, appending
// placeholder values to args. Unknown metadata keys are rejected rather than
// silently ignored — a typo in a filter key must never widen a delete.
func buildConditions(filter vector.Filter, args *[]any) ([]string, error) {
	next := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}

	columns := map[string]string{
		vector.MetaUserID:  "user_id",
		vector.MetaChatID:  "chat_id",
		vector.MetaSender:  "sender",
		vector.MetaContent: "content",
	}

	var conditions []string
	for key, val := range filter {
		if key == vector.MetaTimestamp {
			conditions = append(conditions, "sent_at = "+next(metaTime(vector.Filter{vector.MetaTimestamp: val})))
			continue
		}
		col, ok := columns[key]
		if !ok {
			return nil, fmt.Errorf("unsupported filter key %q", key)
		}
		conditions = append(conditions, col+" = "+next(val))
	}
	return conditions, nil
}

// metaString extracts a string metadata value, defaulting to "".
func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// metaTime converts the Unix-seconds timestamp metadata into a time.Time,
// defaulting to now for records without one.
func metaTime(meta map[string]any) time.Time {
	switch v := meta[vector.MetaTimestamp].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	case int:
		return time.Unix(int64(v), 0).UTC()
	case time.Time:
		return v
	default:
		return time.Now().UTC()
	}
}
