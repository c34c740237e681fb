// Package vector defines the storage contract for Mnemora's semantic memory.
//
// A [Store] holds fixed-width embedding vectors with flat metadata and
// answers filtered similarity queries. Two backends ship with Mnemora:
//
//   - pkg/vector/pinecone: an HTTP client for a Pinecone-compatible managed
//     vector service (separate control and data planes).
//   - pkg/vector/postgres: pgvector-backed storage for self-hosted setups.
//
// All interfaces are public so external packages can supply alternative
// backends without depending on mnemora internals.
//
// Every implementation must be safe for concurrent use.
package vector

import (
	"context"
	"errors"
)

// Well-known metadata keys. Stores treat metadata as opaque except where a
// backend needs a typed column; these names keep the two backends and the
// retrieval layer in agreement.
const (
	// MetaUserID scopes a record to its owning user. Mandatory on every
	// record, query, and delete.
	MetaUserID = "user_id"

	// MetaChatID scopes a record to a conversation thread.
	MetaChatID = "chat_id"

	// MetaSender records who wrote the message ("user" or "assistant").
	MetaSender = "sender"

	// MetaContent carries the original message text so recall needs no
	// second lookup.
	MetaContent = "content"

	// MetaTimestamp is the message send time as Unix seconds (float64 on the
	// wire; JSON has no integer type).
	MetaTimestamp = "timestamp"
)

// ErrUserScopeRequired is returned by queries and deletes whose filter lacks
// a user_id term. Memory access is always scoped to a single user; a missing
// scope is a caller bug, never something to silently widen.
var ErrUserScopeRequired = errors.New("vector: filter must include user_id")

// Record is one stored memory: an embedding vector plus flat metadata.
type Record struct {
	// ID is the stable record identifier. Upserting an existing ID replaces
	// the record.
	ID string

	// Values is the embedding vector. Its length must match the index
	// dimension.
	Values []float32

	// Metadata holds the flat key/value payload. Values are strings or
	// float64 numbers.
	Metadata map[string]any
}

// Filter is an exact-match conjunction over metadata fields: a record
// matches when every key/value pair holds.
type Filter map[string]any

// UserScoped reports whether the filter carries a non-empty user_id term.
func (f Filter) UserScoped() bool {
	v, ok := f[MetaUserID]
	if !ok {
		return false
	}
	s, isStr := v.(string)
	return !isStr || s != ""
}

// Match pairs a retrieved record with its similarity score.
type Match struct {
	// Record is the retrieved record. Values may be omitted by backends that
	// do not return vectors on query.
	Record Record

	// Score is the cosine similarity to the query vector (higher is more
	// similar).
	Score float64
}

// IndexSpec describes the index an application expects to exist.
type IndexSpec struct {
	// Name is the index name.
	Name string

	// Dimension is the vector width, e.g. 1536.
	Dimension int

	// Metric is the similarity metric, e.g. "cosine".
	Metric string

	// Cloud and Region select serverless placement on managed backends.
	// Backends without placement ignore them.
	Cloud  string
	Region string
}

// IndexStatus reports the provisioning state of an index.
type IndexStatus struct {
	// Name is the index name.
	Name string

	// Dimension is the configured vector width.
	Dimension int

	// State is the backend-specific state label (e.g. "Initializing",
	// "Ready").
	State string

	// Ready is true once the index accepts reads and writes.
	Ready bool
}

// Store is the data-plane interface: upserts, filtered similarity queries,
// and filtered deletes.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert writes records, replacing any existing records with the same
	// IDs. Writing the same records twice must converge to the same state.
	Upsert(ctx context.Context, records []Record) error

	// Query returns the topK stored records most similar to vec, restricted
	// to records matching filter. The filter must include user_id;
	// implementations return [ErrUserScopeRequired] otherwise.
	//
	// Results are ordered by descending Score; ties are broken by descending
	// message timestamp (newest first). Implementations cap topK at their
	// configured maximum. Returns an empty (non-nil) slice when nothing
	// matches.
	Query(ctx context.Context, vec []float32, topK int, filter Filter) ([]Match, error)

	// DeleteByFilter removes every record matching filter and returns how
	// many were removed. The filter must be non-empty and include user_id;
	// implementations return [ErrUserScopeRequired] otherwise. Deleting zero
	// records is not an error.
	DeleteByFilter(ctx context.Context, filter Filter) (int, error)
}

// ControlPlane is the index-management interface used by the lifecycle
// manager to make sure the index exists before any data-plane traffic.
//
// Implementations must be safe for concurrent use.
type ControlPlane interface {
	// ListIndexes returns the names of all indexes visible to the caller.
	ListIndexes(ctx context.Context) ([]string, error)

	// CreateIndex provisions a new index. Creating an index that already
	// exists is an error; callers list first.
	CreateIndex(ctx context.Context, spec IndexSpec) error

	// DescribeIndex reports the provisioning status of the named index.
	DescribeIndex(ctx context.Context, name string) (*IndexStatus, error)
}
