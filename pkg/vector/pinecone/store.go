package pinecone

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/mnemora-ai/mnemora/pkg/vector"
)

// wireVector is the data-plane representation of one record.
type wireVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Upsert implements vector.Store. Writing the same IDs again replaces the
// stored records, so retried writes converge.
func (c *Client) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	base, err := c.dataURL(ctx)
	if err != nil {
		return fmt.Errorf("pinecone: upsert: %w", err)
	}

	vectors := make([]wireVector, len(records))
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("pinecone: upsert: record %d has empty ID", i)
		}
		vectors[i] = wireVector{ID: r.ID, Values: r.Values, Metadata: r.Metadata}
	}

	body := map[string]any{"vectors": vectors}
	if err := c.do(ctx, http.MethodPost, base+"/vectors/upsert", body, nil); err != nil {
		return fmt.Errorf("pinecone: upsert %d records: %w", len(records), err)
	}
	return nil
}

// Query implements vector.Store.
//
// The service already orders matches by similarity; a stable client-side
// re-sort applies the timestamp tie-break (newer first among equal scores)
// since the wire protocol does not guarantee any secondary order.
func (c *Client) Query(ctx context.Context, vec []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	if !filter.UserScoped() {
		return nil, vector.ErrUserScopeRequired
	}
	if topK <= 0 || topK > c.maxTopK {
		topK = c.maxTopK
	}

	base, err := c.dataURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("pinecone: query: %w", err)
	}

	body := map[string]any{
		"vector":          vec,
		"topK":            topK,
		"filter":          encodeFilter(filter),
		"includeMetadata": true,
	}

	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Values   []float32      `json:"values"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := c.do(ctx, http.MethodPost, base+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("pinecone: query: %w", err)
	}

	matches := make([]vector.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, vector.Match{
			Record: vector.Record{ID: m.ID, Values: m.Values, Metadata: m.Metadata},
			Score:  m.Score,
		})
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteByFilter implements vector.Store. The service reports how many
// records the filter removed via the deletedCount response field;
// deployments that omit it report 0.
func (c *Client) DeleteByFilter(ctx context.Context, filter vector.Filter) (int, error) {
	if !filter.UserScoped() {
		return 0, vector.ErrUserScopeRequired
	}

	base, err := c.dataURL(ctx)
	if err != nil {
		return 0, fmt.Errorf("pinecone: delete: %w", err)
	}

	body := map[string]any{"filter": encodeFilter(filter)}
	var resp struct {
		DeletedCount int `json:"deletedCount"`
	}
	if err := c.do(ctx, http.MethodPost, base+"/vectors/delete", body, &resp); err != nil {
		return 0, fmt.Errorf("pinecone: delete by filter: %w", err)
	}
	return resp.DeletedCount, nil
}

// encodeFilter converts the flat exact-match filter into the service's
// Mongo-style operator syntax: {"field": {"$eq": value}}.
func encodeFilter(filter vector.Filter) map[string]any {
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = map[string]any{"$eq": v}
	}
	return out
}

// sortMatches orders by score descending, breaking ties by message timestamp
// descending. Records without a timestamp sort last within their score band.
func sortMatches(matches []vector.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matchTimestamp(matches[i]) > matchTimestamp(matches[j])
	})
}

// matchTimestamp extracts the Unix-seconds timestamp from match metadata,
// tolerating the float64 that JSON decoding produces.
func matchTimestamp(m vector.Match) float64 {
	v, ok := m.Record.Metadata[vector.MetaTimestamp]
	if !ok {
		return -1
	}
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return -1
	}
}
