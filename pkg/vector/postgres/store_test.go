package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mnemora-ai/mnemora/pkg/vector"
)

// newTestStore connects to the database named by MNEMORA_TEST_POSTGRES_DSN.
// Tests are skipped when the variable is unset so the suite stays green
// without a database. Each test isolates itself via a unique user ID and
// cleans up its own rows.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("MNEMORA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MNEMORA_TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := New(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// testUserID returns a user ID unique to this test run.
func testUserID(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func testRecord(id, userID, chatID string, vec []float32, ts int64) vector.Record {
	return vector.Record{
		ID:     id,
		Values: vec,
		Metadata: map[string]any{
			vector.MetaUserID:    userID,
			vector.MetaChatID:    chatID,
			vector.MetaSender:    "user",
			vector.MetaContent:   "content of " + id,
			vector.MetaTimestamp: float64(ts),
		},
	}
}

// cleanup removes all rows of the given user after the test.
func cleanup(t *testing.T, s *Store, userID string) {
	t.Cleanup(func() {
		_, _ = s.DeleteByFilter(context.Background(), vector.Filter{vector.MetaUserID: userID})
	})
}

// TestUpsertQueryRoundTrip verifies storage, similarity ordering, and score
// orientation against a live database.
func TestUpsertQueryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := testUserID(t)
	cleanup(t, s, user)

	err := s.Upsert(ctx, []vector.Record{
		testRecord("rt-close", user, "c1", []float32{1, 0, 0, 0}, 100),
		testRecord("rt-far", user, "c1", []float32{0, 1, 0, 0}, 200),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10, vector.Filter{vector.MetaUserID: user})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Record.ID != "rt-close" {
		t.Errorf("top match = %q, want rt-close", matches[0].Record.ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("scores not descending: %v then %v", matches[0].Score, matches[1].Score)
	}
	if got := matches[0].Record.Metadata[vector.MetaContent]; got != "content of rt-close" {
		t.Errorf("content metadata = %v", got)
	}
}

// TestUpsert_Replaces verifies upserting an existing ID overwrites the row.
func TestUpsert_Replaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := testUserID(t)
	cleanup(t, s, user)

	r := testRecord("rp-1", user, "c1", []float32{1, 0, 0, 0}, 100)
	if err := s.Upsert(ctx, []vector.Record{r}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	r.Metadata[vector.MetaContent] = "updated"
	if err := s.Upsert(ctx, []vector.Record{r}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10, vector.Filter{vector.MetaUserID: user})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1 (duplicate row after upsert)", len(matches))
	}
	if got := matches[0].Record.Metadata[vector.MetaContent]; got != "updated" {
		t.Errorf("content = %v, want updated", got)
	}
}

// TestQuery_ChatScopeAndIsolation verifies chat_id narrowing and that other
// users' rows never surface.
func TestQuery_ChatScopeAndIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := testUserID(t) + "-alice"
	bob := testUserID(t) + "-bob"
	cleanup(t, s, alice)
	cleanup(t, s, bob)

	err := s.Upsert(ctx, []vector.Record{
		testRecord("cs-a1", alice, "c1", []float32{1, 0, 0, 0}, 100),
		testRecord("cs-a2", alice, "c2", []float32{1, 0, 0, 0}, 200),
		testRecord("cs-b1", bob, "c1", []float32{1, 0, 0, 0}, 300),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10, vector.Filter{
		vector.MetaUserID: alice,
		vector.MetaChatID: "c1",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Record.ID != "cs-a1" {
		t.Fatalf("matches = %+v, want only cs-a1", matches)
	}
}

// TestQuery_RequiresUserScope pins the privacy invariant at the SQL layer.
func TestQuery_RequiresUserScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10, vector.Filter{vector.MetaChatID: "c1"})
	if !errors.Is(err, vector.ErrUserScopeRequired) {
		t.Errorf("query err = %v, want ErrUserScopeRequired", err)
	}
	_, err = s.DeleteByFilter(ctx, vector.Filter{})
	if !errors.Is(err, vector.ErrUserScopeRequired) {
		t.Errorf("delete err = %v, want ErrUserScopeRequired", err)
	}
}

// TestQuery_TopKCap verifies the cap applies even when callers ask for more.
func TestQuery_TopKCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := testUserID(t)
	cleanup(t, s, user)

	var records []vector.Record
	for i := 0; i < 15; i++ {
		records = append(records, testRecord(
			fmt.Sprintf("tk-%02d", i), user, "c1",
			[]float32{1, float32(i) * 0.01, 0, 0}, int64(100+i),
		))
	}
	if err := s.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 50, vector.Filter{vector.MetaUserID: user})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != DefaultMaxTopK {
		t.Errorf("matches = %d, want capped at %d", len(matches), DefaultMaxTopK)
	}
}

// TestDeleteByFilter_Count verifies the removed-row count and idempotent
// re-delete.
func TestDeleteByFilter_Count(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := testUserID(t)
	cleanup(t, s, user)

	err := s.Upsert(ctx, []vector.Record{
		testRecord("dl-1", user, "c1", []float32{1, 0, 0, 0}, 100),
		testRecord("dl-2", user, "c2", []float32{0, 1, 0, 0}, 200),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := s.DeleteByFilter(ctx, vector.Filter{vector.MetaUserID: user})
	if err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	n, err = s.DeleteByFilter(ctx, vector.Filter{vector.MetaUserID: user})
	if err != nil {
		t.Fatalf("second DeleteByFilter: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
}

// TestControlPlane_TableLifecycle verifies the schema-backed control plane.
func TestControlPlane_TableLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names, err := s.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	if len(names) != 1 || names[0] != "memories" {
		t.Fatalf("ListIndexes = %v, want [memories]", names)
	}

	status, err := s.DescribeIndex(ctx, "memories")
	if err != nil {
		t.Fatalf("DescribeIndex: %v", err)
	}
	if !status.Ready {
		t.Error("table-backed index must always report ready")
	}

	if err := s.CreateIndex(ctx, vector.IndexSpec{Name: "memories", Dimension: 99}); err == nil {
		t.Error("CreateIndex with mismatched dimension should fail")
	}
	if err := s.CreateIndex(ctx, vector.IndexSpec{Name: "memories", Dimension: 4}); err != nil {
		t.Errorf("idempotent CreateIndex: %v", err)
	}
}

// TestBuildConditions_RejectsUnknownKey guards against typo'd filter keys
// widening a delete. Pure unit test, no database needed.
func TestBuildConditions_RejectsUnknownKey(t *testing.T) {
	var args []any
	_, err := buildConditions(vector.Filter{"user-id": "oops"}, &args)
	if err == nil {
		t.Fatal("expected error for unknown filter key")
	}
}
