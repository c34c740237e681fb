package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mnemora-ai/mnemora/internal/app"
	"github.com/mnemora-ai/mnemora/internal/config"
	"github.com/mnemora-ai/mnemora/internal/observe"
	"github.com/mnemora-ai/mnemora/internal/recall"
	embedmock "github.com/mnemora-ai/mnemora/pkg/provider/embeddings/mock"
	"github.com/mnemora-ai/mnemora/pkg/types"
	"github.com/mnemora-ai/mnemora/pkg/vector"
	vectormock "github.com/mnemora-ai/mnemora/pkg/vector/mock"
)

// testConfig returns a config that exercises the injected-mock path.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":0",
			LogLevel:   config.LogInfo,
		},
		LLM: config.LLMConfig{
			Name:    "openai",
			Model:   "gpt-4o-mini",
			APIKeys: []string{"sk-one", "sk-two"},
		},
		Embeddings: config.EmbeddingsConfig{
			Backend:    config.EmbeddingsSynthetic,
			Dimensions: 4,
		},
		Vector: config.VectorConfig{
			Backend:  config.VectorPostgres,
			Index:    "memories",
			Metric:   "cosine",
			Postgres: config.PostgresConfig{DSN: "postgres://unused/test"},
		},
		Memory: config.MemoryConfig{TopK: 5, ExcerptChars: 280},
		MCP:    config.MCPConfig{Enabled: true},
	}
}

// testMetrics returns an isolated metrics instance so tests do not pollute
// the global provider.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testEmbedder() *embedmock.Provider {
	return &embedmock.Provider{
		EmbedResult:     []float32{1, 0, 0, 0},
		DimensionsValue: 4,
		ModelIDValue:    "mock-embed",
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	store := &vectormock.Store{}
	opts = append([]app.Option{
		app.WithEmbeddings(testEmbedder()),
		app.WithVectorStore(store, store),
		app.WithMetrics(testMetrics(t)),
	}, opts...)

	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())

	if a.Engine() == nil {
		t.Error("Engine() returned nil")
	}
	if a.Assembler() == nil {
		t.Error("Assembler() returned nil")
	}
	if a.Handler() == nil {
		t.Error("Handler() returned nil")
	}
	if a.Pool().Len() != 2 {
		t.Errorf("pool size = %d, want 2", a.Pool().Len())
	}
}

func TestNew_MemoryRoundTrip(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())
	ctx := context.Background()

	a.Engine().Remember(ctx, types.ChatMessage{
		UserID:    "u1",
		ChatID:    "c1",
		Sender:    types.SenderUser,
		Content:   "I like tea",
		Timestamp: time.Unix(1700000000, 0),
	})

	got := a.Engine().Recall(ctx, recall.Query{UserID: "u1", Text: "tea"})
	if len(got) != 1 {
		t.Fatalf("recall returned %d excerpts, want 1", len(got))
	}
	if got[0].Message.Content != "I like tea" {
		t.Errorf("content = %q", got[0].Message.Content)
	}
}

// failingControlPlane always fails index listing, which keeps the index
// manager from ever reaching ready state.
type failingControlPlane struct{}

func (failingControlPlane) ListIndexes(context.Context) ([]string, error) {
	return nil, errors.New("control plane unreachable")
}

func (failingControlPlane) CreateIndex(context.Context, vector.IndexSpec) error {
	return errors.New("control plane unreachable")
}

func (failingControlPlane) DescribeIndex(context.Context, string) (*vector.IndexStatus, error) {
	return nil, errors.New("control plane unreachable")
}

func TestNew_FailsWhenIndexCannotProvision(t *testing.T) {
	t.Parallel()
	store := &vectormock.Store{}

	_, err := app.New(context.Background(), testConfig(),
		app.WithEmbeddings(testEmbedder()),
		app.WithVectorStore(store, failingControlPlane{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("expected error when index provisioning fails")
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Errorf("GET %s = %d, want %d", tc.path, rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestHandler_ReadyzReportsChecks(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, check := range []string{"index", "credentials"} {
		if !strings.Contains(body, check) {
			t.Errorf("readyz body missing %q check: %s", check, body)
		}
	}
}

func TestHandleConfigChange_LogLevel(t *testing.T) {
	t.Parallel()
	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)

	a := newTestApp(t, testConfig(), app.WithLogLevelVar(level))

	old := testConfig()
	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	a.HandleConfigChange(old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

func TestHandleConfigChange_APIKeys(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())

	old := testConfig()
	updated := testConfig()
	updated.LLM.APIKeys = []string{"sk-new-1", "sk-new-2", "sk-new-3"}
	a.HandleConfigChange(old, updated)

	if a.Pool().Len() != 3 {
		t.Errorf("pool size = %d, want 3 after key reload", a.Pool().Len())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("first shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to start, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
