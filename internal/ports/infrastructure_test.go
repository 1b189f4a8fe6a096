package ports

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
)

// mockProvider implements Provider.
type mockProvider struct{ model string }

func (m *mockProvider) Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error) {
	return GenerationResponse{Text: "mock response", StopReason: StopEnd}, nil
}

func (m *mockProvider) CountTokens(text string) int { return len(text) / 4 }

func (m *mockProvider) Model() string { return m.model }

func (m *mockProvider) Name() string { return "mock" }

// mockCacheStore implements CacheStore.
type mockCacheStore struct{ data map[string]CacheEntry }

func newMockCacheStore() *mockCacheStore {
	return &mockCacheStore{data: make(map[string]CacheEntry)}
}

func (m *mockCacheStore) Get(ctx context.Context, collection, id string) (CacheEntry, error) {
	e, ok := m.data[collection+"/"+id]
	if !ok {
		return CacheEntry{}, NewCacheError(collection+"/"+id, "Get", ErrCacheMiss)
	}
	return e, nil
}

func (m *mockCacheStore) Put(ctx context.Context, entry CacheEntry) error {
	m.data[entry.Collection+"/"+entry.ID] = entry
	return nil
}

func (m *mockCacheStore) Index(ctx context.Context, collection string) ([]IndexEntry, error) {
	var out []IndexEntry
	for _, e := range m.data {
		if e.Collection == collection {
			out = append(out, IndexEntry{ID: e.ID, Hash: e.Hash, CreatedAt: e.CreatedAt})
		}
	}
	return out, nil
}

// mockMetricsCollector implements MetricsCollector.
type mockMetricsCollector struct {
	counters map[string]float64
}

func (m *mockMetricsCollector) RecordLatency(string, time.Duration, map[string]string) {}

func (m *mockMetricsCollector) RecordCounter(metric string, value float64, _ map[string]string) {
	m.counters[metric] += value
}

func (m *mockMetricsCollector) RecordGauge(string, float64, map[string]string) {}

func (m *mockMetricsCollector) RecordHistogram(string, float64, map[string]string) {}

func TestInterfaces_Implementation(t *testing.T) {
	var _ Provider = (*mockProvider)(nil)
	var _ CacheStore = (*mockCacheStore)(nil)
	var _ MetricsCollector = (*mockMetricsCollector)(nil)

	p := &mockProvider{model: "test-model"}
	resp, err := p.Generate(context.Background(), GenerationRequest{Messages: []Message{UserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Text)
	assert.NoError(t, resp.Validate())
	assert.Equal(t, "test-model", p.Model())
}

func TestCacheStore_Operations(t *testing.T) {
	ctx := context.Background()
	store := newMockCacheStore()

	_, err := store.Get(ctx, CollectionGuides, "g1")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, store.Put(ctx, CacheEntry{Collection: CollectionGuides, ID: "g1", Hash: "h1", Value: []byte("{}")}))

	e, err := store.Get(ctx, CollectionGuides, "g1")
	require.NoError(t, err)
	assert.Equal(t, "h1", e.Hash)

	idx, err := store.Index(ctx, CollectionGuides)
	require.NoError(t, err)
	assert.Len(t, idx, 1)
}

func TestGenerationResponse_Validate(t *testing.T) {
	tests := []struct {
		name    string
		resp    GenerationResponse
		wantErr bool
	}{
		{name: "end", resp: GenerationResponse{Text: "ok", StopReason: StopEnd}},
		{name: "length limit", resp: GenerationResponse{Text: "cut", StopReason: StopLengthLimit}},
		{
			name: "tool with invocation",
			resp: GenerationResponse{
				StopReason:      StopToolInvoked,
				ToolInvocations: []ToolInvocation{{Name: "t", Input: json.RawMessage(`{}`)}},
			},
		},
		{name: "tool without invocation", resp: GenerationResponse{StopReason: StopToolInvoked}, wantErr: true},
		{name: "error with text", resp: GenerationResponse{Text: "partial", StopReason: StopReasonError}, wantErr: true},
		{name: "error without text", resp: GenerationResponse{StopReason: StopReasonError}},
		{name: "unknown", resp: GenerationResponse{StopReason: "weird"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInconsistentResponse))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerationResponse_Invocation(t *testing.T) {
	resp := GenerationResponse{ToolInvocations: []ToolInvocation{
		{Name: "a", Input: json.RawMessage(`{"x":1}`)},
		{Name: "b", Input: json.RawMessage(`{"y":2}`)},
	}}

	inv, ok := resp.Invocation("b")
	require.True(t, ok)
	assert.JSONEq(t, `{"y":2}`, string(inv.Input))

	_, ok = resp.Invocation("c")
	assert.False(t, ok)
}

func TestUsageScope(t *testing.T) {
	ctx := context.Background()

	_, ok := UsageScopeFrom(ctx)
	assert.False(t, ok)

	ctx = WithUsageScope(ctx, UsageScope{ContextID: "r1", Kind: domain.ContextReport})
	ctx = WithOperation(ctx, "evaluate_answer")

	scope, ok := UsageScopeFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "r1", scope.ContextID)
	assert.Equal(t, domain.ContextReport, scope.Kind)
	assert.Equal(t, "evaluate_answer", scope.Operation)
}

func TestGenerationRequest_Prompt(t *testing.T) {
	req := GenerationRequest{System: "sys", Messages: []Message{UserMessage("a"), {Role: RoleAssistant, Content: "b"}}}
	assert.Equal(t, "sys\na\nb", req.Prompt())
	assert.Equal(t, "a\n\nb", Document{Pages: []string{"a", "b"}}.Text())
}
