package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeQdrant records calls and returns scripted results.
type fakeQdrant struct {
	collections map[string]bool
	upserts     []*qdrant.UpsertPoints
	queryResult []*qdrant.ScoredPoint
	queryErrs   []error
	count       uint64
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]bool{}}
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.collections[req.CollectionName] = true
	return nil
}

func (f *fakeQdrant) DeleteCollection(_ context.Context, name string) error {
	delete(f.collections, name)
	return nil
}

func (f *fakeQdrant) CollectionExists(_ context.Context, name string) (bool, error) {
	return f.collections[name], nil
}

func (f *fakeQdrant) ListCollections(context.Context) ([]string, error) {
	var names []string
	for n := range f.collections {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeQdrant) Count(_ context.Context, req *qdrant.CountPoints) (uint64, error) {
	if !f.collections[req.CollectionName] {
		return 0, status.Error(grpccodes.NotFound, "missing")
	}
	return f.count, nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(context.Context, *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	if len(f.queryErrs) > 0 {
		err := f.queryErrs[0]
		f.queryErrs = f.queryErrs[1:]
		return nil, err
	}
	return f.queryResult, nil
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) Close() error { return nil }

func testQdrantStore(client qdrantAPI) *QdrantStore {
	cfg := QdrantConfig{VectorSize: 4, RetryBackoff: time.Millisecond}
	cfg.ApplyDefaults()
	return newQdrantStore(client, cfg, nil)
}

func TestQdrantStore_CreateAndDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	store := testQdrantStore(fake)

	require.NoError(t, store.CreateCollection(ctx, "docs"))
	assert.ErrorIs(t, store.CreateCollection(ctx, "docs"), ErrCollectionExists)

	require.NoError(t, store.DeleteCollection(ctx, "docs"))
	assert.ErrorIs(t, store.DeleteCollection(ctx, "docs"), ErrCollectionNotFound)
}

func TestQdrantStore_InsertBuildsPayload(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	store := testQdrantStore(fake)

	ids, err := store.Insert(ctx, "docs", []Point{
		{ID: "not-a-uuid", Vector: unit(0), Content: "alpha", Metadata: map[string]any{"page_number": 2, "stable_id": "s1"}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEqual(t, "not-a-uuid", ids[0])

	require.Len(t, fake.upserts, 1)
	req := fake.upserts[0]
	assert.True(t, req.GetWait())
	payload := req.Points[0].Payload
	assert.Equal(t, "alpha", payload[payloadContent].GetStringValue())
	assert.Equal(t, ids[0], payload[payloadID].GetStringValue())
	assert.Equal(t, int64(2), payload["page_number"].GetIntegerValue())
	assert.Equal(t, "s1", payload["stable_id"].GetStringValue())
}

func TestQdrantStore_InsertRejectsWrongDimension(t *testing.T) {
	store := testQdrantStore(newFakeQdrant())
	_, err := store.Insert(context.Background(), "docs", []Point{{Vector: []float32{1, 2}}})
	assert.Error(t, err)
}

func TestQdrantStore_QueryConvertsPayload(t *testing.T) {
	fake := newFakeQdrant()
	fake.queryResult = []*qdrant.ScoredPoint{
		{
			Id:    qdrant.NewIDUUID("6b1f3e0a-1111-4c4c-8d8d-000000000001"),
			Score: 0.91,
			Payload: map[string]*qdrant.Value{
				payloadContent: qdrant.NewValueString("alpha"),
				"file_name":    qdrant.NewValueString("a.txt"),
				"row_index":    qdrant.NewValueInt(4),
			},
		},
	}
	store := testQdrantStore(fake)

	hits, err := store.Query(context.Background(), "docs", unit(0), 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alpha", hits[0].Content)
	assert.Equal(t, "6b1f3e0a-1111-4c4c-8d8d-000000000001", hits[0].ID)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-6)
	assert.Equal(t, map[string]any{"file_name": "a.txt", "row_index": int64(4)}, hits[0].Metadata)
}

func TestQdrantStore_QueryRetriesTransientErrors(t *testing.T) {
	fake := newFakeQdrant()
	fake.queryErrs = []error{status.Error(grpccodes.Unavailable, "down")}
	fake.queryResult = []*qdrant.ScoredPoint{{Score: 0.5}}
	store := testQdrantStore(fake)

	hits, err := store.Query(context.Background(), "docs", unit(0), 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestQdrantStore_QueryNotFound(t *testing.T) {
	fake := newFakeQdrant()
	fake.queryErrs = []error{status.Error(grpccodes.NotFound, "no collection")}
	store := testQdrantStore(fake)

	_, err := store.Query(context.Background(), "docs", unit(0), 1)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestQdrantStore_QueryPermanentErrorIsBackendError(t *testing.T) {
	fake := newFakeQdrant()
	fake.queryErrs = []error{status.Error(grpccodes.InvalidArgument, "bad vector")}
	store := testQdrantStore(fake)

	_, err := store.Query(context.Background(), "docs", unit(0), 1)
	assert.ErrorIs(t, err, ErrBackend)
}

func TestQdrantStore_Count(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = true
	fake.count = 12
	store := testQdrantStore(fake)

	n, err := store.Count(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = store.Count(context.Background(), "other")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"unavailable", status.Error(grpccodes.Unavailable, "x"), true},
		{"deadline", status.Error(grpccodes.DeadlineExceeded, "x"), true},
		{"not found", status.Error(grpccodes.NotFound, "x"), false},
		{"invalid", status.Error(grpccodes.InvalidArgument, "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestQdrantConfig_Validate(t *testing.T) {
	cfg := QdrantConfig{VectorSize: 768}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6334, cfg.Port)

	cfg.VectorSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestQdrantStore_Locator(t *testing.T) {
	store := testQdrantStore(newFakeQdrant())
	assert.Equal(t, "qdrant://localhost:6334/collections/docs", store.Locator("docs"))
}
