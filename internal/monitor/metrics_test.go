package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorResponse(values ...string) QueryResult {
	result := make([]MetricResult, len(values))
	for i, v := range values {
		result[i] = MetricResult{
			Metric: map[string]string{},
			Value:  [2]interface{}{float64(1699564800), v},
		}
	}
	return QueryResult{Status: "success", Data: QueryData{ResultType: "vector", Result: result}}
}

func TestNewMetricsClient(t *testing.T) {
	client := NewMetricsClient("http://localhost:9090")
	assert.Equal(t, "http://localhost:9090", client.baseURL)
	assert.NotNil(t, client.client)
}

func TestMetricsClient_Query_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, "up", r.URL.Query().Get("query"))
		_ = json.NewEncoder(w).Encode(vectorResponse("1"))
	}))
	defer server.Close()

	result, err := NewMetricsClient(server.URL).Query(context.Background(), "up")
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	require.Len(t, result.Data.Result, 1)
	assert.Equal(t, "1", result.Data.Result[0].Value[1])
}

func TestMetricsClient_Query_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: "status code 500",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{invalid json"))
			},
			want: "failed to decode response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewMetricsClient(server.URL).Query(context.Background(), "up")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMetricsClient_Query_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewMetricsClient(server.URL).Query(ctx, "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context deadline exceeded")
}

func TestMetricsClient_Value(t *testing.T) {
	tests := []struct {
		name     string
		response QueryResult
		want     float64
	}{
		{"sample", vectorResponse("45.7"), 45.7},
		{"empty", vectorResponse(), 0},
		{"nan ratio", vectorResponse("NaN"), 0},
		{"first sample wins", vectorResponse("2", "9"), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			got, err := NewMetricsClient(server.URL).Value(context.Background(), "x")
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestMetricsClient_Snapshot(t *testing.T) {
	values := map[string]string{
		queryQueryRate:  "12",
		queryQueryP95:   "3.5",
		queryNoContext:  "0.25",
		queryIngestRate: "600",
		queryDuplicates: "0.1",
		queryGoroutines: "42",
		queryMemory:     "52428800",
		queryUptime:     "8100",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		if strings.Contains(q, "vectorstore") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if v, ok := values[q]; ok {
			_ = json.NewEncoder(w).Encode(vectorResponse(v))
			return
		}
		_ = json.NewEncoder(w).Encode(vectorResponse())
	}))
	defer server.Close()

	s, err := NewMetricsClient(server.URL).Snapshot(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 12, s.QueryRate, 1e-9)
	assert.InDelta(t, 3.5, s.QueryLatencyP95, 1e-9)
	assert.InDelta(t, 0.25, s.NoContextRatio, 1e-9)
	assert.InDelta(t, 600, s.IngestRate, 1e-9)
	assert.InDelta(t, 0.1, s.DuplicateRatio, 1e-9)
	assert.Zero(t, s.StoreErrorRate, "failed secondary queries degrade to zero")
	assert.Equal(t, 42, s.Goroutines)
	assert.InDelta(t, 50, s.MemoryMB, 1e-9)
	assert.Equal(t, int64(8100), s.Uptime)
}

func TestMetricsClient_Snapshot_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewMetricsClient(server.URL).Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 503")
}
