package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PromQL expressions over the metrics corpora exports.
const (
	queryIngestRate = `sum(rate(corpora_ingest_documents_total{outcome="inserted"}[1m])) * 60`
	queryDuplicates = `sum(rate(corpora_ingest_documents_total{outcome="duplicate"}[5m])) / sum(rate(corpora_ingest_documents_total[5m]))`
	queryIngestSkip = `sum(rate(corpora_ingest_documents_total{outcome="skipped"}[5m])) * 60`
	queryBatchP95   = `histogram_quantile(0.95, sum by (le) (rate(corpora_ingest_batch_duration_seconds_bucket[5m])))`

	queryQueryRate  = `sum(rate(corpora_query_requests_total[1m])) * 60`
	queryQueryP95   = `histogram_quantile(0.95, sum by (le) (rate(corpora_query_duration_seconds_bucket[5m])))`
	queryNoContext  = `sum(rate(corpora_query_requests_total{outcome="no_context"}[5m])) / sum(rate(corpora_query_requests_total[5m]))`
	queryCollSkips  = `sum(rate(corpora_query_collection_skips_total[5m])) * 60`
	queryStoreError = `sum(rate(corpora_vectorstore_operations_total{result="error"}[5m])) * 60`

	queryGoroutines = `max(go_goroutines)`
	queryMemory     = `max(process_resident_memory_bytes)`
	queryUptime     = `max(time() - process_start_time_seconds)`
)

// MetricsClient queries a Prometheus-compatible HTTP API.
type MetricsClient struct {
	baseURL string
	client  *http.Client
}

// QueryResult represents the /api/v1/query response
type QueryResult struct {
	Status string    `json:"status"`
	Data   QueryData `json:"data"`
}

// QueryData holds the query result data
type QueryData struct {
	ResultType string         `json:"resultType"`
	Result     []MetricResult `json:"result"`
}

// MetricResult represents a single metric result
type MetricResult struct {
	Metric map[string]string `json:"metric"`
	Value  [2]interface{}    `json:"value"`
}

// NewMetricsClient creates a new metrics client
func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Query executes an instant PromQL query.
func (c *MetricsClient) Query(ctx context.Context, query string) (QueryResult, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/query")
	if err != nil {
		return QueryResult{}, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return QueryResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return QueryResult{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return result, nil
}

// Value runs query and returns its first sample, or 0 when the result is
// empty or not a number.
func (c *MetricsClient) Value(ctx context.Context, query string) (float64, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// Snapshot collects every dashboard figure. Only the first query's error is
// returned; the rest degrade to zero so a partially scraped server still
// renders.
func (c *MetricsClient) Snapshot(ctx context.Context) (MetricsSnapshot, error) {
	var s MetricsSnapshot

	rate, err := c.Value(ctx, queryQueryRate)
	if err != nil {
		return s, err
	}
	s.QueryRate = rate

	s.QueryLatencyP95 = c.valueOrZero(ctx, queryQueryP95)
	s.NoContextRatio = c.valueOrZero(ctx, queryNoContext)
	s.CollectionSkipRate = c.valueOrZero(ctx, queryCollSkips)

	s.IngestRate = c.valueOrZero(ctx, queryIngestRate)
	s.DuplicateRatio = c.valueOrZero(ctx, queryDuplicates)
	s.IngestSkipRate = c.valueOrZero(ctx, queryIngestSkip)
	s.BatchDurationP95 = c.valueOrZero(ctx, queryBatchP95)

	s.StoreErrorRate = c.valueOrZero(ctx, queryStoreError)

	s.Goroutines = int(c.valueOrZero(ctx, queryGoroutines))
	s.MemoryMB = c.valueOrZero(ctx, queryMemory) / (1024 * 1024)
	s.Uptime = int64(c.valueOrZero(ctx, queryUptime))
	return s, nil
}

func (c *MetricsClient) valueOrZero(ctx context.Context, query string) float64 {
	v, err := c.Value(ctx, query)
	if err != nil {
		return 0
	}
	return v
}

// extractFloatValue extracts a float value from query result
func extractFloatValue(result QueryResult) (float64, error) {
	if len(result.Data.Result) == 0 {
		return 0, nil
	}

	valueStr, ok := result.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, fmt.Errorf("value is not a string")
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse value: %w", err)
	}
	// Ratios over idle counters come back as NaN.
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, nil
	}

	return value, nil
}
