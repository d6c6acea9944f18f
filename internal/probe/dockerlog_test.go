package probe

import "testing"

func TestParseEngineLogLines_HTTPStatusTally(t *testing.T) {
	lines := []string{
		`INFO:     127.0.0.1:5000 - "POST /v1/chat/completions HTTP/1.1" 200 OK`,
		`INFO:     127.0.0.1:5000 - "POST /v1/completions HTTP/1.1" 500 Internal Server Error`,
		`INFO:     127.0.0.1:5000 - "GET /v1/embeddings HTTP/1.1" 200 OK`,
	}

	got := ParseEngineLogLines(lines)

	if got.HTTP2xxCount != 2 {
		t.Errorf("HTTP2xxCount = %d, want 2", got.HTTP2xxCount)
	}
	if got.HTTPErrorCount != 1 {
		t.Errorf("HTTPErrorCount = %d, want 1", got.HTTPErrorCount)
	}
}

func TestParseEngineLogLines_EngineStats(t *testing.T) {
	lines := []string{
		"Engine 0: Avg prompt throughput: 120.5 tokens/s, Avg generation throughput: 45.2 tokens/s, Running: 3 reqs, Waiting: 1 reqs, GPU KV cache usage: 55.0%, Prefix cache hit rate: 30.0%",
		"Engine 0: Avg prompt throughput: 100.0 tokens/s, Avg generation throughput: 40.0 tokens/s, Running: 2 reqs, Waiting: 0 reqs, GPU KV cache usage: 75.0%",
	}

	got := ParseEngineLogLines(lines)

	if got.AvgPromptThroughput != 110.25 {
		t.Errorf("avg prompt throughput = %v, want 110.25", got.AvgPromptThroughput)
	}
	if got.PeakKVCacheUtilization != 75.0 {
		t.Errorf("peak KV cache utilization should track the max across lines, got %v", got.PeakKVCacheUtilization)
	}
	if got.PrefixCacheHitRate != 15.0 {
		t.Errorf("prefix cache hit rate average (missing value counts as 0) = %v, want 15.0", got.PrefixCacheHitRate)
	}
}

func TestParseEngineLogLines_CollectsErrorAndWarningLines(t *testing.T) {
	lines := []string{
		"ERROR: CUDA out of memory",
		"WARNING: queue depth high",
		"INFO: nothing interesting",
	}

	got := ParseEngineLogLines(lines)

	if len(got.ErrorLines) != 1 || len(got.WarningLines) != 1 {
		t.Fatalf("expected 1 error line and 1 warning line, got %d/%d", len(got.ErrorLines), len(got.WarningLines))
	}
}

func TestParseEngineLogLines_NoStatsLinesLeavesAveragesZero(t *testing.T) {
	got := ParseEngineLogLines([]string{"nothing matches here"})
	if got.AvgPromptThroughput != 0 || got.PeakKVCacheUtilization != 0 {
		t.Fatalf("expected zero-value averages with no engine-stats lines, got %+v", got)
	}
}
