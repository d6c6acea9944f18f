package probe

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

// LogProbe fetches raw log lines for a container/pod over a time window.
// Concrete sources (docker exec, kubectl logs, a file tail) are external
// collaborators; this package only defines the grammar for parsing
// whatever lines a LogProbe returns.
type LogProbe func(containerRef string) ([]string, error)

var (
	httpRequestPattern = regexp.MustCompile(`"(POST|GET) /v1/(?:chat/completions|completions|embeddings)[^"]*" (\d{3})`)
	engineStatsPattern = regexp.MustCompile(
		`Engine \d+: ` +
			`Avg prompt throughput: ([\d.]+) tokens/s, ` +
			`Avg generation throughput: ([\d.]+) tokens/s, ` +
			`Running: (\d+) reqs, ` +
			`Waiting: (\d+) reqs, ` +
			`GPU KV cache usage: ([\d.]+)%` +
			`(?:, Prefix cache hit rate: ([\d.]+)%)?`)
	errorLinePattern   = regexp.MustCompile(`\bERROR\b`)
	warningLinePattern = regexp.MustCompile(`\bWARNING\b`)
)

// ParseEngineLogLines parses a vLLM-style container log into aggregate
// metrics: HTTP status tallies, throughput/queue-depth/prefix-cache figures
// averaged over every engine-stats line (a line without a prefix-cache
// figure counts as 0), the peak KV-cache usage, and collected error/warning
// lines.
// Unrecognized lines are ignored rather than treated as errors.
func ParseEngineLogLines(lines []string) model.DockerLogMetrics {
	var m model.DockerLogMetrics

	var promptSum, genSum, runningSum, waitingSum, kvSum, prefixSum float64
	var statsLines int

	for _, line := range lines {
		if match := httpRequestPattern.FindStringSubmatch(line); match != nil {
			status, _ := strconv.Atoi(match[2])
			if status >= 200 && status < 300 {
				m.HTTP2xxCount++
			} else {
				m.HTTPErrorCount++
			}
		}

		if match := engineStatsPattern.FindStringSubmatch(line); match != nil {
			statsLines++
			promptSum += parseFloat(match[1])
			genSum += parseFloat(match[2])
			runningSum += parseFloat(match[3])
			waitingSum += parseFloat(match[4])
			kv := parseFloat(match[5])
			kvSum += kv
			if kv > m.PeakKVCacheUtilization {
				m.PeakKVCacheUtilization = kv
			}
			if len(match) > 6 && match[6] != "" {
				prefixSum += parseFloat(match[6])
			}
		}

		if errorLinePattern.MatchString(line) {
			m.ErrorLines = append(m.ErrorLines, strings.TrimSpace(line))
		}
		if warningLinePattern.MatchString(line) {
			m.WarningLines = append(m.WarningLines, strings.TrimSpace(line))
		}
	}

	if statsLines > 0 {
		m.AvgPromptThroughput = promptSum / float64(statsLines)
		m.AvgGenThroughput = genSum / float64(statsLines)
		m.AvgRunningRequests = runningSum / float64(statsLines)
		m.AvgWaitingRequests = waitingSum / float64(statsLines)
		m.PrefixCacheHitRate = prefixSum / float64(statsLines)
	}

	return m
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
