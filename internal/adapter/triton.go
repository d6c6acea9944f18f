package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

func init() {
	Register("triton", newTriton)
}

// tritonAdapter talks to Triton Inference Server's TensorRT-LLM generate
// endpoints. Triton has no official Go SDK in the examples this was built
// from, so this is a plain net/http client, grounded directly on the
// original tool's httpx-based adapter.
type tritonAdapter struct {
	baseURL   string
	modelName string
	apiKey    string
	client    *http.Client
}

func newTriton(cfg Config) (ServerAdapter, error) {
	return &tritonAdapter{
		baseURL:   strings.TrimRight(cfg.ServerURL, "/"),
		modelName: "", // set per-request from GenerateRequest.Model
		apiKey:    cfg.APIKey,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

func (a *tritonAdapter) Name() string { return "triton" }

// Health runs the server-ready probe and, once a model name is known, the
// model-ready probe, and reports true only if every probe it ran
// succeeded. The model name is taken from the most recent Send; before any
// Send only the server-ready probe runs.
func (a *tritonAdapter) Health(ctx context.Context) bool {
	serverReady := a.probeReady(ctx, "/v2/health/ready")
	modelReady := true
	if a.modelName != "" {
		modelReady = a.probeReady(ctx, fmt.Sprintf("/v2/models/%s/ready", a.modelName))
	}
	return serverReady && modelReady
}

func (a *tritonAdapter) probeReady(ctx context.Context, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return false
	}
	a.setHeaders(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *tritonAdapter) Warmup(ctx context.Context) error {
	_, err := a.Send(ctx, GenerateRequest{Model: a.modelName, Prompt: "ping", MaxOutputTokens: 4})
	return err
}

func (a *tritonAdapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

type tritonPayload struct {
	TextInput   string  `json:"text_input"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type tritonResponse struct {
	TextOutput string `json:"text_output"`
}

func (a *tritonAdapter) Send(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	a.modelName = req.Model
	if req.Stream {
		return a.sendStreaming(ctx, req)
	}
	return a.sendOnce(ctx, req)
}

func (a *tritonAdapter) sendOnce(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	payload := tritonPayload{TextInput: req.Prompt, MaxTokens: req.MaxOutputTokens, Temperature: 0.7, TopP: 0.9}
	body, _ := json.Marshal(payload)

	endpoint := fmt.Sprintf("%s/v2/models/%s/generate", a.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: model.ErrorKindConnection, Err: err}
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, wrapTritonError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: model.ErrorKindHTTPStatus, StatusCode: resp.StatusCode, Err: fmt.Errorf("triton: http %d", resp.StatusCode)}
	}

	var out tritonResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Kind: model.ErrorKindMalformed, Err: err}
	}

	now := time.Now().UTC()
	outputTokens := len(strings.Fields(out.TextOutput))
	return &GenerateResult{
		FirstTokenAt: now,
		TokenTimes:   repeatTime(now, outputTokens),
		CompletedAt:  now,
		InputTokens:  len(strings.Fields(req.Prompt)),
		OutputTokens: outputTokens,
	}, nil
}

func (a *tritonAdapter) sendStreaming(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	payload := tritonPayload{TextInput: req.Prompt, MaxTokens: req.MaxOutputTokens, Stream: true, Temperature: 0.7, TopP: 0.9}
	body, _ := json.Marshal(payload)

	endpoint := fmt.Sprintf("%s/v2/models/%s/generate_stream", a.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: model.ErrorKindConnection, Err: err}
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, wrapTritonError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: model.ErrorKindHTTPStatus, StatusCode: resp.StatusCode, Err: fmt.Errorf("triton: http %d", resp.StatusCode)}
	}

	var tokenTimes []time.Time
	var outputText string
	outputTokens := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var chunk tritonResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.TextOutput == "" {
			continue
		}
		newText := chunk.TextOutput[len(outputText):]
		outputTokens += len(strings.Fields(newText))
		outputText = chunk.TextOutput
		tokenTimes = append(tokenTimes, time.Now().UTC())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Kind: model.ErrorKindMalformed, Err: err}
	}

	if len(tokenTimes) == 0 {
		now := time.Now().UTC()
		return &GenerateResult{FirstTokenAt: now, CompletedAt: now, InputTokens: len(strings.Fields(req.Prompt))}, nil
	}

	return &GenerateResult{
		FirstTokenAt: tokenTimes[0],
		TokenTimes:   tokenTimes,
		CompletedAt:  tokenTimes[len(tokenTimes)-1],
		InputTokens:  len(strings.Fields(req.Prompt)),
		OutputTokens: outputTokens,
	}, nil
}

func repeatTime(t time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t
	}
	return out
}

func wrapTritonError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: model.ErrorKindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: model.ErrorKindCancelled, Err: err}
	}
	return &Error{Kind: model.ErrorKindConnection, Err: err}
}
