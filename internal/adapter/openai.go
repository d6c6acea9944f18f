package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nulpointcorp/llm-bench/internal/model"
	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

func init() {
	Register("openai", newOpenAI)
}

type openAIAdapter struct {
	client openaiSDK.Client
}

func newOpenAI(cfg Config) (ServerAdapter, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.ServerURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.ServerURL))
	}
	return &openAIAdapter{client: openaiSDK.NewClient(opts...)}, nil
}

func (a *openAIAdapter) Name() string { return "openai" }

func (a *openAIAdapter) Health(ctx context.Context) bool {
	_, err := a.client.Models.List(ctx)
	return err == nil
}

func (a *openAIAdapter) Warmup(ctx context.Context) error {
	_, err := a.Send(ctx, GenerateRequest{Model: "", Prompt: "ping", MaxOutputTokens: 4})
	return err
}

func (a *openAIAdapter) Send(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	params := openaiSDK.ChatCompletionNewParams{
		Messages: []openaiSDK.ChatCompletionMessageParamUnion{
			openaiSDK.UserMessage(req.Prompt),
		},
		Model: req.Model,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxOutputTokens))
	}

	if req.Stream {
		return a.sendStreaming(ctx, params)
	}
	return a.sendOnce(ctx, params)
}

func (a *openAIAdapter) sendOnce(ctx context.Context, params openaiSDK.ChatCompletionNewParams) (*GenerateResult, error) {
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	now := time.Now().UTC()
	return &GenerateResult{
		FirstTokenAt: now,
		TokenTimes:   []time.Time{now},
		CompletedAt:  now,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// sendStreaming times one chunk arrival per non-empty delta, the same
// event-based counting the original tool uses: output token count is the
// number of streamed events carrying content, not a server-reported
// total, since providers don't reliably return usage on every streamed
// chunk.
func (a *openAIAdapter) sendStreaming(ctx context.Context, params openaiSDK.ChatCompletionNewParams) (*GenerateResult, error) {
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var tokenTimes []time.Time
	var inputTokens int

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 {
			inputTokens = int(chunk.Usage.PromptTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if chunk.Choices[0].Delta.Content == "" {
			continue
		}
		tokenTimes = append(tokenTimes, time.Now().UTC())
	}

	if err := stream.Err(); err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(tokenTimes) == 0 {
		now := time.Now().UTC()
		return &GenerateResult{FirstTokenAt: now, CompletedAt: now, InputTokens: inputTokens}, nil
	}

	return &GenerateResult{
		FirstTokenAt: tokenTimes[0],
		TokenTimes:   tokenTimes,
		CompletedAt:  tokenTimes[len(tokenTimes)-1],
		InputTokens:  inputTokens,
		OutputTokens: len(tokenTimes),
	}, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		kind := model.ErrorKindHTTPStatus
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			kind = model.ErrorKindTimeout
		case apiErr.StatusCode >= 500:
			kind = model.ErrorKindConnection
		}
		return &Error{Kind: kind, StatusCode: apiErr.StatusCode, Err: fmt.Errorf("%s", apiErr.Error())}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: model.ErrorKindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: model.ErrorKindCancelled, Err: err}
	}
	return &Error{Kind: model.ErrorKindConnection, Err: err}
}
