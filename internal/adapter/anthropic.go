package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/nulpointcorp/llm-bench/internal/model"
)

const defaultAnthropicMaxTokens = 4096

func init() {
	Register("anthropic", newAnthropic)
}

type anthropicAdapter struct {
	client anthropic.Client
}

func newAnthropic(cfg Config) (ServerAdapter, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.ServerURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.ServerURL))
	}
	return &anthropicAdapter{client: anthropic.NewClient(opts...)}, nil
}

func (a *anthropicAdapter) Name() string { return "anthropic" }

func (a *anthropicAdapter) Health(ctx context.Context) bool {
	_, err := a.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)})
	return err == nil
}

func (a *anthropicAdapter) Warmup(ctx context.Context) error {
	_, err := a.Send(ctx, GenerateRequest{Model: "", Prompt: "ping", MaxOutputTokens: 4})
	return err
}

func (a *anthropicAdapter) buildParams(req GenerateRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					{OfText: &anthropic.TextBlockParam{Text: req.Prompt}},
				},
			},
		},
	}
}

func (a *anthropicAdapter) Send(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	params := a.buildParams(req)
	if req.Stream {
		return a.sendStreaming(ctx, params)
	}
	return a.sendOnce(ctx, params)
}

func (a *anthropicAdapter) sendOnce(ctx context.Context, params anthropic.MessageNewParams) (*GenerateResult, error) {
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicError(err)
	}
	now := time.Now().UTC()
	return &GenerateResult{
		FirstTokenAt: now,
		TokenTimes:   []time.Time{now},
		CompletedAt:  now,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func (a *anthropicAdapter) sendStreaming(ctx context.Context, params anthropic.MessageNewParams) (*GenerateResult, error) {
	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var tokenTimes []time.Time
	var inputTokens, outputTokens int

	for stream.Next() {
		ev := stream.Current()
		switch v := ev.AsAny().(type) {
		case anthropic.MessageStartEvent:
			inputTokens = int(v.Message.Usage.InputTokens)
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := v.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				tokenTimes = append(tokenTimes, time.Now().UTC())
			}
		case anthropic.MessageDeltaEvent:
			outputTokens = int(v.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, wrapAnthropicError(err)
	}
	if len(tokenTimes) == 0 {
		now := time.Now().UTC()
		return &GenerateResult{FirstTokenAt: now, CompletedAt: now, InputTokens: inputTokens}, nil
	}
	if outputTokens == 0 {
		outputTokens = len(tokenTimes)
	}

	return &GenerateResult{
		FirstTokenAt: tokenTimes[0],
		TokenTimes:   tokenTimes,
		CompletedAt:  tokenTimes[len(tokenTimes)-1],
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
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
