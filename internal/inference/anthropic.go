package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// AnthropicClient is a cloud-backed fallback generation provider. It adapts
// the request/response shapes used on the edge channel to the Messages API,
// so the orchestrator can switch providers without caring which one is live.
type AnthropicClient struct {
	inner anthropic.Client
	model anthropic.Model
	log   zerolog.Logger

	mu        sync.Mutex
	cancelled map[string]context.CancelFunc
}

// NewAnthropicClient creates the fallback provider. An empty model selects
// a current Sonnet release.
func NewAnthropicClient(apiKey string, model string, log zerolog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("inference: fallback provider requires an API key")
	}

	m := anthropic.Model(model)
	if m == "" {
		m = anthropic.ModelClaudeSonnet4_20250514
	}

	return &AnthropicClient{
		inner:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     m,
		log:       log,
		cancelled: make(map[string]context.CancelFunc),
	}, nil
}

// Send issues a single Messages API call and maps the result back onto the
// response shape the capability layer expects.
func (c *AnthropicClient) Send(ctx context.Context, req *models.InferenceRequest, timeout time.Duration) (*models.InferenceResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.mu.Lock()
	c.cancelled[req.RequestID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancelled, req.RequestID)
		c.mu.Unlock()
	}()

	maxTokens := int64(req.Params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildCloudPrompt(req))),
		},
	}
	if req.Params.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Params.Temperature)
	}
	if req.Params.TopP > 0 {
		params.TopP = anthropic.Float(req.Params.TopP)
	}

	start := time.Now()
	resp, err := c.inner.Messages.New(callCtx, params)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("inference: cloud call for %s: %w", req.RequestID, autoerr.ErrTimeout)
		}
		if callCtx.Err() == context.Canceled {
			return nil, fmt.Errorf("inference: request %s: %w", req.RequestID, autoerr.ErrCancelled)
		}
		return nil, fmt.Errorf("inference: cloud call failed: %w (%v)", autoerr.ErrTransport, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	c.log.Debug().
		Str("request_id", req.RequestID).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Msg("cloud generation completed")

	return &models.InferenceResponse{
		RequestID:     req.RequestID,
		Status:        "success",
		GeneratedCode: text.String(),
		Metadata:      cloudMetadata(time.Since(start), resp.Usage.OutputTokens),
	}, nil
}

// cloudMetadata maps the SDK's int64 measurements onto the wire metadata
// shape. The cloud API reports no confidence, so it is pinned to 1.
func cloudMetadata(elapsed time.Duration, outputTokens int64) models.ResponseMetadata {
	return models.ResponseMetadata{
		InferenceTimeMS: int(elapsed.Milliseconds()),
		TokenCount:      int(outputTokens),
		ConfidenceScore: 1,
	}
}

// Cancel aborts the in-flight API call for the request, if any.
func (c *AnthropicClient) Cancel(requestID string) {
	c.mu.Lock()
	cancel, ok := c.cancelled[requestID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Available always reports true: the cloud endpoint has no observable
// channel state, each call stands on its own.
func (c *AnthropicClient) Available() bool { return true }

func (c *AnthropicClient) Close() error { return nil }

// buildCloudPrompt flattens the structured request into a single prompt,
// since the Messages API has no slot for pre-ranked context chunks.
func buildCloudPrompt(req *models.InferenceRequest) string {
	if len(req.Chunks) == 0 {
		return req.Prompt
	}

	var b strings.Builder
	b.WriteString("Relevant project context:\n\n")
	for _, chunk := range req.Chunks {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", chunk.Source, chunk.Content)
	}
	b.WriteString(req.Prompt)
	return b.String()
}
