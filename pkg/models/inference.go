package models

// RequestKind identifies the type of work an inference request asks for.
type RequestKind string

const (
	// RequestCodeGeneration asks the model to generate code.
	RequestCodeGeneration RequestKind = "code_generation"
	// RequestCompletion asks the model for a free-form completion.
	RequestCompletion RequestKind = "completion"
	// RequestRefactoring asks the model to rework existing code.
	RequestRefactoring RequestKind = "refactoring"
)

// Valid returns true if the kind is a known value.
func (k RequestKind) Valid() bool {
	switch k {
	case RequestCodeGeneration, RequestCompletion, RequestRefactoring:
		return true
	default:
		return false
	}
}

// GenerationParams are the sampling parameters sent with a request.
type GenerationParams struct {
	// Temperature controls sampling randomness.
	Temperature float64 `json:"temperature"`
	// MaxTokens bounds the generated output length.
	MaxTokens int `json:"max_tokens"`
	// TopP is the nucleus sampling parameter.
	TopP float64 `json:"top_p"`
}

// ContextChunk is a retrievable unit of source content. Chunks are immutable
// once produced by the retrieval engine; ownership is scoped to a single
// context-selection call.
type ContextChunk struct {
	// ID is the unique identifier for this chunk.
	ID string `json:"id"`
	// Source is the file the chunk was cut from.
	Source string `json:"source,omitempty"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Score is the relevance score relative to the current task.
	Score float64 `json:"-"`
	// TokenCount is the estimated token count of Content.
	TokenCount int `json:"-"`
}

// InferenceRequest is a single request to the remote inference service.
// Requests are created by the capability dispatcher and owned until a
// matching response arrives or a timeout fires.
type InferenceRequest struct {
	// RequestID is the correlation identifier linking this request to its
	// eventual response.
	RequestID string `json:"request_id"`
	// Kind is the request type on the wire.
	Kind RequestKind `json:"request_type"`
	// Prompt is the full prompt text.
	Prompt string `json:"prompt"`
	// Params are the generation parameters.
	Params GenerationParams `json:"parameters"`
	// Chunks is the bounded context payload attached to the request.
	Chunks []ContextChunk `json:"context_chunks,omitempty"`
}

// ResponseMetadata carries measurement data returned with a response.
type ResponseMetadata struct {
	// InferenceTimeMS is the model-side latency in milliseconds.
	InferenceTimeMS int `json:"inference_time_ms"`
	// TokenCount is the number of tokens generated.
	TokenCount int `json:"token_count"`
	// ConfidenceScore is the service's confidence in the output.
	ConfidenceScore float64 `json:"confidence_score"`
}

// InferenceResponse is the service's answer to an InferenceRequest,
// correlated strictly by RequestID.
type InferenceResponse struct {
	// RequestID matches the originating request's id.
	RequestID string `json:"request_id"`
	// Status is "success" or "error".
	Status string `json:"status"`
	// GeneratedCode is the generated text.
	GeneratedCode string `json:"generated_code"`
	// Error is the error detail when Status is "error".
	Error string `json:"error,omitempty"`
	// Metadata carries latency, token count, and confidence.
	Metadata ResponseMetadata `json:"metadata"`
}

// OK returns true when the response reports success.
func (r *InferenceResponse) OK() bool {
	return r.Status == "success"
}
