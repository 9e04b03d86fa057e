package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

const extractToolName = "record_extractions"

// OpenAIProvider implements Provider over an OpenAI-compatible chat API. The
// three extraction methods map to JSON mode, strict response schemas and
// forced tool calls respectively.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	enc    *tiktoken.Tiktoken
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider. baseURL may be empty for the default
// endpoint; any OpenAI-compatible server works.
func NewOpenAIProvider(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	// Token estimation falls back to a character heuristic when the encoding
	// is unavailable (e.g. offline first run).
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, falling back to length heuristic", "error", err)
		enc = nil
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		enc:    enc,
		logger: logger,
	}
}

// EstimateTokens approximates the prompt token cost of a chunk, used as the
// rate-limiter acquisition count before the call is made.
func (p *OpenAIProvider) EstimateTokens(text string) int {
	if p.enc != nil {
		return len(p.enc.Encode(text, nil, nil))
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Extract runs one extraction call using the requested method and normalizes
// the output. Parse failures get one repair attempt before the error is
// terminal (ErrMalformedResponse).
func (p *OpenAIProvider) Extract(ctx context.Context, req Request) (*Result, error) {
	if !req.Method.Valid() {
		return nil, fmt.Errorf("unknown extraction method %q", req.Method)
	}

	chatReq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
	}

	switch req.Method {
	case MethodJSONFreeform:
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	case MethodResponseSchema:
		schema := resultSchema()
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "extraction_result",
				Schema: &schema,
				Strict: true,
			},
		}
	case MethodFunctionCalling:
		schema := resultSchema()
		chatReq.Tools = []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        extractToolName,
				Description: "Record the entities and relationships extracted from the chunk",
				Parameters:  &schema,
			},
		}}
		chatReq.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: extractToolName},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}

	raw, err := rawPayload(resp.Choices[0].Message, req.Method)
	if err != nil {
		return nil, err
	}

	result, err := parseResult(raw)
	if err != nil {
		p.logger.Error("failed to parse extraction response",
			"method", string(req.Method),
			"job_id", req.JobID,
			"chunk", req.ChunkIndex,
			"error", err,
		)
		return nil, err
	}

	result.Usage = TokenUsage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}
	for i := range result.Entities {
		result.Entities[i].ChunkIndex = req.ChunkIndex
		result.Entities[i].JobID = req.JobID
	}
	for i := range result.Relationships {
		result.Relationships[i].ChunkIndex = req.ChunkIndex
		result.Relationships[i].JobID = req.JobID
	}

	return result, nil
}

// rawPayload picks the JSON payload out of the message for the given method.
func rawPayload(msg openai.ChatCompletionMessage, method Method) (string, error) {
	if method == MethodFunctionCalling {
		for _, call := range msg.ToolCalls {
			if call.Function.Name == extractToolName {
				return call.Function.Arguments, nil
			}
		}
		return "", fmt.Errorf("%w: no %s tool call in response", ErrMalformedResponse, extractToolName)
	}
	if msg.Content == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	return msg.Content, nil
}

type wireResult struct {
	Entities      []CandidateEntity       `json:"entities"`
	Relationships []CandidateRelationship `json:"relationships"`
}

// parseResult unmarshals the wire shape, applying one repair pass if the raw
// payload does not parse as-is.
func parseResult(raw string) (*Result, error) {
	var wire wireResult
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		repaired := repairJSON(raw)
		if err2 := json.Unmarshal([]byte(repaired), &wire); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}

	result := &Result{}
	for _, e := range wire.Entities {
		if e.Type == "" || e.NaturalKey == "" {
			continue // unusable without identity
		}
		if e.Properties == nil {
			e.Properties = map[string]any{}
		}
		result.Entities = append(result.Entities, e)
	}
	for _, r := range wire.Relationships {
		if r.Type == "" || r.SourceKey == "" || r.TargetKey == "" {
			continue
		}
		result.Relationships = append(result.Relationships, r)
	}
	return result, nil
}
