package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/orchestra-run/controlplane/internal/llmprovider"
)

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// GeminiProvider implements llmprovider.ChatProvider against Google's Gemini API.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiProvider constructs a GeminiProvider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &GeminiProvider{client: client, defaultModel: cfg.DefaultModel}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) SupportsTools() bool { return true }

func (p *GeminiProvider) Models() []llmprovider.Model {
	return []llmprovider.Model{
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextSize: 1048576, SupportsVision: true},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextSize: 1048576, SupportsVision: true},
	}
}

func (p *GeminiProvider) Complete(ctx context.Context, req llmprovider.CompletionRequest) (*llmprovider.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents := convertGeminiMessages(req.Messages)
	config := buildGeminiConfig(req)

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: completion request failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: completion returned no candidates")
	}

	result := &llmprovider.CompletionResult{}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				result.Text += part.Text
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				result.ToolCalls = append(result.ToolCalls, llmprovider.ToolCall{
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
			}
		}
	}
	result.StopReason = string(candidate.FinishReason)
	return result, nil
}

func convertGeminiMessages(msgs []llmprovider.CompletionMessage) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		content := &genai.Content{}
		switch m.Role {
		case llmprovider.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if m.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			if len(tc.Arguments) > 0 {
				_ = json.Unmarshal(tc.Arguments, &args)
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}})
		}
		for _, tr := range m.ToolResults {
			var response map[string]any
			if err := json.Unmarshal(tr.Content, &response); err != nil {
				response = map[string]any{"result": string(tr.Content), "error": tr.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: tr.ToolCallID, Response: response}})
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func buildGeminiConfig(req llmprovider.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req.Tools)
	}
	return config
}

func convertGeminiTools(tools []llmprovider.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertGeminiSchema(schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertGeminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	var out genai.Schema
	if err := json.Unmarshal(raw, &out); err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	return &out
}
