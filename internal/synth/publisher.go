package synth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/taskrepo"
)

// CallMode distinguishes an artifact produced directly by an MCP call
// (Direct) from one produced by the LLM acting agentically (Agentic). This
// is independent of taskrepo.CallSource, which instead records which
// protocol (a2a vs mcp) originated the artifact.
type CallMode string

const (
	CallModeDirect  CallMode = "direct"
	CallModeAgentic CallMode = "agentic"
)

// SkillResolver looks up a skill's display name by id, for enrichment of
// artifact metadata that only carries the id.
type SkillResolver interface {
	SkillName(skillID ids.SkillID) (string, bool)
}

// ExecutionChecker reports whether an mcp_tool_executions row exists, so the
// publisher can clear a dangling reference before the insert instead of
// letting the write fail on a foreign key violation.
type ExecutionChecker interface {
	ToolExecutionExists(ctx context.Context, executionID ids.ToolCallID) (bool, error)
}

// Publisher validates, enriches, and persists artifacts, and synthesizes the
// history messages a direct (non-agentic) MCP call needs to stay visible.
type Publisher struct {
	repo   taskrepo.TaskRepository
	skills SkillResolver
	execs  ExecutionChecker
}

// NewPublisher constructs a Publisher. skills and execs may be nil; when
// nil, skill-name enrichment and execution-reference validation are skipped
// (the repository layer still clears dangling mcp_execution_id references on
// its own for the Postgres backend).
func NewPublisher(repo taskrepo.TaskRepository, skills SkillResolver, execs ExecutionChecker) *Publisher {
	return &Publisher{repo: repo, skills: skills, execs: execs}
}

// PublishFromA2A persists an artifact produced by the planner/synthesizer
// itself, with no MCP call backing it.
func (p *Publisher) PublishFromA2A(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input taskrepo.NewArtifactInput) (*taskrepo.Artifact, error) {
	input.Metadata.Source = taskrepo.CallSourceA2A
	return p.publish(ctx, taskID, contextID, input)
}

// PublishFromMCP persists an artifact produced by an MCP tool call, then, for
// a direct (non-agentic) call, synthesizes the pair of messages that keep
// the call visible in the task's history even though no LLM turn narrates
// it.
func (p *Publisher) PublishFromMCP(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input taskrepo.NewArtifactInput, toolName string, toolArgs string, mode CallMode) (*taskrepo.Artifact, error) {
	input.Metadata.Source = taskrepo.CallSourceMCP
	toolNameCopy := toolName
	input.Metadata.ToolName = &toolNameCopy

	artifact, err := p.publish(ctx, taskID, contextID, input)
	if err != nil {
		return nil, err
	}

	if mode == CallModeDirect {
		if err := p.synthesizeDirectCallMessages(ctx, taskID, contextID, artifact, toolName, toolArgs); err != nil {
			return artifact, fmt.Errorf("synth: synthesizing direct-call messages: %w", err)
		}
	}
	return artifact, nil
}

func (p *Publisher) publish(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, input taskrepo.NewArtifactInput) (*taskrepo.Artifact, error) {
	if p.skills != nil && input.Metadata.SkillID != nil {
		if name, ok := p.skills.SkillName(*input.Metadata.SkillID); ok {
			input.Metadata.ToolName = stringPtrIfNil(input.Metadata.ToolName, name)
		}
	}

	if p.execs != nil && input.Metadata.MCPExecutionID != nil {
		exists, err := p.execs.ToolExecutionExists(ctx, *input.Metadata.MCPExecutionID)
		if err != nil {
			return nil, fmt.Errorf("synth: checking tool execution reference: %w", err)
		}
		if !exists {
			input.Metadata.MCPExecutionID = nil
		}
	}

	return p.repo.PublishArtifact(ctx, taskID, contextID, input)
}

// synthesizeDirectCallMessages adds the user-message/agent-message pair that
// make a direct MCP call legible in history without any LLM turn describing
// it.
func (p *Publisher) synthesizeDirectCallMessages(ctx context.Context, taskID ids.TaskID, contextID ids.ContextID, artifact *taskrepo.Artifact, toolName, toolArgs string) error {
	_, err := p.repo.AppendMessage(ctx, taskID, contextID, taskrepo.NewMessageInput{
		Role: taskrepo.RoleUser,
		Parts: []taskrepo.Part{
			{Kind: taskrepo.PartText, Text: fmt.Sprintf("Invoked tool %q with arguments %s", toolName, toolArgs)},
		},
	})
	if err != nil {
		return err
	}

	artifactIDJSON, err := json.Marshal(string(artifact.ArtifactID))
	if err != nil {
		return fmt.Errorf("synth: encoding artifact id: %w", err)
	}

	_, err = p.repo.AppendMessage(ctx, taskID, contextID, taskrepo.NewMessageInput{
		Role: taskrepo.RoleAgent,
		Parts: []taskrepo.Part{
			{Kind: taskrepo.PartData, Data: map[string]json.RawMessage{"artifact_id": artifactIDJSON}},
		},
	})
	return err
}

func stringPtrIfNil(existing *string, fallback string) *string {
	if existing != nil && *existing != "" {
		return existing
	}
	return &fallback
}
