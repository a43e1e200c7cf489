// Package pipeline implements the agent execution pipeline: it turns an
// inbound user message into a task, runs planner → tool-loop → synthesizer
// against an LLM provider, records every step, and publishes progress to the
// context event bus as it goes. Step ordering is fixed: plan, then tool
// calls in order, then synthesis, then persist, then publish — publishing an
// ArtifactCreated event before the write that produced it completes is not
// permitted.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/eventbus"
	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/llmprovider"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
	"github.com/orchestra-run/controlplane/internal/synth"
	"github.com/orchestra-run/controlplane/internal/taskrepo"
	"github.com/orchestra-run/controlplane/internal/toolexec"
)

// ToolSet is the set of tools a planning call may use, paired with the
// executor that actually runs them.
type ToolSet struct {
	Tools    []llmprovider.Tool
	Executor *toolexec.Executor
}

// Request is everything needed to run one task through the pipeline.
type Request struct {
	AgentName ids.AgentName
	ContextID ids.ContextID
	Model     string
	System    string
	History   []llmprovider.CompletionMessage
	UserText  string
	Tools     ToolSet
}

// Pipeline runs the planner → tool-loop → synthesizer sequence for one task
// at a time. The same (agent_name, task_id) is never run concurrently by two
// pipeline invocations; the task row itself is the lock, enforced by the
// caller creating the task before dispatching to Run.
type Pipeline struct {
	provider llmprovider.ChatProvider
	repo     taskrepo.TaskRepository
	bus      eventbus.EventBus
	logger   *logger.Logger
}

// New constructs a Pipeline.
func New(provider llmprovider.ChatProvider, repo taskrepo.TaskRepository, bus eventbus.EventBus, log *logger.Logger) *Pipeline {
	return &Pipeline{provider: provider, repo: repo, bus: bus, logger: log}
}

// Run executes the full pipeline for a newly created task. A provider error
// during planning, or a failure to persist the final agent message, marks
// the task Failed and returns the error. A failure to mark the task
// Completed is returned without marking it Failed, and failures to record
// steps or token usage are only logged. Tool failures do not abort the run,
// matching the tool executor's own continue-on-tool-error semantics.
func (p *Pipeline) Run(ctx context.Context, taskID ids.TaskID, req Request) error {
	messages := append([]llmprovider.CompletionMessage{}, req.History...)
	messages = append(messages, llmprovider.CompletionMessage{Role: llmprovider.RoleUser, Content: req.UserText})

	planStep := p.startStep(ctx, taskID, "plan")
	planResult, err := p.provider.Complete(ctx, llmprovider.CompletionRequest{
		Model:    req.Model,
		System:   req.System,
		Messages: messages,
		Tools:    req.Tools.Tools,
	})
	if err != nil {
		p.failStep(ctx, planStep, err)
		return p.fail(ctx, taskID, fmt.Sprintf("planning call failed: %s", err))
	}
	p.completeStep(ctx, planStep, planResult)
	p.recordUsage(ctx, taskID, req, planResult)

	calls := convertPlannedCalls(planResult.ToolCalls)

	var results []toolexec.ToolResult
	if len(calls) > 0 {
		toolStep := p.startStep(ctx, taskID, "tool_call")
		results = req.Tools.Executor.ExecuteSequential(ctx, calls)
		p.completeStep(ctx, toolStep, results)
		p.publishToolEvents(ctx, req.ContextID, taskID, calls, results)
	}

	strategy := synth.DecideStrategy(planResult.Text, calls, results, false)
	synthesizer := synth.NewSynthesizer(p.provider, req.Model)

	synthStep := p.startStep(ctx, taskID, "synthesis")
	finalText := synthesizer.Synthesize(ctx, strategy, messages)
	p.completeStep(ctx, synthStep, finalText)

	if _, err := p.repo.AppendMessage(ctx, taskID, req.ContextID, taskrepo.NewMessageInput{
		Role:  taskrepo.RoleAgent,
		Parts: []taskrepo.Part{{Kind: taskrepo.PartText, Text: finalText}},
	}); err != nil {
		return p.fail(ctx, taskID, fmt.Sprintf("persisting final message failed: %s", err))
	}

	now := time.Now().UTC()
	if err := p.repo.CompleteTask(ctx, taskID, now); err != nil {
		return fmt.Errorf("pipeline: completing task: %w", err)
	}
	p.publish(ctx, req.ContextID, eventbus.TaskCompleted, map[string]interface{}{
		"task_id": string(taskID), "context_id": string(req.ContextID),
	})
	return nil
}

func (p *Pipeline) fail(ctx context.Context, taskID ids.TaskID, reason string) error {
	if err := p.repo.FailTask(ctx, taskID, reason); err != nil {
		p.logger.Error("pipeline: failing task also failed to persist", zap.String("task_id", string(taskID)), zap.Error(err))
	}
	return fmt.Errorf("pipeline: %s", reason)
}

func (p *Pipeline) startStep(ctx context.Context, taskID ids.TaskID, kind string) *taskrepo.ExecutionStep {
	step := &taskrepo.ExecutionStep{
		StepID:    ids.StepID(uuid.NewString()),
		TaskID:    taskID,
		Kind:      kind,
		Status:    taskrepo.StepRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := p.repo.AppendStep(ctx, taskID, *step); err != nil {
		p.logger.Warn("pipeline: recording step start failed", zap.String("task_id", string(taskID)), zap.Error(err))
	}
	return step
}

func (p *Pipeline) completeStep(ctx context.Context, step *taskrepo.ExecutionStep, content any) {
	now := time.Now().UTC()
	duration := now.Sub(step.StartedAt).Milliseconds()
	if err := p.repo.UpdateStepStatus(ctx, step.StepID, taskrepo.StepCompleted, &now, &duration, nil); err != nil {
		p.logger.Warn("pipeline: recording step completion failed", zap.String("step_id", string(step.StepID)), zap.Error(err))
	}
}

func (p *Pipeline) failStep(ctx context.Context, step *taskrepo.ExecutionStep, stepErr error) {
	now := time.Now().UTC()
	duration := now.Sub(step.StartedAt).Milliseconds()
	msg := stepErr.Error()
	if err := p.repo.UpdateStepStatus(ctx, step.StepID, taskrepo.StepFailed, &now, &duration, &msg); err != nil {
		p.logger.Warn("pipeline: recording step failure failed", zap.String("step_id", string(step.StepID)), zap.Error(err))
	}
}

func (p *Pipeline) recordUsage(ctx context.Context, taskID ids.TaskID, req Request, result *llmprovider.CompletionResult) {
	if err := p.repo.UpdateTaskMetadata(ctx, taskID, taskrepo.TaskMetadata{
		AgentName: req.AgentName,
		Model:     req.Model,
		Tokens:    result.InputTokens + result.OutputTokens,
	}); err != nil {
		p.logger.Warn("pipeline: recording token usage failed", zap.String("task_id", string(taskID)), zap.Error(err))
	}
}

func (p *Pipeline) publishToolEvents(ctx context.Context, contextID ids.ContextID, taskID ids.TaskID, calls []toolexec.ToolCall, results []toolexec.ToolResult) {
	for i, call := range calls {
		if i >= len(results) {
			break
		}
		p.publish(ctx, contextID, eventbus.StepToolResult, map[string]interface{}{
			"task_id": string(taskID), "tool": call.Name, "is_error": results[i].IsError,
		})
	}
}

// publish is best-effort: a missing subscriber, or even a bus failure, is
// never an error for the pipeline itself.
func (p *Pipeline) publish(ctx context.Context, contextID ids.ContextID, eventType string, data map[string]interface{}) {
	if p.bus == nil {
		return
	}
	subject := eventbus.BuildContextSubject(string(contextID))
	event := eventbus.NewEvent(eventType, "pipeline", data)
	if err := p.bus.Publish(ctx, subject, event); err != nil {
		p.logger.Debug("pipeline: publishing event failed", zap.String("subject", subject), zap.Error(err))
	}
}

func convertPlannedCalls(calls []llmprovider.ToolCall) []toolexec.ToolCall {
	out := make([]toolexec.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, toolexec.ToolCall{ID: ids.ToolCallID(c.ID), Name: c.Name, Arguments: c.Arguments})
	}
	return out
}
