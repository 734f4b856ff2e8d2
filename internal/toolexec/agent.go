package toolexec

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/factotum-ai/factotum/internal/models"
)

const executorInstructions = `You execute one concrete action on behalf of a user, using the tools available to you.

Carry out the instruction, then reply with exactly one JSON object and nothing else:

{"success": true|false, "message": "<what happened, one or two sentences>", "data": {...}}

Rules:
- "success" is mandatory. Report false when the action could not be carried out.
- Put tool outputs the caller needs later (ids, addresses, drafted text) in "data".
- If the action fires now but resolves later (an email was sent and a reply is
  expected, an invite awaits a response), set "data.waiting_for" to the kind of
  event expected (email_reply, calendar_response, webhook_event, ...) and include
  the identifiers needed to recognize that event (thread_id, recipient, ...).
- Never invent identifiers that no tool returned.`

// AgentExecutor runs instructions through a tool-calling agent loop.
type AgentExecutor struct {
	chatModel     model.ToolCallingChatModel
	registry      *Registry
	maxIterations int
}

// NewAgentExecutor creates an executor over the given model and tools.
func NewAgentExecutor(chatModel model.ToolCallingChatModel, registry *Registry, maxIterations int) *AgentExecutor {
	return &AgentExecutor{chatModel: chatModel, registry: registry, maxIterations: maxIterations}
}

// Execute runs one instruction and parses the agent's structured result.
func (e *AgentExecutor) Execute(ctx context.Context, userID, instruction string) (*Result, error) {
	cfg := &adk.ChatModelAgentConfig{
		Name:          "factotum-executor",
		Description:   "Executes one concrete action and reports a structured result",
		Instruction:   executorInstructions,
		Model:         e.chatModel,
		MaxIterations: e.maxIterations,
	}

	tools := e.registry.Tools()
	if len(tools) > 0 {
		baseTools := make([]tool.BaseTool, len(tools))
		for i, t := range tools {
			baseTools[i] = t
		}
		cfg.ToolsConfig.Tools = baseTools
	}

	agent, err := adk.NewChatModelAgent(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create executor agent: %w", err)
	}

	runner := adk.NewRunner(ctx, adk.RunnerConfig{
		Agent:           agent,
		EnableStreaming: false,
	})

	slog.Debug("executor instruction", "user_id", userID, "instruction", instruction)

	messages := []*schema.Message{
		{Role: schema.User, Content: instruction},
	}
	output, err := consumeRunnerOutput(ctx, runner, messages)
	if err != nil {
		return nil, models.HandleError(err)
	}

	result, err := ParseResult(output)
	if err != nil {
		return nil, &ToolExecutionError{Tool: "executor", Message: "unusable result", Err: err}
	}
	return result, nil
}

// consumeRunnerOutput drains the ADK event iterator and returns the last
// assistant message content. Tool-role messages are skipped.
func consumeRunnerOutput(ctx context.Context, runner *adk.Runner, messages []*schema.Message) (string, error) {
	iter := runner.Run(ctx, messages)

	var content string
	for {
		event, ok := iter.Next()
		if !ok {
			break
		}
		if event.Err != nil {
			return "", event.Err
		}
		if event.Output == nil || event.Output.MessageOutput == nil {
			continue
		}

		mv := event.Output.MessageOutput
		if mv.Role == schema.Tool {
			if mv.IsStreaming && mv.MessageStream != nil {
				mv.MessageStream.Close()
			}
			continue
		}

		if mv.IsStreaming && mv.MessageStream != nil {
			content = consumeStream(mv.MessageStream)
		} else if mv.Message != nil {
			if len(mv.Message.ToolCalls) > 0 && mv.Message.Content == "" {
				continue
			}
			if mv.Message.Content != "" {
				content = mv.Message.Content
			}
		}
	}
	return content, nil
}

func consumeStream(stream *schema.StreamReader[*schema.Message]) string {
	var full string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("executor stream error", "error", err)
			break
		}
		if chunk != nil && chunk.Content != "" {
			full += chunk.Content
		}
	}
	return full
}

var _ Executor = (*AgentExecutor)(nil)
