// Package oracle wraps a chat model behind the small completion surface the
// workflow engine needs for classification and decomposition.
package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/factotum-ai/factotum/internal/models"
)

// Oracle answers freeform reasoning prompts.
type Oracle interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ChatOracle backs the Oracle interface with an eino chat model.
type ChatOracle struct {
	chatModel model.ToolCallingChatModel
}

// New creates a ChatOracle over the given model.
func New(chatModel model.ToolCallingChatModel) *ChatOracle {
	return &ChatOracle{chatModel: chatModel}
}

// Complete sends the prompt and returns the model's trimmed text reply.
func (o *ChatOracle) Complete(ctx context.Context, system, prompt string) (string, error) {
	var msgs []*schema.Message
	if system != "" {
		msgs = append(msgs, &schema.Message{Role: schema.System, Content: system})
	}
	msgs = append(msgs, &schema.Message{Role: schema.User, Content: prompt})

	result, err := o.chatModel.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("oracle: generate: %w", models.HandleError(err))
	}
	return strings.TrimSpace(result.Content), nil
}

var _ Oracle = (*ChatOracle)(nil)
