// Package models builds eino chat models from provider configuration.
package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	einoclaude "github.com/cloudwego/eino-ext/components/model/claude"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/factotum-ai/factotum/internal/config"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// CreateModel creates a model.ToolCallingChatModel from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch strings.ToLower(cfg.Driver) {
	case "anthropic":
		return newAnthropic(ctx, cfg)
	case "openai":
		return newOpenAI(ctx, cfg)
	case "ollama":
		return newOllama(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}

// Create resolves the default provider from the models config and builds it.
func Create(ctx context.Context, cfg config.ModelsConfig) (model.ToolCallingChatModel, error) {
	name := cfg.Default
	if name == "" {
		return nil, fmt.Errorf("no default model provider configured")
	}
	provider, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown model provider: %s", name)
	}
	return CreateModel(ctx, provider)
}

func newOpenAI(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	modelConfig := &einoopenai.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	}

	if cfg.BaseURL != "" {
		modelConfig.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxCompletionTokens = &maxTokens
	}
	if cfg.Timeout.Duration() > 0 {
		modelConfig.Timeout = cfg.Timeout.Duration()
	} else {
		modelConfig.Timeout = 60 * time.Second
	}

	return einoopenai.NewChatModel(ctx, modelConfig)
}

const (
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 4096
)

func newAnthropic(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	modelConfig := &einoclaude.Config{
		APIKey:    cfg.APIKey,
		Model:     modelName,
		MaxTokens: maxTokens,
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		modelConfig.BaseURL = &baseURL
	}

	return einoclaude.NewChatModel(ctx, modelConfig)
}

func newOllama(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}

	modelConfig := &einoollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
	}
	if cfg.Timeout.Duration() > 0 {
		modelConfig.Timeout = cfg.Timeout.Duration()
	} else {
		modelConfig.Timeout = 300 * time.Second
	}

	return einoollama.NewChatModel(ctx, modelConfig)
}
