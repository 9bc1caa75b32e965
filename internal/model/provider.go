package model

import (
	"context"
	"fmt"

	"github.com/eatd/vl-desktop-agent/pkg/llm"
	"github.com/eatd/vl-desktop-agent/pkg/llm/gemini"
	"github.com/eatd/vl-desktop-agent/pkg/llm/openai"
)

// NewProvider builds the backend named by provider. "openai" covers any
// OpenAI-compatible endpoint, local servers included.
func NewProvider(ctx context.Context, provider string, cfg *llm.Config) (llm.Provider, error) {
	switch provider {
	case "", "openai", "lmstudio", "vllm":
		return openai.New(cfg), nil
	case "gemini":
		return gemini.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
