// Package gemini implements llm.Provider on the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/eatd/vl-desktop-agent/pkg/llm"
)

// Client sends multimodal requests to the Gemini API.
type Client struct {
	config *llm.Config
	genai  *genai.Client
}

// New creates a Gemini client. BaseURL, when set, overrides the API endpoint.
func New(ctx context.Context, config *llm.Config) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		t := config.Timeout
		cc.HTTPOptions.Timeout = &t
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{config: config, genai: c}, nil
}

func (c *Client) generateConfig(system string) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if c.config.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if c.config.Temperature != 0 {
		gc.Temperature = genai.Ptr(c.config.Temperature)
	}
	return gc
}

// Complete sends the conversation and returns the text answer. Tools are
// described in the prompt instead of passed as declarations, so tools is
// ignored here.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	var system []string
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, img := range msg.Images {
			parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIME))
		}
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.config.Model, contents, c.generateConfig(strings.Join(system, "\n\n")))
	if err != nil {
		return nil, statusError(err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	out := &llm.Response{Content: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// statusError maps SDK API errors onto llm.StatusError so retry
// classification is shared with other providers.
func statusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("generate content: %w", &llm.StatusError{Code: apiErr.Code, Body: apiErr.Message})
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return fmt.Errorf("generate content: %w", &llm.StatusError{Code: apiErrPtr.Code, Body: apiErrPtr.Message})
	}
	return fmt.Errorf("generate content: %w", err)
}
