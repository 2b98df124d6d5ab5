package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/batteryshark/agent-armory/pkg/registry"
)

// SearchOptions configures the web_search tool.
type SearchOptions struct {
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration

	// ExtraRequestOptions are appended to the client construction.
	// Mainly for tests pointing at a local server.
	ExtraRequestOptions []option.RequestOption
}

// DefaultSearchOptions mirror the tool's stock configuration file.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Model:      "gpt-4o-mini",
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

const searchSystemPrompt = "You are a web research assistant. Answer with current, factual information and cite sources when you can."

// SearchDescriptor builds the web_search tool.
func SearchDescriptor(opts SearchOptions) registry.ToolDescriptor {
	if opts.Model == "" {
		opts.Model = DefaultSearchOptions().Model
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultSearchOptions().RetryDelay
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	clientOpts = append(clientOpts, opts.ExtraRequestOptions...)
	client := openai.NewClient(clientOpts...)

	return registry.ToolDescriptor{
		Name:        "web_search",
		Version:     "1.0.0",
		Description: "Search the web for current information on a topic",
		Parameters: []registry.ToolParameter{
			{Name: "query", Type: "string", Description: "The search query", Required: true},
		},
		RateLimit: registry.RateLimitPolicy{
			Capacity:   100,
			RefillRate: 100.0 / 60.0,
			Mode:       registry.ModeReject,
		},
		Timeout:     45 * time.Second,
		RequiredEnv: []string{"OPENAI_API_KEY"},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			return search(ctx, &client, opts, query)
		},
	}
}

func search(ctx context.Context, client *openai.Client, opts SearchOptions, query string) (interface{}, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	prompt := "Search the web for this information and summarize what you find: " + query

	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}

		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(opts.Model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(searchSystemPrompt),
				openai.UserMessage(prompt),
			},
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("search returned no choices")
			continue
		}

		return map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"prompt":       prompt,
				"search_query": query,
				"response":     resp.Choices[0].Message.Content,
			},
		}, nil
	}
	return nil, fmt.Errorf("web search failed after %d attempts: %w", opts.MaxRetries, lastErr)
}
