package tools

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/batteryshark/agent-armory/internal/config"
	"github.com/batteryshark/agent-armory/pkg/ratelimit"
	"github.com/batteryshark/agent-armory/pkg/registry"
)

// Options carries the shared wiring the builtin tools need.
type Options struct {
	// Configs are per-tool configuration files, keyed by tool name.
	// A tool with no entry runs on its defaults.
	Configs map[string]*config.ToolConfig
	Logger  zerolog.Logger
}

// RegisterBuiltins registers the builtin tools and installs their rate
// limit policies on the limiter. Tools whose required environment is
// missing are skipped with a warning rather than failing startup.
func RegisterBuiltins(reg *registry.Registry, lim *ratelimit.Limiter, opts Options) error {
	builtins := []func(Options) registry.ToolDescriptor{
		buildScraper,
		buildSearch,
	}

	registered := 0
	for _, build := range builtins {
		desc := build(opts)
		desc = ApplyConfig(desc, opts.Configs[desc.Name])

		if missing := desc.MissingEnv(); len(missing) > 0 {
			opts.Logger.Warn().
				Str("tool", desc.Name).
				Strs("missing_env", missing).
				Msg("Skipping builtin tool, required environment not set")
			continue
		}

		if err := reg.Register(desc); err != nil {
			return fmt.Errorf("failed to register %s: %w", desc.Name, err)
		}
		lim.Configure(desc.Name, desc.RateLimit)
		registered++

		opts.Logger.Debug().
			Str("tool", desc.Name).
			Str("version", desc.Version).
			Msg("Registered builtin tool")
	}

	opts.Logger.Info().Int("count", registered).Msg("Builtin tools registered")
	return nil
}

func buildScraper(opts Options) registry.ToolDescriptor {
	so := DefaultScraperOptions()
	if tc := opts.Configs["url_scraper"]; tc != nil {
		so.UserAgent = tc.GetString("user_agent", so.UserAgent)
		so.MaxRetries = tc.GetInt("max_retries", so.MaxRetries)
		so.FollowRedirects = tc.GetBool("follow_redirects", so.FollowRedirects)
		so.MaxContentSize = int64(tc.GetInt("max_content_size", int(so.MaxContentSize)))
		if secs := tc.GetInt("request_timeout", 0); secs > 0 {
			so.RequestTimeout = time.Duration(secs) * time.Second
		}
	}
	return ScraperDescriptor(so)
}

func buildSearch(opts Options) registry.ToolDescriptor {
	wo := DefaultSearchOptions()
	wo.APIKey = os.Getenv("OPENAI_API_KEY")
	if tc := opts.Configs["web_search"]; tc != nil {
		wo.Model = tc.GetString("model", wo.Model)
		wo.MaxRetries = tc.GetInt("max_retries", wo.MaxRetries)
	}
	return SearchDescriptor(wo)
}

// ApplyConfig lets a tool's config file override the descriptor's
// built-in policy. Zero values keep the defaults. Also used by the
// hot-reload path to rebuild a descriptor after its file changes.
func ApplyConfig(desc registry.ToolDescriptor, tc *config.ToolConfig) registry.ToolDescriptor {
	if tc == nil {
		return desc
	}
	if tc.RateLimit.Capacity > 0 {
		desc.RateLimit.Capacity = tc.RateLimit.Capacity
	}
	if tc.RateLimit.RefillRate > 0 {
		desc.RateLimit.RefillRate = tc.RateLimit.RefillRate
	}
	if tc.RateLimit.Mode != "" {
		desc.RateLimit.Mode = registry.RateLimitMode(tc.RateLimit.Mode)
	}
	if tc.RateLimit.QueueDepth > 0 {
		desc.RateLimit.QueueDepth = tc.RateLimit.QueueDepth
	}
	if tc.Timeout > 0 {
		desc.Timeout = time.Duration(tc.Timeout) * time.Second
	}
	if tc.MaxConcurrent > 0 {
		desc.MaxConcurrent = tc.MaxConcurrent
	}
	if len(tc.RequiredEnv) > 0 {
		desc.RequiredEnv = append(desc.RequiredEnv, tc.RequiredEnv...)
	}
	return desc
}
