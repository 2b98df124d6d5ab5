// Package tools ships the builtin tools: url_scraper and web_search.
//
// Each tool is a plain registry.ToolDescriptor built from an options
// struct, so deployments can replace or extend the set without touching
// this package. RegisterBuiltins wires the full set into a registry and
// limiter, applying per-tool configuration files on top of the built-in
// defaults.
//
// Tools with unmet RequiredEnv are skipped at registration instead of
// failing startup; a server with no OPENAI_API_KEY still serves
// url_scraper.
package tools
