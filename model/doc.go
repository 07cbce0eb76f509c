// Package model defines the provider-agnostic abstractions for invoking
// language models inside evalmesh.
//
// Core goals:
//   - One blocking Generate call per request, normalized into Response
//   - Normalize tool call representation (ToolCall) and token usage
//   - Classify vendor failures (TransportError) apart from configuration
//     failures (ConfigError) so callers can decide what is retryable
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (openai, anthropic, gemini, bedrock) implement the Model
// interface in sub-packages so higher layers stay decoupled from vendor SDKs.
package model
