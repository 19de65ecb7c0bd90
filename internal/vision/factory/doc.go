// ABOUTME: Package documentation for the vision provider factory
// ABOUTME: Explains the closed registry and the custom provider escape hatch

// Package factory constructs vision provider adapters from configuration.
//
// The set of recognized provider identifiers is closed: openai, gemini,
// anthropic, doubao, qwen, glm, and custom. Unknown identifiers are rejected
// with an unsupported_provider fault before any network activity. Construction
// is cheap and side-effect free; adapters for configured providers are cached
// and reused, while custom adapters are built per request from the caller's
// validated CustomConfig.
package factory
