// Package vision defines the provider-agnostic contract for image
// description models.
//
// A Provider accepts a normalized Request (prompt, image bytes, prior
// turns) and produces either a complete Result or a Stream of text
// fragments. Vendor packages under vision/ implement the interface for
// OpenAI-compatible APIs, Gemini, and Anthropic; the factory package
// constructs them from configuration.
//
// Streams are deliberately tight: the fragment channel buffers a single
// unconsumed fragment, so a slow reader stalls the producing adapter and,
// through it, the upstream HTTP response. Adapters own stream termination
// and classify their failures with the fault package so callers see one
// error taxonomy regardless of vendor.
package vision
