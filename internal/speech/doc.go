// ABOUTME: Package documentation for speech synthesis
// ABOUTME: Describes the adapter contract and text preprocessing pipeline

// Package speech turns model answers into audio.
//
// A Synthesizer owns the pipeline: text is preprocessed into a speakable
// form (markdown stripped, URLs and code replaced, length capped), the
// voice and speed are validated against the adapter, and the vendor call
// runs through an Adapter. Vendor packages live below this one; the
// factory subpackage picks one from configuration.
//
// Synthesis failures are never fatal to a request. Callers log them and
// return text without an audio locator.
package speech
