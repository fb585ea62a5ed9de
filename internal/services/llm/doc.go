// Package llm provides a minimal OpenAI-compatible chat completion client
// used for character interpretation, linguistic analysis, and vision review.
// It understands JSON-only responses, tolerates the common provider quirks
// (code fences, streaming deltas, tool-call payloads), and classifies HTTP
// failures for retry.
package llm
