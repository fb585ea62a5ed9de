// Package services defines shared utilities consumed by the enrichment
// pipeline and external provider integrations.
//
// Key responsibilities:
//   - Context helpers that stamp queue item IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent queue outcomes (transient vs permanent).
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
