// Package services defines shared utilities consumed by the pipeline stages
// and external tool clients.
//
// Key responsibilities:
//   - Context helpers that stamp subject identifiers, stage names, and run
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (configuration, missing resource, propagation, algorithm, secondary
//     dependency) and carry a remediation hint for the operator.
//
// Use these helpers when wiring new stage logic so error reporting and
// observability stay uniform across the pipeline.
package services
