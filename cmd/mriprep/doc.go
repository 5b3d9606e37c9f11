// Package main hosts the mriprep CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, builds the stage
// orchestrator and renders its results: single-subject runs, directory
// batches, plan and preflight inspection, and the run history kept in the
// ledger. Processing itself lives in internal/pipeline; commands here only
// translate flags into orchestrator calls and format what comes back.
package main
