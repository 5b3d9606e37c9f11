// Package preflight provides readiness checks for the reference images,
// filesystem paths and external tools mriprep depends on.
//
// These checks run in two contexts:
//   - The pipeline orchestrator calls RunAll before loading any subject image.
//     If a required check fails the run stops with a missing-resource error
//     instead of failing hours later inside a stage.
//   - The CLI "mriprep preflight" command prints every result as a table.
//
// Each check is gated by its stage toggle -- disabled stages are skipped.
package preflight
