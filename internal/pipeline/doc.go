// Package pipeline orchestrates the preprocessing stages for one subject or a
// batch of subjects.
//
// The orchestrator builds an ordered plan from the configuration, rejects
// plans whose stage dependencies are disabled or scheduled too late, checks
// reference files and external tools, and only then loads images. Each
// subject owns one spatial.Data record for the duration of its run; stages
// receive it in turn through stageexec.Run and never retain it.
//
// Failures are classified by their service marker: secondary-modality
// failures end only the secondary chain, every other stage error aborts the
// subject. Batch runs continue with the next subject either way.
package pipeline
