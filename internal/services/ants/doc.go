// Package ants wraps the ANTs command-line tools used as external algorithm
// collaborators: antsRegistrationSyNQuick.sh for rigid, affine and SyN
// registration, antsApplyTransforms for resampling, and Atropos for tissue
// segmentation.
//
// Images cross the process boundary as NIfTI files inside a per-call scratch
// directory under the configured work dir. Transform files stay there and are
// referenced by path from the returned xform.Transform values, so the work dir
// must outlive the subject run that produced them. Command execution goes
// through the Executor interface so tests can stand in for the binaries.
package ants
