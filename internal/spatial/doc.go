// Package spatial holds the per-subject processing record shared by every
// pipeline stage.
//
// A Data value partitions images by the space they live in. Native fields use
// the subject's acquisition grid. Template fields use the standard reference
// grid and only become reachable after registration has frozen the
// native-to-template transforms. The optional secondary record (for example
// PET) carries its own chain from original acquisition to template space.
// The orchestrator owns each Data value for one subject run. Stages receive it
// for the duration of a single Execute call.
package spatial
