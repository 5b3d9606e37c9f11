// Package outputs lays out and writes a subject's persisted artifacts.
//
// Each subject gets <output_dir>/<subject>/ with four categories:
// intermediate (native-space images), final (template-space images, the
// standardized secondary image, ROI tables and transforms), qc (metrics and
// report) and logs. Every image file name carries the subject, the field and
// the space, so native and template artifacts never share a name.
package outputs
