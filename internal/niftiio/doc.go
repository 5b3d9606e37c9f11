// Package niftiio reads and writes single-volume NIfTI-1 images.
//
// Geometry (dimensions, spacing, origin) comes from the 348-byte header,
// which is decoded here because the voxel reader does not expose the sform.
// Voxel samples are read through github.com/henghuang/nifti. Writes always
// produce float32 little-endian data with an axis-aligned sform, gzip
// compressed when the file name ends in ".gz". Output bytes depend only on
// the volume, so repeated writes of equal volumes are identical.
package niftiio
