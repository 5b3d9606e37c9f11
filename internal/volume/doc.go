// Package volume holds the in-memory representation of a 3D scalar image.
//
// A Volume pairs a Grid (dimensions, voxel spacing, world origin) with a flat
// x-fastest sample buffer. Every derived image in the pipeline (masks, label
// maps, probability maps, registered intensities) is a Volume, which lets the
// orchestrator compare geometries explicitly instead of trusting that two
// buffers of the same length line up.
package volume
