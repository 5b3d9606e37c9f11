// Package xform defines the transform artifacts produced by registration and
// the collaborator interfaces that create and apply them.
//
// A Transform is a pull-back mapping: for every voxel of its Reference grid
// it yields the world point in the source image that should be sampled.
// Matrix steps are evaluated in place; file steps belong to an external
// engine and can only be applied by that engine.
package xform
