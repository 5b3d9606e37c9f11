// Package builtin holds pure-Go implementations of the algorithm
// collaborators: brain masking, tissue segmentation, and moment-based
// rigid/affine registration. They need no external tools and are
// deterministic for a given input, which makes them the default engine and
// the reference for tests. Nonlinear registration is delegated to ANTs.
package builtin
