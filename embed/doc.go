// Package embed reduces the joint (real + artificial) log-normalized count
// matrix into the shared low-dimensional space used for neighbor search.
//
// The primary routine is principal component analysis through gonum's SVD.
// When SVD fails to converge, Reduce falls back to an explicit covariance +
// Jacobi eigen sweep, which is slower but unconditionally convergent on
// symmetric matrices; the caller is informed through the returned flag so
// the orchestrator can log the degradation.
//
// Coordinates are computed once per run and only ever read downstream.
package embed
