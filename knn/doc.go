// Package knn implements the exact K-nearest-neighbor index over the joint
// embedding: a flat, immutable point set queried by brute-force scan with
// a bounded max-heap, the way small-to-medium vector indexes do exact
// search. Queries across all points run in parallel over the available
// cores; the index itself is read-only after construction and safe for
// concurrent use.
//
// Neighbor ordering is fully deterministic: ascending distance, ties
// broken by ascending point id.
package knn
