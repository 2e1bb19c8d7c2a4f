// Package cluster supplies the lightweight cluster provider used when the
// caller does not hand in per-cell labels: deterministic seeded k-means
// (k-means++ initialization, Lloyd iterations) over an embedding, plus the
// small label-bookkeeping helpers shared by the pipeline.
//
// Determinism: all randomness flows through a caller-supplied seed; loops
// run in fixed index order; empty clusters are reseeded to the point
// farthest from its center, ties broken by index. Identical inputs and
// seed always produce identical labels.
package cluster
