// Package counts provides the cell × gene count-matrix primitives used by
// the doublet-detection pipeline: a compact sparse (CSR) matrix with
// append-only construction, per-cell library sizes and detected-feature
// counts, log-CPM normalization into a dense matrix, deterministic feature
// selection (variable genes + cluster markers), and the binarized
// co-expression score used as an auxiliary doublet signal.
//
// Design notes:
//   - Rows are cells, columns are genes. Counts must be finite and ≥ 0.
//   - All operations are deterministic: fixed row→column traversal, stable
//     sorts with ties broken by gene index.
//   - The matrix is immutable once built; subsetting and stacking return
//     new matrices and never mutate the receiver.
//
// Complexity is linear in stored non-zeros unless stated otherwise.
package counts
