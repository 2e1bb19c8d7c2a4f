// Package boost implements the gradient-boosted decision-tree classifier
// behind doublet scoring: depth-limited regression trees fit to the
// first- and second-order gradients of the logistic loss, with shrinkage,
// L2 leaf regularization and a minimum-hessian child constraint — the
// classic exact-greedy boosting recipe.
//
// The number of boosting rounds can be fixed by the caller or selected by
// k-fold cross-validation with the one-standard-deviation early-stopping
// rule: the earliest round whose mean validation error is within one
// standard deviation of the minimum.
//
// Training is deterministic for a given parameter set and seed; split
// ties resolve to the lower feature index and threshold.
package boost
