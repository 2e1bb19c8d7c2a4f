// Package features derives the per-cell neighborhood features driving the
// doublet classifier, collected into a strongly-typed struct-of-arrays
// score table: density ratios at one or more neighbor counts, a distance-
// and rank-decayed weighted doublet score, distances to the nearest
// neighbor of each provenance class, the most likely synthetic origin with
// an ambiguity flag, a per-origin difficulty calibration, and the expected
// versus observed origin rates under the multinomial pairing model.
//
// Table rows are appended once during evaluation (real cells first, then
// artificial) and are read-only afterwards; secondary per-cell columns
// (library size, detected features, co-expression score) join by index.
package features
