// Package synth generates artificial doublets: synthetic cell profiles
// built as the elementwise sum of two real parents' raw counts, each
// carrying an origin (the unordered pair of parent cluster labels, or
// "random" when the parents were drawn ignoring clusters).
//
// No rescaling is applied to the sums: after library-size normalization
// the summed profile lies pointwise between the two parents' normalized
// profiles, so scaling would only discard information.
//
// Generation is stratified so every inter-cluster pair receives synthetic
// support: with C clusters at least 10·C² doublets are produced, and the
// non-random share is spread over all C·(C−1)/2 pairs proportionally to
// the product of the pair's cluster sizes with a floor of one.
package synth
