package threshold

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNoScores indicates an empty real or artificial score set.
	ErrNoScores = errors.New("threshold: no scores to scan")

	// ErrBadRate indicates a doublet rate outside [0,1] or a negative
	// uncertainty.
	ErrBadRate = errors.New("threshold: invalid doublet rate")

	// ErrBadInput indicates a known-doublet mask of the wrong length.
	ErrBadInput = errors.New("threshold: inconsistent input lengths")
)

// rateDeviationWeight scales the out-of-band rate penalty against the
// artificial miss rate, so over- or under-calling real cells outweighs a
// comparable fraction of missed artificials.
const rateDeviationWeight = 4.0

// bandWidthSDs is the half-width of the tolerated rate band in units of
// dbr.sd.
const bandWidthSDs = 2.0

// Result summarizes one threshold scan.
type Result struct {
	// Threshold is the selected cutoff; cells scoring >= Threshold are
	// called doublet.
	Threshold float64

	// Class holds the binary call per real cell, with known doublets
	// forced to true regardless of score.
	Class []bool

	// ObservedRate is the proportion of real cells at or above the
	// threshold, before known-doublet forcing.
	ObservedRate float64

	// ArtificialMissRate is the proportion of artificial doublets
	// scoring below the threshold.
	ArtificialMissRate float64

	// Cost is the combined objective at the selected threshold.
	Cost float64

	// Candidates is the number of cutoffs scanned.
	Candidates int
}

// Select chooses a cutoff for realScores given the artificial-doublet score
// distribution and the expected global rate band dbr ± 2·dbrSD.
//
// Stage 1 (Validate): reject empty score sets, rates outside [0,1], negative
// uncertainty, and a known mask that does not match realScores.
// Stage 2 (Scan): enumerate candidate cutoffs at the midpoints between
// consecutive unique scores (plus the extremes, so "call everything" and
// "call nothing" stay reachable) and evaluate each candidate's cost.
// Stage 3 (Pick): keep the lowest-cost candidate; on ties the lower
// threshold wins, which favors recall on borderline doublets.
//
// Complexity: O((n+m) log(n+m)) for the sort, O(n+m) per candidate scan via
// prefix counts.
func Select(realScores, artScores []float64, known []bool, dbr, dbrSD float64) (*Result, error) {
	if len(realScores) == 0 || len(artScores) == 0 {
		return nil, fmt.Errorf("Select: %d real, %d artificial: %w", len(realScores), len(artScores), ErrNoScores)
	}
	if dbr < 0 || dbr > 1 || dbrSD < 0 {
		return nil, fmt.Errorf("Select: dbr=%v sd=%v: %w", dbr, dbrSD, ErrBadRate)
	}
	if known != nil && len(known) != len(realScores) {
		return nil, fmt.Errorf("Select: %d known flags for %d cells: %w", len(known), len(realScores), ErrBadInput)
	}

	lo := math.Max(0, dbr-bandWidthSDs*dbrSD)
	hi := math.Min(1, dbr+bandWidthSDs*dbrSD)

	sortedReal := append([]float64(nil), realScores...)
	sort.Float64s(sortedReal)
	sortedArt := append([]float64(nil), artScores...)
	sort.Float64s(sortedArt)

	candidates := candidateCutoffs(sortedReal, sortedArt)

	res := &Result{Threshold: candidates[0], Cost: math.Inf(1), Candidates: len(candidates)}
	for _, c := range candidates {
		obs := fractionAtOrAbove(sortedReal, c)
		miss := 1 - fractionAtOrAbove(sortedArt, c)

		var dev float64
		switch {
		case obs < lo:
			dev = lo - obs
		case obs > hi:
			dev = obs - hi
		}
		cost := miss + rateDeviationWeight*dev

		if cost < res.Cost {
			res.Cost = cost
			res.Threshold = c
			res.ObservedRate = obs
			res.ArtificialMissRate = miss
		}
	}

	res.Class = make([]bool, len(realScores))
	for i, s := range realScores {
		res.Class[i] = s >= res.Threshold || (known != nil && known[i])
	}

	return res, nil
}

// candidateCutoffs returns the midpoints between consecutive unique values
// of the pooled score distribution, bracketed by the pooled minimum (call
// everything) and a cutoff just above the pooled maximum (call nothing).
// Input slices must be sorted.
func candidateCutoffs(sortedReal, sortedArt []float64) []float64 {
	pooled := make([]float64, 0, len(sortedReal)+len(sortedArt))
	pooled = append(pooled, sortedReal...)
	pooled = append(pooled, sortedArt...)
	sort.Float64s(pooled)

	uniq := pooled[:1]
	for _, v := range pooled[1:] {
		if v != uniq[len(uniq)-1] {
			uniq = append(uniq, v)
		}
	}

	out := make([]float64, 0, len(uniq)+1)
	out = append(out, uniq[0])
	for i := 1; i < len(uniq); i++ {
		out = append(out, (uniq[i-1]+uniq[i])/2)
	}
	out = append(out, math.Nextafter(uniq[len(uniq)-1], math.Inf(1)))

	return out
}

// fractionAtOrAbove returns the share of sorted values >= cutoff.
func fractionAtOrAbove(sorted []float64, cutoff float64) float64 {
	i := sort.SearchFloat64s(sorted, cutoff)

	return float64(len(sorted)-i) / float64(len(sorted))
}
