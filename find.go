package scdblfinder

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/semir2/scDblFinder/cluster"
	"github.com/semir2/scDblFinder/counts"
	"github.com/semir2/scDblFinder/embed"
	"github.com/semir2/scDblFinder/features"
	"github.com/semir2/scDblFinder/synth"
	"github.com/semir2/scDblFinder/threshold"
)

// Report carries the per-cell results of one detection run, indexed by the
// original row order of the input matrix.
type Report struct {
	// RunID uniquely identifies this run in logs and downstream joins.
	RunID string

	// Cells is the number of real cells scored.
	Cells int

	// Score is the continuous doublet score per cell.
	Score []float64

	// Class is the binary call per cell; nil when thresholding was
	// disabled. Known doublets are always true.
	Class []bool

	// Threshold is the cutoff applied to each cell (its sample's, or the
	// global one); nil when thresholding was disabled.
	Threshold []float64

	// Thresholds maps sample label to the selected cutoff. A single
	// global threshold appears under the empty label.
	Thresholds map[string]float64

	// Cluster is the cluster label per cell, local to its sample.
	Cluster []int

	// Sample echoes the per-cell sample label; nil when the run was not
	// partitioned.
	Sample []string

	// Origin and OriginAmbiguous give the most likely parent-cluster
	// pair per cell and whether the assignment was close.
	Origin          []synth.Origin
	OriginAmbiguous []bool

	// Raw neighborhood features and auxiliary scores.
	Ratio        []float64
	Weighted     []float64
	Difficulty   []float64
	Coexpression []float64

	// Table is the merged score table over real and artificial cells,
	// with the engineered feature columns, scores and classes attached.
	Table *features.Table
}

// part is one independent capture to process.
type part struct {
	label string
	rows  []int // original row indices
}

// partResult is the outcome of one partition's pipeline.
type partResult struct {
	part
	table    *features.Table
	clusters []int
	known    []bool
	dbr      float64
}

// Find runs doublet detection over the count matrix and returns per-cell
// scores, calls and diagnostics. Order of events: partition by sample,
// run each partition's pipeline concurrently (cluster, select features,
// synthesize doublets, embed, evaluate neighborhoods), merge the feature
// tables, train the classifier globally, threshold.
func Find(m *counts.Matrix, opts ...Option) (*Report, error) {
	o := gatherOptions(opts...)
	if m == nil || m.Rows() == 0 {
		return nil, fmt.Errorf("Find: %w", ErrNoCounts)
	}
	n := m.Rows()
	if err := o.validate(n); err != nil {
		return nil, fmt.Errorf("Find: %w", err)
	}

	runID := uuid.NewString()
	log := o.logger.With("run", runID)

	parts := partitions(o.samples, n)

	// Per-partition pipelines share no state; first error cancels the
	// run, annotated with its sample label.
	results := make([]*partResult, len(parts))
	var g errgroup.Group
	for pi := range parts {
		pi := pi
		g.Go(func() error {
			r, err := o.processPartition(m, parts[pi], int64(pi), log)
			if err != nil {
				return fmt.Errorf("sample %q: %w", parts[pi].label, err)
			}
			results[pi] = r

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Find: %w", err)
	}

	tables := make([]*features.Table, len(results))
	for i, r := range results {
		tables[i] = r.table
	}
	merged, perm, err := features.Concat(tables)
	if err != nil {
		return nil, fmt.Errorf("Find: %w", err)
	}

	scores, err := o.score(merged, results, perm, o.dbrFor(n), log)
	if err != nil {
		return nil, fmt.Errorf("Find: %w", err)
	}
	merged.Score = scores

	rep := assembleReport(runID, n, merged, results, perm, o.samples != nil)
	if !o.skipThreshold {
		if err := o.applyThresholds(merged, results, perm, rep, o.dbrFor(n)); err != nil {
			return nil, fmt.Errorf("Find: %w", err)
		}
	}
	rep.Table = merged

	return rep, nil
}

// partitions groups cell indices by sample label in order of first
// appearance; a nil label set yields one partition covering everything.
func partitions(samples []string, n int) []part {
	if samples == nil {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}

		return []part{{rows: rows}}
	}

	index := make(map[string]int)
	var out []part
	for i, s := range samples {
		pi, ok := index[s]
		if !ok {
			pi = len(out)
			index[s] = pi
			out = append(out, part{label: s})
		}
		out[pi].rows = append(out[pi].rows, i)
	}

	return out
}

// processPartition runs the full feature pipeline for one capture.
func (o *Options) processPartition(m *counts.Matrix, p part, idx int64, log *slog.Logger) (*partResult, error) {
	sub, err := m.SubsetRows(p.rows)
	if err != nil {
		return nil, err
	}
	np := sub.Rows()
	switch {
	case np < minAdvisableCells:
		log.Warn("partition has few cells; scores may be unreliable", "sample", p.label, "cells", np)
	case np > maxAdvisableCells:
		log.Warn("partition is very large; consider splitting by capture", "sample", p.label, "cells", np)
	}

	var knownSub []bool
	if o.known != nil {
		knownSub = make([]bool, np)
		for i, orig := range p.rows {
			knownSub[i] = o.known[orig]
		}
	}

	var labels []int
	if o.clusters != nil {
		raw := make([]int, np)
		for i, orig := range p.rows {
			raw[i] = o.clusters[orig]
		}
		labels, _ = cluster.Relabel(raw)
	} else {
		labels, err = o.clusterCells(sub, idx)
		if err != nil {
			return nil, err
		}
	}
	sizes := cluster.Sizes(labels)

	genes, err := counts.SelectFeatures(sub, labels, o.nFeatures, o.propMarkers)
	if err != nil {
		return nil, err
	}
	sel, err := sub.SubsetGenes(genes)
	if err != nil {
		return nil, err
	}

	target := o.artificialDoublets
	if target == 0 {
		target = np
	}
	rng := rand.New(rand.NewSource(o.seed + 7919*idx))
	art, origins, err := synth.Generate(sel, labels, target, o.propRandom, rng)
	if err != nil {
		return nil, err
	}

	joint, err := counts.VStack(sel, art)
	if err != nil {
		return nil, err
	}
	emb, fellBack, err := embed.Reduce(joint.LogNormDense(0), o.dims)
	if err != nil {
		return nil, err
	}
	if fellBack {
		log.Warn("svd did not converge; embedded via jacobi eigendecomposition", "sample", p.label)
	}

	tab, err := features.Evaluate(features.Input{
		Embedding: embed.Rows(emb),
		NReal:     np,
		Origins:   origins,
		Known:     knownSub,
		Ks:        o.ks,
	})
	if err != nil {
		return nil, err
	}

	coex, err := counts.CoexpressionScore(joint, counts.DefaultCoexTopGenes, counts.DefaultCoexPairs)
	if err != nil {
		return nil, err
	}
	if err := tab.AttachCellStats(joint.LibrarySizes(), joint.DetectedFeatures(), coex); err != nil {
		return nil, err
	}

	dbr := o.dbrFor(np)
	expected, err := features.ExpectedOriginCounts(sizes, dbr, np)
	if err != nil {
		return nil, err
	}
	tab.AttachOriginRates(expected)

	return &partResult{part: p, table: tab, clusters: labels, known: knownSub, dbr: dbr}, nil
}

// clusterCells derives cluster labels for a partition lacking them:
// dispersion-selected genes, PCA embedding, seeded k-means.
func (o *Options) clusterCells(sub *counts.Matrix, idx int64) ([]int, error) {
	genes, err := counts.SelectFeatures(sub, nil, o.nFeatures, 0)
	if err != nil {
		return nil, err
	}
	sel, err := sub.SubsetGenes(genes)
	if err != nil {
		return nil, err
	}
	emb, _, err := embed.Reduce(sel.LogNormDense(0), o.dims)
	if err != nil {
		return nil, err
	}

	k := o.nClusters
	if k == 0 {
		k = autoClusterCount(sub.Rows())
	}
	raw, err := cluster.KMeans(embed.Rows(emb), k, o.seed+7919*idx)
	if err != nil {
		return nil, err
	}
	labels, _ := cluster.Relabel(raw)

	return labels, nil
}

// assembleReport scatters the merged per-row results back to the original
// cell order.
func assembleReport(runID string, n int, merged *features.Table, results []*partResult, perm [][]int, sampled bool) *Report {
	rep := &Report{
		RunID:           runID,
		Cells:           n,
		Score:           make([]float64, n),
		Cluster:         make([]int, n),
		Origin:          make([]synth.Origin, n),
		OriginAmbiguous: make([]bool, n),
		Ratio:           make([]float64, n),
		Weighted:        make([]float64, n),
		Difficulty:      make([]float64, n),
		Coexpression:    make([]float64, n),
	}
	if sampled {
		rep.Sample = make([]string, n)
	}

	ratio := merged.Ratio()
	for pi, r := range results {
		for i, orig := range r.rows {
			row := perm[pi][i]
			rep.Score[orig] = merged.Score[row]
			rep.Cluster[orig] = r.clusters[i]
			rep.Origin[orig] = merged.Origin[row]
			rep.OriginAmbiguous[orig] = merged.OriginAmbiguous[row]
			rep.Ratio[orig] = ratio[row]
			rep.Weighted[orig] = merged.Weighted[row]
			rep.Difficulty[orig] = merged.Difficulty[row]
			rep.Coexpression[orig] = merged.Coexpression[row]
			if sampled {
				rep.Sample[orig] = r.label
			}
		}
	}

	return rep
}

// applyThresholds converts scores to classes. An explicit rate forces one
// global threshold; otherwise, with samples present, each sample gets its
// own threshold from its locally derived rate.
func (o *Options) applyThresholds(merged *features.Table, results []*partResult, perm [][]int, rep *Report, globalDBR float64) error {
	merged.Class = make([]bool, merged.N)
	rep.Class = make([]bool, rep.Cells)
	rep.Threshold = make([]float64, rep.Cells)
	rep.Thresholds = make(map[string]float64, len(results))

	if !math.IsNaN(o.dbr) || len(results) == 1 {
		res, err := threshold.Select(
			merged.Score[:merged.NReal],
			merged.Score[merged.NReal:],
			mergedKnown(merged.NReal, results, perm),
			globalDBR, o.dbrSD,
		)
		if err != nil {
			return err
		}
		for i, c := range res.Class {
			merged.Class[i] = c
		}
		for i := merged.NReal; i < merged.N; i++ {
			merged.Class[i] = merged.Score[i] >= res.Threshold
		}
		rep.Thresholds[""] = res.Threshold
		for pi, r := range results {
			for i, orig := range r.rows {
				rep.Class[orig] = merged.Class[perm[pi][i]]
				rep.Threshold[orig] = res.Threshold
			}
		}

		return nil
	}

	for pi, r := range results {
		np := len(r.rows)
		realScores := make([]float64, np)
		for i := 0; i < np; i++ {
			realScores[i] = merged.Score[perm[pi][i]]
		}
		artScores := make([]float64, r.table.N-np)
		for j := range artScores {
			artScores[j] = merged.Score[perm[pi][np+j]]
		}

		res, err := threshold.Select(realScores, artScores, r.known, r.dbr, o.dbrSD)
		if err != nil {
			return fmt.Errorf("sample %q: %w", r.label, err)
		}
		rep.Thresholds[r.label] = res.Threshold
		for i, orig := range r.rows {
			merged.Class[perm[pi][i]] = res.Class[i]
			rep.Class[orig] = res.Class[i]
			rep.Threshold[orig] = res.Threshold
		}
		for j := range artScores {
			merged.Class[perm[pi][np+j]] = artScores[j] >= res.Threshold
		}
	}

	return nil
}

// mergedKnown scatters per-partition known-doublet flags onto merged real
// rows; nil when no flags were supplied at all.
func mergedKnown(nReal int, results []*partResult, perm [][]int) []bool {
	any := false
	for _, r := range results {
		if r.known != nil {
			any = true
			break
		}
	}
	if !any {
		return nil
	}

	out := make([]bool, nReal)
	for pi, r := range results {
		if r.known == nil {
			continue
		}
		for i, k := range r.known {
			out[perm[pi][i]] = k
		}
	}

	return out
}
