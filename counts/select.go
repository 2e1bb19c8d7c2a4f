package counts

import (
	"fmt"
	"sort"
)

// dispersionEps avoids division by zero for genes with near-zero mean.
const dispersionEps = 1e-8

// SelectFeatures chooses at most nfeatures gene indices combining top
// cluster-marker genes and top variable genes by dispersion.
//
// Stage 1 (Validate): nfeatures > 0; labels, when present, must match rows.
// Stage 2 (Markers): for each cluster, genes are ranked by one-vs-rest mean
// log-expression difference; a propMarkers fraction of the quota is filled
// round-robin across clusters so every subpopulation contributes markers.
// Stage 3 (Dispersion): the remaining quota is filled with the most
// dispersed genes (variance / mean of log-normalized counts) not yet taken.
//
// The returned indices are sorted ascending. Deterministic for identical
// inputs: stable ranking with ties broken by gene index.
func SelectFeatures(m *Matrix, labels []int, nfeatures int, propMarkers float64) ([]int, error) {
	if m == nil || m.Rows() == 0 || m.Cols() == 0 {
		return nil, fmt.Errorf("SelectFeatures: %w", ErrEmptyMatrix)
	}
	if nfeatures <= 0 {
		return nil, fmt.Errorf("SelectFeatures: nfeatures=%d: %w", nfeatures, ErrDimensionMismatch)
	}
	if labels != nil && len(labels) != m.Rows() {
		return nil, fmt.Errorf("SelectFeatures: labels len=%d rows=%d: %w", len(labels), m.Rows(), ErrDimensionMismatch)
	}

	// Trivial case: the gene set already fits the quota.
	if m.Cols() <= nfeatures {
		all := make([]int, m.Cols())
		for j := range all {
			all[j] = j
		}

		return all, nil
	}

	chosen := make(map[int]bool, nfeatures)

	// Stage 2: cluster markers.
	if labels != nil && propMarkers > 0 {
		quota := int(propMarkers*float64(nfeatures) + 0.5)
		fillMarkers(m, labels, quota, chosen)
	}

	// Stage 3: top dispersion for the remainder.
	means, vars := m.GeneLogStats(0)
	order := make([]int, m.Cols())
	for j := range order {
		order[j] = j
	}
	disp := make([]float64, m.Cols())
	for j := range disp {
		disp[j] = vars[j] / (means[j] + dispersionEps)
	}
	sort.SliceStable(order, func(a, b int) bool {
		if disp[order[a]] != disp[order[b]] {
			return disp[order[a]] > disp[order[b]]
		}

		return order[a] < order[b]
	})
	for _, j := range order {
		if len(chosen) >= nfeatures {
			break
		}
		chosen[j] = true
	}

	out := make([]int, 0, len(chosen))
	for j := range chosen {
		out = append(out, j)
	}
	sort.Ints(out)

	return out, nil
}

// fillMarkers ranks genes per cluster by one-vs-rest mean log-expression
// difference and fills up to quota genes round-robin across clusters.
func fillMarkers(m *Matrix, labels []int, quota int, chosen map[int]bool) {
	lognorm := m.LogNormDense(0)
	rows, cols := m.Rows(), m.Cols()

	// Per-cluster per-gene sums, in stable label order of first appearance.
	order := make([]int, 0, 8)
	seen := make(map[int]bool, 8)
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			order = append(order, l)
		}
	}
	sums := make(map[int][]float64, len(order))
	sizes := make(map[int]int, len(order))
	total := make([]float64, cols)
	for _, l := range order {
		sums[l] = make([]float64, cols)
	}
	for i := 0; i < rows; i++ {
		l := labels[i]
		sizes[l]++
		row := lognorm.RawRowView(i)
		s := sums[l]
		for j, v := range row {
			s[j] += v
			total[j] += v
		}
	}

	// Ranked marker list per cluster: in-cluster mean minus rest mean.
	ranked := make([][]int, len(order))
	for ci, l := range order {
		nIn := float64(sizes[l])
		nOut := float64(rows - sizes[l])
		if nIn == 0 || nOut == 0 {
			ranked[ci] = nil
			continue
		}
		lfc := make([]float64, cols)
		for j := 0; j < cols; j++ {
			lfc[j] = sums[l][j]/nIn - (total[j]-sums[l][j])/nOut
		}
		idx := make([]int, cols)
		for j := range idx {
			idx[j] = j
		}
		sort.SliceStable(idx, func(a, b int) bool {
			if lfc[idx[a]] != lfc[idx[b]] {
				return lfc[idx[a]] > lfc[idx[b]]
			}

			return idx[a] < idx[b]
		})
		ranked[ci] = idx
	}

	// Round-robin across clusters until the marker quota is met.
	for pos := 0; len(chosen) < quota; pos++ {
		progressed := false
		for ci := range ranked {
			if len(chosen) >= quota {
				break
			}
			if pos < len(ranked[ci]) {
				chosen[ranked[ci][pos]] = true
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
}
