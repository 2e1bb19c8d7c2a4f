package boost

import (
	"fmt"
	"sort"
)

// Metric selects the validation objective for round selection.
type Metric int

const (
	// MetricAUPRC is the area under the precision-recall curve (average
	// precision); the default objective for imbalanced doublet labels.
	MetricAUPRC Metric = iota

	// MetricAUROC is the area under the ROC curve (rank statistic with
	// tie correction).
	MetricAUROC
)

// String implements fmt.Stringer.
func (m Metric) String() string {
	switch m {
	case MetricAUPRC:
		return "auprc"
	case MetricAUROC:
		return "auroc"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Eval computes the metric for scores against binary labels. Degenerate
// single-class inputs return the metric's chance level so CV folds never
// divide by zero.
func (m Metric) Eval(scores, labels []float64) float64 {
	switch m {
	case MetricAUROC:
		return auroc(scores, labels)
	default:
		return auprc(scores, labels)
	}
}

// auprc is average precision: precision integrated over recall steps,
// scanning scores in descending order with ties processed as one block.
func auprc(scores, labels []float64) float64 {
	var pos float64
	for _, l := range labels {
		pos += l
	}
	if pos == 0 || pos == float64(len(labels)) {
		return pos / float64(len(labels)) // chance level
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var tp, fp, ap, prevRecall float64
	for k := 0; k < len(order); {
		j := k
		for j < len(order) && scores[order[j]] == scores[order[k]] {
			if labels[order[j]] == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		recall := tp / pos
		precision := tp / (tp + fp)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
		k = j
	}

	return ap
}

// auroc is the Mann-Whitney rank statistic with midrank tie handling.
func auroc(scores, labels []float64) float64 {
	n := len(scores)
	var pos float64
	for _, l := range labels {
		pos += l
	}
	neg := float64(n) - pos
	if pos == 0 || neg == 0 {
		return 0.5
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for k := 0; k < n; {
		j := k
		for j < n && scores[order[j]] == scores[order[k]] {
			j++
		}
		mid := float64(k+1+j) / 2 // average of ranks k+1..j
		for q := k; q < j; q++ {
			ranks[order[q]] = mid
		}
		k = j
	}

	var rankSum float64
	for i, l := range labels {
		if l == 1 {
			rankSum += ranks[i]
		}
	}

	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}
