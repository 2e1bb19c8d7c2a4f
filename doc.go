// Package scdblfinder detects doublets in single-cell RNA sequencing data:
// droplets that captured two cells and were sequenced as one profile.
//
// The approach follows the artificial-doublet paradigm. Synthetic doublets
// are generated by summing pairs of real cells, a joint low-dimensional
// embedding is computed over real and artificial cells, and per-cell
// neighborhood features (how doublet-dense each cell's surroundings are)
// feed an iteratively purified gradient-boosted classifier. Continuous
// scores are finally converted to singlet/doublet calls by a threshold
// reconciling the expected doublet rate with the artificial-doublet score
// distribution.
//
// Everything is organized under focused subpackages:
//
//	counts/    — sparse cell × gene count matrices, normalization,
//	             feature selection and the co-expression score
//	cluster/   — lightweight k-means clustering of cell embeddings
//	synth/     — artificial doublet generation with origin tracking
//	embed/     — PCA embedding with a Jacobi eigen fallback
//	knn/       — exact k-nearest-neighbor search
//	features/  — the per-cell score table and neighborhood evaluation
//	boost/     — gradient-boosted trees, metrics and round selection
//	threshold/ — rate-aware score thresholding
//
// The root package wires them together. A minimal run:
//
//	m, err := counts.FromDense(raw) // cells × genes
//	if err != nil { ... }
//	rep, err := scdblfinder.Find(m, scdblfinder.WithSeed(1))
//	if err != nil { ... }
//	for i, isDoublet := range rep.Class {
//		fmt.Println(i, rep.Score[i], isDoublet)
//	}
//
// Runs are deterministic for a fixed seed and input. Datasets spanning
// several captures are processed per sample (WithSamples) with the
// per-sample pipelines running concurrently; classifier training is always
// global across samples.
package scdblfinder
