package scdblfinder

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/semir2/scDblFinder/boost"
)

var (
	// ErrNoCounts indicates a nil or empty count matrix.
	ErrNoCounts = errors.New("scdblfinder: empty count matrix")

	// ErrBadProportion indicates a proportion argument outside [0,1].
	ErrBadProportion = errors.New("scdblfinder: proportion outside [0,1]")

	// ErrUnknownScoreMode indicates an unrecognized ScoreMode value.
	ErrUnknownScoreMode = errors.New("scdblfinder: unknown score mode")

	// ErrBadInput indicates per-cell annotations (clusters, samples,
	// known doublets) whose length does not match the matrix.
	ErrBadInput = errors.New("scdblfinder: inconsistent input lengths")
)

// ScoreMode selects how the final continuous score is produced.
type ScoreMode int

const (
	// ScoreBoosted trains one global boosted classifier over all samples.
	// This is the default.
	ScoreBoosted ScoreMode = iota

	// ScoreBoostedPerSample computes features globally but refits the
	// classifier independently within each sample.
	ScoreBoostedPerSample

	// ScoreWeighted skips classification and uses the distance-weighted
	// doublet-neighbor score directly.
	ScoreWeighted

	// ScoreRatio skips classification and uses the raw doublet-neighbor
	// ratio at the largest K directly.
	ScoreRatio
)

// String implements fmt.Stringer.
func (s ScoreMode) String() string {
	switch s {
	case ScoreBoosted:
		return "boosted"
	case ScoreBoostedPerSample:
		return "boosted-per-sample"
	case ScoreWeighted:
		return "weighted"
	case ScoreRatio:
		return "ratio"
	default:
		return fmt.Sprintf("score-mode(%d)", int(s))
	}
}

// DEFAULTS - single source of truth for zero-value behavior.
const (
	// DefaultNFeatures is the size of the selected gene subset.
	DefaultNFeatures = 1000

	// DefaultDims is the embedding dimensionality (clipped to the data).
	DefaultDims = 20

	// DefaultDBRPerThousand derives the expected doublet rate when none
	// is supplied: 1% per thousand captured cells.
	DefaultDBRPerThousand = 0.01

	// DefaultDBRSD is the uncertainty band half-step on the doublet rate.
	DefaultDBRSD = 0.015

	// DefaultPropRandom is the fraction of artificial doublets drawn from
	// fully random (cluster-ignoring) cell pairs.
	DefaultPropRandom = 0.1

	// DefaultPropMarkers is the fraction of the gene quota reserved for
	// cluster markers during feature selection.
	DefaultPropMarkers = 0.25

	// DefaultIterations is the number of purification/refit rounds of the
	// classifier training loop.
	DefaultIterations = 2

	// DefaultCVFolds and DefaultMaxRounds drive boosting-round selection
	// when no explicit round count is configured.
	DefaultCVFolds   = 5
	DefaultMaxRounds = 60
)

// DefaultKs are the neighborhood sizes evaluated per cell; the largest
// drives the weighted score and origin assignment.
func DefaultKs() []int { return []int{3, 10, 20} }

// Advisory partition-size bounds; outside them results degrade and a
// warning is logged, but the run proceeds.
const (
	minAdvisableCells = 100
	maxAdvisableCells = 25000
)

// Option mutates internal options. Safe to apply repeatedly; the last
// writer wins.
type Option func(*Options)

// Options stores the effective configuration after applying Option
// setters. Fields are unexported; public entry points accept ...Option and
// resolve them via gatherOptions.
type Options struct {
	artificialDoublets int
	nFeatures          int
	dims               int
	dbr                float64 // NaN = derive from cell count
	dbrSD              float64
	ks                 []int
	propRandom         float64
	propMarkers        float64
	scoreMode          ScoreMode
	metric             boost.Metric
	iterations         int
	rounds             int // 0 = select by cross-validation
	skipThreshold      bool
	seed               int64
	logger             *slog.Logger

	clusters  []int
	nClusters int
	samples   []string
	known     []bool
}

// WithArtificialDoublets sets the artificial-doublet target count.
// Zero (the default) targets one artificial per real cell, subject to the
// generator's cluster-pair coverage floor.
func WithArtificialDoublets(n int) Option {
	return func(o *Options) { o.artificialDoublets = n }
}

// WithNFeatures sets the size of the selected gene subset.
func WithNFeatures(n int) Option {
	return func(o *Options) { o.nFeatures = n }
}

// WithDims sets the embedding dimensionality.
func WithDims(d int) Option {
	return func(o *Options) { o.dims = d }
}

// WithDBR supplies an explicit expected doublet rate. Supplying one also
// forces a single global threshold even when samples are present; leave it
// unset to derive a per-sample rate from each sample's cell count.
func WithDBR(rate float64) Option {
	return func(o *Options) { o.dbr = rate }
}

// WithDBRSD sets the uncertainty on the expected doublet rate.
func WithDBRSD(sd float64) Option {
	return func(o *Options) { o.dbrSD = sd }
}

// WithKs sets the neighborhood sizes to evaluate.
func WithKs(ks ...int) Option {
	return func(o *Options) { o.ks = append([]int(nil), ks...) }
}

// WithPropRandom sets the fraction of artificial doublets drawn from
// random cell pairs rather than cluster-guided ones.
func WithPropRandom(p float64) Option {
	return func(o *Options) { o.propRandom = p }
}

// WithPropMarkers sets the marker fraction of the feature-selection quota.
func WithPropMarkers(p float64) Option {
	return func(o *Options) { o.propMarkers = p }
}

// WithScoreMode selects the final score source.
func WithScoreMode(m ScoreMode) Option {
	return func(o *Options) { o.scoreMode = m }
}

// WithMetric sets the cross-validation objective for round selection.
func WithMetric(m boost.Metric) Option {
	return func(o *Options) { o.metric = m }
}

// WithIterations sets the number of purification/refit rounds.
func WithIterations(n int) Option {
	return func(o *Options) { o.iterations = n }
}

// WithRounds fixes the boosting round count, skipping cross-validation.
func WithRounds(n int) Option {
	return func(o *Options) { o.rounds = n }
}

// WithoutThreshold returns continuous scores only; Report.Class stays nil.
func WithoutThreshold() Option {
	return func(o *Options) { o.skipThreshold = true }
}

// WithSeed seeds every stochastic stage (clustering, pair sampling,
// boosting CV shuffles). Identical input and seed reproduce the run.
func WithSeed(seed int64) Option {
	return func(o *Options) { o.seed = seed }
}

// WithLogger routes advisory warnings through the given logger.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// WithClusters supplies a precomputed cluster label per cell, skipping the
// built-in clustering.
func WithClusters(labels []int) Option {
	return func(o *Options) { o.clusters = append([]int(nil), labels...) }
}

// WithNClusters sets the cluster count for the built-in clustering.
// Zero derives a count from the partition size.
func WithNClusters(k int) Option {
	return func(o *Options) { o.nClusters = k }
}

// WithSamples supplies a capture/sample label per cell; the pipeline runs
// per sample and results are merged.
func WithSamples(labels []string) Option {
	return func(o *Options) { o.samples = append([]string(nil), labels...) }
}

// WithKnownDoublets flags cells already known to be doublets. They join
// the doublet class during training and are always classified doublet.
func WithKnownDoublets(known []bool) Option {
	return func(o *Options) { o.known = append([]bool(nil), known...) }
}

// gatherOptions applies user setters on top of the documented defaults.
func gatherOptions(user ...Option) Options {
	o := Options{
		nFeatures:   DefaultNFeatures,
		dims:        DefaultDims,
		dbr:         math.NaN(),
		dbrSD:       DefaultDBRSD,
		ks:          DefaultKs(),
		propRandom:  DefaultPropRandom,
		propMarkers: DefaultPropMarkers,
		scoreMode:   ScoreBoosted,
		metric:      boost.MetricAUPRC,
		iterations:  DefaultIterations,
	}
	for _, set := range user {
		set(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return o
}

// validate enforces the precondition taxonomy against n cells.
func (o *Options) validate(n int) error {
	if o.propRandom < 0 || o.propRandom > 1 {
		return fmt.Errorf("propRandom=%v: %w", o.propRandom, ErrBadProportion)
	}
	if o.propMarkers < 0 || o.propMarkers > 1 {
		return fmt.Errorf("propMarkers=%v: %w", o.propMarkers, ErrBadProportion)
	}
	if !math.IsNaN(o.dbr) && (o.dbr < 0 || o.dbr > 1) {
		return fmt.Errorf("dbr=%v: %w", o.dbr, ErrBadProportion)
	}
	if o.dbrSD < 0 {
		return fmt.Errorf("dbrSD=%v: %w", o.dbrSD, ErrBadProportion)
	}
	switch o.scoreMode {
	case ScoreBoosted, ScoreBoostedPerSample, ScoreWeighted, ScoreRatio:
	default:
		return fmt.Errorf("%v: %w", o.scoreMode, ErrUnknownScoreMode)
	}
	if o.clusters != nil && len(o.clusters) != n {
		return fmt.Errorf("%d cluster labels for %d cells: %w", len(o.clusters), n, ErrBadInput)
	}
	if o.samples != nil && len(o.samples) != n {
		return fmt.Errorf("%d sample labels for %d cells: %w", len(o.samples), n, ErrBadInput)
	}
	if o.known != nil && len(o.known) != n {
		return fmt.Errorf("%d known flags for %d cells: %w", len(o.known), n, ErrBadInput)
	}

	return nil
}

// dbrFor returns the doublet rate for a partition of np cells: the
// explicit rate when supplied, otherwise the per-thousand derivation.
func (o *Options) dbrFor(np int) float64 {
	if !math.IsNaN(o.dbr) {
		return o.dbr
	}
	d := DefaultDBRPerThousand * float64(np) / 1000

	return math.Min(d, 1)
}

// autoClusterCount targets roughly 200 cells per cluster, bounded to
// [3, 10] and never above half the partition.
func autoClusterCount(np int) int {
	k := np / 200
	if k < 3 {
		k = 3
	}
	if k > 10 {
		k = 10
	}
	if k > np/2 {
		k = np / 2
	}
	if k < 2 {
		k = 2
	}

	return k
}
