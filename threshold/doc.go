// Package threshold converts continuous doublet scores into binary calls.
//
// Select scans candidate cutoffs over the observed score values and picks
// the one that best reconciles two signals: the proportion of real cells
// called doublet should fall inside the expected-rate band (dbr ± 2·dbr.sd),
// and as few artificial doublets as possible should score below the cutoff.
// Deviations inside the band carry no cost, so the scan settles into the
// low-density valley between the real and artificial score distributions
// whenever the band allows it.
//
// Selection is deterministic and idempotent: re-running on an unchanged
// score set yields the same threshold and the same class assignments.
package threshold
