package sched

import "riscix/internal/config"

// niceToWeight maps a nice value in [-20, 19] to a CFS scheduling weight,
// the standard geometric table (each step is roughly a 25% share change)
// used by every completely-fair-style scheduler implementation, indexed
// here by nice+20.
var niceToWeight = [40]int64{
	88761, 71755, 56483, 46273, 36291,
	29154, 23254, 18705, 14949, 11916,
	9548, 7620, 6100, 4904, 3906,
	3121, 2501, 1991, 1586, 1277,
	1024, 820, 655, 526, 423,
	335, 272, 215, 172, 137,
	110, 87, 70, 56, 45,
	36, 29, 23, 18, 15,
}

// weightFor returns the CFS weight for a nice value, clamped to the valid
// range.
func weightFor(nice int) int64 {
	if nice < -20 {
		nice = -20
	}
	if nice > 19 {
		nice = 19
	}
	return niceToWeight[nice+20]
}

// vruntimeDelta converts ranNanos of wall-clock runtime into the
// weight-scaled virtual runtime CFS orders tasks by: a task with a
// larger weight (lower nice) accrues virtual runtime more slowly, and so
// is picked more often.
func vruntimeDelta(ranNanos int64, nice int) int64 {
	w := weightFor(nice)
	return ranNanos * config.NiceZeroWeight / w
}
