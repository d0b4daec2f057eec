// Package config holds kernel-wide compile-time tunables.
//
// There is no argv at ring 0: a package-level struct of constants, not a
// flag parser, is the home for every numeric knob the scheduler, memory
// manager and OOM cascade need.
package config

import "time"

// MaxHarts bounds the number of per-CPU cells the kernel statically
// allocates at boot. Hot-plug beyond this is out of scope.
const MaxHarts = 64

// Scheduling tunables (CFS).
const (
	// TargetLatency (L) is the period within which every runnable CFS
	// task should get scheduled at least once.
	TargetLatency = 6 * time.Millisecond
	// MinGranularity (g) is the minimum slice handed to any one task,
	// even under heavy load, to bound context-switch overhead.
	MinGranularity = 750 * time.Microsecond
	// WakeupGranularity is how far behind curr.vruntime a waking task's
	// vruntime must be before it preempts curr.
	WakeupGranularity = time.Millisecond
	// RRSlice is the round-robin time slice for SCHED_RR real-time tasks.
	RRSlice = 100 * time.Millisecond
	// NiceZeroWeight is the scheduling weight assigned to nice value 0;
	// all other nice values are scaled relative to it.
	NiceZeroWeight = 1024
)

// RT priority bounds, per POSIX SCHED_FIFO/SCHED_RR.
const (
	RTPriorityMin = 1
	RTPriorityMax = 99
	RTPriorityLevels = RTPriorityMax + 1
)

// Memory tunables.
const (
	// ReservedPages is the number of frames reserved at boot before the
	// allocator is considered live.
	ReservedPages = 1 << 16
	// OOMReclaimChunk caps how many pages a single reclaim cascade pass
	// asks any one subsystem to free before re-checking the target.
	OOMReclaimChunk = 256
)

// Debug enables extra invariant assertions (double-free detection in the
// frame allocator, lock-held assertions in vm) that a production boot would
// not pay for.
var Debug = false

// LogLevel is the active logging verbosity, set from the LOG environment
// variable at process start (see klog.InitFromEnv). Default is Off.
var LogLevel = "off"
