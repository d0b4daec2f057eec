// Package accnt accumulates per-task CPU accounting: user and system time,
// reported to user space as an rusage structure.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"riscix/internal/util"
)

/// Accnt_t accumulates a task's CPU usage.
///
/// Both Userns and Sysns store runtime in nanoseconds. The embedded mutex
/// lets callers take a consistent snapshot when exporting usage data.
type Accnt_t struct {
	/// Nanoseconds of user time consumed.
	Userns int64
	/// Nanoseconds of system time consumed.
	Sysns int64
	sync.Mutex
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

func (a *Accnt_t) now() int64 { return time.Now().UnixNano() }

/// IoTime removes time spent waiting for I/O, timestamped at since, from
/// system time.
func (a *Accnt_t) IoTime(since int64) {
	a.Systadd(-int(a.now() - since))
}

/// SleepTime removes time spent sleeping, timestamped at since, from
/// system time.
func (a *Accnt_t) SleepTime(since int64) {
	a.Systadd(-int(a.now() - since))
}

/// Finish adds the time elapsed since inttime to system time, the final
/// accounting step at syscall return.
func (a *Accnt_t) Finish(inttime int64) {
	a.Systadd(int(a.now() - inttime))
}

/// Add merges n's counters into a, used when a parent collects a reaped
/// child's usage (wait4's RUSAGE_CHILDREN).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

/// Fetch returns a snapshot of the accounting information encoded as an
/// rusage structure, locking to produce a consistent view.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	ru := a.toRusage()
	a.Unlock()
	return ru
}

// toRusage serializes {Userns, Sysns} as two struct timeval pairs, the
// wire layout getrusage(2) expects: ru_utime, ru_stime.
func (a *Accnt_t) toRusage() []uint8 {
	const words = 4
	ret := make([]uint8, words*8)
	totv := func(nano int64) (int, int) {
		secs := int(nano / 1e9)
		usecs := int((nano % 1e9) / 1000)
		return secs, usecs
	}
	off := 0
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	return ret
}
