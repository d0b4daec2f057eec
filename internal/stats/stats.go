// Package stats provides zero-cost-when-disabled counters and cycle
// accumulators for the scheduler and memory manager's internal
// accounting, gated the same way the teacher gates its own: a build-wide
// boolean flips every Inc/Add into a no-op rather than a branch per call
// site, so the counters can be sprinkled liberally through hot paths.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// Enabled turns every Counter/Cycles update on or off. Left as a var
// (not a const, unlike the teacher's `const Stats = false`) so tests
// can flip it, since this kernel runs entirely under go test rather
// than compiled out bare-metal.
var Enabled = false

// Counter is an atomic event counter, a no-op Inc when Enabled is false.
type Counter int64

// Inc increments the counter by one.
func (c *Counter) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add increments the counter by n.
func (c *Counter) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

// Get returns the counter's current value regardless of Enabled, so
// tests can assert on it after flipping Enabled on for the duration of
// a single case.
func (c *Counter) Get() int64 { return atomic.LoadInt64((*int64)(c)) }

// Cycles accumulates elapsed duration, in nanoseconds, the same role
// the teacher's rdtsc-based Cycles_t plays, substituting a monotonic
// clock reading for a cycle counter since there is no portable rdtsc
// equivalent across riscv64/loongarch64 under go test.
type Cycles int64

// Add adds elapsed nanoseconds since startNanos to the accumulator.
func (c *Cycles) Add(startNanos int64, nowNanos int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), nowNanos-startNanos)
	}
}

func (c *Cycles) Get() int64 { return atomic.LoadInt64((*int64)(c)) }

// Dump formats every Counter/Cycles field of st (a struct value or
// pointer) as "name: value" lines, for a debug dump at shutdown or on a
// signal. Returns "" when stats are disabled, since the fields are
// meaningless zero values in that case.
func Dump(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	var b strings.Builder
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		switch fv := v.Field(i).Interface().(type) {
		case Counter:
			b.WriteString(name + ": " + strconv.FormatInt(int64(fv), 10) + "\n")
		case Cycles:
			b.WriteString(name + ": " + strconv.FormatInt(int64(fv), 10) + "\n")
		}
	}
	return b.String()
}
