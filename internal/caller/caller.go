// Package caller deduplicates noisy kernel warnings by call site: the
// OOM cascade and the trap dispatcher's fault-signal path both want to
// log "this happened" without flooding the console when the same call
// chain fires thousands of times a second. DistinctSites tracks which
// call chains have already logged once and suppresses the rest.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Dump formats the call stack starting skip frames above its own
// caller, one frame per line, for inclusion in a panic or fatal log
// line.
func Dump(skip int) string {
	var b []byte
	for i := skip + 1; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if len(b) > 0 {
			b = append(b, "\n\t<- "...)
		}
		b = append(b, fmt.Sprintf("%s:%d", file, line)...)
	}
	return string(b)
}

// DistinctSites records which call chains have already been seen, so a
// caller can log a warning only the first time it is reached from any
// given chain of ancestor callers.
type DistinctSites struct {
	mu        sync.Mutex
	seen      map[uintptr]bool
	whitelist map[string]bool
}

// NewDistinctSites returns a tracker that suppresses any call chain
// passing through one of the given whitelisted function names (for
// ancestors too noisy to be worth ever reporting, such as a test
// harness's own retry loop).
func NewDistinctSites(whitelist ...string) *DistinctSites {
	ds := &DistinctSites{seen: map[uintptr]bool{}, whitelist: map[string]bool{}}
	for _, w := range whitelist {
		ds.whitelist[w] = true
	}
	return ds
}

func pathHash(pcs []uintptr) uintptr {
	var h uintptr
	for _, pc := range pcs {
		h ^= pc*1103515245 + 12345
	}
	return h
}

// Seen reports whether the current call chain (as of 3 frames above
// this call) has been observed before, recording it if not. When the
// chain passes through a whitelisted function it is always treated as
// already-seen (never reported).
func (ds *DistinctSites) Seen() (firstTime bool, trace string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return false, ""
	}
	pcs = pcs[:n]
	h := pathHash(pcs)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.seen[h] {
		return false, ""
	}

	frames := runtime.CallersFrames(pcs)
	var b []byte
	for {
		fr, more := frames.Next()
		if ds.whitelist[fr.Function] {
			return false, ""
		}
		if len(b) > 0 {
			b = append(b, "\n\t<- "...)
		}
		b = append(b, fmt.Sprintf("%s (%s:%d)", fr.Function, fr.File, fr.Line)...)
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	ds.seen[h] = true
	return true, string(b)
}

// Len returns the number of distinct call chains recorded so far.
func (ds *DistinctSites) Len() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.seen)
}
