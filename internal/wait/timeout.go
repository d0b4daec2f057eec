package wait

import (
	"container/heap"
	"sync"
	"time"
)

// timer is one scheduled deadline wakeup.
type timer struct {
	deadline time.Time
	wake     func()
	canceled bool
}

// timerHeap is a min-heap of timers ordered by deadline, the same
// heap.Interface shape used for any deadline-ordered priority queue.
type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timer)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TimeoutHeap runs callbacks at their scheduled deadline: the backing
// primitive for nanosleep and any other wait-with-a-deadline syscall.
type TimeoutHeap struct {
	mu      sync.Mutex
	h       timerHeap
	wake    chan struct{}
	stop    chan struct{}
	stopped bool
}

// NewTimeoutHeap creates an empty timeout heap and starts its driver
// goroutine.
func NewTimeoutHeap() *TimeoutHeap {
	th := &TimeoutHeap{wake: make(chan struct{}, 1), stop: make(chan struct{})}
	go th.run()
	return th
}

// Token cancels a scheduled timeout.
type Token struct {
	t *timer
}

// After schedules fn to run once, at now+d. Returns a token Cancel can
// use to suppress it if it hasn't fired yet.
func (th *TimeoutHeap) After(d time.Duration, fn func()) Token {
	return th.At(time.Now().Add(d), fn)
}

// At schedules fn to run once, at the given deadline.
func (th *TimeoutHeap) At(deadline time.Time, fn func()) Token {
	t := &timer{deadline: deadline, wake: fn}
	th.mu.Lock()
	heap.Push(&th.h, t)
	th.mu.Unlock()
	select {
	case th.wake <- struct{}{}:
	default:
	}
	return Token{t: t}
}

// Cancel suppresses a scheduled timeout if it has not fired yet. It is
// safe to call even after the timer has already fired.
func (tok Token) Cancel() {
	if tok.t != nil {
		tok.t.canceled = true
	}
}

// Close stops the driver goroutine. No further timers fire after Close
// returns.
func (th *TimeoutHeap) Close() {
	th.mu.Lock()
	if th.stopped {
		th.mu.Unlock()
		return
	}
	th.stopped = true
	th.mu.Unlock()
	close(th.stop)
}

func (th *TimeoutHeap) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		th.mu.Lock()
		for th.h.Len() > 0 && th.h[0].canceled {
			heap.Pop(&th.h)
		}
		var wait time.Duration
		if th.h.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(th.h[0].deadline)
			if wait < 0 {
				wait = 0
			}
		}
		th.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-th.stop:
			return
		case <-timer.C:
			th.fireExpired()
		case <-th.wake:
			// A new, possibly-earlier timer was added; loop around to
			// recompute the wait duration.
		}
	}
}

func (th *TimeoutHeap) fireExpired() {
	now := time.Now()
	for {
		th.mu.Lock()
		if th.h.Len() == 0 || th.h[0].deadline.After(now) {
			th.mu.Unlock()
			return
		}
		t := heap.Pop(&th.h).(*timer)
		th.mu.Unlock()
		if !t.canceled {
			t.wake()
		}
	}
}
