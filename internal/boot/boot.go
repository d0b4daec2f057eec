// Package boot is the multi-hart bring-up sequence: one hart races to
// become the bootstrap processor, runs the one-time kernel
// initialization, then releases a barrier the remaining harts have been
// spinning on before each joins the scheduler on its own.
//
// The shape mirrors a typical SMP kernel entry point: a boot flag swapped
// exactly once to pick the BSP, an AP-can-start flag published with
// release ordering and polled with acquire ordering, and an asymmetric
// init path (BSP brings up every subsystem and wakes the secondaries; an
// AP only activates its own page table view and joins in).
package boot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"riscix/internal/arch"
	"riscix/internal/config"
	"riscix/internal/errno"
	"riscix/internal/irq"
	"riscix/internal/klog"
)

// Init is run exactly once, by whichever hart wins BSP election. It
// should bring up every subsystem a kernel needs before any task can
// run: memory, the task table, the scheduler, the root filesystem, the
// init task. Returning a non-zero errno aborts the boot: the barrier is
// still opened so waiting APs return promptly, and each of them reports
// EIO without running APInit.
type Init func(bsp arch.HartID) errno.Err_t

// APInit runs on every non-BSP hart after the barrier opens. A kernel
// with nothing hart-local to do beyond enabling interrupts can pass nil.
type APInit func(ap arch.HartID) errno.Err_t

// Coordinator drives BSP election and the startup barrier across a
// fixed number of harts. The zero value is not usable; construct with
// New.
type Coordinator struct {
	nharts int
	init   Init
	apInit APInit

	elected atomic.Bool // true once some hart has won BSP election
	bspID   int32       // -1 until the winner stores its hart id

	barrier atomic.Bool // released (store true) once Init has returned 0

	failed atomic.Bool
}

// New returns a Coordinator for nharts harts (bounded by
// config.MaxHarts). init runs once on the BSP; apInit runs on every
// other hart once the BSP releases the barrier. apInit may be nil.
func New(nharts int, init Init, apInit APInit) (*Coordinator, errno.Err_t) {
	if nharts <= 0 || nharts > config.MaxHarts {
		return nil, errno.EINVAL
	}
	c := &Coordinator{nharts: nharts, init: init, apInit: apInit}
	c.bspID = -1
	return c, 0
}

// NumHarts reports how many harts this Coordinator was built for.
func (c *Coordinator) NumHarts() int { return c.nharts }

// electBSP reports whether this call is the one that wins BSP election;
// only the first caller across every hart gets true back, mirroring a
// single atomic swap-and-test on a shared boot flag.
func (c *Coordinator) electBSP(hart arch.HartID) bool {
	won := !c.elected.Swap(true)
	if won {
		atomic.StoreInt32(&c.bspID, int32(hart))
	}
	return won
}

// BSPID reports which hart won election, or -1 if none has yet.
func (c *Coordinator) BSPID() int {
	return int(atomic.LoadInt32(&c.bspID))
}

// Start runs this hart's boot path: the BSP runs Init and then opens the
// barrier; every other hart waits on the barrier, then runs APInit (if
// set), then enables interrupts on its own line. ctx bounds how long an
// AP will wait for the BSP to finish; a BSP that never opens the barrier
// within ctx's deadline leaves waiting APs with ETIMEDOUT.
func (c *Coordinator) Start(ctx context.Context, hart arch.HartID) errno.Err_t {
	if int(hart) >= c.nharts {
		return errno.EINVAL
	}

	if c.electBSP(hart) {
		klog.Infof("boot: hart %d elected BSP, nharts=%d", hart, c.nharts)
		if err := c.runInit(hart); err != 0 {
			c.failed.Store(true)
			// The barrier still opens so waiting APs observe the
			// failure instead of spinning forever.
			c.barrier.Store(true)
			return err
		}
		c.barrier.Store(true)
		irq.Enable(int(hart))
		return 0
	}

	if err := c.waitBarrier(ctx); err != 0 {
		return err
	}
	if c.failed.Load() {
		return errno.EIO
	}

	klog.Infof("boot: hart %d joining after barrier", hart)
	if c.apInit != nil {
		if err := c.apInit(hart); err != 0 {
			return err
		}
	}
	irq.Enable(int(hart))
	return 0
}

func (c *Coordinator) runInit(hart arch.HartID) (err errno.Err_t) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("boot: BSP init panicked: %v", r)
			err = errno.EFAULT
		}
	}()
	return c.init(hart)
}

const pollInterval = 50 * time.Microsecond

// waitBarrier spins with a short sleep between polls until the BSP opens
// the barrier or ctx is done. A real hart would WFI/pause between polls;
// time.Sleep is the hosted equivalent that still yields the goroutine.
func (c *Coordinator) waitBarrier(ctx context.Context) errno.Err_t {
	for !c.barrier.Load() {
		select {
		case <-ctx.Done():
			return errno.ETIMEDOUT
		case <-time.After(pollInterval):
		}
	}
	return 0
}

// Boot runs Start concurrently across every hart 0..nharts-1 and blocks
// until all of them return, collecting the first non-zero errno (if
// any). It is the entry point cmd/riscix calls once at startup.
func Boot(ctx context.Context, c *Coordinator) errno.Err_t {
	type result struct {
		hart arch.HartID
		err  errno.Err_t
	}
	results := make(chan result, c.nharts)
	for i := 0; i < c.nharts; i++ {
		go func(hart arch.HartID) {
			results <- result{hart: hart, err: c.Start(ctx, hart)}
		}(arch.HartID(i))
	}

	var first errno.Err_t
	for i := 0; i < c.nharts; i++ {
		r := <-results
		if r.err != 0 {
			klog.Errorf("boot: hart %d failed: %s", r.hart, fmt.Sprint(r.err))
			if first == 0 {
				first = r.err
			}
		}
	}
	return first
}
